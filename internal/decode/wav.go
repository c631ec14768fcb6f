package decode

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"sonomap/internal/services"
)

const (
	formatPCM       = 1
	formatIEEEFloat = 3

	// maxFmtChunkSize caps how large a declared fmt chunk may be.
	maxFmtChunkSize = 1 << 12

	// DefaultMaxSamples caps the signal handed to the engine at thirty
	// seconds of 44.1 kHz audio so a long file cannot stall a worker
	// request.
	DefaultMaxSamples = 30 * 44100
)

// WAVDecoder decodes RIFF/WAVE files to mono float signals.
type WAVDecoder struct {
	// MaxSamples bounds the returned signal length. Zero means
	// DefaultMaxSamples.
	MaxSamples int
}

// Decode reads the file at path and returns its samples averaged to mono.
// All failures carry the services.ErrDecode marker.
func (d *WAVDecoder) Decode(ctx context.Context, path string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrDecode, "decode", "open", path, err)
	}
	defer f.Close()

	signal, err := d.decode(f)
	if err != nil {
		return nil, services.Wrap(services.ErrDecode, "decode", "parse", path, err)
	}
	return signal, nil
}

func (d *WAVDecoder) maxSamples() int {
	if d.MaxSamples > 0 {
		return d.MaxSamples
	}
	return DefaultMaxSamples
}

type wavFormat struct {
	audioFormat   uint16
	channels      uint16
	bitsPerSample uint16
}

func (d *WAVDecoder) decode(r io.Reader) ([]float64, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file")
	}

	var format *wavFormat
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("no data chunk found")
			}
			return nil, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			// Bound before allocating: the declared size is untrusted and
			// real fmt chunks are 16, 18, or 40 bytes.
			if size < 16 || size > maxFmtChunkSize {
				return nil, fmt.Errorf("implausible fmt chunk size %d", size)
			}
			fmtChunk := make([]byte, size)
			if _, err := io.ReadFull(r, fmtChunk); err != nil {
				return nil, fmt.Errorf("read fmt chunk: %w", err)
			}
			format = &wavFormat{
				audioFormat:   binary.LittleEndian.Uint16(fmtChunk[0:2]),
				channels:      binary.LittleEndian.Uint16(fmtChunk[2:4]),
				bitsPerSample: binary.LittleEndian.Uint16(fmtChunk[14:16]),
			}
		case "data":
			if format == nil {
				return nil, fmt.Errorf("data chunk before fmt chunk")
			}
			return d.readData(r, format, int(size))
		default:
			// Skip ancillary chunks (LIST, fact, cue, ...). Chunk sizes
			// are padded to even byte counts.
			skip := int64(size)
			if skip%2 == 1 {
				skip++
			}
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, fmt.Errorf("skip %s chunk: %w", id, err)
			}
		}
	}
}

func (d *WAVDecoder) readData(r io.Reader, format *wavFormat, size int) ([]float64, error) {
	if format.channels == 0 {
		return nil, fmt.Errorf("zero channels")
	}
	bytesPerSample := int(format.bitsPerSample) / 8
	if bytesPerSample == 0 {
		return nil, fmt.Errorf("unsupported bit depth %d", format.bitsPerSample)
	}
	frameBytes := bytesPerSample * int(format.channels)
	frames := size / frameBytes
	if frames == 0 {
		return nil, fmt.Errorf("empty data chunk")
	}
	if frames > d.maxSamples() {
		frames = d.maxSamples()
	}

	decodeSample, err := sampleReader(format)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, frames*frameBytes)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read sample data: %w", err)
	}

	signal := make([]float64, frames)
	channels := int(format.channels)
	for i := 0; i < frames; i++ {
		var sum float64
		base := i * frameBytes
		for ch := 0; ch < channels; ch++ {
			sum += decodeSample(raw[base+ch*bytesPerSample:])
		}
		signal[i] = sum / float64(channels)
	}
	return signal, nil
}

func sampleReader(format *wavFormat) (func([]byte) float64, error) {
	switch {
	case format.audioFormat == formatPCM && format.bitsPerSample == 8:
		return func(b []byte) float64 {
			return (float64(b[0]) - 128) / 128
		}, nil
	case format.audioFormat == formatPCM && format.bitsPerSample == 16:
		return func(b []byte) float64 {
			return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
		}, nil
	case format.audioFormat == formatPCM && format.bitsPerSample == 24:
		return func(b []byte) float64 {
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v -= 1 << 24
			}
			return float64(v) / (1 << 23)
		}, nil
	case format.audioFormat == formatIEEEFloat && format.bitsPerSample == 32:
		return func(b []byte) float64 {
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		}, nil
	default:
		return nil, fmt.Errorf("unsupported encoding: format %d, %d bits", format.audioFormat, format.bitsPerSample)
	}
}
