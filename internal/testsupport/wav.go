// Package testsupport provides shared helpers for sonomap tests: audio
// fixture generation and configs seeded with per-test temp directories.
package testsupport

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// WAVSpec describes a generated sine-tone fixture.
type WAVSpec struct {
	Seconds   float64 // default 1
	Freq      float64 // default 440
	Channels  int     // default 1
	Amplitude float64 // default 0.5
}

const fixtureSampleRate = 44100

// WriteWAV writes a 16-bit PCM WAV sine tone to path, creating parent
// directories as needed.
func WriteWAV(t testing.TB, path string, spec WAVSpec) {
	t.Helper()

	if spec.Seconds <= 0 {
		spec.Seconds = 1
	}
	if spec.Freq <= 0 {
		spec.Freq = 440
	}
	if spec.Channels <= 0 {
		spec.Channels = 1
	}
	if spec.Amplitude <= 0 {
		spec.Amplitude = 0.5
	}

	frames := int(spec.Seconds * fixtureSampleRate)
	dataSize := frames * spec.Channels * 2

	buf := make([]byte, 0, 44+dataSize)
	buf = append(buf, "RIFF"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(36+dataSize))
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, 1) // PCM
	buf = binary.LittleEndian.AppendUint16(buf, uint16(spec.Channels))
	buf = binary.LittleEndian.AppendUint32(buf, fixtureSampleRate)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(fixtureSampleRate*spec.Channels*2))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(spec.Channels*2))
	buf = binary.LittleEndian.AppendUint16(buf, 16)
	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(dataSize))

	for i := 0; i < frames; i++ {
		sample := spec.Amplitude * math.Sin(2*math.Pi*spec.Freq*float64(i)/fixtureSampleRate)
		value := uint16(int16(sample * 32767))
		for ch := 0; ch < spec.Channels; ch++ {
			buf = binary.LittleEndian.AppendUint16(buf, value)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteFile fills the target path with the requested number of bytes using
// a repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0x42
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
