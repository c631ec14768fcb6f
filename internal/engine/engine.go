package engine

import (
	"math"
	"sort"

	"sonomap/internal/analysis"
	"sonomap/internal/services"
)

const (
	// SampleRate is the nominal rate of decoded signals.
	SampleRate = 44100

	frameSize = 2048
	hopSize   = 1024

	// Reference pitch for the chroma bank (A4).
	tuningHz = 440.0
)

// Extractor computes musical features from a decoded mono signal.
type Extractor struct{}

// New constructs the default extractor.
func New() *Extractor {
	return &Extractor{}
}

// Analyze maps a mono signal to an analysis result. The name parameter is
// diagnostic only. Signals shorter than one analysis frame are rejected.
func (e *Extractor) Analyze(signal []float64, name string) (analysis.Result, error) {
	if len(signal) < frameSize {
		return analysis.Result{}, services.Wrap(services.ErrValidation, "engine", "analyze",
			"signal shorter than one analysis frame", nil)
	}

	envelope := frameRMS(signal)
	rms := meanOf(envelope)

	energy := clamp01(rms * 4) // full-scale sine has RMS ~0.707
	loudness := clamp01(1 + logRMS(rms)/6)
	mood := clamp01(zeroCrossingRate(signal) * 12)

	tempo := detectTempo(envelope)
	key, keyStrength, scale := detectKey(signal)
	structure := classifyStructure(envelope)

	result := analysis.Result{
		Energy:      energy,
		Mood:        mood,
		Key:         key,
		Scale:       scale,
		Tempo:       tempo,
		KeyStrength: keyStrength,
		Structure:   structure,
		Loudness:    loudness,
	}
	if err := result.Validate(); err != nil {
		return analysis.Result{}, services.Wrap(services.ErrValidation, "engine", "analyze", "feature extraction produced invalid result", err)
	}
	return result, nil
}

// frameRMS computes the RMS energy envelope over hop-spaced frames.
func frameRMS(signal []float64) []float64 {
	frames := 1 + (len(signal)-frameSize)/hopSize
	envelope := make([]float64, 0, frames)
	for start := 0; start+frameSize <= len(signal); start += hopSize {
		var sum float64
		for _, s := range signal[start : start+frameSize] {
			sum += s * s
		}
		envelope = append(envelope, math.Sqrt(sum/frameSize))
	}
	return envelope
}

func zeroCrossingRate(signal []float64) float64 {
	if len(signal) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(signal); i++ {
		if (signal[i-1] >= 0) != (signal[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(signal)-1)
}

// detectTempo autocorrelates the onset strength of the energy envelope and
// picks the strongest lag inside the nominal BPM window.
func detectTempo(envelope []float64) float64 {
	framesPerSecond := float64(SampleRate) / hopSize

	// Onset strength: positive energy deltas.
	onsets := make([]float64, len(envelope))
	for i := 1; i < len(envelope); i++ {
		if d := envelope[i] - envelope[i-1]; d > 0 {
			onsets[i] = d
		}
	}

	minLag := int(framesPerSecond * 60 / analysis.TempoMax)
	maxLag := int(framesPerSecond * 60 / analysis.TempoMin)
	if maxLag >= len(onsets) {
		maxLag = len(onsets) - 1
	}
	if minLag < 1 {
		minLag = 1
	}
	if minLag > maxLag {
		return 120 // signal too short to resolve a period
	}

	bestLag, bestScore := minLag, math.Inf(-1)
	for lag := minLag; lag <= maxLag; lag++ {
		var score float64
		for i := lag; i < len(onsets); i++ {
			score += onsets[i] * onsets[i-lag]
		}
		if score > bestScore {
			bestScore, bestLag = score, lag
		}
	}
	return framesPerSecond * 60 / float64(bestLag)
}

// detectKey runs a Goertzel bank over the twelve pitch classes across four
// octaves and picks the strongest class. Scale is major when the class a
// major third above the tonic outweighs the minor third.
func detectKey(signal []float64) (key string, strength float64, scale string) {
	window := signal
	if len(window) > SampleRate*4 {
		mid := len(window) / 2
		window = window[mid-SampleRate*2 : mid+SampleRate*2]
	}

	chroma := make([]float64, 12)
	for pc := 0; pc < 12; pc++ {
		// C3 is nine semitones below A4 minus one octave.
		base := tuningHz * math.Pow(2, (float64(pc)-9)/12-1)
		for octave := 0; octave < 4; octave++ {
			chroma[pc] += goertzelPower(window, base*math.Pow(2, float64(octave)))
		}
	}

	var total float64
	best := 0
	for pc, power := range chroma {
		total += power
		if power > chroma[best] {
			best = pc
		}
	}
	key = analysis.PitchClasses[best]
	if total > 0 {
		// Strength is the tonic's share above the uniform baseline.
		share := chroma[best] / total
		strength = clamp01((share - 1.0/12) / (1 - 1.0/12))
	}

	major := chroma[(best+4)%12]
	minor := chroma[(best+3)%12]
	scale = analysis.ScaleMajor
	if minor > major {
		scale = analysis.ScaleMinor
	}
	return key, strength, scale
}

func goertzelPower(signal []float64, freq float64) float64 {
	omega := 2 * math.Pi * freq / SampleRate
	coeff := 2 * math.Cos(omega)
	var s0, s1, s2 float64
	for _, x := range signal {
		s0 = x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	return s1*s1 + s2*s2 - coeff*s1*s2
}

// classifyStructure buckets the envelope's coefficient of variation and
// trend into one of the five structure labels.
func classifyStructure(envelope []float64) string {
	mean := meanOf(envelope)
	if mean < 1e-6 {
		return "sparse"
	}

	var variance float64
	for _, v := range envelope {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(envelope))
	cv := math.Sqrt(variance) / mean

	// Rising second half relative to the first marks a build.
	half := len(envelope) / 2
	if half > 0 && meanOf(envelope[half:]) > meanOf(envelope[:half])*1.5 {
		return "building"
	}

	switch {
	case cv < 0.25:
		return "steady"
	case cv < 0.6:
		return "dynamic"
	default:
		if quantile(envelope, 0.25) < mean*0.1 {
			return "sparse"
		}
		return "chaotic"
	}
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

func logRMS(rms float64) float64 {
	if rms <= 0 {
		return -12
	}
	return math.Log10(rms)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
