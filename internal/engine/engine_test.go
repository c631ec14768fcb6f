package engine_test

import (
	"math"
	"testing"

	"sonomap/internal/engine"
)

func sine(freq float64, seconds float64, amplitude float64) []float64 {
	n := int(seconds * engine.SampleRate)
	signal := make([]float64, n)
	for i := range signal {
		signal[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/engine.SampleRate)
	}
	return signal
}

func TestAnalyzeRejectsShortSignal(t *testing.T) {
	e := engine.New()
	if _, err := e.Analyze(make([]float64, 100), "tiny.wav"); err == nil {
		t.Fatal("expected error for sub-frame signal")
	}
}

func TestAnalyzeProducesValidResult(t *testing.T) {
	e := engine.New()
	result, err := e.Analyze(sine(440, 2, 0.5), "tone.wav")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if err := result.Validate(); err != nil {
		t.Fatalf("result failed validation: %v", err)
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	e := engine.New()
	signal := sine(330, 1.5, 0.4)

	first, err := e.Analyze(signal, "a.wav")
	if err != nil {
		t.Fatalf("first analyze: %v", err)
	}
	second, err := e.Analyze(signal, "a.wav")
	if err != nil {
		t.Fatalf("second analyze: %v", err)
	}
	if first != second {
		t.Fatalf("expected deterministic results, got %+v vs %+v", first, second)
	}
}

func TestAnalyzeDetectsPitchClass(t *testing.T) {
	e := engine.New()
	// A4 concert pitch should land on pitch class A.
	result, err := e.Analyze(sine(440, 2, 0.5), "a4.wav")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.Key != "A" {
		t.Fatalf("expected key A for 440 Hz tone, got %q", result.Key)
	}
	if result.KeyStrength <= 0 {
		t.Fatalf("expected positive key strength, got %v", result.KeyStrength)
	}
}

func TestAnalyzeEnergyTracksAmplitude(t *testing.T) {
	e := engine.New()
	loud, err := e.Analyze(sine(220, 1, 0.8), "loud.wav")
	if err != nil {
		t.Fatalf("loud analyze: %v", err)
	}
	quiet, err := e.Analyze(sine(220, 1, 0.05), "quiet.wav")
	if err != nil {
		t.Fatalf("quiet analyze: %v", err)
	}
	if loud.Energy <= quiet.Energy {
		t.Fatalf("expected louder signal to carry more energy: %v vs %v", loud.Energy, quiet.Energy)
	}
}

func TestAnalyzeSilenceIsSparse(t *testing.T) {
	e := engine.New()
	result, err := e.Analyze(make([]float64, engine.SampleRate), "silence.wav")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.Structure != "sparse" {
		t.Fatalf("expected sparse structure for silence, got %q", result.Structure)
	}
}
