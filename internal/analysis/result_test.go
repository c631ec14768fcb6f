package analysis_test

import (
	"strings"
	"testing"

	"sonomap/internal/analysis"
)

func validResult() analysis.Result {
	return analysis.Result{
		Energy:      0.5,
		Mood:        0.3,
		Key:         "A",
		Scale:       analysis.ScaleMinor,
		Tempo:       120,
		KeyStrength: 0.8,
		Structure:   "steady",
	}
}

func TestValidateAcceptsWellFormedResult(t *testing.T) {
	if err := validResult().Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidateRejectsOutOfDomainFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*analysis.Result)
	}{
		{"energy above one", func(r *analysis.Result) { r.Energy = 1.2 }},
		{"negative mood", func(r *analysis.Result) { r.Mood = -0.1 }},
		{"unknown key", func(r *analysis.Result) { r.Key = "H" }},
		{"unknown scale", func(r *analysis.Result) { r.Scale = "dorian" }},
		{"unknown structure", func(r *analysis.Result) { r.Structure = "wild" }},
		{"zero tempo", func(r *analysis.Result) { r.Tempo = 0 }},
		{"key strength above one", func(r *analysis.Result) { r.KeyStrength = 2 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := validResult()
			tc.mutate(&r)
			if err := r.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidateDoesNotClampTempo(t *testing.T) {
	// Cached or third-party results may carry tempos outside the nominal
	// detection window and must still validate.
	r := validResult()
	r.Tempo = 240
	if err := r.Validate(); err != nil {
		t.Fatalf("tempo above detection window should validate: %v", err)
	}
}

func TestSyntheticAlwaysValid(t *testing.T) {
	for i := 0; i < 200; i++ {
		r := analysis.Synthetic()
		if err := r.Validate(); err != nil {
			t.Fatalf("synthetic result %d invalid: %v", i, err)
		}
		if r.Tempo < analysis.TempoMin || r.Tempo > analysis.TempoMax {
			t.Fatalf("synthetic tempo %v outside nominal range", r.Tempo)
		}
	}
}

func TestSummaryMentionsKeyAndTempo(t *testing.T) {
	got := validResult().Summary()
	for _, want := range []string{"A minor", "120 BPM", "steady"} {
		if !strings.Contains(got, want) {
			t.Fatalf("summary %q missing %q", got, want)
		}
	}
}
