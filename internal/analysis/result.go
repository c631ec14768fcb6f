package analysis

import (
	"fmt"
	"strings"
)

// PitchClasses lists the twelve pitch-class labels a Result's Key may take.
var PitchClasses = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Scale labels.
const (
	ScaleMajor = "major"
	ScaleMinor = "minor"
)

// Structure labels describe the coarse dynamic shape of a clip.
var Structures = []string{"sparse", "steady", "building", "dynamic", "chaotic"}

// Tempo detection bounds. Results loaded from cache or produced by other
// engines are not clamped to this range; it only bounds fresh detection.
const (
	TempoMin = 60.0
	TempoMax = 180.0
)

// Source records how a file's analysis was obtained.
type Source string

const (
	SourceCache     Source = "cache"
	SourceEngine    Source = "engine"
	SourceSynthetic Source = "synthetic"
)

// Result is a fixed record of scalar musical features for one audio clip.
type Result struct {
	Energy      float64 `json:"energy"`       // 0..1
	Mood        float64 `json:"mood"`         // 0..1, dark to bright
	Key         string  `json:"key"`          // one of PitchClasses
	Scale       string  `json:"scale"`        // major or minor
	Tempo       float64 `json:"tempo"`        // BPM
	KeyStrength float64 `json:"key_strength"` // 0..1 confidence in Key
	Structure   string  `json:"structure"`    // one of Structures
	Loudness    float64 `json:"loudness,omitempty"`
}

// Validate reports whether the result is structurally sound. It is applied
// to engine output before a result is cached; cached entries are trusted.
func (r Result) Validate() error {
	if r.Energy < 0 || r.Energy > 1 {
		return fmt.Errorf("energy %v out of range [0,1]", r.Energy)
	}
	if r.Mood < 0 || r.Mood > 1 {
		return fmt.Errorf("mood %v out of range [0,1]", r.Mood)
	}
	if r.KeyStrength < 0 || r.KeyStrength > 1 {
		return fmt.Errorf("key strength %v out of range [0,1]", r.KeyStrength)
	}
	if !validPitchClass(r.Key) {
		return fmt.Errorf("unknown pitch class %q", r.Key)
	}
	if r.Scale != ScaleMajor && r.Scale != ScaleMinor {
		return fmt.Errorf("unknown scale %q", r.Scale)
	}
	if !validStructure(r.Structure) {
		return fmt.Errorf("unknown structure %q", r.Structure)
	}
	if r.Tempo <= 0 {
		return fmt.Errorf("tempo %v must be positive", r.Tempo)
	}
	return nil
}

func validPitchClass(key string) bool {
	for _, pc := range PitchClasses {
		if pc == key {
			return true
		}
	}
	return false
}

func validStructure(structure string) bool {
	for _, s := range Structures {
		if s == structure {
			return true
		}
	}
	return false
}

// Summary renders a compact single-line description for CLI output.
func (r Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", r.Key, r.Scale)
	fmt.Fprintf(&b, " · %.0f BPM", r.Tempo)
	fmt.Fprintf(&b, " · energy %.2f · mood %.2f · %s", r.Energy, r.Mood, r.Structure)
	return b.String()
}
