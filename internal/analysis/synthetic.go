package analysis

import "math/rand/v2"

// Synthetic produces a structurally valid Result with uniformly random
// values in each feature's domain. It is used whenever the real engine is
// unavailable, times out, or errors, so every file ends up with some
// analysis. Synthetic results must never be written to the cache.
func Synthetic() Result {
	scale := ScaleMajor
	if rand.IntN(2) == 1 {
		scale = ScaleMinor
	}
	return Result{
		Energy:      rand.Float64(),
		Mood:        rand.Float64(),
		Key:         PitchClasses[rand.IntN(len(PitchClasses))],
		Scale:       scale,
		Tempo:       TempoMin + rand.Float64()*(TempoMax-TempoMin),
		KeyStrength: rand.Float64(),
		Structure:   Structures[rand.IntN(len(Structures))],
		Loudness:    rand.Float64(),
	}
}
