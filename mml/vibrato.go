package mml

import "math"

// CalcVibrato converts an IT Hxx vibrato nibble pair (speed 0-15 in
// ticks-per-cycle units, depth 0-15) into the AddmusicK pitch-vibrato
// macro's (freq, amp) argument pair, scaled by the song's tempo
// multiplier the way the engine's own tick rate is scaled.
func CalcVibrato(speed, depth int, tmult float64) (freq, amp int) {
	if speed > 0 {
		freq = clampInt(int(math.Round(256/((64/float64(speed))*tmult))), 0, 255)
	}
	amp = clampInt(depth*15, 0, 255)
	return freq, amp
}
