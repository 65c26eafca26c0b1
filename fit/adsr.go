package fit

import "github.com/it2amk/it2amk/common"

// adsrRates is the SNES S-DSP's 32-entry decay/release rate table, in
// ticks-per-256-step units. Index 0 means "never".
var adsrRates = [32]int{
	0, 2048, 1536, 1280, 1024, 768, 640, 512,
	384, 320, 256, 192, 160, 128, 96, 80,
	64, 48, 40, 32, 24, 20, 16, 12,
	10, 8, 6, 5, 4, 3, 2, 1,
}

// susLevels is the 8 discrete sustain levels the S-DSP's SR register can
// select, expressed on the S-DSP's 0-0x800 envelope-level scale; the
// decay/release tables divide by 8 to reach EnvTable's 0-0x100 scale.
var susLevels = [8]int{0x100, 0x200, 0x300, 0x400, 0x500, 0x600, 0x700, 0x800}

// EnvTable holds one interpolated value (scaled x4) per output tick,
// plus the tick at which a sustain-loop end was reached, if any.
type EnvTable struct {
	Values  []int
	LoopEnd int // -1 if the envelope has no sustain loop
}

// CalcEnvTable linearly interpolates env's node polyline into one value
// per tick (IT's 0-64 node values scaled x4, so 0-0x100: the same scale
// CalcDecayTable and CalcReleaseTable produce).
func CalcEnvTable(env common.Envelope) EnvTable {
	out := EnvTable{LoopEnd: -1}
	if len(env.Nodes) == 0 {
		return out
	}

	for i := 0; i < len(env.Nodes)-1; i++ {
		a, b := env.Nodes[i], env.Nodes[i+1]
		if env.Sustain && int(env.SustainEnd) == i {
			out.LoopEnd = len(out.Values)
		}
		span := int(b.X - a.X)
		if span <= 0 {
			span = 1
		}
		for x := int(a.X); x < int(b.X); x++ {
			frac := float64(x-int(a.X)) / float64(span)
			y := float64(a.Y) + (float64(b.Y)-float64(a.Y))*frac
			out.Values = append(out.Values, int(y*4))
		}
	}
	last := env.Nodes[len(env.Nodes)-1]
	out.Values = append(out.Values, int(last.Y)*4)
	if env.Sustain && int(env.SustainEnd) == len(env.Nodes)-1 {
		out.LoopEnd = len(out.Values) - 1
	}

	return out
}

// CalcAttack finds the envelope's peak value and derives an SNES attack
// rate (0-15) that reaches it in roughly the same number of ticks, given
// the song's playback tempo. Returns (nil, peakIndex) if the envelope
// starts at its peak (no attack phase to fit).
func CalcAttack(env EnvTable, tempo int) (attack *int, peakIndex int) {
	peak, peakIdx := env.Values[0], 0
	for i, v := range env.Values {
		if v > peak {
			peak, peakIdx = v, i
		}
	}
	if peakIdx == 0 {
		return nil, 0
	}

	tickLength := float64(peakIdx) * (1 - float64(env.Values[0])/256)
	ticksPerSecond := float64(tempo) * 24 / 60
	attackLength := 32000 / ticksPerSecond * tickLength
	interval := attackLength / 64

	bestIdx, bestDiff := 1, absFloat(interval-float64(adsrRates[1]))
	for i := 2; i < len(adsrRates); i++ {
		d := absFloat(interval - float64(adsrRates[i]))
		if d < bestDiff {
			bestIdx, bestDiff = i, d
		}
	}
	a := (bestIdx - 1) / 2
	return &a, peakIdx
}

// CalcDecayTable simulates the S-DSP decay phase (rate index d, target
// sustain level s) tick by tick at the song tempo, returning one
// envelope-scale sample (0-0x100) per output tick.
func CalcDecayTable(d, s, tempo int) []int {
	level := 0x800
	interval := adsrRates[2*d+16]
	ticksPerSecond := float64(tempo) * 24 / 60

	var table []int
	counter, lastTick := 0, -1
	for level > susLevels[s] {
		counter += interval
		tickCounter := int(float64(counter) * ticksPerSecond / 32000)
		if tickCounter > lastTick {
			table = append(table, level/8)
			lastTick = tickCounter
		}
		level -= ((level - 1) >> 8) + 1
	}
	table = append(table, susLevels[s]/8)
	return table
}

// CalcReleaseTable simulates the release phase from sustain level s at
// rate r. r==0 means "never releases", modeled as a constant table.
func CalcReleaseTable(s, r, tempo int) []int {
	if r == 0 {
		table := make([]int, 65536)
		for i := range table {
			table[i] = susLevels[s] / 8
		}
		return table
	}

	level := susLevels[s]
	interval := adsrRates[r]
	ticksPerSecond := float64(tempo) * 24 / 60

	var table []int
	counter, lastTick := 0, -1
	for level > 0 {
		counter += interval
		tickCounter := int(float64(counter) * ticksPerSecond / 32000)
		if tickCounter > lastTick {
			table = append(table, level/8)
			lastTick = tickCounter
		}
		level -= ((level - 1) >> 8) + 1
	}
	table = append(table, 0)
	return table
}

// EnvDiff is the sum of squared, 256-normalized differences between env
// and adsr over [start, end] inclusive, clamping indices into range.
func EnvDiff(env EnvTable, adsr []int, start, end int) float64 {
	sum := 0.0
	for i := start; i <= end; i++ {
		ei := clampIndex(i, len(env.Values))
		ai := clampIndex(i, len(adsr))
		d := float64(env.Values[ei])/256 - float64(adsr[ai])/256
		sum += d * d
	}
	return sum
}

// DSR is a fitted decay/sustain/release triple. ReleaseOK is false, and
// Release unset, when the envelope is still above zero at its last tick
// and has no sustain loop ending before it (there is nothing to release).
type DSR struct {
	Decay     int
	Sustain   int
	ReleaseOK bool
	Release   int
}

// CalcDSR searches for the (decay, sustain, release) triple whose
// simulated S-DSP envelope best matches env's decay/release region,
// starting at dStart (the attack's peak tick) through env's sustain-loop
// end (or its last tick, if the envelope never loops).
func CalcDSR(env EnvTable, dStart, tempo int) DSR {
	theEnd := env.LoopEnd
	if theEnd < 0 {
		theEnd = len(env.Values) - 1
	}

	level := env.Values[theEnd]

	if level > 0 {
		// Infinite release: the envelope is still above zero at its
		// loop/end point, so there's a sustain plateau to hit rather
		// than a finite decay to zero.
		d, s := fitDecayOnly(env, dStart, theEnd, tempo, level)
		dsr := DSR{Decay: d, Sustain: s}
		if theEnd != len(env.Values)-1 {
			r := fitRelease(env, s, theEnd, len(env.Values)-1, tempo)
			dsr.ReleaseOK = true
			dsr.Release = r
		}
		return dsr
	}

	// Finite release: search (d, s, r) triples whose combined
	// decay+release table length roughly matches the fitted span,
	// then pick the closest by squared error.
	length := theEnd + 1 - dStart
	const tolerance = 0.9
	minLen := int(float64(length) * tolerance)
	maxLen := int(float64(length) / tolerance)

	type candidate struct{ d, s, r, tableLen int }
	var candidates []candidate
	var smallest, largest candidate
	haveSmallest, haveLargest := false, false

	for d := 0; d < 8; d++ {
		for s := 0; s < 8; s++ {
			decay := CalcDecayTable(d, s, tempo)
			for r := 1; r < 32; r++ {
				release := CalcReleaseTable(s, r, tempo)
				l := len(decay) + len(release) - 1
				c := candidate{d, s, r, l}
				if l >= minLen && l <= maxLen {
					candidates = append(candidates, c)
				}
				if !haveSmallest || l < smallest.tableLen {
					smallest, haveSmallest = c, true
				}
				if !haveLargest || l > largest.tableLen {
					largest, haveLargest = c, true
				}
			}
		}
	}

	if len(candidates) == 0 {
		fallback := smallest
		if length > smallest.tableLen {
			fallback = largest
		}
		return DSR{Decay: fallback.d, Sustain: fallback.s, ReleaseOK: true, Release: fallback.r}
	}

	best := candidates[0]
	bestDiff := -1.0
	for _, c := range candidates {
		decay := CalcDecayTable(c.d, c.s, tempo)
		release := CalcReleaseTable(c.s, c.r, tempo)
		table := append(append([]int{}, decay[:len(decay)-1]...), release...)
		diff := EnvDiff(env, table, dStart, theEnd)
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = c, diff
		}
	}

	return DSR{Decay: best.d, Sustain: best.s, ReleaseOK: true, Release: best.r}
}

func fitDecayOnly(env EnvTable, dStart, theEnd, tempo, level int) (d, s int) {
	sGuess := level / 32
	sLo, sHi := sGuess-1, sGuess+1
	if sLo < 0 {
		sLo = 0
	}
	if sHi > 7 {
		sHi = 7
	}

	bestDiff := -1.0
	for dd := 0; dd < 8; dd++ {
		for ss := sLo; ss <= sHi; ss++ {
			table := CalcDecayTable(dd, ss, tempo)
			diff := EnvDiff(env, table, dStart, theEnd)
			if bestDiff < 0 || diff < bestDiff {
				d, s, bestDiff = dd, ss, diff
			}
		}
	}
	return d, s
}

func fitRelease(env EnvTable, s, loopEnd, lastIndex, tempo int) int {
	bestR, bestDiff := 0, -1.0
	for r := 0; r < 32; r++ {
		table := CalcReleaseTable(s, r, tempo)
		diff := EnvDiff(env, table, loopEnd, lastIndex)
		if bestDiff < 0 || diff < bestDiff {
			bestR, bestDiff = r, diff
		}
	}
	return bestR
}

func clampIndex(i, length int) int {
	if length == 0 {
		return 0
	}
	if i < 0 {
		return 0
	}
	if i >= length {
		return length - 1
	}
	return i
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
