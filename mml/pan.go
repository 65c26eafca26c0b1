package mml

import "math"

// smwPanTable is AddmusicK/SMW's 21-entry (left,right) pan law, index 10
// is center. Values are the raw volume multipliers (0-0x7F) the SNES
// DSP applies to each side.
var smwPanTable = [21]int{
	0x00, 0x01, 0x03, 0x07, 0x0D, 0x15, 0x1E, 0x29,
	0x34, 0x42, 0x51, 0x5E, 0x67, 0x6E, 0x73, 0x77,
	0x7A, 0x7C, 0x7D, 0x7E, 0x7F,
}

// FindPanLinear maps a 0-255 IT-style pan position onto AddmusicK's
// linear y-command range (0-20, 10=center).
func FindPanLinear(itPan int) int {
	return int(math.Round(float64(itPan) * 20 / 255))
}

// FindPanAccurate searches the SMW pan table for the (left, right) index
// pair whose volume ratio best matches itPan, matching the curve the
// SNES DSP panning macro actually produces instead of a straight line. It
// also returns norm, the scale factor the matched table entries were
// normalized by — callers feed it into the paired volume calculation so
// loud/quiet panning positions don't also skew perceived loudness.
func FindPanAccurate(itPan int) (p int, norm float64) {
	lvol := itPan - 1
	if lvol < 0 {
		lvol = 0
	}
	rvol := 0xFF - maxInt(itPan, 1)

	best, bestNorm, bestDiff := 10, 1.0, -1.0
	for p := 0; p <= 20; p++ {
		plvol := smwPanTable[p]
		prvol := smwPanTable[20-p]
		n := 254.0 / float64(plvol+prvol)
		diff := absFloat(float64(plvol)*n-float64(lvol)) + absFloat(float64(prvol)*n-float64(rvol))
		if bestDiff < 0 || diff < bestDiff {
			best, bestNorm, bestDiff = p, n/2, diff
		}
	}
	return best, bestNorm
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
