/*
Package unroll virtually plays an IT module's order list, turning the
pattern grid into a flat, tick-indexed event timeline per channel. It
resolves pattern jumps (Bxx/Cxx), pattern-loops (SBx), pattern row delay
(SEx), and per-row speed/tempo/global-volume changes the way the
reference it2amk player loop does, then detects the point where playback
would repeat forever and records it as a loop mark instead of looping the
conversion.

Ported from the reference it2amk player loop (EventTable.convert and
friends); the effect-number constants below map IT effect letters onto
common.PatternEntry.Effect.
*/
package unroll

import (
	"github.com/it2amk/it2amk/common"
	"github.com/it2amk/it2amk/events"
)

// IT effect-column numbers (1=Axx, 2=Bxx, ... matching common.PatternEntry.Effect).
const (
	effSpeed         = 1  // Axx
	effPosJump       = 2  // Bxx
	effRowJump       = 3  // Cxx (pattern break)
	effVolSlide      = 4  // Dxx
	effVibrato       = 8  // Hxx
	effVibratoSlide  = 11 // Kxx, also a D-style volume slide
	effPortaVolSlide = 12 // Lxx, also a D-style volume slide
	effMixVolume     = 13 // Mxx
	effSpecial       = 19 // Sxx
	effTempo         = 20 // Txx
	effGlobalVolume  = 22 // Vxx
	effZ1Gain        = 26 // Zxx
)

// Volume-column command numbers, per common.PatternEntry.VolumeCommand.
const (
	volSet      = 1
	volFineUp   = 2
	volFineDown = 3
	volSlideUp  = 4
	volSlideDn  = 5
	volSetPan   = 8
)

type channelState struct {
	lastNote int // 0 = none yet; otherwise the translated note (1-120)
	lastIns  int

	v int // current note volume, 0-64

	fineUp, fineDown int // volume-column memories 'a'/'b'
	slideUp, slideDn int // volume-column memories 'c'/'d'
	volSlideMem      int // effect-column D/K/L shared memory

	vibHigh, vibLow int
	vibOn           bool

	pan      int // 0-255
	panEnv   int // EX, default 32
	surround bool

	mixVolume int // 0-64, default 64
	insVolume int // 0-128, default 128
	smpVolume int // 0-64, default 64

	z1 int
}

func newChannelState() *channelState {
	return &channelState{
		mixVolume: 64,
		insVolume: 128,
		smpVolume: 64,
		panEnv:    32,
	}
}

type loopSlot struct {
	startRow int
	counter  int // 0 = no loop in progress (ready to start one on the next SBn)
}

// globalFlags tracks the combined 8-bit echo-enable and pitch-mod-enable
// masks across all channels (bit c = channel c's current instrument
// requests the flag), emitting a KindEchoFlagsDelta/KindPmodFlagsDelta
// global event, attributed to the channel whose instrument change
// caused it, whenever either mask actually changes.
type globalFlags struct {
	echoMask, pmodMask int
}

func (g *globalFlags) setEcho(t *events.Table, tick, c int, on bool) {
	mask := setBit(g.echoMask, c, on)
	if mask != g.echoMask {
		g.echoMask = mask
		t.AddGlobal(tick, events.KindEchoFlagsDelta, mask, c)
	}
}

func (g *globalFlags) setPmod(t *events.Table, tick, c int, on bool) {
	mask := setBit(g.pmodMask, c, on)
	if mask != g.pmodMask {
		g.pmodMask = mask
		t.AddGlobal(tick, events.KindPmodFlagsDelta, mask, c)
	}
}

func setBit(mask, bit int, on bool) int {
	if on {
		return mask | (1 << uint(bit))
	}
	return mask &^ (1 << uint(bit))
}

// Convert virtually plays mod from the start of its order list and
// returns the resulting per-channel/global event timeline.
func Convert(mod *common.Module) *events.Table {
	t := events.NewTable()

	var ch [8]*channelState
	for i := range ch {
		ch[i] = newChannelState()
	}

	addInitEvents(t, mod, ch[:])

	flags := &globalFlags{}

	speed := int(mod.InitialSpeed)
	if speed == 0 {
		speed = 6
	}
	tempo := int(mod.InitialTempo)
	gvol := int(mod.GlobalVolume)

	visited := map[[2]int]bool{}
	var loopTable [64]loopSlot

	pos := 0
	startRow := 0
	tick := 0
	loopPos, loopRow := -1, -1
	finished := false

outer:
	for pos < len(mod.Order) {
		o := int(mod.Order[pos])
		if o >= len(mod.Patterns) {
			pos++
			if pos >= len(mod.Order) {
				pos = 0
			}
			continue
		}

		patt := &mod.Patterns[o]
		rr := startRow
		startRow = 0

		for rr < len(patt.Rows) {
			key := [2]int{pos, rr}
			if visited[key] && !anyLoopActive(loopTable[:]) {
				loopPos, loopRow = pos, rr
				finished = true
				break outer
			}
			visited[key] = true

			row := patt.Rows[rr]

			patchDelay := getPatternDelay(row)
			newSpeed := getRowSpeed(row, speed)
			newTempo, tempoChan := getRowTempo(row, tempo)
			newGVol, gvolChan := getRowGlobalVolume(row, gvol)

			if newTempo != tempo {
				c := tempoChan
				if c < 0 {
					c = 0
				}
				t.AddGlobal(tick, events.KindTempo, newTempo, c)
				tempo = newTempo
			}
			if newGVol != gvol {
				c := gvolChan
				if c < 0 {
					c = 0
				}
				t.AddGlobal(tick, events.KindGlobalVolume, newGVol, c)
				gvol = newGVol
			}
			speed = newSpeed

			for iter := 0; iter <= patchDelay; iter++ {
				addRowEvents(t, mod, ch[:], row, tick, speed, iter, rr, flags)
				tick += speed
			}

			newPos, newRow, havePos, posJumped := findPosJump(row)
			loopDest, looped := handleLoops(row, rr, loopTable[:])

			jumped := posJumped || looped
			noNewline := false
			if looped {
				newRow = loopDest
				if newRow >= len(patt.Rows) {
					newRow = 0
					newPos = pos + 1
				} else {
					noNewline = true
					newPos = pos
				}
			} else if posJumped && !havePos {
				// A lone Cxx (no Bxx on the same row) advances to the next
				// order slot's given row, it does not jump to order 0.
				newPos = pos + 1
			}

			if jumped && !noNewline && newRow != 0 {
				major := int(mod.PatternHighlight_Measure)
				for c := 0; c < 8; c++ {
					t.Add(c, tick, events.KindPatternBreak, 0)
					if major > 0 && newRow%major != 0 {
						t.Add(c, tick, events.KindBarBreak, 0)
					}
				}
			}

			if jumped {
				pos = newPos
				startRow = newRow
				if pos >= len(mod.Order) {
					pos = 0
				} else if int(mod.Order[pos]) >= len(mod.Patterns) {
					// fall through to the outer loop's own skip handling
				}
				continue outer
			}

			rr++
		}

		if finished {
			break
		}
		pos++
		if pos >= len(mod.Order) {
			pos = 0
		}
	}

	for c := 0; c < 8; c++ {
		t.Add(c, tick, events.KindEnd, 0)
	}
	t.SortGlobal()

	if loopPos >= 0 {
		t.LoopTick = resimulateLoopTick(mod, loopPos, loopRow)
		if t.LoopTick > 0 {
			for c := 0; c < 8; c++ {
				t.InsertLoopMark(c, t.LoopTick)
			}
		}
	}

	return t
}

func anyLoopActive(loops []loopSlot) bool {
	for _, l := range loops {
		if l.counter > 0 {
			return true
		}
	}
	return false
}

func addInitEvents(t *events.Table, mod *common.Module, ch []*channelState) {
	for c := 0; c < 8 && c < len(mod.ChannelSettings); c++ {
		cs := mod.ChannelSettings[c]
		t.Add(c, 0, events.KindMixVolume, int(cs.InitialVolume))
		ch[c].mixVolume = int(cs.InitialVolume)

		if cs.Surround {
			ch[c].surround = true
			t.Add(c, 0, events.KindSurround, 1)
		} else {
			pan := int(cs.InitialPan) * 4
			if pan > 0xFF {
				pan = 0xFF
			}
			ch[c].pan = pan
			t.Add(c, 0, events.KindPan, pan)
		}
	}
}

// getRowSpeed scans the row for Axx with a nonzero argument; the last
// channel scanned wins, matching IT's left-to-right effect processing.
func getRowSpeed(row common.PatternRow, speed int) int {
	for _, e := range row.Entries {
		if e.Effect == effSpeed && e.EffectParam != 0 {
			speed = int(e.EffectParam)
		}
	}
	return speed
}

// getRowTempo scans the row for Txx; the last channel scanned wins, and
// srcChan identifies it (-1 if the row carries no Txx) so the caller can
// attribute the resulting global event to that channel's output stream.
func getRowTempo(row common.PatternRow, tempo int) (newTempo, srcChan int) {
	newTempo, srcChan = tempo, -1
	for _, e := range row.Entries {
		if e.Effect == effTempo && e.EffectParam >= 0x20 {
			newTempo = int(e.EffectParam)
			srcChan = int(e.Channel) % 8
		}
	}
	return newTempo, srcChan
}

func getRowGlobalVolume(row common.PatternRow, gvol int) (newGVol, srcChan int) {
	newGVol, srcChan = gvol, -1
	for _, e := range row.Entries {
		if e.Effect == effGlobalVolume && e.EffectParam <= 0x80 {
			newGVol = int(e.EffectParam)
			srcChan = int(e.Channel) % 8
		}
	}
	return newGVol, srcChan
}

// getPatternDelay returns the SEx row-repeat count (0 = no repeat).
func getPatternDelay(row common.PatternRow) int {
	delay := 0
	for _, e := range row.Entries {
		if e.Effect == effSpecial && e.EffectParam>>4 == 0xE {
			delay = int(e.EffectParam & 0xF)
		}
	}
	return delay
}

// findPosJump returns the Bxx/Cxx destination for this row, if any.
// havePos reports whether a Bxx was present on the row: a lone Cxx (no
// Bxx) only sets the destination row, leaving the destination order
// position to the caller (next position, not order 0).
func findPosJump(row common.PatternRow) (pos, rowDest int, havePos, jumped bool) {
	haveRow := false
	for _, e := range row.Entries {
		switch e.Effect {
		case effPosJump:
			pos = int(e.EffectParam)
			havePos = true
		case effRowJump:
			rowDest = int(e.EffectParam)
			haveRow = true
		}
	}
	if havePos && !haveRow {
		rowDest = 0
	}
	return pos, rowDest, havePos, havePos || haveRow
}

// handleLoops runs the SBx pattern-loop state machine. The last channel
// scanned with an active SBx wins, per the reference implementation.
func handleLoops(row common.PatternRow, rr int, loops []loopSlot) (rowDest int, looped bool) {
	for _, e := range row.Entries {
		if e.Effect != effSpecial || e.EffectParam>>4 != 0xB {
			continue
		}
		c := int(e.Channel) & 63
		nibble := int(e.EffectParam & 0xF)
		slot := &loops[c]

		switch {
		case nibble == 0:
			slot.startRow = rr
		case slot.counter == 0:
			slot.counter = nibble
			rowDest, looped = slot.startRow, true
		case slot.counter == 1:
			slot.counter = 0
			slot.startRow = rr + 1
		default:
			slot.counter--
			rowDest, looped = slot.startRow, true
		}
	}
	return rowDest, looped
}

// TickAt replays the order list from the beginning far enough to find the
// absolute tick at which playback order slot orderIdx reaches pattern row
// row, for splicing in inline MML requested at a given order/row/subtick.
// Returns -1 if the order list never reaches that slot.
func TickAt(mod *common.Module, orderIdx, row int) int {
	speed := int(mod.InitialSpeed)
	if speed == 0 {
		speed = 6
	}
	tick := 0

	for pos := 0; pos < len(mod.Order) && pos <= orderIdx; pos++ {
		o := int(mod.Order[pos])
		if o >= len(mod.Patterns) {
			continue
		}
		patt := &mod.Patterns[o]
		for rr := 0; rr < len(patt.Rows); rr++ {
			if pos == orderIdx && rr == row {
				return tick
			}
			speed = getRowSpeed(patt.Rows[rr], speed)
			delay := getPatternDelay(patt.Rows[rr])
			tick += speed * (delay + 1)
		}
	}
	return -1
}

// resimulateLoopTick re-plays the order list from the beginning,
// accumulating only row durations (no events), to find the absolute
// tick position where the detected loop point falls. This has to be a
// separate pass because the loop point is only known after a full
// unroll, but the tick it corresponds to depends on every row duration
// from the very start of the song.
func resimulateLoopTick(mod *common.Module, loopPos, loopRow int) int {
	speed := int(mod.InitialSpeed)
	if speed == 0 {
		speed = 6
	}
	tick := 0
	pos := 0

	for pos < len(mod.Order) {
		o := int(mod.Order[pos])
		if o >= len(mod.Patterns) {
			pos++
			continue
		}
		patt := &mod.Patterns[o]
		for rr := 0; rr < len(patt.Rows); rr++ {
			if pos == loopPos && rr == loopRow {
				return tick
			}
			speed = getRowSpeed(patt.Rows[rr], speed)
			delay := getPatternDelay(patt.Rows[rr])
			tick += speed * (delay + 1)
		}
		pos++
	}
	return 0
}
