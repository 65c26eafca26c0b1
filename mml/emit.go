/*
Package mml turns an event timeline (package events) plus a loaded module
(package common) into AddmusicK MML source text: the pan/volume/vibrato
curve math lives in pan.go/volume.go/vibrato.go/ticks.go, instrument and
sample block formatting lives in instrument.go, and Emit here walks each
channel's event list turning it into note/rest tokens.
*/
package mml

import (
	"fmt"
	"math"
	"strings"

	"github.com/it2amk/it2amk/cliconfig"
	"github.com/it2amk/it2amk/common"
	"github.com/it2amk/it2amk/events"
	"github.com/it2amk/it2amk/fit"
	"github.com/it2amk/it2amk/sampconv"
)

var noteNames = [12]string{"c", "c+", "d", "d+", "e", "f", "f+", "g", "g+", "a", "a+", "b"}

// curveByName picks the volume curve package volume.go's -vcurve modes map
// to; unrecognized names fall back to the accurate curve, matching the
// converter's own tolerant default.
func curveByName(name string) *VolumeCurve {
	switch name {
	case "linear":
		return NewLinearVolumeCurve()
	case "x^2":
		return NewSquareVolumeCurve()
	default:
		return NewAccurateVolumeCurve()
	}
}

// tempoMacro implements the t<N> global tempo command.
func tempoMacro(bpm float64, tmult float64) int {
	return int(math.Ceil(bpm * 0.4096 * tmult / 2))
}

// globalVolumeMacro implements the w<N> global volume command.
func globalVolumeMacro(gv int) int {
	return int(math.Round(255 * math.Sqrt(float64(gv)/128)))
}

// chanState is the emitter's per-channel working state: raw values
// accumulated from state-only events, and the last values actually
// written out, so unchanged commands can be elided.
type chanState struct {
	rawV, rawX, rawEX, rawM, rawIV, rawSV int
	vibHi, vibLo                          int
	vibOn                                 bool
	z1                                    int
	surround                              bool
	curIns                                int

	octave      int
	insIdx      int
	noise       bool
	lastVolCmd  int
	lastAmp     int
	lastPan     [3]int
	lastVibrato [3]int
	lastZ1      int
	forceReemit bool
}

func newChanState() *chanState {
	return &chanState{
		rawM: 64, rawIV: 128, rawSV: 64, rawEX: 32,
		octave: -1, insIdx: -1, lastVolCmd: -1, lastAmp: -1,
		lastPan: [3]int{-1, 0, 0}, lastVibrato: [3]int{-1, 0, 0},
		lastZ1: -1,
	}
}

// Emit produces the full .mml text for mod/t under cfg, using tunings
// (keyed by 1-based sample index) to name each instrument's BRR file.
func Emit(mod *common.Module, t *events.Table, cfg *cliconfig.Config, tunings map[int]sampconv.Tuning, stem string) string {
	var sb strings.Builder

	sb.WriteString("#amk 2\n\n")
	writeSPCBlock(&sb, cfg)
	fmt.Fprintf(&sb, "#path \"%s\"\n\n", stem)

	buildSamplesBlock(&sb, mod, t.InsList, tunings)
	buildInstrumentsBlock(&sb, mod, t.InsList, tunings, int(mod.InitialTempo))

	writeGlobalInit(&sb, mod, cfg)

	curve := curveByName(cfg.VolumeCurve)
	for c := 0; c < 8; c++ {
		fmt.Fprintf(&sb, "#%d\n", c)
		emitChannel(&sb, mod, t, c, cfg, curve)
		sb.WriteString("\n\n")
	}

	return sb.String()
}

func writeSPCBlock(sb *strings.Builder, cfg *cliconfig.Config) {
	if cfg.Game == "" && cfg.Author == "" && cfg.Length == "" {
		return
	}
	sb.WriteString("#SPC\n{\n")
	if cfg.Game != "" {
		fmt.Fprintf(sb, "\t#game \"%s\"\n", cfg.Game)
	}
	if cfg.Author != "" {
		fmt.Fprintf(sb, "\t#author \"%s\"\n", cfg.Author)
	}
	if cfg.Length != "" {
		fmt.Fprintf(sb, "\t#length \"%s\"\n", cfg.Length)
	}
	sb.WriteString("}\n\n")
}

func writeGlobalInit(sb *strings.Builder, mod *common.Module, cfg *cliconfig.Config) {
	if cfg.Master != "" {
		fmt.Fprintf(sb, "$F6 $%s $%s\n", cfg.Master[0:2], cfg.Master[2:4])
	}
	if cfg.Echo != "" {
		fmt.Fprintf(sb, "$EF $%s $%s $%s $%s\n", cfg.Echo[0:2], cfg.Echo[2:4], cfg.Echo[4:6], cfg.Echo[6:8])
	}
	if cfg.Fir != "" {
		sb.WriteString("$F1")
		for i := 0; i < 16; i += 2 {
			fmt.Fprintf(sb, " $%s", cfg.Fir[i:i+2])
		}
		sb.WriteString("\n")
	}
	if cfg.Legato {
		sb.WriteString("$F4 $02\n")
	}

	fmt.Fprintf(sb, "t%d\n", tempoMacro(float64(mod.InitialTempo), cfg.TempoMult))
	fmt.Fprintf(sb, "w%d\n\n", globalVolumeMacro(int(mod.GlobalVolume)))
}

// emitChannel walks one channel's event list, deferring each sounding
// event's MML token until the next sounding event is known (so its
// duration can be written inline with the note, the way AddmusicK note
// syntax expects).
func emitChannel(sb *strings.Builder, mod *common.Module, t *events.Table, c int, cfg *cliconfig.Config, curve *VolumeCurve) {
	st := newChanState()

	type pending struct {
		tick, value int
		snapshot    chanState
	}
	var pend *pending

	flush := func(nextTick int) {
		if pend == nil {
			return
		}
		ticklen := int(math.Floor(cfg.TempoMult*float64(nextTick))) - int(math.Floor(cfg.TempoMult*float64(pend.tick)))
		if ticklen < 1 {
			ticklen = 1
		}
		emitNote(sb, mod, t, &pend.snapshot, pend.value, ticklen, cfg, curve)
		*st = pend.snapshot
	}

	timeline := mergeGlobals(t.Channels[c], t.Global, c)
	for _, e := range timeline {
		switch e.Kind {
		case events.KindTempo:
			fmt.Fprintf(sb, "t%d ", tempoMacro(float64(e.Value), cfg.TempoMult))
		case events.KindGlobalVolume:
			fmt.Fprintf(sb, "w%d ", globalVolumeMacro(e.Value))
		case events.KindEchoFlagsDelta:
			sb.WriteString("$F4 $03 ")
		case events.KindPmodFlagsDelta:
			fmt.Fprintf(sb, "$FA $00 $%02X ", e.Value)
		case events.KindMixVolume:
			st.rawM = e.Value
		case events.KindInsVolume:
			st.rawIV = e.Value
		case events.KindSampleVolume:
			st.rawSV = e.Value
		case events.KindVolume:
			st.rawV = e.Value
		case events.KindPan:
			st.rawX = e.Value
			st.surround = false
		case events.KindPanEnvelope:
			st.rawEX = e.Value
		case events.KindSurround:
			st.surround = e.Value == 1
		case events.KindVibrato:
			if e.Value == 0 {
				st.vibOn = false
			} else {
				st.vibHi, st.vibLo, st.vibOn = e.Value>>8, e.Value&0xFF, true
			}
		case events.KindZ1Gain:
			st.z1 = e.Value
		case events.KindInstrument:
			st.curIns = e.Value
		case events.KindInlineMML:
			sb.WriteString(e.Text)
		case events.KindLoopMark:
			sb.WriteString("/")
			st.forceReemit = true
		case events.KindPatternBreak:
			sb.WriteString("\n")
		case events.KindBarBreak:
			sb.WriteString("\n")
			st.octave = -1
		case events.KindNote, events.KindEnd:
			flush(e.Tick)
			if e.Kind == events.KindEnd {
				pend = nil
				continue
			}
			pend = &pending{tick: e.Tick, value: e.Value, snapshot: *st}
		}
	}
}

// mergeGlobals splices the tempo/global-volume/echo/pitch-mod events
// attributed to channel c into its own event list, preserving tick
// order, so emitChannel only has to walk a single stream. Both inputs
// are already tick-sorted.
func mergeGlobals(local []events.Event, global []events.Event, c int) []events.Event {
	var filtered []events.Event
	for _, e := range global {
		if e.Chan == c {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) == 0 {
		return local
	}

	merged := make([]events.Event, 0, len(local)+len(filtered))
	i, j := 0, 0
	for i < len(local) && j < len(filtered) {
		if filtered[j].Tick <= local[i].Tick {
			merged = append(merged, filtered[j])
			j++
		} else {
			merged = append(merged, local[i])
			i++
		}
	}
	merged = append(merged, local[i:]...)
	merged = append(merged, filtered[j:]...)
	return merged
}

// emitNote writes one note/rest/release token (including any pan/volume/
// instrument/vibrato/gain setup that changed since the last one) using
// the state captured when this event was seen.
func emitNote(sb *strings.Builder, mod *common.Module, t *events.Table, st *chanState, value, ticklen int, cfg *cliconfig.Config, curve *VolumeCurve) {
	switch {
	case value >= 255: // note-off
		emitRelease(sb, mod, st, ticklen, cfg, curve, false)
		return
	case value == 254: // note-cut
		sb.WriteString("$FC")
		fmt.Fprintf(sb, "r%s", TickString(ticklen))
		return
	case value >= 121 && value <= 253: // note-fade
		emitRelease(sb, mod, st, ticklen, cfg, curve, true)
		return
	}

	note := value
	emitSetup(sb, mod, t, st, note, cfg, curve)

	octave := (note - 1) / 12
	adjustOctave(sb, st, octave)

	sb.WriteString(noteNames[(note-1)%12])
	sb.WriteString(TickString(ticklen))
	st.forceReemit = false
}

func adjustOctave(sb *strings.Builder, st *chanState, octave int) {
	if st.octave == -1 {
		fmt.Fprintf(sb, "o%d", octave)
	} else if diff := octave - st.octave; diff > 0 {
		sb.WriteString(strings.Repeat(">", diff))
	} else if diff < 0 {
		sb.WriteString(strings.Repeat("<", -diff))
	}
	st.octave = octave
}

// emitRelease handles note-off and note-fade: both end in a plain rest of
// ticklen. A note-fade first writes `$E8` with a length derived from the
// instrument's fadeout, and an instrument `r` tag adds an explicit `$ED`
// release-ADSR override before the rest.
func emitRelease(sb *strings.Builder, mod *common.Module, st *chanState, ticklen int, cfg *cliconfig.Config, curve *VolumeCurve, fade bool) {
	var release *[3]byte
	fadeout := 0
	if st.curIns > 0 && st.curIns <= len(mod.Instruments) {
		ins := mod.Instruments[st.curIns-1]
		release = releaseAdsrBytes(ins)
		fadeout = fadeoutValue(ins)
	}

	if fade {
		fadeTicks := clampInt(fadeout/4, 1, 255)
		fmt.Fprintf(sb, "$E8 $%02X ", fadeTicks)
	}
	if release != nil {
		fmt.Fprintf(sb, "$ED $%02X $%02X $%02X ", release[0], release[1], release[2])
	}
	fmt.Fprintf(sb, "r%s", TickString(ticklen))
}

// emitSetup resolves and writes the instrument/pan/volume/vibrato/gain
// commands that changed since the previous note, per the target engine's
// "last emitted value" elision rule.
func emitSetup(sb *strings.Builder, mod *common.Module, t *events.Table, st *chanState, note int, cfg *cliconfig.Config, curve *VolumeCurve) {
	key, noise := resolveInsSample(mod, st.curIns, note)
	idx, ok := 0, false
	if !noise {
		idx, ok = t.InsDict[key]
	}

	var ins common.Instrument
	if st.curIns > 0 && st.curIns <= len(mod.Instruments) {
		ins = mod.Instruments[st.curIns-1]
	}

	if noise {
		n := note % 32
		if !st.noise || st.insIdx != n || st.forceReemit {
			fmt.Fprintf(sb, "n%02X ", n)
			st.noise, st.insIdx = true, n
		}
	} else if ok && (st.insIdx != idx || st.noise || st.forceReemit) {
		fmt.Fprintf(sb, "@%d ", idx)
		st.insIdx, st.noise = idx, false
	}

	panTriple, norm := computePan(st, ins, note, cfg)
	if panTriple != st.lastPan || st.forceReemit {
		fmt.Fprintf(sb, "y%d,%d,%d ", panTriple[0], panTriple[1], panTriple[2])
		st.lastPan = panTriple
	}

	volCmd, amp := computeVolume(st, norm, cfg, curve)
	if volCmd != st.lastVolCmd || st.forceReemit {
		fmt.Fprintf(sb, "v%d ", volCmd)
		st.lastVolCmd = volCmd
	}
	if amp != st.lastAmp || st.forceReemit {
		fmt.Fprintf(sb, "$FA $03 $%02X ", amp)
		st.lastAmp = amp
	}

	vib := computeVibrato(st, cfg)
	if vib != st.lastVibrato || st.forceReemit {
		if vib[1] == 0 {
			sb.WriteString("$DF ")
		} else {
			fmt.Fprintf(sb, "p%d,%d,%d ", vib[0], vib[1], vib[2])
		}
		st.lastVibrato = vib
	}

	if st.z1 != st.lastZ1 || st.forceReemit {
		fmt.Fprintf(sb, "$FA $01 $%02X ", st.z1)
		st.lastZ1 = st.z1
	}
}

func resolveInsSample(mod *common.Module, insNum, note int) (events.InsSample, bool) {
	if insNum <= 0 || insNum > len(mod.Instruments) {
		return events.InsSample{}, false
	}
	ins := mod.Instruments[insNum-1]
	tags, err := fit.ParseInstrumentTags(ins.Name + ins.DosFilename)
	if err == nil && tags.Noise {
		return events.InsSample{Instrument: insNum, Sample: 0}, true
	}
	sample := 0
	if note-1 >= 0 && note-1 < len(ins.Notemap) {
		sample = int(ins.Notemap[note-1].Sample)
	}
	return events.InsSample{Instrument: insNum, Sample: sample}, false
}

func computePan(st *chanState, ins common.Instrument, note int, cfg *cliconfig.Config) ([3]int, float64) {
	if st.surround {
		sgnR := 0
		invert := false
		if tags, err := fit.ParseInstrumentTags(ins.Name + ins.DosFilename); err == nil {
			invert = tags.Invert
		}
		if invert {
			sgnR = 1
		}
		return [3]int{10, 0, sgnR}, 1.0
	}

	pps := int(ins.PitchPanSeparation)
	ppc := int(ins.PitchPanCenter)
	offset := st.rawX + 4*(st.rawEX-32) + pps*(note-1-ppc)
	itPan := 255 - clampInt(offset, 0, 255)

	if cfg.Panning == "linear" {
		return [3]int{FindPanLinear(itPan), 0, 0}, 1.0
	}
	p, norm := FindPanAccurate(itPan)
	return [3]int{p, 0, 0}, norm
}

// computeVolume returns the mml "v" command value plus an amplifier
// overflow ("$FA $03") value for when the combined volume multipliers
// push the target loudness past what v alone can express.
func computeVolume(st *chanState, norm float64, cfg *cliconfig.Config, curve *VolumeCurve) (vCmd, amp int) {
	linear := math.Round(255 * norm * cfg.VolumeMult * (float64(st.rawV) / 64) * (float64(st.rawM) / 64) * (float64(st.rawIV) / 128) * (float64(st.rawSV) / 64))
	clamped := linear
	if clamped > 255 {
		clamped = 255
	}
	if clamped < 0 {
		clamped = 0
	}
	vCmd = curve.FindVolume(int(clamped))
	if linear > 255 {
		amp = clampInt(int(math.Round((linear/255-1)*0xFF)), 0, 0xFF)
	}
	return vCmd, amp
}

func computeVibrato(st *chanState, cfg *cliconfig.Config) [3]int {
	if !st.vibOn || st.vibHi == 0 {
		return [3]int{0, 0, 0}
	}
	freq, amp := CalcVibrato(st.vibHi, st.vibLo, cfg.TempoMult)
	return [3]int{0, freq, amp}
}

func fadeoutValue(ins common.Instrument) int {
	tags, err := fit.ParseInstrumentTags(ins.Name + ins.DosFilename)
	if err == nil && tags.Fadeout != nil {
		return int(*tags.Fadeout)
	}
	return int(ins.Fadeout)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
