package unroll

import "github.com/it2amk/it2amk/common"
import "github.com/it2amk/it2amk/events"
import "github.com/it2amk/it2amk/fit"

// addRowEvents converts one pattern row into timeline events. It is
// called once per pattern-delay repeat (iter counts 0..SEx), with tick
// already advanced to this repeat's start.
//
// Pitch-affecting volume-column commands (porta, pitch slide, vibrato
// depth) are intentionally not modeled: the target engine's pitch
// handling is driven by MML note commands rather than per-tick pitch
// deltas, which is out of scope here. The effect-column
// D/K/L volume slide is a channel-volume effect, not a pitch effect, and
// is modeled in applyEffectVolumeSlide.
func addRowEvents(t *events.Table, mod *common.Module, ch []*channelState, row common.PatternRow, baseTick, speed, iter, rr int, flags *globalFlags) {
	if baseTick != 0 && iter == 0 {
		major := int(mod.PatternHighlight_Measure)
		if rr == 0 {
			for c := 0; c < 8; c++ {
				t.Add(c, baseTick, events.KindPatternBreak, 0)
			}
		}
		if major > 0 && rr%major == 0 {
			for c := 0; c < 8; c++ {
				t.Add(c, baseTick, events.KindBarBreak, 0)
			}
		}
	}

	rowHasVibrato := make(map[int]bool, 4)

	for _, entry := range row.Entries {
		c := int(entry.Channel) % 8
		cs := ch[c]

		switch entry.Effect {
		case effMixVolume:
			vol := int(entry.EffectParam)
			if vol > 64 {
				vol = 64
			}
			cs.mixVolume = vol
			t.Add(c, baseTick, events.KindMixVolume, vol)

		case effVibrato:
			hi, lo := int(entry.EffectParam>>4), int(entry.EffectParam&0xF)
			if hi != 0 {
				cs.vibHigh = hi
			}
			if lo != 0 {
				cs.vibLow = lo
			}
			cs.vibOn = true
			rowHasVibrato[c] = true
			t.Add(c, baseTick, events.KindVibrato, (cs.vibHigh<<8)|cs.vibLow)

		case effVibratoSlide:
			// Continues whatever vibrato was already active; no new depth/speed.
			if cs.vibOn {
				rowHasVibrato[c] = true
			}
			applyEffectVolumeSlide(t, cs, c, entry, baseTick, speed)

		case effVolSlide, effPortaVolSlide:
			applyEffectVolumeSlide(t, cs, c, entry, baseTick, speed)

		case effZ1Gain:
			cs.z1 = int(entry.EffectParam)
			t.Add(c, baseTick, events.KindZ1Gain, cs.z1)

		case effSpecial:
			applySpecialEffect(t, cs, c, entry, baseTick, speed, iter)
		}
	}

	// Vibrato auto-clears if this row didn't reassert it on a channel
	// that has it active.
	for c, cs := range ch {
		if cs.vibOn && !rowHasVibrato[c] {
			cs.vibOn = false
			t.Add(c, baseTick, events.KindVibrato, 0)
		}
	}

	for _, entry := range row.Entries {
		c := int(entry.Channel) % 8
		cs := ch[c]
		applyVolumeColumn(t, cs, c, entry, baseTick, speed)
	}

	for _, entry := range row.Entries {
		c := int(entry.Channel) % 8
		cs := ch[c]

		if entry.Instrument != 0 && iter == 0 {
			cs.lastIns = int(entry.Instrument)
			t.Add(c, baseTick, events.KindInstrument, cs.lastIns)
		}

		note := int(entry.Note)
		switch {
		case note == 0 && entry.Instrument != 0 && cs.lastNote != 0:
			// Bare instrument change with no note column retriggers the
			// last note, matching IT's instrument-change idiom.
			note = cs.lastNote
		case note == 0:
			continue
		case note > 120:
			// Special note: 253 fade, 254 cut, 255 off.
			t.Add(c, baseTick, events.KindNote, note)
			continue
		default:
			cs.lastNote = note
		}

		triggerInstrument(t, mod, cs, c, note, entry, baseTick, flags)
		t.Add(c, baseTick, events.KindNote, note)
		t.Add(c, baseTick, events.KindVolume, cs.v)
	}
}

// applyEffectVolumeSlide implements the D/K/L effect-column channel-
// volume slide: Dxy with x=up nibble, y=down nibble, x=0xF or y=0xF
// selecting the fine (single-tick) variant. A zero param reuses the
// last nonzero param, shared between D/K/L per IT's memory rules.
func applyEffectVolumeSlide(t *events.Table, cs *channelState, c int, entry common.PatternEntry, baseTick, speed int) {
	p := int(entry.EffectParam)
	if p != 0 {
		cs.volSlideMem = p
	} else {
		p = cs.volSlideMem
	}
	hi, lo := p>>4, p&0xF

	switch {
	case hi == 0xF && lo != 0:
		cs.v = clamp(cs.v-lo, 0, 64)
		t.Add(c, baseTick, events.KindVolume, cs.v)
	case lo == 0xF && hi != 0:
		cs.v = clamp(cs.v+hi, 0, 64)
		t.Add(c, baseTick, events.KindVolume, cs.v)
	case hi == 0 && lo != 0:
		for tickOffset := 1; tickOffset < speed; tickOffset++ {
			cs.v = clamp(cs.v-lo, 0, 64)
			t.Add(c, baseTick+tickOffset, events.KindVolume, cs.v)
		}
	case lo == 0 && hi != 0:
		for tickOffset := 1; tickOffset < speed; tickOffset++ {
			cs.v = clamp(cs.v+hi, 0, 64)
			t.Add(c, baseTick+tickOffset, events.KindVolume, cs.v)
		}
	}
}

func applySpecialEffect(t *events.Table, cs *channelState, c int, entry common.PatternEntry, baseTick, speed, iter int) {
	hi := entry.EffectParam >> 4
	lo := int(entry.EffectParam & 0xF)

	switch hi {
	case 0x9: // surround on/off, applied once per pattern-delay group
		if iter == 0 {
			cs.surround = lo == 1
			if cs.surround {
				t.Add(c, baseTick, events.KindSurround, 1)
			} else {
				t.Add(c, baseTick, events.KindSurround, 0)
			}
		}
	case 0xC: // note cut, scheduled cuttick ticks into the row
		cutTick := lo
		if cutTick == 0 {
			cutTick = 1
		}
		if cutTick < speed {
			t.Add(c, baseTick+cutTick, events.KindNote, 254)
		}
	}
	// 0xB (pattern loop) and 0xE (pattern delay) are handled by the
	// caller before per-tick events are generated.
}

func applyVolumeColumn(t *events.Table, cs *channelState, c int, entry common.PatternEntry, baseTick, speed int) {
	p := int(entry.VolumeParam)

	switch entry.VolumeCommand {
	case volSet:
		cs.v = p
		t.Add(c, baseTick, events.KindVolume, cs.v)
	case volFineUp:
		if p != 0 {
			cs.fineUp = p
		}
		cs.v = clamp(cs.v+cs.fineUp, 0, 64)
		t.Add(c, baseTick, events.KindVolume, cs.v)
	case volFineDown:
		if p != 0 {
			cs.fineDown = p
		}
		cs.v = clamp(cs.v-cs.fineDown, 0, 64)
		t.Add(c, baseTick, events.KindVolume, cs.v)
	case volSlideUp:
		if p != 0 {
			cs.slideUp = p
		}
		for tickOffset := 1; tickOffset < speed; tickOffset++ {
			cs.v = clamp(cs.v+cs.slideUp, 0, 64)
			t.Add(c, baseTick+tickOffset, events.KindVolume, cs.v)
		}
	case volSlideDn:
		if p != 0 {
			cs.slideDn = p
		}
		for tickOffset := 1; tickOffset < speed; tickOffset++ {
			cs.v = clamp(cs.v-cs.slideDn, 0, 64)
			t.Add(c, baseTick+tickOffset, events.KindVolume, cs.v)
		}
	case volSetPan:
		pan := p * 4
		if pan > 0xFF {
			pan = 0xFF
		}
		cs.pan = pan
		cs.surround = false
		t.Add(c, baseTick, events.KindPan, pan)
	}
}

// triggerInstrument resolves the (instrument, sample) pair a note hits
// via the instrument's notemap, registers it as used, applies the sample
// default volume unless this row's volume column has a command, applies
// the instrument/sample default pan unless the volume column set a pan,
// and updates the cross-channel echo/pitch-mod masks from the
// instrument's name tags.
func triggerInstrument(t *events.Table, mod *common.Module, cs *channelState, c int, note int, entry common.PatternEntry, baseTick int, flags *globalFlags) {
	if cs.lastIns <= 0 || cs.lastIns > len(mod.Instruments) {
		return
	}
	ins := mod.Instruments[cs.lastIns-1]

	tags, _ := fit.ParseInstrumentTags(ins.Name + ins.DosFilename)
	flags.setEcho(t, baseTick, c, tags.Echo)
	flags.setPmod(t, baseTick, c, tags.PitchMod)

	sample := 0
	if note-1 >= 0 && note-1 < len(ins.Notemap) {
		sample = int(ins.Notemap[note-1].Sample)
	}

	key := events.InsSample{Instrument: cs.lastIns, Sample: sample}
	t.RegisterTrigger(key)

	cs.insVolume = int(ins.GlobalVolume)
	t.Add(c, baseTick, events.KindInsVolume, cs.insVolume)

	if ins.DefaultPanEnabled && entry.VolumeCommand != volSetPan {
		pan := int(ins.DefaultPan) * 4
		if pan > 0xFF {
			pan = 0xFF
		}
		cs.pan = pan
		cs.surround = false
		t.Add(c, baseTick, events.KindPan, pan)
	}

	if sample <= 0 || sample > len(mod.Samples) {
		return
	}
	smp := mod.Samples[sample-1]
	cs.smpVolume = int(smp.GlobalVolume)
	t.Add(c, baseTick, events.KindSampleVolume, cs.smpVolume)

	if entry.VolumeCommand == 0 {
		cs.v = int(smp.DefaultVolume)
	}

	if smp.DefaultPanning >= 128 && entry.VolumeCommand != volSetPan {
		pan := int(smp.DefaultPanning&0x7F) * 4
		if pan > 0xFF {
			pan = 0xFF
		}
		cs.pan = pan
		cs.surround = false
		t.Add(c, baseTick, events.KindPan, pan)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
