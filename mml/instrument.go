package mml

import (
	"fmt"
	"strings"

	"github.com/it2amk/it2amk/common"
	"github.com/it2amk/it2amk/events"
	"github.com/it2amk/it2amk/fit"
	"github.com/it2amk/it2amk/sampconv"
)

// defaultGainADSR is the fallback envelope ("00007F": GAIN mode, direct
// value 0x7F) used when an instrument has no enabled volume envelope and
// no `a` override tag, or when its name tags fail to parse.
var defaultGainADSR = [3]byte{0x00, 0x00, 0x7F}

// adsrBytes picks an instrument's ADSR/GAIN triple: an explicit `aXXXXXX`
// tag wins outright; an instrument with no enabled volume envelope gets
// the default direct-GAIN triple; otherwise the envelope is fit via
// package fit.
func adsrBytes(ins common.Instrument, tempo int) [3]byte {
	tags, err := fit.ParseInstrumentTags(ins.Name + ins.DosFilename)
	if err != nil {
		return defaultGainADSR
	}
	if tags.ADSR != nil {
		return *tags.ADSR
	}
	if len(ins.Envelopes) == 0 || !ins.Envelopes[0].Enabled {
		return defaultGainADSR
	}

	env := fit.CalcEnvTable(ins.Envelopes[0])
	attack, peak := fit.CalcAttack(env, tempo)
	a := 0
	if attack != nil {
		a = *attack
	}
	dsr := fit.CalcDSR(env, peak, tempo)
	r := 0
	if dsr.ReleaseOK {
		r = dsr.Release
	}
	return [3]byte{byte(0x80 | dsr.Decay), byte(a), byte((dsr.Sustain << 5) | r)}
}

// releaseAdsrBytes resolves the ADSR triple used for a note-off release
// override (instrument `r` tag), falling back to nil when no
// override is present so the caller can keep the plain note-off behavior.
func releaseAdsrBytes(ins common.Instrument) *[3]byte {
	tags, err := fit.ParseInstrumentTags(ins.Name + ins.DosFilename)
	if err != nil {
		return nil
	}
	return tags.ReleaseADSR
}

// sampleName resolves the BRR filename for an (ins, sample) pair: the
// converter's tuning result, unless a sample `@N` tag substitutes one of
// AddmusicK's built-in default samples.
func sampleName(smp common.Sample, tuning sampconv.Tuning) string {
	tags, err := fit.ParseSampleTags(smp.Name + smp.DosFilename)
	if err == nil && tags.Default != nil {
		if name, ok := defaultSampleTable[*tags.Default]; ok {
			return "../default/" + name + ".brr"
		}
		return "../default/13 SMW Thunder.brr"
	}
	return tuning.Filename
}

// defaultSampleTable mirrors AddmusicK's built-in SMW sample set, used by
// the sample `@N` override tag.
var defaultSampleTable = map[int]string{
	0: "00 SMW @0", 1: "01 SMW @1", 2: "02 SMW @2", 3: "03 SMW @3",
	4: "04 SMW @4", 5: "07 SMW @5", 6: "08 SMW @6", 7: "09 SMW @7",
	8: "05 SMW @8", 9: "0A SMW @9", 10: "0B SMW @10", 11: "01 SMW @1",
	12: "10 SMW @12", 13: "0C SMW @13", 14: "0D SMW @14", 15: "12 SMW @15",
	16: "0C SMW @13", 17: "11 SMW @17", 18: "01 SMW @1", 21: "0F SMW @21",
	22: "06 SMW @22", 23: "06 SMW @22", 24: "0E SMW @29", 25: "0E SMW @29",
	26: "0B SMW @10", 27: "0B SMW @10", 28: "0B SMW @10", 29: "0E SMW @29",
}

// buildSamplesBlock writes the "#samples { ... }" section listing every
// distinct BRR file referenced by the instrument list, in first-use order.
func buildSamplesBlock(sb *strings.Builder, mod *common.Module, insList []events.InsSample, tunings map[int]sampconv.Tuning) {
	seen := map[string]bool{}
	var names []string
	for _, key := range insList {
		if key.Sample <= 0 || key.Sample > len(mod.Samples) {
			continue
		}
		t := tunings[key.Sample]
		name := sampleName(mod.Samples[key.Sample-1], t)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}

	sb.WriteString("#samples\n{\n")
	for _, n := range names {
		fmt.Fprintf(sb, "\t\"%s\"\n", n)
	}
	sb.WriteString("}\n\n")
}

// buildInstrumentsBlock writes the "#instruments { ... }" section, one
// line per (instrument, sample) pair actually triggered, in the order
// they were first seen. Noise instruments (sample == 0) carry no entry:
// they're referenced directly by a channel's "n<hex>" command.
func buildInstrumentsBlock(sb *strings.Builder, mod *common.Module, insList []events.InsSample, tunings map[int]sampconv.Tuning, tempo int) {
	sb.WriteString("#instruments\n{\n")
	for _, key := range insList {
		if key.Sample <= 0 {
			continue
		}
		if key.Instrument <= 0 || key.Instrument > len(mod.Instruments) {
			continue
		}
		ins := mod.Instruments[key.Instrument-1]
		adsr := adsrBytes(ins, tempo)

		name := ""
		hi, lo := "00", "00"
		if key.Sample <= len(mod.Samples) {
			t := tunings[key.Sample]
			name = sampleName(mod.Samples[key.Sample-1], t)
			if t.HiByte != "" {
				hi, lo = t.HiByte, t.LoByte
			}
		}
		fmt.Fprintf(sb, "\t\"%s\" $%02X $%02X $%02X $%s $%s\n", name, adsr[0], adsr[1], adsr[2], hi, lo)
	}
	sb.WriteString("}\n\n")
}

