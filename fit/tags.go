/*
Package fit turns an IT instrument's volume envelope into the closest
AddmusicK ADSR/GAIN approximation, and parses the backtick-delimited
override tags embedded in instrument and sample names (e.g. "Lead `e`i`
or "Kick `a1.5`@3`).
*/
package fit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrBadInstrumentTag = errors.New("malformed instrument tag")
var ErrBadSampleTag = errors.New("malformed sample tag")

// InstrumentTags are overrides parsed out of an instrument's name+DOS
// filename, delimited by backticks: `e` (echo enable), `i` (invert the
// right channel when surround-panned), `n` (noise instrument), `p` (force
// pitch-mod flag), `aXXXXXX` (ADSR override, 3 hex bytes), `rXXXXXX`
// (release ADSR override, 3 hex bytes), `fXX` (fadeout override, 1 hex
// byte, replacing the instrument's own Fadeout field for note-fade length
// calculations).
type InstrumentTags struct {
	Echo        bool
	Invert      bool
	Noise       bool
	PitchMod    bool
	ADSR        *[3]byte
	ReleaseADSR *[3]byte
	Fadeout     *byte
}

// SampleTags are overrides parsed out of a sample's name+DOS filename:
// `a<float>` (amplify ratio), `r<float>` (resample ratio), `@N`
// (substitute the Nth built-in default BRR sample instead of converting
// this one).
type SampleTags struct {
	Amplify  *float64
	Resample *float64
	Default  *int
}

// backtickFields returns the tag bodies between the first and last
// backtick of s, in order, treating every backtick in between as a
// separator: both "name `e`i`" and "name `a` `b1.5` rest" yield their
// tags. Text outside the outermost backticks and blank fields are ignored.
func backtickFields(s string) []string {
	parts := strings.Split(s, "`")
	if len(parts) < 3 {
		return nil
	}
	var fields []string
	for _, p := range parts[1 : len(parts)-1] {
		if p = strings.TrimSpace(p); p != "" {
			fields = append(fields, p)
		}
	}
	return fields
}

func ParseInstrumentTags(nameAndFilename string) (InstrumentTags, error) {
	var tags InstrumentTags

	for _, f := range backtickFields(nameAndFilename) {
		if f == "" {
			continue
		}
		switch f[0] {
		case 'e':
			tags.Echo = true
		case 'i':
			tags.Invert = true
		case 'n':
			tags.Noise = true
		case 'p':
			tags.PitchMod = true
		case 'a':
			b, err := parseHexBytes(f[1:], 3)
			if err != nil {
				return tags, fmt.Errorf("%w: %q: %v", ErrBadInstrumentTag, f, err)
			}
			tags.ADSR = &b
		case 'r':
			b, err := parseHexBytes(f[1:], 3)
			if err != nil {
				return tags, fmt.Errorf("%w: %q: %v", ErrBadInstrumentTag, f, err)
			}
			tags.ReleaseADSR = &b
		case 'f':
			b, err := parseHexBytes(f[1:], 1)
			if err != nil {
				return tags, fmt.Errorf("%w: %q: %v", ErrBadInstrumentTag, f, err)
			}
			tags.Fadeout = &b[0]
		default:
			return tags, fmt.Errorf("%w: unknown tag %q", ErrBadInstrumentTag, f)
		}
	}

	return tags, nil
}

func ParseSampleTags(nameAndFilename string) (SampleTags, error) {
	var tags SampleTags

	for _, f := range backtickFields(nameAndFilename) {
		if f == "" {
			continue
		}
		switch f[0] {
		case 'a':
			v, err := strconv.ParseFloat(f[1:], 64)
			if err != nil {
				return tags, fmt.Errorf("%w: %q: %v", ErrBadSampleTag, f, err)
			}
			tags.Amplify = &v
		case 'r':
			v, err := strconv.ParseFloat(f[1:], 64)
			if err != nil {
				return tags, fmt.Errorf("%w: %q: %v", ErrBadSampleTag, f, err)
			}
			tags.Resample = &v
		case '@':
			v, err := strconv.Atoi(f[1:])
			if err != nil {
				return tags, fmt.Errorf("%w: %q: %v", ErrBadSampleTag, f, err)
			}
			tags.Default = &v
		default:
			return tags, fmt.Errorf("%w: unknown tag %q", ErrBadSampleTag, f)
		}
	}

	return tags, nil
}

// parseHexBytes decodes exactly n*2 hex digits into the first n bytes of
// a fixed [3]byte array (the caller only reads as many as it asked for).
func parseHexBytes(s string, n int) ([3]byte, error) {
	var out [3]byte
	if len(s) != n*2 {
		return out, fmt.Errorf("expected %d hex digits, got %d", n*2, len(s))
	}
	for i := 0; i < n; i++ {
		v, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return out, err
		}
		out[i] = byte(v)
	}
	return out, nil
}
