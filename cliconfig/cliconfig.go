/*
Package cliconfig models the converter's flag surface: command-line
tokens plus the backtick-delimited flags a module's song message can
carry (see §6 of the format notes). Both sources feed the same typed
Config; CLI flags are applied after message flags, so they win on
conflict, matching the original tool's load order (module flags first,
then argv).
*/
package cliconfig

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"
)

var ErrBadFlagSyntax = errors.New("bad flag syntax")

// InlineMML is one -mm/--addmml tuple: splice Text verbatim into channel
// Chan's output at playback order Order, pattern row Row, sub-row tick
// Tick. A trailing ";..." on Text is a comment and is dropped.
type InlineMML struct {
	Order, Chan, Row, Tick int
	Text                   string
}

// Config is the converter's full set of tunables. Default returns its
// starting values; the zero value is not a usable default.
type Config struct {
	NoSmpl bool
	AddMML []InlineMML

	Game, Author, Length string

	TempoMult  float64
	VolumeMult float64
	ChipCount  int

	VolumeCurve string // "accurate", "linear", "x^2"
	Panning     string // "accurate", "linear"

	Legato bool

	Resample float64
	Amplify  float64

	Echo   string // 8 hex digits
	Fir    string // 16 hex digits
	Master string // 4 hex digits
}

// Default returns the configuration the converter falls back to absent
// any module-message or command-line overrides.
func Default() *Config {
	return &Config{
		TempoMult:   2,
		VolumeMult:  1.0,
		ChipCount:   1,
		VolumeCurve: "accurate",
		Panning:     "accurate",
		Legato:      true,
		Resample:    1.0,
		Amplify:     0.92,
	}
}

func newFlagSet(cfg *Config, mmlValues *[]string) *flag.FlagSet {
	fs := flag.NewFlagSet("it2amk", flag.ContinueOnError)
	fs.BoolVarP(&cfg.NoSmpl, "nosmpl", "ns", cfg.NoSmpl, "skip sample conversion")
	fs.StringVarP(&cfg.Game, "game", "gm", cfg.Game, "SPC game title")
	fs.StringVarP(&cfg.Author, "author", "au", cfg.Author, "SPC author")
	fs.StringVarP(&cfg.Length, "length", "ln", cfg.Length, "SPC length, m:ss")
	fs.Float64VarP(&cfg.TempoMult, "tmult", "t", cfg.TempoMult, "tempo multiplier")
	fs.Float64VarP(&cfg.VolumeMult, "vmult", "vm", cfg.VolumeMult, "volume multiplier")
	fs.IntVarP(&cfg.ChipCount, "chipc", "c", cfg.ChipCount, "number of SPC chip instances")
	fs.StringVarP(&cfg.VolumeCurve, "vcurve", "vc", cfg.VolumeCurve, "accurate, linear, x^2")
	fs.StringVarP(&cfg.Panning, "panning", "p", cfg.Panning, "accurate, linear")
	fs.BoolVarP(&cfg.Legato, "legato", "l", cfg.Legato, "emit $F4 $02 (legato)")
	fs.Float64VarP(&cfg.Resample, "resample", "r", cfg.Resample, "constant resample ratio")
	fs.Float64VarP(&cfg.Amplify, "amplify", "a", cfg.Amplify, "constant amplify ratio")
	fs.StringVarP(&cfg.Echo, "echo", "e", cfg.Echo, "8 hex digit echo parameter block")
	fs.StringVarP(&cfg.Fir, "fir", "f", cfg.Fir, "16 hex digit FIR filter block")
	fs.StringVarP(&cfg.Master, "master", "ml", cfg.Master, "4 hex digit master volume block")
	fs.StringArrayVarP(mmlValues, "addmml", "mm", nil, "order:chan:row:tick:text")
	return fs
}

// Parse applies CLI-style tokens (pairwise "-flag value" or "--flag
// value", matching the tool's historical argv shape) on top of cfg.
func Parse(cfg *Config, args []string) error {
	if len(args)%2 != 0 {
		return fmt.Errorf("%w: missing flag argument", ErrBadFlagSyntax)
	}

	var mmlValues []string
	fs := newFlagSet(cfg, &mmlValues)

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrBadFlagSyntax, err)
	}

	if err := validateHex(cfg.Echo, 8, "echo"); err != nil {
		return err
	}
	if err := validateHex(cfg.Fir, 16, "fir"); err != nil {
		return err
	}
	if err := validateHex(cfg.Master, 4, "master"); err != nil {
		return err
	}

	for _, v := range mmlValues {
		mml, err := parseInlineMML(v)
		if err != nil {
			return err
		}
		cfg.AddMML = append(cfg.AddMML, mml)
	}

	return nil
}

func validateHex(s string, width int, name string) error {
	if s == "" {
		return nil
	}
	if len(s) < width {
		return fmt.Errorf("%w: -%s: %q is too short", ErrBadFlagSyntax, name, s)
	}
	for _, c := range s {
		if !isHexDigit(c) {
			return fmt.Errorf("%w: -%s must be a hexadecimal string", ErrBadFlagSyntax, name)
		}
	}
	return nil
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// parseInlineMML decodes "order:chan:row:tick:text", defaulting
// order/row/tick to 0 and chan to 1 when a field is left empty, and
// truncating text at the first ';' (a trailing comment).
func parseInlineMML(v string) (InlineMML, error) {
	parts := strings.SplitN(v, ":", 5)
	if len(parts) != 5 {
		return InlineMML{}, fmt.Errorf("%w: --addmml: expected order:chan:row:tick:text, got %q", ErrBadFlagSyntax, v)
	}
	fields := [4]int{0, 1, 0, 0}
	for i := 0; i < 4; i++ {
		if parts[i] == "" {
			continue
		}
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return InlineMML{}, fmt.Errorf("%w: --addmml: %v", ErrBadFlagSyntax, err)
		}
		fields[i] = n
	}
	text := parts[4]
	if idx := strings.IndexByte(text, ';'); idx >= 0 {
		text = text[:idx]
	}
	return InlineMML{Order: fields[0], Chan: fields[1], Row: fields[2], Tick: fields[3], Text: text}, nil
}

// ParseMessageFlags extracts the backtick-delimited "`flag arg flag
// arg`" regions out of an IT module's song message and applies them to
// cfg, preserving spaces inside double-quoted segments (escaped as
// "\s" the way the CLI tokenizer expects).
func ParseMessageFlags(cfg *Config, message string) error {
	var sb strings.Builder
	interpret := false
	for _, c := range message {
		switch {
		case c == '`':
			interpret = !interpret
			sb.WriteByte(' ')
		case interpret:
			sb.WriteRune(c)
		}
	}

	text := strings.NewReplacer("\r", "", "\n", " ", "\t", " ").Replace(sb.String())
	tokens := tokenizeQuoted(text)
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens)%2 != 0 {
		return fmt.Errorf("%w: missing flag argument in module message", ErrBadFlagSyntax)
	}
	return Parse(cfg, tokens)
}

// tokenizeQuoted splits on whitespace but keeps double-quoted segments
// together (with the quotes stripped), mirroring the original tool's
// "\s"-escaped-space convention for values containing spaces.
func tokenizeQuoted(s string) []string {
	var tokens []string
	var cur strings.Builder
	inQuote := false
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, strings.ReplaceAll(cur.String(), `\s`, " "))
			cur.Reset()
		}
	}
	for _, c := range s {
		switch {
		case c == '"':
			inQuote = !inQuote
		case c == ' ' && !inQuote:
			flush()
		default:
			cur.WriteRune(c)
		}
	}
	flush()
	return tokens
}
