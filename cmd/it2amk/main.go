package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/it2amk/it2amk/cliconfig"
	"github.com/it2amk/it2amk/common"
	"github.com/it2amk/it2amk/events"
	"github.com/it2amk/it2amk/fit"
	"github.com/it2amk/it2amk/itmod"
	"github.com/it2amk/it2amk/mml"
	"github.com/it2amk/it2amk/sampconv"
	"github.com/it2amk/it2amk/unroll"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: it2amk <module.it> [flag arg]*")
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		log.Error("conversion failed", "err", err)
		os.Exit(1)
	}
}

func run(inputPath string, flagArgs []string) error {
	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("opening module: %w", err)
	}
	defer f.Close()

	log.Info("loading module", "path", inputPath)
	mod, err := itmod.Load(f)
	if err != nil {
		return fmt.Errorf("loading module: %w", err)
	}

	cfg := cliconfig.Default()
	if err := cliconfig.ParseMessageFlags(cfg, mod.Message); err != nil {
		return fmt.Errorf("parsing module message flags: %w", err)
	}
	if err := cliconfig.Parse(cfg, flagArgs); err != nil {
		return fmt.Errorf("parsing command-line flags: %w", err)
	}

	log.Info("unrolling playback", "channels", mod.Channels, "order-len", len(mod.Order))
	table := unroll.Convert(mod)
	if table.LoopTick > 0 {
		log.Info("loop point detected", "tick", table.LoopTick)
	}

	if err := spliceInlineMML(mod, table, cfg); err != nil {
		return fmt.Errorf("splicing inline mml: %w", err)
	}

	tunings, err := resolveTunings(inputPath, mod, table, cfg)
	if err != nil {
		return fmt.Errorf("resolving sample tunings: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	text := mml.Emit(mod, table, cfg, tunings, stem)

	outDir := "music"
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	outPath := filepath.Join(outDir, stem+".mml")
	if err := os.WriteFile(outPath, []byte(text), 0o644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	log.Info("wrote mml", "path", outPath, "instruments", len(table.InsList))
	return nil
}

// spliceInlineMML converts each -mm/--addmml tuple's (order, row, tick)
// into an absolute tick via the same row-speed bookkeeping the unroller
// used, then inserts it into the target channel's event list.
func spliceInlineMML(mod *common.Module, table *events.Table, cfg *cliconfig.Config) error {
	for _, mm := range cfg.AddMML {
		tick := unroll.TickAt(mod, mm.Order, mm.Row)
		if tick < 0 {
			return fmt.Errorf("addmml: order %d row %d is never reached during playback", mm.Order, mm.Row)
		}
		c := mm.Chan
		if c < 0 || c > 7 {
			return fmt.Errorf("addmml: channel %d out of range", c)
		}
		table.InsertText(c, tick+mm.Tick, events.KindInlineMML, mm.Text)
	}
	return nil
}

// resolveTunings invokes the external sample converter once (unless
// -nosmpl is set) and returns its BRR filename/tuning results keyed by
// 1-based sample index.
func resolveTunings(inputPath string, mod *common.Module, table *events.Table, cfg *cliconfig.Config) (map[int]sampconv.Tuning, error) {
	if cfg.NoSmpl || len(mod.Samples) == 0 {
		return map[int]sampconv.Tuning{}, nil
	}

	mask := table.UseMask(len(mod.Samples))
	params := make([]sampconv.Param, len(mod.Samples))
	for i, smp := range mod.Samples {
		resample, amplify := cfg.Resample, cfg.Amplify
		if tags, err := fit.ParseSampleTags(smp.Name + smp.DosFilename); err == nil {
			if tags.Resample != nil {
				resample = *tags.Resample
			}
			if tags.Amplify != nil {
				amplify = *tags.Amplify
			}
		}
		params[i] = sampconv.Param{Resample: resample, Amplify: amplify}
	}

	conv := sampconv.NewExec()
	log.Info("converting samples", "count", len(mod.Samples))
	return conv.Convert(inputPath, mask, params)
}
