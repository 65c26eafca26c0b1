package unroll

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/it2amk/it2amk/common"
	"github.com/it2amk/it2amk/events"
)

func simpleModule() *common.Module {
	return &common.Module{
		InitialSpeed:    6,
		InitialTempo:    125,
		GlobalVolume:    128,
		Channels:        4,
		ChannelSettings: make([]common.ChannelSetting, 4),
		Order:           []int16{0},
		Instruments: []common.Instrument{
			{
				GlobalVolume:      128,
				DefaultPanEnabled: false,
				Notemap: func() [120]common.NotemapEntry {
					var nm [120]common.NotemapEntry
					for i := range nm {
						nm[i] = common.NotemapEntry{Note: int16(i), Sample: 1}
					}
					return nm
				}(),
			},
		},
		Samples: []common.Sample{
			{GlobalVolume: 64, DefaultVolume: 48},
		},
		Patterns: []common.Pattern{
			{
				Channels: 1,
				Rows: []common.PatternRow{
					{Entries: []common.PatternEntry{{Channel: 0, Note: 61, Instrument: 1}}},
					{Entries: nil},
					{Entries: []common.PatternEntry{{Channel: 0, Note: 255}}},
				},
			},
		},
	}
}

func TestConvertTriggersInstrumentAndIsTickMonotonic(t *testing.T) {
	table := Convert(simpleModule())

	require.NotEmpty(t, table.Channels[0])

	lastTick := -1
	for _, e := range table.Channels[0] {
		assert.GreaterOrEqual(t, e.Tick, lastTick)
		lastTick = e.Tick
	}

	assert.Contains(t, table.UsedSamples, events.InsSample{Instrument: 1, Sample: 1})
	assert.Equal(t, 0, table.InsDict[events.InsSample{Instrument: 1, Sample: 1}])
}

func TestConvertLoneRowJumpAdvancesToNextPosition(t *testing.T) {
	mod := simpleModule()
	mod.Order = []int16{0, 1}
	// A lone Cxx (row jump, no Bxx on the same row) must advance to the
	// NEXT order position at the given row, not wrap back to order 0.
	mod.Patterns[0].Rows[2].Entries = append(mod.Patterns[0].Rows[2].Entries, common.PatternEntry{
		Channel: 0, Effect: effRowJump, EffectParam: 1,
	})
	mod.Instruments = append(mod.Instruments, common.Instrument{
		GlobalVolume: 128,
		Notemap: func() [120]common.NotemapEntry {
			var nm [120]common.NotemapEntry
			for i := range nm {
				nm[i] = common.NotemapEntry{Note: int16(i), Sample: 2}
			}
			return nm
		}(),
	})
	mod.Samples = append(mod.Samples, common.Sample{GlobalVolume: 64, DefaultVolume: 40})
	mod.Patterns = append(mod.Patterns, common.Pattern{
		Channels: 1,
		Rows: []common.PatternRow{
			{Entries: nil},
			{Entries: []common.PatternEntry{{Channel: 0, Note: 61, Instrument: 2}}},
			{Entries: []common.PatternEntry{{Channel: 0, Note: 255}}},
		},
	})

	table := Convert(mod)
	assert.Contains(t, table.UsedSamples, events.InsSample{Instrument: 2, Sample: 2})
}

func TestConvertEffectColumnVolumeSlide(t *testing.T) {
	mod := simpleModule()
	mod.InitialSpeed = 4
	mod.Patterns[0].Rows[0].Entries[0].VolumeParam = 0
	mod.Patterns[0].Rows[1].Entries = []common.PatternEntry{
		{Channel: 0, Effect: effVolSlide, EffectParam: 0x03},
	}

	table := Convert(mod)

	var got []int
	for _, e := range table.Channels[0] {
		if e.Kind == events.KindVolume {
			got = append(got, e.Value)
		}
	}
	// Sample default volume is 48; D03 (slide down 3/tick) applies on
	// ticks 1..3 of the row at speed 4.
	require.NotEmpty(t, got)
	assert.Equal(t, []int{48, 45, 42, 39}, got)
}

func TestConvertInstrumentOnlyRowRetriggersLastNote(t *testing.T) {
	mod := simpleModule()
	mod.Patterns[0].Rows[1].Entries = []common.PatternEntry{
		{Channel: 0, Instrument: 1},
	}

	table := Convert(mod)

	noteCount := 0
	for _, e := range table.Channels[0] {
		if e.Kind == events.KindNote && e.Value == 61 {
			noteCount++
		}
	}
	assert.Equal(t, 2, noteCount)
}

func TestConvertEchoTagProducesGlobalMask(t *testing.T) {
	mod := simpleModule()
	mod.Instruments[0].Name = "Lead `e`"

	table := Convert(mod)

	require.NotEmpty(t, table.Global)
	found := false
	for _, e := range table.Global {
		if e.Kind == events.KindEchoFlagsDelta {
			assert.Equal(t, 1, e.Value)
			assert.Equal(t, 0, e.Chan)
			found = true
		}
	}
	assert.True(t, found, "expected a KindEchoFlagsDelta global event")
}

func TestConvertStopsOnRepeatedRowWithoutLoopCounter(t *testing.T) {
	mod := simpleModule()
	// Make the single pattern jump back to its own start, forcing loop
	// detection to fire instead of an infinite unroll. The loop point is
	// order 0 row 0, which resolves to tick 0.
	mod.Patterns[0].Rows[2].Entries = append(mod.Patterns[0].Rows[2].Entries, common.PatternEntry{
		Channel: 0, Effect: effRowJump, EffectParam: 0,
	})

	table := Convert(mod)
	require.NotNil(t, table)
	assert.Equal(t, 0, table.LoopTick)
}
