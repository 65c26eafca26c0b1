package fit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/it2amk/it2amk/common"
)

func TestParseInstrumentTags(t *testing.T) {
	tags, err := ParseInstrumentTags("Lead `e`i`a01027F`")
	require.NoError(t, err)
	assert.True(t, tags.Echo)
	assert.True(t, tags.Invert)
	require.NotNil(t, tags.ADSR)
	assert.Equal(t, [3]byte{0x01, 0x02, 0x7F}, *tags.ADSR)
}

func TestParseInstrumentTagsRejectsMalformed(t *testing.T) {
	_, err := ParseInstrumentTags("Bad `aXYZ`")
	assert.ErrorIs(t, err, ErrBadInstrumentTag)
}

func TestParseSampleTags(t *testing.T) {
	tags, err := ParseSampleTags("Kick `a1.5`@3`")
	require.NoError(t, err)
	require.NotNil(t, tags.Amplify)
	assert.InDelta(t, 1.5, *tags.Amplify, 1e-9)
	require.NotNil(t, tags.Default)
	assert.Equal(t, 3, *tags.Default)
}

func TestCalcEnvTableLinearRamp(t *testing.T) {
	env := common.Envelope{
		Enabled: true,
		Nodes: []common.EnvelopeNode{
			{X: 0, Y: 0},
			{X: 10, Y: 64},
		},
	}
	table := CalcEnvTable(env)
	require.Len(t, table.Values, 11)
	assert.Equal(t, 0, table.Values[0])
	assert.Equal(t, 64*4, table.Values[10])
	assert.Equal(t, -1, table.LoopEnd)
}

func TestCalcDecayTableReachesSustain(t *testing.T) {
	// Decay index is 0-7 (rate index 2d+16 must stay inside the 32-entry table).
	table := CalcDecayTable(5, 3, 125)
	require.NotEmpty(t, table)
	assert.Equal(t, susLevels[3]/8, table[len(table)-1])
	// Should be monotonically non-increasing.
	for i := 1; i < len(table); i++ {
		assert.LessOrEqual(t, table[i], table[i-1])
	}
}

func TestCalcReleaseTableInfiniteIsConstant(t *testing.T) {
	table := CalcReleaseTable(4, 0, 125)
	assert.Equal(t, susLevels[4]/8, table[0])
	assert.Equal(t, susLevels[4]/8, table[len(table)-1])
}

func TestCalcDSRFinitePicksPlausibleTriple(t *testing.T) {
	env := common.Envelope{
		Enabled: true,
		Nodes: []common.EnvelopeNode{
			{X: 0, Y: 64},
			{X: 30, Y: 0},
		},
	}
	table := CalcEnvTable(env)
	dsr := CalcDSR(table, 0, 125)
	assert.GreaterOrEqual(t, dsr.Decay, 0)
	assert.Less(t, dsr.Decay, 32)
	assert.GreaterOrEqual(t, dsr.Sustain, 0)
	assert.Less(t, dsr.Sustain, 8)
}
