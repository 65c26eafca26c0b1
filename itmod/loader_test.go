// modlib
// (C) 2025 Mukunda Johnson (mukunda.com)
// Licensed under MIT

package itmod

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateNote(t *testing.T) {
	assert.EqualValues(t, 1, translateNote(0))
	assert.EqualValues(t, 120, translateNote(119))
	assert.EqualValues(t, 253, translateNote(120))
	assert.EqualValues(t, 253, translateNote(253))
	assert.EqualValues(t, 254, translateNote(254))
	assert.EqualValues(t, 255, translateNote(255))
}

func TestTranslatePatternVolume(t *testing.T) {
	cmd, p := translatePatternVolume(0)
	assert.EqualValues(t, 1, cmd)
	assert.EqualValues(t, 0, p)

	cmd, p = translatePatternVolume(64)
	assert.EqualValues(t, 1, cmd)
	assert.EqualValues(t, 64, p)

	cmd, p = translatePatternVolume(74)
	assert.EqualValues(t, 2, cmd)
	assert.EqualValues(t, 9, p)

	cmd, p = translatePatternVolume(128)
	assert.EqualValues(t, 8, cmd)
	assert.EqualValues(t, 0, p)

	cmd, p = translatePatternVolume(193)
	assert.EqualValues(t, 9, cmd)
	assert.EqualValues(t, 0, p)
}

func TestBitstreamReadsLSBFirst(t *testing.T) {
	// 0b10110010, 0b00000001 little-endian: low 9 bits = 0b1_10110010 = 434
	bs := createBitstream([]byte{0b10110010, 0b00000001})
	v, err := bs.read(9)
	require.NoError(t, err)
	assert.EqualValues(t, 434, v)
}

func TestBitstreamEndOfStream(t *testing.T) {
	bs := createBitstream([]byte{0xFF})
	_, err := bs.read(9)
	assert.ErrorIs(t, err, ErrEndOfStream)
}

// writeBits is a tiny test-only LSB-first bit writer, used to build
// synthetic compressed sample blocks without depending on the encoder
// (which this package does not implement; IT sample writing is out of
// scope).
type writeBits struct {
	buf  []byte
	cur  uint64
	bits int
}

func (w *writeBits) push(value uint32, width int) {
	w.cur |= uint64(value) << w.bits
	w.bits += width
	for w.bits >= 8 {
		w.buf = append(w.buf, byte(w.cur))
		w.cur >>= 8
		w.bits -= 8
	}
}

func (w *writeBits) bytes() []byte {
	if w.bits > 0 {
		return append(w.buf, byte(w.cur))
	}
	return w.buf
}

func TestItSampleCodecDecode8Bit(t *testing.T) {
	// Two 9-bit values using method-3 width: 5 then -3, no width changes.
	// At full width bit 8 is the width-change escape, so -3 is written as
	// its 8-bit pattern 0xFD with bit 8 clear.
	var w writeBits
	w.push(5, 9)
	w.push(0xFD, 9)

	block := w.bytes()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(len(block))))
	buf.Write(block)

	codec := ItSampleCodec{}
	decoded, err := codec.Decode(&buf, 2)
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	// d1 after sample 1: 5. d1 after sample 2: 5 + 0xFD = 258, which the
	// caller's int8 narrowing turns into 5 + (-3) = 2.
	assert.EqualValues(t, 5, decoded[0])
	assert.EqualValues(t, 2, int8(decoded[1]))
}

func TestLoadPatternRunLengthAndMaskReuse(t *testing.T) {
	var buf bytes.Buffer

	// Row 0: channel 1, full mask (note+ins+vol+effect).
	buf.WriteByte(1 | 0x80)           // channel select, new mask follows
	buf.WriteByte(PmaskNote | PmaskIns | PmaskVol | PmaskEffect)
	buf.WriteByte(60)  // note
	buf.WriteByte(3)   // instrument
	buf.WriteByte(64)  // volume (set volume 64)
	buf.WriteByte(1)   // effect Axx
	buf.WriteByte(6)   // effect param
	buf.WriteByte(0)   // end of row

	// Row 1: channel 1 reuses the previous mask (no new mask byte), so it
	// resends all four fields: note, instrument, volume and effect+param.
	buf.WriteByte(1) // channel select, reuse mask 0x0F
	buf.WriteByte(62)
	buf.WriteByte(3)
	buf.WriteByte(32)
	buf.WriteByte(1)
	buf.WriteByte(6)
	buf.WriteByte(0)

	// Row 2: completely empty row.
	buf.WriteByte(0)

	data := buf.Bytes()

	var full bytes.Buffer
	require.NoError(t, binary.Write(&full, binary.LittleEndian, ItPattern{
		DataLength: uint16(len(data)),
		Rows:       3,
	}))
	full.Write(data)

	p, err := loadPattern(bytes.NewReader(full.Bytes()))
	require.NoError(t, err)
	require.Len(t, p.Rows, 3)

	require.Len(t, p.Rows[0].Entries, 1)
	e0 := p.Rows[0].Entries[0]
	assert.EqualValues(t, 61, e0.Note) // 60+1
	assert.EqualValues(t, 3, e0.Instrument)
	assert.EqualValues(t, 1, e0.VolumeCommand)
	assert.EqualValues(t, 64, e0.VolumeParam)
	assert.EqualValues(t, 1, e0.Effect)
	assert.EqualValues(t, 6, e0.EffectParam)

	require.Len(t, p.Rows[1].Entries, 1)
	e1 := p.Rows[1].Entries[0]
	assert.EqualValues(t, 63, e1.Note)

	assert.Empty(t, p.Rows[2].Entries)
}
