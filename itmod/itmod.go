// modlib
// (C) 2025 Mukunda Johnson (mukunda.com)
// Licensed under MIT

/*
Package itmod reads Impulse Tracker (.IT) module files into the common
package's intermediate representation. It understands the IMPM/IMPI/IMPS
binary layout, the run-length/mask pattern encoding, and the bitstream
sample compressor used by IT 2.04+.
*/
package itmod

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/it2amk/it2amk/common"
)

type ItModuleHeader struct {
	Title                   [26]byte
	PatternHighlightBeat    uint8
	PatternHighlightMeasure uint8
	OrderCount              uint16
	InstrumentCount         uint16
	SampleCount             uint16
	PatternCount            uint16
	Cwtv                    uint16
	Cmwt                    uint16
	Flags                   uint16
	Special                 uint16
	GlobalVolume            uint8
	MixingVolume            uint8
	InitialSpeed            uint8
	InitialTempo            uint8
	Sep                     uint8
	PWD                     uint8

	MessageLength uint16
	MessageOffset uint32

	Reserved_MPT uint32

	ChannelPan    [64]uint8
	ChannelVolume [64]uint8
}

type ItInstrument struct {
	FileCode    [4]byte
	DosFilename [12]byte

	_ byte

	NewNoteAction        uint8
	DuplicateCheckType   uint8
	DuplicateCheckAction uint8

	Fadeout         uint16
	PPS             uint8
	PPC             uint8
	GlobalVolume    uint8
	DefaultPan      uint8
	RandomVolume    uint8
	RandomPanning   uint8
	TrackerVersion  uint16
	NumberOfSamples uint8

	_ byte

	Name [26]byte

	InitialFilterCutoff    uint8
	InitialFilterResonance uint8

	MidiChannel uint8
	MidiProgram uint8
	MidiBank    uint16

	Notemap [120]NotemapEntry

	VolumeEnvelope  ItEnvelope
	PanningEnvelope ItEnvelope
	PitchEnvelope   ItEnvelope
}

type NotemapEntry struct {
	Note   uint8
	Sample uint8
}

const (
	EnvFlagEnabled = 1
	EnvFlagLoop    = 2
	EnvFlagSustain = 4
	EnvFlagFilter  = 128
)

type ItEnvelope struct {
	Flags        uint8
	NodeCount    uint8
	LoopStart    uint8
	LoopEnd      uint8
	SustainStart uint8
	SustainEnd   uint8

	Nodes [25]EnvelopeEntry

	_ byte
}

type EnvelopeEntry struct {
	Y uint8
	X uint16
}

const (
	SampFlagHeader          = 1
	SampFlag16bit           = 2
	SampFlagStereo          = 4
	SampFlagCompressed      = 8
	SampFlagLoop            = 16
	SampFlagSustain         = 32
	SampFlagPingPong        = 64
	SampFlagPingPongSustain = 128
)

const (
	SampConvSigned    = 1
	SampConvBigEndian = 2
	SampConvIT215     = 4 // compressed samples use the double-integrator variant
	SampConvByteDelta = 8
	SampConvTxWave    = 16
)

type ItSample struct {
	FileCode       [4]byte
	DosFilename    [12]byte
	_              byte
	GlobalVolume   uint8
	Flags          uint8
	DefaultVolume  uint8
	Name           [26]byte
	Convert        uint8
	DefaultPanning uint8

	Length uint32

	LoopStart uint32
	LoopEnd   uint32

	C5 uint32

	SustainLoopStart uint32
	SustainLoopEnd   uint32
	SamplePointer    uint32

	VibratoSpeed    uint8
	VibratoDepth    uint8
	VibratoSweep    uint8
	VibratoWaveform uint8
}

type ItPattern struct {
	DataLength uint16
	Rows       uint16
}

var ErrInvalidSource = errors.New("invalid/corrupted source")
var ErrUnsupportedSource = errors.New("unsupported source")

const (
	ItFlagStereo              = 1
	ItFlagMixing              = 2
	ItFlagInstruments         = 4
	ItFlagLinearSlides        = 8
	ItFlagOldEffects          = 16
	ItFlagLinkEFG             = 32
	ItFlagMidiPitchControl    = 64
	ItFlagRequestMidiMacros   = 128
	ItFlagExtendedFilterRange = (1 << 15)
)

// LoadFile reads an .IT file from disk and returns the module in common form.
func LoadFile(filename string) (*common.Module, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Load(f)
}

// Load reads an .IT module from r and returns the module in common form.
func Load(r io.ReadSeeker) (*common.Module, error) {
	var m = new(common.Module)

	var code [4]byte
	if err := binary.Read(r, binary.LittleEndian, &code); err != nil {
		return nil, err
	}

	if string(code[:]) != "IMPM" {
		return nil, fmt.Errorf("%w: expected 'IMPM' header", ErrInvalidSource)
	}

	var header ItModuleHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, err
	}

	if header.Cmwt < 0x0200 {
		return nil, fmt.Errorf("%w: cmwt < 0x0200 (too old!)", ErrUnsupportedSource)
	}

	m.Title = strings.TrimRight(string(header.Title[:]), "\x00")

	m.StereoMixing = (header.Flags & ItFlagStereo) != 0
	m.UseInstruments = (header.Flags & ItFlagInstruments) != 0
	m.LinearSlides = (header.Flags & ItFlagLinearSlides) != 0
	m.OldEffects = (header.Flags & ItFlagOldEffects) != 0
	m.LinkEFG = (header.Flags & ItFlagLinkEFG) != 0

	m.PatternHighlight_Beat = int16(header.PatternHighlightBeat)
	m.PatternHighlight_Measure = int16(header.PatternHighlightMeasure)

	m.GlobalVolume = int16(header.GlobalVolume)
	m.MixingVolume = int16(header.MixingVolume)
	m.InitialSpeed = int16(header.InitialSpeed)
	m.InitialTempo = int16(header.InitialTempo)
	m.PanSeparation = int16(header.Sep)
	m.PitchWheelDepth = int16(header.PWD)
	m.Channels = 64

	m.ChannelSettings = make([]common.ChannelSetting, 64)
	for i := 0; i < 64; i++ {
		pan := int(header.ChannelPan[i])
		switch {
		case pan == 100:
			m.ChannelSettings[i].Surround = true
		case pan > 64:
			m.ChannelSettings[i].Mute = pan&128 != 0
		default:
			m.ChannelSettings[i].InitialPan = int16(pan)
		}
		m.ChannelSettings[i].InitialVolume = int16(header.ChannelVolume[i])
	}

	{
		orders := make([]uint8, header.OrderCount)
		if err := binary.Read(r, binary.LittleEndian, &orders); err != nil {
			return nil, err
		}
		for i := 0; i < int(header.OrderCount); i++ {
			if orders[i] == 255 {
				break
			}
			m.Order = append(m.Order, int16(orders[i]))
		}
	}

	instrTable := make([]uint32, header.InstrumentCount)
	sampleTable := make([]uint32, header.SampleCount)
	patternTable := make([]uint32, header.PatternCount)

	if err := binary.Read(r, binary.LittleEndian, &instrTable); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &sampleTable); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &patternTable); err != nil {
		return nil, err
	}

	for i := 0; i < int(header.InstrumentCount); i++ {
		if instrTable[i] == 0 {
			m.Instruments = append(m.Instruments, common.Instrument{})
			continue
		}
		if _, err := r.Seek(int64(instrTable[i]), io.SeekStart); err != nil {
			return nil, err
		}
		ins, err := loadInstrumentData(r)
		if err != nil {
			return nil, fmt.Errorf("instrument %d: %w", i, err)
		}
		m.Instruments = append(m.Instruments, ins)
	}

	for i := 0; i < int(header.SampleCount); i++ {
		if sampleTable[i] == 0 {
			m.Samples = append(m.Samples, common.Sample{})
			continue
		}
		if _, err := r.Seek(int64(sampleTable[i]), io.SeekStart); err != nil {
			return nil, err
		}
		sample, err := loadSampleData(r)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		m.Samples = append(m.Samples, sample)
	}

	for i := 0; i < int(header.PatternCount); i++ {
		if patternTable[i] == 0 {
			m.Patterns = append(m.Patterns, common.Pattern{})
			continue
		}
		if _, err := r.Seek(int64(patternTable[i]), io.SeekStart); err != nil {
			return nil, err
		}
		pattern, err := loadPattern(r)
		if err != nil {
			return nil, fmt.Errorf("pattern %d: %w", i, err)
		}
		m.Patterns = append(m.Patterns, pattern)
	}

	if header.MessageLength != 0 && header.Special&1 != 0 {
		if _, err := r.Seek(int64(header.MessageOffset), io.SeekStart); err != nil {
			return nil, err
		}
		msg := make([]byte, header.MessageLength)
		if err := binary.Read(r, binary.LittleEndian, msg); err != nil {
			return nil, err
		}
		m.Message = strings.Trim(string(msg), "\x00")
	}

	return m, nil
}

func loadInstrumentData(r io.ReadSeeker) (common.Instrument, error) {
	var ins common.Instrument

	var iti ItInstrument
	if err := binary.Read(r, binary.LittleEndian, &iti); err != nil {
		return ins, err
	}

	ins.Name = strings.TrimRight(string(iti.Name[:]), "\x00")
	ins.DosFilename = strings.TrimRight(string(iti.DosFilename[:]), "\x00")
	ins.NewNoteAction = int16(iti.NewNoteAction)
	ins.DuplicateCheckType = int16(iti.DuplicateCheckType)
	ins.DuplicateCheckAction = int16(iti.DuplicateCheckAction)
	ins.Fadeout = int16(iti.Fadeout)

	ins.PitchPanSeparation = int16(int8(iti.PPS))
	ins.PitchPanCenter = int16(iti.PPC)

	ins.GlobalVolume = int16(iti.GlobalVolume)

	ins.DefaultPan = int16(iti.DefaultPan & 0x7F)
	ins.DefaultPanEnabled = iti.DefaultPan&128 == 0

	ins.RandomVolumeVariation = int16(iti.RandomVolume)
	ins.RandomPanVariation = int16(iti.RandomPanning)

	ins.FilterCutoff = int16(iti.InitialFilterCutoff)
	ins.FilterResonance = int16(iti.InitialFilterResonance)

	ins.MidiChannel = int16(iti.MidiChannel)
	ins.MidiProgram = int16(iti.MidiProgram)
	ins.MidiBank = iti.MidiBank

	for i := 0; i < 120; i++ {
		ins.Notemap[i].Note = int16(iti.Notemap[i].Note)
		ins.Notemap[i].Sample = int16(iti.Notemap[i].Sample)
	}

	for i, raw := range []ItEnvelope{iti.VolumeEnvelope, iti.PanningEnvelope, iti.PitchEnvelope} {
		env, err := translateEnvelope(&raw, i)
		if err != nil {
			return ins, err
		}
		ins.Envelopes = append(ins.Envelopes, env)
	}

	return ins, nil
}

func translateEnvelope(itenv *ItEnvelope, index int) (common.Envelope, error) {
	var env common.Envelope

	env.Enabled = (itenv.Flags & EnvFlagEnabled) != 0
	env.Loop = (itenv.Flags & EnvFlagLoop) != 0
	env.Sustain = (itenv.Flags & EnvFlagSustain) != 0
	env.LoopStart = int16(itenv.LoopStart)
	env.LoopEnd = int16(itenv.LoopEnd)
	env.SustainStart = int16(itenv.SustainStart)
	env.SustainEnd = int16(itenv.SustainEnd)

	switch index {
	case 0:
		env.Type = common.EnvelopeTypeVolume
	case 1:
		env.Type = common.EnvelopeTypePanning
	case 2:
		env.Type = common.EnvelopeTypePitch
		if itenv.Flags&EnvFlagFilter != 0 {
			env.Type = common.EnvelopeTypeFilter
		}
	default:
		return env, fmt.Errorf("%w: invalid envelope index", ErrInvalidSource)
	}

	for i := 0; i < 25 && i < int(itenv.NodeCount); i++ {
		env.Nodes = append(env.Nodes, common.EnvelopeNode{
			Y: int16(int8(itenv.Nodes[i].Y)),
			X: int16(itenv.Nodes[i].X),
		})
	}

	return env, nil
}

func loadSampleData(r io.ReadSeeker) (common.Sample, error) {
	var s common.Sample
	var its ItSample
	if err := binary.Read(r, binary.LittleEndian, &its); err != nil {
		return s, err
	}

	s.Name = strings.TrimRight(string(its.Name[:]), "\x00")
	s.DosFilename = strings.TrimRight(string(its.DosFilename[:]), "\x00")

	s.GlobalVolume = int16(its.GlobalVolume)
	s.DefaultVolume = int16(its.DefaultVolume)
	s.DefaultPanning = int16(its.DefaultPanning)

	s.S16 = (its.Flags & SampFlag16bit) != 0
	s.Stereo = (its.Flags & SampFlagStereo) != 0
	s.Loop = (its.Flags & SampFlagLoop) != 0
	s.Sustain = (its.Flags & SampFlagSustain) != 0
	s.PingPong = (its.Flags & SampFlagPingPong) != 0
	s.PingPongSustain = (its.Flags & SampFlagPingPongSustain) != 0

	s.LoopStart = int(its.LoopStart)
	s.LoopEnd = int(its.LoopEnd)
	s.SustainLoopStart = int(its.SustainLoopStart)
	s.SustainLoopEnd = int(its.SustainLoopEnd)

	s.C5 = int(its.C5)

	s.VibratoSpeed = int16(its.VibratoSpeed)
	s.VibratoDepth = int16(its.VibratoDepth)
	s.VibratoSweep = int16(its.VibratoSweep)
	s.VibratoWaveform = int16(its.VibratoWaveform)

	if its.Flags&SampFlagHeader == 0 || its.Length == 0 {
		return s, nil
	}

	if _, err := r.Seek(int64(its.SamplePointer), io.SeekStart); err != nil {
		return s, err
	}
	data, err := its.decodeSampleData(r)
	if err != nil {
		return s, err
	}
	s.Data = data

	return s, nil
}

func readPcm[T int8 | int16](r io.ReadSeeker, length int, offset int) ([]T, error) {
	data := make([]T, length)
	if err := binary.Read(r, binary.LittleEndian, &data); err != nil {
		return nil, err
	}
	if offset != 0 {
		for i := range data {
			data[i] += T(offset)
		}
	}
	return data, nil
}

func (s *ItSample) decodeSampleData(r io.ReadSeeker) (common.SampleData, error) {
	data := common.SampleData{}

	compressed := s.Flags&SampFlagCompressed != 0
	it215 := compressed && s.Convert&SampConvIT215 != 0
	signed := s.Convert&SampConvSigned != 0
	bits16 := s.Flags&SampFlag16bit != 0
	stereo := s.Flags&SampFlagStereo != 0
	length := int(s.Length)

	data.Channels = 1
	if stereo {
		data.Channels = 2
		length >>= 1
	}

	data.Bits = 8
	if bits16 {
		data.Bits = 16
	}

	// Unsigned samples are stored with a DC offset; correct it on load so
	// downstream code only ever sees signed PCM.
	offset := 0
	if !signed {
		if bits16 {
			offset = -32768
		} else {
			offset = -128
		}
	}

	for ch := 0; ch < int(data.Channels); ch++ {
		if !compressed {
			if bits16 {
				d, err := readPcm[int16](r, length, offset)
				if err != nil {
					return common.SampleData{}, err
				}
				data.Data = append(data.Data, d)
			} else {
				d, err := readPcm[int8](r, length, offset)
				if err != nil {
					return common.SampleData{}, err
				}
				data.Data = append(data.Data, d)
			}
			continue
		}

		decoder := ItSampleCodec{Is16: bits16, It215: it215}
		decoded, err := decoder.Decode(r, length)
		if err != nil {
			return common.SampleData{}, err
		}

		if bits16 {
			data.Data = append(data.Data, decoded)
		} else {
			data8 := make([]int8, len(decoded))
			for i, v := range decoded {
				data8[i] = int8(v)
			}
			data.Data = append(data.Data, data8)
		}
	}

	return data, nil
}

// translateNote maps an IT raw note byte (0-119 = C-0..B-9, 253 = note
// fade, 254 = note cut, 255 = note off) into the common.PatternEntry.Note
// encoding (1-120 = C-0..B-9, 253/254/255 unchanged).
func translateNote(note uint8) uint8 {
	switch {
	case note <= 119:
		return note + 1
	case note == 254 || note == 255:
		return note
	default:
		return 253
	}
}

// translatePatternVolume splits the packed IT volume-column byte into the
// (command, param) pair used by common.PatternEntry.
func translatePatternVolume(vol uint8) (uint8, uint8) {
	switch {
	case vol <= 64:
		return 1, vol
	case vol <= 74:
		return 2, vol - 65
	case vol <= 84:
		return 3, vol - 75
	case vol <= 94:
		return 4, vol - 85
	case vol <= 104:
		return 5, vol - 95
	case vol <= 114:
		return 6, vol - 105
	case vol <= 124:
		return 7, vol - 115
	case vol <= 127:
		return 0, 0
	case vol <= 192:
		return 8, vol - 128
	case vol <= 202:
		return 9, vol - 193
	case vol <= 212:
		return 10, vol - 203
	}
	return 0, 0
}

const (
	PmaskNote       = 1
	PmaskIns        = 2
	PmaskVol        = 4
	PmaskEffect     = 8
	PmaskLastNote   = 16
	PmaskLastIns    = 32
	PmaskLastVol    = 64
	PmaskLastEffect = 128
)

func loadPattern(r io.ReadSeeker) (common.Pattern, error) {
	var p common.Pattern
	var itp ItPattern
	if err := binary.Read(r, binary.LittleEndian, &itp); err != nil {
		return p, err
	}

	data := make([]byte, itp.DataLength)
	if err := binary.Read(r, binary.LittleEndian, &data); err != nil {
		return p, err
	}

	dataRead := 0
	failure := false

	nextByte := func() byte {
		if dataRead >= len(data) {
			failure = true
			return 0
		}
		b := data[dataRead]
		dataRead++
		return b
	}

	var lastMask, lastNote, lastIns, lastVol, lastEffect, lastEffectParam [64]byte

	p.Rows = make([]common.PatternRow, itp.Rows)

	for row := 0; row < int(itp.Rows); row++ {
		var entries []common.PatternEntry

		for {
			channelSelect := nextByte()
			if failure {
				return p, fmt.Errorf("%w: unexpected end of pattern data", ErrInvalidSource)
			}
			if channelSelect == 0 {
				break
			}

			channel := int((channelSelect - 1) & 63)
			if int(p.Channels) <= channel {
				p.Channels = int16(channel + 1)
			}

			if channelSelect&0x80 != 0 {
				lastMask[channel] = nextByte()
			}
			mask := lastMask[channel]

			entry := common.PatternEntry{Channel: uint8(channel)}

			if mask&PmaskNote != 0 {
				lastNote[channel] = nextByte()
			}
			if mask&(PmaskNote|PmaskLastNote) != 0 {
				entry.Note = translateNote(lastNote[channel])
			}

			if mask&PmaskIns != 0 {
				lastIns[channel] = nextByte()
			}
			if mask&(PmaskIns|PmaskLastIns) != 0 {
				entry.Instrument = int16(lastIns[channel])
			}

			if mask&PmaskVol != 0 {
				lastVol[channel] = nextByte()
			}
			if mask&(PmaskVol|PmaskLastVol) != 0 {
				entry.VolumeCommand, entry.VolumeParam = translatePatternVolume(lastVol[channel])
			}

			if mask&PmaskEffect != 0 {
				lastEffect[channel] = nextByte()
				lastEffectParam[channel] = nextByte()
			}
			if mask&(PmaskEffect|PmaskLastEffect) != 0 {
				entry.Effect = lastEffect[channel]
				entry.EffectParam = lastEffectParam[channel]
			}

			entries = append(entries, entry)
		}

		if failure {
			return p, fmt.Errorf("%w: unexpected end of pattern data", ErrInvalidSource)
		}

		p.Rows[row].Entries = entries
	}

	return p, nil
}
