// modlib
// (C) 2025 Mukunda Johnson (mukunda.com)
// Licensed under MIT

package itmod

import (
	"encoding/binary"
	"errors"
	"io"
)

/*
ItSampleCodec decodes the adaptive bitstream compression IT uses for
"compressed" sample blocks.

Ported from OpenMPT and GreaseMonkey's munch.py:
https://github.com/OpenMPT/openmpt/blob/master/soundlib/ITCompression.cpp
https://github.com/iamgreaser/it2everything/blob/master/munch.py#L820
*/
type ItSampleCodec struct {
	// Set this if working with sources created with IT 2.15 or later,
	// which emit the second integrator stage instead of the first.
	It215 bool

	// Decode/encode 16-bit samples.
	Is16 bool
}

var ErrDecodingError = errors.New("decoding error")

type itSampleCodecParams struct {
	fetchA   int
	lowerB   int
	upperB   int
	defWidth int
}

var itSampleCodecParams16 = itSampleCodecParams{
	fetchA:   4,
	lowerB:   -8,
	upperB:   7,
	defWidth: 17,
}

var itSampleCodecParams8 = itSampleCodecParams{
	fetchA:   3,
	lowerB:   -4,
	upperB:   3,
	defWidth: 9,
}

// Decode reads sampleLength samples worth of compressed data from r. For
// 8-bit samples the caller narrows each int16 down to int8; the codec
// always produces int16 so the integrator math doesn't need two variants.
func (c *ItSampleCodec) Decode(r io.Reader, sampleLength int) ([]int16, error) {
	totalData := []int16{}

	remainingLength := sampleLength
	for remainingLength > 0 {
		chunk, err := c.decodeChunk(r, remainingLength)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return nil, ErrDecodingError
		}
		totalData = append(totalData, chunk...)
		remainingLength -= len(chunk)
	}

	return totalData, nil
}

func (*ItSampleCodec) getChunk(r io.Reader) (bitstream, error) {
	var byteLength uint16
	if err := binary.Read(r, binary.LittleEndian, &byteLength); err != nil {
		return bitstream{}, err
	}

	bytes := make([]byte, byteLength)
	if err := binary.Read(r, binary.LittleEndian, &bytes); err != nil {
		return bitstream{}, err
	}

	return createBitstream(bytes), nil
}

func (c *ItSampleCodec) decodeChunk(r io.Reader, remainingLength int) ([]int16, error) {
	var decoded []int16

	dataSource, err := c.getChunk(r)
	if err != nil {
		return nil, err
	}

	maxBlockLength := 32 * 1024
	if c.Is16 {
		maxBlockLength /= 2
	}

	curLength := min(remainingLength, maxBlockLength)

	props := &itSampleCodecParams8
	if c.Is16 {
		props = &itSampleCodecParams16
	}
	width := props.defWidth

	changeWidth := func(toWidth int) {
		toWidth++
		if toWidth >= width {
			toWidth++
		}
		width = toWidth
	}

	mem1, mem2 := 0, 0

	write := func(v int, topBit int) {
		if v&topBit != 0 {
			v -= topBit << 1
		}
		mem1 += v
		mem2 += mem1
		if c.It215 {
			decoded = append(decoded, int16(mem2))
		} else {
			decoded = append(decoded, int16(mem1))
		}
		curLength--
	}

	for curLength > 0 {
		if width > props.defWidth {
			return nil, ErrDecodingError
		}

		vu, err := dataSource.read(width)
		if err != nil {
			return nil, err
		}
		v := int(vu)
		topBit := 1 << (width - 1)

		switch {
		case width <= 6:
			// Method 1: 1-6 bit values, escape is the lone top-bit pattern.
			if v == topBit {
				toWidth, err := dataSource.read(props.fetchA)
				if err != nil {
					return nil, err
				}
				changeWidth(int(toWidth))
			} else {
				write(v, topBit)
			}
		case width < props.defWidth:
			// Method 2: 7-8 (or 7-16) bit values, escape is a narrow band
			// around the top bit.
			if v >= topBit+props.lowerB && v <= topBit+props.upperB {
				changeWidth(v - (topBit + props.lowerB))
			} else {
				write(v, topBit)
			}
		default:
			// Method 3: full-width value, escape is the extra top bit.
			if v&topBit != 0 {
				width = (v &^ topBit) + 1
			} else {
				write(v&^topBit, 0)
			}
		}
	}

	return decoded, nil
}
