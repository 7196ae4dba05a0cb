package pmd

import (
	"encoding/binary"
	"fmt"
)

// Subframe is one delta run to encode: every row carries one delta per
// channel, packed at BitSize bits each.
type Subframe struct {
	BitSize int
	Rows    [][]int64
}

// EncodeDeltaFrame builds a delta frame: header, full-resolution reference
// sample, then each sub-frame as (bit size, sample count, MSB-first packed
// deltas) with the final partial byte zero-padded. The inverse of
// DecodeFrame, used by the mock publisher and round-trip tests.
func EncodeDeltaFrame(t MeasurementType, endTimestampUS int64, reference []int64, subframes []Subframe) ([]byte, error) {
	spec, ok := streamSpecs[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFrameEncoding, t)
	}
	if len(reference) != spec.Channels {
		return nil, fmt.Errorf("pmd: reference has %d channels, want %d", len(reference), spec.Channels)
	}

	out := make([]byte, 0, 64)
	out = append(out, byte(t))
	out = binary.LittleEndian.AppendUint64(out, uint64(endTimestampUS)*1000)
	out = append(out, byte(spec.DeltaTag))

	for _, v := range reference {
		out = appendFixed(out, v, spec.ReferenceBits)
	}

	for _, sf := range subframes {
		if sf.BitSize < 1 || sf.BitSize > 32 {
			return nil, fmt.Errorf("pmd: invalid sub-frame bit size %d", sf.BitSize)
		}
		if len(sf.Rows) > 0xFF {
			return nil, fmt.Errorf("pmd: sub-frame sample count %d overflows", len(sf.Rows))
		}
		out = append(out, byte(sf.BitSize), byte(len(sf.Rows)))

		packer := bitPacker{bits: sf.BitSize}
		for _, row := range sf.Rows {
			if len(row) != spec.Channels {
				return nil, fmt.Errorf("pmd: delta row has %d channels, want %d", len(row), spec.Channels)
			}
			for _, delta := range row {
				if err := packer.push(delta); err != nil {
					return nil, err
				}
			}
		}
		out = packer.flush(out)
	}
	return out, nil
}

// appendFixed writes v little-endian in ceil(bits/8) bytes, masked to bits
// bits of two's complement.
func appendFixed(out []byte, v int64, bits int) []byte {
	u := uint64(v) & ((uint64(1) << bits) - 1)
	for i := 0; i < (bits+7)/8; i++ {
		out = append(out, byte(u>>(8*i)))
	}
	return out
}

// bitPacker accumulates fixed-width values MSB-first and emits whole bytes.
type bitPacker struct {
	bits     int
	buffer   uint64
	buffered int
	out      []byte
}

func (p *bitPacker) push(v int64) error {
	limit := int64(1) << (p.bits - 1)
	if v < -limit || v >= limit {
		return fmt.Errorf("pmd: delta %d does not fit in %d bits", v, p.bits)
	}
	p.buffer = p.buffer<<p.bits | (uint64(v) & ((uint64(1) << p.bits) - 1))
	p.buffered += p.bits
	for p.buffered >= 8 {
		p.buffered -= 8
		p.out = append(p.out, byte(p.buffer>>p.buffered))
	}
	p.buffer &= (uint64(1) << p.buffered) - 1
	return nil
}

// flush appends the packed bytes to dst, left-aligning any trailing bits in a
// final zero-padded byte.
func (p *bitPacker) flush(dst []byte) []byte {
	dst = append(dst, p.out...)
	if p.buffered > 0 {
		dst = append(dst, byte(p.buffer<<(8-p.buffered)))
		p.buffer = 0
		p.buffered = 0
	}
	p.out = p.out[:0]
	return dst
}
