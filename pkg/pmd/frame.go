package pmd

import "fmt"

// Header is the fixed prefix of every PMD data frame.
type Header struct {
	Type MeasurementType
	// EndTimestampUS is the device-epoch timestamp of the frame's last
	// sample, in microseconds.
	EndTimestampUS int64
	FrameType      FrameType
}

// ParseHeader consumes the measurement-type tag, the 64-bit end timestamp and
// the frame-type tag from the front of the buffer.
func ParseHeader(r *Reader) (Header, error) {
	dataType, err := r.PullByte()
	if err != nil {
		return Header{}, err
	}
	mt := MeasurementType(dataType)
	if !mt.Known() {
		return Header{}, fmt.Errorf("%w: 0x%02x", ErrUnknownMeasurementType, dataType)
	}

	endUS, err := r.PullTimestamp()
	if err != nil {
		return Header{}, err
	}
	frameType, err := r.PullByte()
	if err != nil {
		return Header{}, err
	}

	return Header{Type: mt, EndTimestampUS: endUS, FrameType: FrameType(frameType)}, nil
}

// DecodeFrame reconstructs every sample encoded in one notification payload.
//
// The frame is decoded in four stages: header, full-resolution reference
// sample seeding the per-channel bases, a run of delta sub-frames accumulated
// onto the bases, and timestamp back-projection from the header's end
// timestamp at the stream's nominal period.
//
// On ErrTruncatedSubframe the samples decoded from earlier sub-frames of the
// same frame are returned alongside the error, with their timestamps
// assigned; every other error returns no samples. A frame holding only a
// reference sample decodes to an empty, error-free result.
func DecodeFrame(data []byte) ([]Sample, error) {
	r := NewReader(data)

	hdr, err := ParseHeader(r)
	if err != nil {
		return nil, err
	}
	spec, ok := streamSpecs[hdr.Type]
	if !ok || hdr.FrameType != spec.DeltaTag {
		return nil, fmt.Errorf("%w: type %s, frame type 0x%02x",
			ErrUnsupportedFrameEncoding, hdr.Type, uint8(hdr.FrameType))
	}

	bases := make([]int64, spec.Channels)
	for i := range bases {
		v, err := r.PullFixed(spec.ReferenceBits)
		if err != nil {
			return nil, err
		}
		bases[i] = v
	}

	rows, decodeErr := decodeSubframes(r, spec.Channels, bases)
	return assignTimestamps(rows, hdr.EndTimestampUS, spec.PeriodUS), decodeErr
}

// decodeSubframes drains (bit size, sample count, packed deltas) runs until
// the cursor is exhausted, threading the channel bases through each
// reconstructed row. Rows decoded before a truncated sub-frame are returned
// with the error.
func decodeSubframes(r *Reader, channels int, bases []int64) ([][]int64, error) {
	var rows [][]int64
	for !r.Exhausted() {
		bitSize, err := r.PullByte()
		if err != nil {
			return rows, err
		}
		sampleCount, err := r.PullByte()
		if err != nil {
			// The sub-frame header itself was cut short.
			return rows, fmt.Errorf("%w: incomplete sub-frame header", ErrTruncatedSubframe)
		}
		if sampleCount == 0 {
			continue
		}

		want := int(sampleCount) * channels
		values := r.PullBitpacked(int(bitSize), want)
		if len(values) != want {
			return rows, fmt.Errorf("%w: got %d of %d values (bit size %d)",
				ErrTruncatedSubframe, len(values), want, bitSize)
		}

		for i := 0; i < int(sampleCount); i++ {
			for c := 0; c < channels; c++ {
				bases[c] += signExtend(values[i*channels+c], int(bitSize))
			}
			rows = append(rows, append([]int64(nil), bases...))
		}
	}
	return rows, nil
}

// signExtend reinterprets a bits-wide unsigned value as two's-complement
// signed. Deltas are transmitted at their packed width and must be widened
// before accumulating onto a channel base.
func signExtend(v uint64, bits int) int64 {
	if v >= uint64(1)<<(bits-1) {
		return int64(v) - int64(1)<<bits
	}
	return int64(v)
}

// assignTimestamps back-projects the frame's end timestamp across the
// reconstructed rows: the last sample lands exactly on endUS and earlier
// samples step back one nominal period each. Successive addition keeps the
// accumulated rounding identical across decoders.
func assignTimestamps(rows [][]int64, endUS, periodUS int64) []Sample {
	if len(rows) == 0 {
		return nil
	}
	samples := make([]Sample, 0, len(rows))
	ts := endUS - int64(len(rows)-1)*periodUS
	for _, row := range rows {
		samples = append(samples, Sample{TimestampUS: ts, Values: row})
		ts += periodUS
	}
	return samples
}
