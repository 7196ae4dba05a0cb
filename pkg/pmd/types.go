package pmd

import "time"

// MeasurementType is the stream tag carried in the first byte of every PMD
// data frame.
type MeasurementType uint8

const (
	MeasurementPPG     MeasurementType = 0x01
	MeasurementACC     MeasurementType = 0x02
	MeasurementHR      MeasurementType = 0x03
	MeasurementGyro    MeasurementType = 0x05
	MeasurementMag     MeasurementType = 0x06
	MeasurementSDKMode MeasurementType = 0x09
)

func (t MeasurementType) Known() bool {
	switch t {
	case MeasurementPPG, MeasurementACC, MeasurementHR, MeasurementGyro, MeasurementMag, MeasurementSDKMode:
		return true
	}
	return false
}

func (t MeasurementType) String() string {
	switch t {
	case MeasurementPPG:
		return "ppg"
	case MeasurementACC:
		return "acc"
	case MeasurementHR:
		return "hr"
	case MeasurementGyro:
		return "gyro"
	case MeasurementMag:
		return "mag"
	case MeasurementSDKMode:
		return "sdk"
	}
	return "unknown"
}

// FrameType distinguishes full-resolution encodings from delta runs.
type FrameType uint8

const (
	FrameTypePPG24 FrameType = 0x00
	FrameTypeACC8  FrameType = 0x00
	FrameTypeACC16 FrameType = 0x01
	FrameTypeACC24 FrameType = 0x02

	// FrameTypeDelta is the documented delta tag. The Verity Sense tags its
	// accelerometer delta frames 0x81 instead, see FrameTypeACCDelta.
	FrameTypeDelta    FrameType = 0x80
	FrameTypeACCDelta FrameType = 0x81
)

// StreamSpec is the static per-stream configuration resolved once per frame:
// channel count, reference sample width, the delta frame tag the device
// actually sends, and the nominal sampling period.
type StreamSpec struct {
	Channels      int
	ReferenceBits int
	DeltaTag      FrameType
	SampleRateHz  int
	// PeriodUS is 1_000_000 / SampleRateHz with truncating integer
	// division. Timestamps accumulate this value, so sub-microsecond
	// fractions are dropped rather than spread.
	PeriodUS int64
}

var streamSpecs = map[MeasurementType]StreamSpec{
	MeasurementPPG: {
		Channels:      4,
		ReferenceBits: 22,
		DeltaTag:      FrameTypeDelta,
		SampleRateHz:  55,
		PeriodUS:      1_000_000 / 55,
	},
	MeasurementACC: {
		Channels:      3,
		ReferenceBits: 16,
		DeltaTag:      FrameTypeACCDelta,
		SampleRateHz:  52,
		PeriodUS:      1_000_000 / 52,
	},
}

// SpecFor returns the stream configuration for measurement types the decoder
// supports. The second return is false for streams that are recognized on the
// wire but not decodable here (HR, gyro, mag, SDK mode).
func SpecFor(t MeasurementType) (StreamSpec, bool) {
	spec, ok := streamSpecs[t]
	return spec, ok
}

// Sample is one reconstructed sensor reading: an absolute device-epoch
// timestamp in microseconds and one signed value per channel.
type Sample struct {
	TimestampUS int64
	Values      []int64
}

// deviceEpoch is the zero point of the sensor's clock (2000-01-01 UTC).
var deviceEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// DeviceTimeUS converts a wall-clock time to microseconds since the device
// epoch, the same timebase frame timestamps are reported in.
func DeviceTimeUS(t time.Time) int64 {
	return t.Sub(deviceEpoch).Microseconds()
}
