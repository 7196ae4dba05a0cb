package pmd

import (
	"encoding/binary"
	"fmt"
)

// PMD control-point op codes.
const (
	OpGetSettings      byte = 0x01
	OpStartMeasurement byte = 0x02
	OpStopMeasurement  byte = 0x03

	controlResponseCode byte = 0xF0
)

// Control-point status codes the device is known to return.
const (
	StatusSuccess             byte = 0x00
	StatusNotSupported        byte = 0x03
	StatusInvalidSamplingRate byte = 0x08
)

// Stream setting type tags inside a start-measurement request.
const (
	settingSampleRate byte = 0x00
	settingResolution byte = 0x01
	settingRange      byte = 0x02
	settingChannels   byte = 0x04
)

// StreamSettings are the measurement parameters sent with a start request.
// Values are raw device units: rate in Hz, resolution in bits, range in G
// (accelerometer only, zero omits the field).
type StreamSettings struct {
	SampleRateHz uint16
	Resolution   uint16
	RangeG       uint16
	Channels     uint8
}

// PPGDefaultSettings is the fixed 55 Hz, 22-bit, four-channel configuration
// the device uses outside SDK mode.
func PPGDefaultSettings() StreamSettings {
	return StreamSettings{SampleRateHz: 55, Resolution: 22, Channels: 4}
}

// ACCDefaultSettings is the fixed 52 Hz, 16-bit, 8 G, three-axis
// configuration the device uses outside SDK mode.
func ACCDefaultSettings() StreamSettings {
	return StreamSettings{SampleRateHz: 52, Resolution: 16, RangeG: 8, Channels: 3}
}

// GetSettingsRequest asks the control point for the available settings of one
// measurement type.
func GetSettingsRequest(t MeasurementType) []byte {
	return []byte{OpGetSettings, byte(t)}
}

// StartRequest builds a start-measurement command. Each setting is a
// (type, array length, value) group; 16-bit values are little-endian.
func StartRequest(t MeasurementType, s StreamSettings) []byte {
	out := []byte{OpStartMeasurement, byte(t)}
	out = append(out, settingSampleRate, 0x01)
	out = binary.LittleEndian.AppendUint16(out, s.SampleRateHz)
	out = append(out, settingResolution, 0x01)
	out = binary.LittleEndian.AppendUint16(out, s.Resolution)
	if s.RangeG != 0 {
		out = append(out, settingRange, 0x01)
		out = binary.LittleEndian.AppendUint16(out, s.RangeG)
	}
	out = append(out, settingChannels, 0x01, s.Channels)
	return out
}

// StopRequest builds a stop-measurement command.
func StopRequest(t MeasurementType) []byte {
	return []byte{OpStopMeasurement, byte(t)}
}

// SDKModeStartRequest enables SDK mode, unlocking alternative sample rates.
func SDKModeStartRequest() []byte {
	return []byte{OpStartMeasurement, byte(MeasurementSDKMode)}
}

// SDKModeStopRequest disables SDK mode, restoring fixed rates.
func SDKModeStopRequest() []byte {
	return []byte{OpStopMeasurement, byte(MeasurementSDKMode)}
}

// ControlResponse is the device's acknowledgement on the control
// characteristic.
type ControlResponse struct {
	Op     byte
	Type   MeasurementType
	Status byte
	// More is set when further response packets follow.
	More bool
}

// Ok reports whether the request was accepted.
func (r ControlResponse) Ok() bool {
	return r.Status == StatusSuccess
}

func (r ControlResponse) StatusString() string {
	switch r.Status {
	case StatusSuccess:
		return "success"
	case StatusNotSupported:
		return "not supported"
	case StatusInvalidSamplingRate:
		return "invalid sampling rate"
	}
	return fmt.Sprintf("error 0x%02x", r.Status)
}

// ParseControlResponse decodes a control-point notification.
func ParseControlResponse(data []byte) (ControlResponse, error) {
	if len(data) < 4 {
		return ControlResponse{}, fmt.Errorf("pmd: control response too short: %d bytes", len(data))
	}
	if data[0] != controlResponseCode {
		return ControlResponse{}, fmt.Errorf("pmd: unexpected control response code 0x%02x", data[0])
	}
	resp := ControlResponse{
		Op:     data[1],
		Type:   MeasurementType(data[2]),
		Status: data[3],
	}
	if len(data) >= 5 {
		resp.More = data[4] != 0
	}
	return resp, nil
}
