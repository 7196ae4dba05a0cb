package pmd

import (
	"encoding/binary"
	"fmt"
)

// Heart Rate Measurement flag bits (Bluetooth GATT, 0x2A37).
const (
	hrFlagValue16Bit       byte = 1 << 0
	hrFlagContactDetected  byte = 1 << 1
	hrFlagContactSupported byte = 1 << 2
	hrFlagEnergyPresent    byte = 1 << 3
	hrFlagRRPresent        byte = 1 << 4
)

// HeartRate is one decoded Heart Rate Measurement notification.
type HeartRate struct {
	BPM int
	// ContactSupported reports whether the sensor exposes skin-contact
	// detection at all; ContactDetected is only meaningful when it does.
	ContactSupported bool
	ContactDetected  bool
	// EnergyJoules is -1 when the field is absent.
	EnergyJoules int
	// RR holds beat-to-beat intervals in 1/1024 second units.
	RR []uint16
}

// RRIntervalsMS converts the RR intervals to milliseconds.
func (h HeartRate) RRIntervalsMS() []float64 {
	if len(h.RR) == 0 {
		return nil
	}
	out := make([]float64, len(h.RR))
	for i, rr := range h.RR {
		out[i] = float64(rr) * 1000.0 / 1024.0
	}
	return out
}

// ParseHeartRate decodes a standard Heart Rate Measurement payload: a flags
// byte, an 8- or 16-bit bpm value, optional energy expended, and any number
// of trailing RR intervals.
func ParseHeartRate(data []byte) (HeartRate, error) {
	if len(data) < 2 {
		return HeartRate{}, fmt.Errorf("pmd: heart rate payload too short: %d bytes", len(data))
	}

	flags := data[0]
	hr := HeartRate{
		ContactSupported: flags&hrFlagContactSupported != 0,
		ContactDetected:  flags&hrFlagContactDetected != 0,
		EnergyJoules:     -1,
	}

	off := 1
	if flags&hrFlagValue16Bit != 0 {
		if len(data) < off+2 {
			return HeartRate{}, fmt.Errorf("pmd: heart rate payload truncated at bpm")
		}
		hr.BPM = int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
	} else {
		hr.BPM = int(data[off])
		off++
	}

	if flags&hrFlagEnergyPresent != 0 {
		if len(data) < off+2 {
			return HeartRate{}, fmt.Errorf("pmd: heart rate payload truncated at energy")
		}
		hr.EnergyJoules = int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
	}

	if flags&hrFlagRRPresent != 0 {
		for off+1 < len(data) {
			hr.RR = append(hr.RR, binary.LittleEndian.Uint16(data[off:]))
			off += 2
		}
	}
	return hr, nil
}
