package main

import (
	"testing"
	"time"

	"verity/pkg/pmd"
)

func TestMockStreamFrameDecodes(t *testing.T) {
	acc := newMockStream(pmd.MeasurementACC, mockACCAmplitude, mockACCFreqHz)

	frame, err := acc.nextFrame(time.Now(), time.Second)
	if err != nil {
		t.Fatalf("next frame: %v", err)
	}
	if pmd.MeasurementType(frame[0]) != pmd.MeasurementACC {
		t.Fatalf("frame type byte: got %#x", frame[0])
	}

	samples, err := pmd.DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	// A second's worth of delta samples at 52 Hz; the reference only seeds
	// the channel bases.
	if len(samples) != 52 {
		t.Fatalf("sample count: got %d want 52", len(samples))
	}
	for i, s := range samples {
		if len(s.Values) != 3 {
			t.Fatalf("sample %d: %d channels", i, len(s.Values))
		}
	}

	// The stream carries its running value into the next frame.
	last := samples[len(samples)-1]
	for c, v := range last.Values {
		if acc.last[c] != v {
			t.Fatalf("channel %d: stream last %d, decoded %d", c, acc.last[c], v)
		}
	}
}

func TestMockStreamFramesChain(t *testing.T) {
	ppg := newMockStream(pmd.MeasurementPPG, mockPPGAmplitude, mockPPGFreqHz)
	for i := range ppg.base {
		ppg.base[i] = mockPPGBaseline + int64(i)*1000
		ppg.last[i] = ppg.base[i]
	}

	now := time.Now()
	first, err := ppg.nextFrame(now, time.Second)
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	firstSamples, err := pmd.DecodeFrame(first)
	if err != nil {
		t.Fatalf("decode first: %v", err)
	}

	if got := firstSamples[len(firstSamples)-1].TimestampUS; got != pmd.DeviceTimeUS(now) {
		t.Fatalf("first frame end timestamp: got %d want %d", got, pmd.DeviceTimeUS(now))
	}

	second, err := ppg.nextFrame(now.Add(time.Second), time.Second)
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	secondSamples, err := pmd.DecodeFrame(second)
	if err != nil {
		t.Fatalf("decode second: %v", err)
	}

	// The second frame's reference is the first frame's final sample, so its
	// first decoded sample is at most one delta away.
	limit := int64(1) << (mockDeltaBits - 1)
	lastOfFirst := firstSamples[len(firstSamples)-1].Values
	firstOfSecond := secondSamples[0].Values
	for c := range lastOfFirst {
		diff := firstOfSecond[c] - lastOfFirst[c]
		if diff > limit || diff < -limit {
			t.Fatalf("channel %d: frames do not chain (%d vs %d)", c, lastOfFirst[c], firstOfSecond[c])
		}
	}
}

func TestMockHeartRatePayload(t *testing.T) {
	hr, err := pmd.ParseHeartRate(mockHeartRatePayload(66))
	if err != nil {
		t.Fatalf("parse heart rate: %v", err)
	}
	if hr.BPM != 66 {
		t.Fatalf("bpm: got %d", hr.BPM)
	}
	if !hr.ContactSupported || !hr.ContactDetected {
		t.Fatalf("contact flags: %+v", hr)
	}
}
