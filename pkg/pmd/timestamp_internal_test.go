package pmd

import "testing"

func TestAssignTimestampsBackProjection(t *testing.T) {
	rows := [][]int64{{1}, {2}, {3}, {4}, {5}}
	samples := assignTimestamps(rows, 1_000_000, 100_000)

	want := []int64{600_000, 700_000, 800_000, 900_000, 1_000_000}
	if len(samples) != len(want) {
		t.Fatalf("got %d samples, want %d", len(samples), len(want))
	}
	for i, w := range want {
		if samples[i].TimestampUS != w {
			t.Fatalf("sample %d: got %d want %d", i, samples[i].TimestampUS, w)
		}
	}
}

func TestAssignTimestampsSingleSample(t *testing.T) {
	samples := assignTimestamps([][]int64{{7}}, 123_456, 18_181)
	if len(samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(samples))
	}
	if samples[0].TimestampUS != 123_456 {
		t.Fatalf("got %d want 123456", samples[0].TimestampUS)
	}
}

func TestAssignTimestampsEmpty(t *testing.T) {
	if samples := assignTimestamps(nil, 1_000_000, 100_000); samples != nil {
		t.Fatalf("expected nil, got %v", samples)
	}
}

func TestSignExtend(t *testing.T) {
	cases := []struct {
		v    uint64
		bits int
		want int64
	}{
		{0, 1, 0},
		{1, 1, -1},
		{0x7F, 8, 127},
		{0x80, 8, -128},
		{0xFF, 8, -1},
		{0x3FF, 10, -1},
		{0x1FF, 10, 511},
		{0xFFFF_FFFF, 32, -1},
		{0x7FFF_FFFF, 32, 2147483647},
	}
	for _, tc := range cases {
		if got := signExtend(tc.v, tc.bits); got != tc.want {
			t.Fatalf("signExtend(%#x, %d): got %d want %d", tc.v, tc.bits, got, tc.want)
		}
	}
}

func TestStreamPeriods(t *testing.T) {
	ppg, ok := SpecFor(MeasurementPPG)
	if !ok || ppg.PeriodUS != 18_181 {
		t.Fatalf("PPG period: got %d want 18181", ppg.PeriodUS)
	}
	acc, ok := SpecFor(MeasurementACC)
	if !ok || acc.PeriodUS != 19_230 {
		t.Fatalf("ACC period: got %d want 19230", acc.PeriodUS)
	}
	if _, ok := SpecFor(MeasurementHR); ok {
		t.Fatalf("HR must not have a PMD stream spec")
	}
}
