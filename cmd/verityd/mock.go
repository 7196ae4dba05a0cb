package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"time"

	"verity/pkg/bridge/livews"
	"verity/pkg/config"
	"verity/pkg/engine"
	"verity/pkg/pmd"
	"verity/pkg/transport"
)

const (
	mockPPGAmplitude = 9000.0
	mockPPGBaseline  = 120000
	mockPPGFreqHz    = 1.1 // ~66 bpm pulse wave

	mockACCAmplitude = 900.0
	mockACCFreqHz    = 0.4

	mockHRBaseBPM  = 66.0
	mockHRSwingBPM = 8.0
	mockHRFreqHz   = 0.05

	mockDeltaBits = 12
)

func runMock(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("mock", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", config.DefaultConfigPath, "TOML config path")
	frameRate := fs.Duration("rate", time.Second, "interval between synthesized frames")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, _, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 1
	}
	cfg.Record.Overwrite = true

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(stderr, "logger:", err)
		return 1
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	streamLog, err := openStreamLog(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer streamLog.Close()

	hub := engine.NewHub()
	go hub.Run(ctx)
	go streamLog.Consume(ctx, hub.Subscribe())

	if cfg.Bridge.Enabled {
		bridge := livews.NewServer(cfg.Bridge.WSAddr, hub, log.Named("livews"))
		go func() {
			if err := bridge.Run(ctx); err != nil {
				log.Errorw("bridge stopped", "err", err)
			}
		}()
	}

	notifications := make(chan transport.Notification, 64)
	go runMockSensor(ctx, notifications, *frameRate)

	log.Infow("mock sensor running", "frame_interval", frameRate.String())
	decodeLoop(ctx, notifications, hub, log)
	return 0
}

// runMockSensor synthesizes PPG, ACC and heart-rate notifications on a fixed
// cadence. The PMD payloads go through the real encoder so the decode loop is
// exercised end to end, bit packing included.
func runMockSensor(ctx context.Context, out chan<- transport.Notification, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ppg := newMockStream(pmd.MeasurementPPG, mockPPGAmplitude, mockPPGFreqHz)
	acc := newMockStream(pmd.MeasurementACC, mockACCAmplitude, mockACCFreqHz)
	for i := range ppg.base {
		ppg.base[i] = mockPPGBaseline + int64(i)*1000
		ppg.last[i] = ppg.base[i]
	}

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, stream := range []*mockStream{ppg, acc} {
				frame, err := stream.nextFrame(now, interval)
				if err != nil {
					continue
				}
				deliverMock(ctx, out, transport.SourcePMDData, frame, now)
			}

			t := now.Sub(start).Seconds()
			bpm := mockHRBaseBPM + mockHRSwingBPM*math.Sin(2*math.Pi*mockHRFreqHz*t)
			deliverMock(ctx, out, transport.SourceHeartRate, mockHeartRatePayload(uint8(bpm)), now)
		}
	}
}

type mockStream struct {
	typ       pmd.MeasurementType
	spec      pmd.StreamSpec
	base      []int64
	last      []int64
	amplitude float64
	freqHz    float64
	elapsed   float64
}

func newMockStream(t pmd.MeasurementType, amplitude, freqHz float64) *mockStream {
	spec, _ := pmd.SpecFor(t)
	return &mockStream{
		typ:       t,
		spec:      spec,
		base:      make([]int64, spec.Channels),
		last:      make([]int64, spec.Channels),
		amplitude: amplitude,
		freqHz:    freqHz,
	}
}

// nextFrame emits one delta frame covering the samples that elapsed since the
// previous tick: the reference sample is the stream's running value and every
// subsequent sample follows a phase-shifted sine per channel.
func (m *mockStream) nextFrame(now time.Time, interval time.Duration) ([]byte, error) {
	count := int(interval.Seconds() * float64(m.spec.SampleRateHz))
	if count < 1 {
		count = 1
	}
	if count > 0xFF {
		count = 0xFF
	}

	reference := append([]int64(nil), m.last...)
	step := 1.0 / float64(m.spec.SampleRateHz)
	limit := int64(1)<<(mockDeltaBits-1) - 1

	rows := make([][]int64, 0, count)
	for i := 0; i < count; i++ {
		m.elapsed += step
		row := make([]int64, m.spec.Channels)
		for c := range row {
			phase := float64(c) * math.Pi / 4
			target := m.base[c] + int64(m.amplitude*math.Sin(2*math.Pi*m.freqHz*m.elapsed+phase))
			delta := target - m.last[c]
			if delta > limit {
				delta = limit
			} else if delta < -limit-1 {
				delta = -limit - 1
			}
			row[c] = delta
			m.last[c] += delta
		}
		rows = append(rows, row)
	}

	return pmd.EncodeDeltaFrame(m.typ, pmd.DeviceTimeUS(now), reference, []pmd.Subframe{
		{BitSize: mockDeltaBits, Rows: rows},
	})
}

// mockHeartRatePayload builds a minimal Heart Rate Measurement notification:
// 8-bit bpm, contact supported and detected, no RR intervals.
func mockHeartRatePayload(bpm uint8) []byte {
	return []byte{0x06, bpm}
}

func deliverMock(ctx context.Context, out chan<- transport.Notification, source transport.Source, payload []byte, at time.Time) {
	select {
	case out <- transport.Notification{Source: source, Payload: payload, At: at}:
	case <-ctx.Done():
	}
}
