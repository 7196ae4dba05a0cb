package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"verity/pkg/bridge/livews"
	"verity/pkg/config"
	"verity/pkg/engine"
	"verity/pkg/logger"
	"verity/pkg/pmd"
	"verity/pkg/transport"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) == 0 {
		return runRecord([]string{}, stderr)
	}

	switch args[0] {
	case "record":
		return runRecord(args[1:], stderr)
	case "watch":
		return runWatch(args[1:], stderr)
	case "replay":
		return runReplay(args[1:], stdout, stderr)
	case "mock":
		return runMock(args[1:], stderr)
	case "-h", "--help", "help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintln(stderr, "unknown command:", args[0])
		printUsage(stderr)
		return 2
	}
}

func runRecord(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("record", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", config.DefaultConfigPath, "TOML config path")
	recordID := fs.Int("id", -1, "recording id (overrides config)")
	duration := fs.Duration("duration", 0, "recording duration (overrides config)")
	overwrite := fs.Bool("overwrite", false, "overwrite existing log files")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, _, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 1
	}
	if *recordID >= 0 {
		cfg.Record.ID = *recordID
	}
	if *duration > 0 {
		cfg.Record.Duration = duration.String()
	}
	if *overwrite {
		cfg.Record.Overwrite = true
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(stderr, "logger:", err)
		return 1
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if d := cfg.RecordDuration(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

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

	notifications := make(chan transport.Notification, 256)
	transport.StartSensor(ctx, notifications,
		transport.WithNamePrefix(cfg.Device.NamePrefix),
		transport.WithAddress(cfg.Device.Address),
		transport.WithScanTimeout(cfg.ScanTimeout()),
		transport.WithReconnectInterval(cfg.ReconnectInterval()),
		transport.WithStreams(enabledStreams(cfg)...),
		transport.WithLogger(log.Named("ble")),
	)

	log.Infow("recording", "id", cfg.Record.ID, "dir", cfg.Record.DataDir, "duration", cfg.Record.Duration)
	decodeLoop(ctx, notifications, hub, log)
	return 0
}

// decodeLoop is the single consumer of transport notifications: frames from
// one stream are decoded strictly in arrival order, and a frame error never
// stops the stream.
func decodeLoop(ctx context.Context, in <-chan transport.Notification, hub *engine.Hub, log *zap.SugaredLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-in:
			switch n.Source {
			case transport.SourcePMDData:
				samples, err := pmd.DecodeFrame(n.Payload)
				if err != nil {
					log.Warnw("frame dropped", "stream", streamOf(n.Payload).String(), "err", err)
					// A truncated sub-frame still yields the samples
					// decoded before the cut.
					if !errors.Is(err, pmd.ErrTruncatedSubframe) || len(samples) == 0 {
						continue
					}
				}
				if len(samples) == 0 {
					continue
				}
				hub.Publish(engine.Record{
					Stream:     streamOf(n.Payload),
					Samples:    samples,
					ReceivedAt: n.At,
				})
			case transport.SourceHeartRate:
				hr, err := pmd.ParseHeartRate(n.Payload)
				if err != nil {
					log.Warnw("heart rate notification dropped", "err", err)
					continue
				}
				hub.Publish(engine.Record{
					Stream: pmd.MeasurementHR,
					Samples: []pmd.Sample{{
						TimestampUS: pmd.DeviceTimeUS(n.At),
						Values:      []int64{int64(hr.BPM)},
					}},
					ReceivedAt: n.At,
				})
			}
		}
	}
}

func runReplay(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)

	in := fs.String("in", "", "capture file: one hex-encoded frame per line")
	recordID := fs.Int("id", 0, "recording id for output file names")
	dataDir := fs.String("dir", "data", "output directory")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *in == "" {
		fmt.Fprintln(stderr, "replay: --in is required")
		return 2
	}

	f, err := os.Open(*in)
	if err != nil {
		fmt.Fprintln(stderr, "replay:", err)
		return 1
	}
	defer f.Close()

	streamLog, err := logger.NewStreamLog(*dataDir, *recordID)
	if err != nil {
		fmt.Fprintln(stderr, "replay:", err)
		return 1
	}
	defer streamLog.Close()

	var frames, dropped, samples int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		payload, err := hex.DecodeString(line)
		if err != nil {
			fmt.Fprintln(stderr, "replay: bad hex line:", err)
			dropped++
			continue
		}
		frames++

		decoded, err := pmd.DecodeFrame(payload)
		if err != nil && (!errors.Is(err, pmd.ErrTruncatedSubframe) || len(decoded) == 0) {
			fmt.Fprintln(stderr, "replay: frame dropped:", err)
			dropped++
			continue
		}
		if len(decoded) == 0 {
			continue
		}
		samples += len(decoded)
		err = streamLog.Write(engine.Record{
			Stream:     streamOf(payload),
			Samples:    decoded,
			ReceivedAt: time.Now(),
		})
		if err != nil {
			fmt.Fprintln(stderr, "replay:", err)
			return 1
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintln(stderr, "replay:", err)
		return 1
	}

	fmt.Fprintf(stdout, "replayed %d frames (%d dropped), %d samples\n", frames, dropped, samples)
	return 0
}

// streamOf reads the measurement-type tag off the front of a frame for
// routing and log labels; full validation belongs to the decoder.
func streamOf(payload []byte) pmd.MeasurementType {
	if len(payload) == 0 {
		return 0
	}
	return pmd.MeasurementType(payload[0])
}

func enabledStreams(cfg config.VerityConfig) []pmd.MeasurementType {
	var streams []pmd.MeasurementType
	if cfg.Streams.PPG {
		streams = append(streams, pmd.MeasurementPPG)
	}
	if cfg.Streams.ACC {
		streams = append(streams, pmd.MeasurementACC)
	}
	return streams
}

// openStreamLog refuses to clobber a previous recording unless overwrite is
// set; the check mirrors the per-stream file naming.
func openStreamLog(cfg config.VerityConfig) (*logger.StreamLog, error) {
	streamLog, err := logger.NewStreamLog(cfg.Record.DataDir, cfg.Record.ID)
	if err != nil {
		return nil, err
	}
	if !cfg.Record.Overwrite {
		for _, t := range []pmd.MeasurementType{pmd.MeasurementPPG, pmd.MeasurementACC, pmd.MeasurementHR} {
			if _, err := os.Stat(streamLog.Path(t)); err == nil {
				streamLog.Close()
				return nil, fmt.Errorf("recording %d already exists at %s (use --overwrite)", cfg.Record.ID, streamLog.Path(t))
			}
		}
	} else {
		for _, t := range []pmd.MeasurementType{pmd.MeasurementPPG, pmd.MeasurementACC, pmd.MeasurementHR} {
			_ = os.Remove(streamLog.Path(t))
		}
	}
	return streamLog, nil
}

func newLogger(level string) (*zap.SugaredLogger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return nil, err
	}
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Encoding:         "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "name",
			MessageKey:     "msg",
			FunctionKey:    zapcore.OmitKey,
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		},
	}
	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return log.Sugar(), nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  verityd record [--config verity.toml] [--id N] [--duration 30s] [--overwrite]")
	fmt.Fprintln(w, "  verityd watch  [--config verity.toml]")
	fmt.Fprintln(w, "  verityd replay --in capture.hex [--id N] [--dir data]")
	fmt.Fprintln(w, "  verityd mock   [--config verity.toml] [--rate 1s]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  record   stream from the sensor and append per-stream sample logs")
	fmt.Fprintln(w, "  watch    live terminal view of heart rate, battery and stream counters")
	fmt.Fprintln(w, "  replay   decode a hex capture file through the same pipeline")
	fmt.Fprintln(w, "  mock     synthesize frames end to end without hardware")
}
