package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"verity/pkg/config"
	"verity/pkg/engine"
	"verity/pkg/pmd"
	"verity/pkg/transport"
)

// runWatch is the no-files live view: the same transport and decode pipeline
// as record, rendered as a terminal dashboard instead of logged.
func runWatch(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", config.DefaultConfigPath, "TOML config path")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, _, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 1
	}

	log, err := newLogger("error") // keep the dashboard clean
	if err != nil {
		fmt.Fprintln(stderr, "logger:", err)
		return 1
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := engine.NewHub()
	go hub.Run(ctx)

	notifications := make(chan transport.Notification, 256)
	sensor := transport.StartSensor(ctx, notifications,
		transport.WithNamePrefix(cfg.Device.NamePrefix),
		transport.WithAddress(cfg.Device.Address),
		transport.WithScanTimeout(cfg.ScanTimeout()),
		transport.WithReconnectInterval(cfg.ReconnectInterval()),
		transport.WithStreams(enabledStreams(cfg)...),
		transport.WithLogger(log.Named("ble")),
	)
	go decodeLoop(ctx, notifications, hub, log)

	model := newWatchModel(hub.Subscribe(), sensor.BatteryLevel)
	program := tea.NewProgram(model, tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		fmt.Fprintln(stderr, "watch:", err)
		return 1
	}
	return 0
}

type streamStats struct {
	frames  int
	samples int
	last    []int64
	lastAt  time.Time
}

type watchModel struct {
	records <-chan engine.Record
	battery func() (uint8, bool)
	started time.Time
	stats   map[pmd.MeasurementType]*streamStats
	bpm     int
}

type recordMsg engine.Record

type tickMsg time.Time

func newWatchModel(records <-chan engine.Record, battery func() (uint8, bool)) watchModel {
	return watchModel{
		records: records,
		battery: battery,
		started: time.Now(),
		stats:   make(map[pmd.MeasurementType]*streamStats),
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.waitForRecord(), watchTick())
}

func (m watchModel) waitForRecord() tea.Cmd {
	return func() tea.Msg {
		record, ok := <-m.records
		if !ok {
			return tea.Quit()
		}
		return recordMsg(record)
	}
}

func watchTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		return m, watchTick()
	case recordMsg:
		record := engine.Record(msg)
		st, ok := m.stats[record.Stream]
		if !ok {
			st = &streamStats{}
			m.stats[record.Stream] = st
		}
		st.frames++
		st.samples += len(record.Samples)
		if n := len(record.Samples); n > 0 {
			st.last = record.Samples[n-1].Values
			st.lastAt = record.ReceivedAt
		}
		if record.Stream == pmd.MeasurementHR && len(record.Samples) > 0 && len(record.Samples[0].Values) > 0 {
			m.bpm = int(record.Samples[0].Values[0])
		}
		return m, m.waitForRecord()
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "verity watch — %s elapsed\n\n", time.Since(m.started).Truncate(time.Second))

	if m.bpm > 0 {
		fmt.Fprintf(&b, "  heart rate  %3d bpm\n", m.bpm)
	} else {
		b.WriteString("  heart rate  --\n")
	}
	if level, ok := m.battery(); ok {
		fmt.Fprintf(&b, "  battery     %3d%%\n", level)
	} else {
		b.WriteString("  battery     --\n")
	}
	b.WriteString("\n")

	types := make([]pmd.MeasurementType, 0, len(m.stats))
	for t := range m.stats {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	if len(types) == 0 {
		b.WriteString("  waiting for data...\n")
	}
	for _, t := range types {
		st := m.stats[t]
		fmt.Fprintf(&b, "  %-4s  %7d samples  %5d frames  last %v\n", t, st.samples, st.frames, st.last)
	}

	b.WriteString("\npress q to quit\n")
	return b.String()
}
