package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"verity/pkg/pmd"
)

// Polar Measurement Data service characteristics. Stream settings are written
// to the control point; frames arrive as notifications on the data
// characteristic.
var (
	pmdControlUUID = mustUUID("fb005c81-02e7-f387-1cad-8acd2d8df0c8")
	pmdDataUUID    = mustUUID("fb005c82-02e7-f387-1cad-8acd2d8df0c8")
	pmdServiceUUID = mustUUID("fb005c80-02e7-f387-1cad-8acd2d8df0c8")
)

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// Source identifies which characteristic a notification arrived on.
type Source int

const (
	SourcePMDData Source = iota
	SourceHeartRate
)

// Notification is one raw payload handed to the decoding pipeline. The
// transport never inspects or retains it past the send.
type Notification struct {
	Source  Source
	Payload []byte
	At      time.Time
}

// Sensor owns the BLE session with one device: discovery, connection, stream
// start/stop, and notification delivery. Reconnects with backoff until the
// context ends.
type Sensor struct {
	namePrefix   string
	address      string
	scanTimeout  time.Duration
	reconnect    time.Duration
	reconnectMax time.Duration
	streams      []pmd.MeasurementType
	log          *zap.SugaredLogger
	out          chan<- Notification
	adapter      *bluetooth.Adapter
	battery      atomic.Uint32
	batteryKnown atomic.Bool
}

type Option func(*Sensor)

func WithNamePrefix(prefix string) Option {
	return func(s *Sensor) {
		if prefix != "" {
			s.namePrefix = prefix
		}
	}
}

// WithAddress pins the session to one device address instead of matching by
// name.
func WithAddress(addr string) Option {
	return func(s *Sensor) {
		s.address = addr
	}
}

func WithScanTimeout(d time.Duration) Option {
	return func(s *Sensor) {
		if d > 0 {
			s.scanTimeout = d
		}
	}
}

func WithReconnectInterval(d time.Duration) Option {
	return func(s *Sensor) {
		if d > 0 {
			s.reconnect = d
		}
	}
}

func WithReconnectMax(d time.Duration) Option {
	return func(s *Sensor) {
		if d > 0 {
			s.reconnectMax = d
		}
	}
}

// WithStreams selects which PMD streams to start after connecting.
func WithStreams(streams ...pmd.MeasurementType) Option {
	return func(s *Sensor) {
		s.streams = streams
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Sensor) {
		if log != nil {
			s.log = log
		}
	}
}

// StartSensor begins the session in a background goroutine and returns
// immediately. Raw notification payloads are delivered on out until the
// context ends.
func StartSensor(ctx context.Context, out chan<- Notification, opts ...Option) *Sensor {
	s := &Sensor{
		namePrefix:   "Polar Sense",
		scanTimeout:  10 * time.Second,
		reconnect:    1 * time.Second,
		reconnectMax: 30 * time.Second,
		streams:      []pmd.MeasurementType{pmd.MeasurementPPG, pmd.MeasurementACC},
		log:          zap.NewNop().Sugar(),
		out:          out,
		adapter:      bluetooth.DefaultAdapter,
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run(ctx)
	return s
}

// BatteryLevel returns the last battery percentage read from the device.
func (s *Sensor) BatteryLevel() (uint8, bool) {
	if !s.batteryKnown.Load() {
		return 0, false
	}
	return uint8(s.battery.Load()), true
}

func (s *Sensor) run(ctx context.Context) {
	if err := s.adapter.Enable(); err != nil {
		s.log.Errorw("enable bluetooth adapter", "err", err)
		return
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.log.Warnw("sensor session ended", "err", err)
		}
		attempt++
		s.sleepBackoff(ctx, attempt)
	}
}

// session runs one connect-stream-disconnect cycle.
func (s *Sensor) session(ctx context.Context) error {
	result, err := s.discover(ctx)
	if err != nil {
		return err
	}
	s.log.Infow("device found", "name", result.LocalName(), "address", result.Address.String())

	device, err := s.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer device.Disconnect()
	s.log.Infow("connected", "address", result.Address.String())

	if level, err := readBatteryLevel(&device); err == nil {
		s.battery.Store(uint32(level))
		s.batteryKnown.Store(true)
		s.log.Infow("battery level", "percent", level)
	}

	control, data, err := discoverPMD(&device)
	if err != nil {
		return err
	}

	if err := control.EnableNotifications(func(buf []byte) {
		resp, err := pmd.ParseControlResponse(buf)
		if err != nil {
			s.log.Warnw("bad control response", "err", err)
			return
		}
		if !resp.Ok() {
			s.log.Warnw("control request rejected", "op", resp.Op, "stream", resp.Type.String(), "status", resp.StatusString())
			return
		}
		s.log.Debugw("control response", "op", resp.Op, "stream", resp.Type.String())
	}); err != nil {
		return fmt.Errorf("subscribe control: %w", err)
	}

	if err := data.EnableNotifications(func(buf []byte) {
		s.deliver(ctx, SourcePMDData, buf)
	}); err != nil {
		return fmt.Errorf("subscribe data: %w", err)
	}

	if err := s.subscribeHeartRate(ctx, &device); err != nil {
		// Heart rate is optional; PMD streams carry the recording.
		s.log.Warnw("heart rate unavailable", "err", err)
	}

	if err := s.startStreams(control); err != nil {
		return err
	}
	defer s.stopStreams(control)

	<-ctx.Done()
	return ctx.Err()
}

func (s *Sensor) discover(ctx context.Context) (bluetooth.ScanResult, error) {
	found := make(chan bluetooth.ScanResult, 1)

	timeout := time.AfterFunc(s.scanTimeout, func() { s.adapter.StopScan() })
	defer timeout.Stop()
	cancel := context.AfterFunc(ctx, func() { s.adapter.StopScan() })
	defer cancel()

	err := s.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !s.matches(result) {
			return
		}
		adapter.StopScan()
		select {
		case found <- result:
		default:
		}
	})
	if err != nil {
		return bluetooth.ScanResult{}, fmt.Errorf("scan: %w", err)
	}
	select {
	case result := <-found:
		return result, nil
	default:
		return bluetooth.ScanResult{}, errors.New("transport: device not found")
	}
}

func (s *Sensor) matches(result bluetooth.ScanResult) bool {
	if s.address != "" {
		return strings.EqualFold(result.Address.String(), s.address)
	}
	return strings.HasPrefix(result.LocalName(), s.namePrefix)
}

func (s *Sensor) subscribeHeartRate(ctx context.Context, device *bluetooth.Device) error {
	srvcs, err := device.DiscoverServices([]bluetooth.UUID{bluetooth.ServiceUUIDHeartRate})
	if err != nil {
		return err
	}
	if len(srvcs) == 0 {
		return errors.New("transport: heart rate service not found")
	}
	chars, err := srvcs[0].DiscoverCharacteristics([]bluetooth.UUID{bluetooth.CharacteristicUUIDHeartRateMeasurement})
	if err != nil {
		return err
	}
	if len(chars) == 0 {
		return errors.New("transport: heart rate characteristic not found")
	}
	return chars[0].EnableNotifications(func(buf []byte) {
		s.deliver(ctx, SourceHeartRate, buf)
	})
}

func (s *Sensor) startStreams(control bluetooth.DeviceCharacteristic) error {
	for _, stream := range s.streams {
		var req []byte
		switch stream {
		case pmd.MeasurementPPG:
			req = pmd.StartRequest(stream, pmd.PPGDefaultSettings())
		case pmd.MeasurementACC:
			req = pmd.StartRequest(stream, pmd.ACCDefaultSettings())
		default:
			return fmt.Errorf("transport: no start settings for stream %s", stream)
		}
		if _, err := control.WriteWithoutResponse(req); err != nil {
			return fmt.Errorf("start %s stream: %w", stream, err)
		}
		s.log.Infow("stream started", "stream", stream.String())
	}
	return nil
}

func (s *Sensor) stopStreams(control bluetooth.DeviceCharacteristic) {
	for _, stream := range s.streams {
		if _, err := control.WriteWithoutResponse(pmd.StopRequest(stream)); err != nil {
			s.log.Warnw("stop stream", "stream", stream.String(), "err", err)
		}
	}
}

// deliver copies the notification payload out of the stack the BLE callback
// runs on; the stack may be reused as soon as the callback returns.
func (s *Sensor) deliver(ctx context.Context, source Source, buf []byte) {
	payload := append([]byte(nil), buf...)
	select {
	case s.out <- Notification{Source: source, Payload: payload, At: time.Now()}:
	case <-ctx.Done():
	}
}

func discoverPMD(device *bluetooth.Device) (control, data bluetooth.DeviceCharacteristic, err error) {
	srvcs, err := device.DiscoverServices([]bluetooth.UUID{pmdServiceUUID})
	if err != nil {
		return control, data, fmt.Errorf("discover PMD service: %w", err)
	}
	if len(srvcs) == 0 {
		return control, data, errors.New("transport: PMD service not found")
	}
	chars, err := srvcs[0].DiscoverCharacteristics([]bluetooth.UUID{pmdControlUUID, pmdDataUUID})
	if err != nil {
		return control, data, fmt.Errorf("discover PMD characteristics: %w", err)
	}
	if len(chars) < 2 {
		return control, data, errors.New("transport: PMD characteristics not found")
	}
	return chars[0], chars[1], nil
}

func readBatteryLevel(device *bluetooth.Device) (uint8, error) {
	srvcs, err := device.DiscoverServices([]bluetooth.UUID{bluetooth.ServiceUUIDBattery})
	if err != nil {
		return 0, err
	}
	if len(srvcs) == 0 {
		return 0, errors.New("transport: battery service not found")
	}
	chars, err := srvcs[0].DiscoverCharacteristics([]bluetooth.UUID{bluetooth.CharacteristicUUIDBatteryLevel})
	if err != nil {
		return 0, err
	}
	if len(chars) == 0 {
		return 0, errors.New("transport: battery characteristic not found")
	}
	var buf [1]byte
	n, err := chars[0].Read(buf[:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.New("transport: empty battery read")
	}
	return buf[0], nil
}

func (s *Sensor) sleepBackoff(ctx context.Context, attempt int) {
	wait := min(s.reconnect*time.Duration(attempt), s.reconnectMax)
	timer := time.NewTimer(wait)
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	timer.Stop()
}
