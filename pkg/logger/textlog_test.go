package logger_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"verity/pkg/engine"
	"verity/pkg/logger"
	"verity/pkg/pmd"
)

func TestStreamLogWritesPythonStyleRecords(t *testing.T) {
	dir := t.TempDir()
	log, err := logger.NewStreamLog(dir, 7)
	if err != nil {
		t.Fatalf("new stream log: %v", err)
	}
	defer log.Close()

	err = log.Write(engine.Record{
		Stream: pmd.MeasurementACC,
		Samples: []pmd.Sample{
			{TimestampUS: 600000, Values: []int64{-12, 0, 34}},
			{TimestampUS: 619230, Values: []int64{-11, 1, 35}},
		},
	})
	if err != nil {
		t.Fatalf("write record: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "7-acc.txt"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	want := "[600000, -12, 0, 34]\n[619230, -11, 1, 35]\n"
	if string(data) != want {
		t.Fatalf("got %q want %q", data, want)
	}
}

func TestStreamLogSeparatesStreams(t *testing.T) {
	dir := t.TempDir()
	log, err := logger.NewStreamLog(dir, 1)
	if err != nil {
		t.Fatalf("new stream log: %v", err)
	}
	defer log.Close()

	streams := []pmd.MeasurementType{pmd.MeasurementPPG, pmd.MeasurementACC, pmd.MeasurementHR}
	for _, stream := range streams {
		err := log.Write(engine.Record{
			Stream:  stream,
			Samples: []pmd.Sample{{TimestampUS: 1, Values: []int64{42}}},
		})
		if err != nil {
			t.Fatalf("write %s: %v", stream, err)
		}
	}

	for _, name := range []string{"1-ppg.txt", "1-acc.txt", "1-hr.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
}

func TestStreamLogSkipsEmptyRecords(t *testing.T) {
	dir := t.TempDir()
	log, err := logger.NewStreamLog(dir, 1)
	if err != nil {
		t.Fatalf("new stream log: %v", err)
	}
	defer log.Close()

	if err := log.Write(engine.Record{Stream: pmd.MeasurementPPG}); err != nil {
		t.Fatalf("write empty record: %v", err)
	}
	if _, err := os.Stat(log.Path(pmd.MeasurementPPG)); !os.IsNotExist(err) {
		t.Fatalf("empty record must not create a file")
	}
}

func TestStreamLogConsume(t *testing.T) {
	dir := t.TempDir()
	log, err := logger.NewStreamLog(dir, 2)
	if err != nil {
		t.Fatalf("new stream log: %v", err)
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan engine.Record, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = log.Consume(ctx, ch)
	}()

	ch <- engine.Record{
		Stream:     pmd.MeasurementHR,
		Samples:    []pmd.Sample{{TimestampUS: 100, Values: []int64{68}}},
		ReceivedAt: time.Now(),
	}
	close(ch)
	wg.Wait()

	data, err := os.ReadFile(filepath.Join(dir, "2-hr.txt"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if string(data) != "[100, 68]\n" {
		t.Fatalf("got %q", data)
	}
}
