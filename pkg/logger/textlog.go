package logger

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"verity/pkg/engine"
	"verity/pkg/pmd"
)

// StreamLog writes one append-only text file per measurement type, named
// <record id>-<stream>.txt, with one record per sample:
//
//	[timestamp_us, v1, v2, ...]
//
// Records are flushed as they are written so a crash loses at most the line
// being formatted.
type StreamLog struct {
	dir      string
	recordID int
	files    map[pmd.MeasurementType]*streamFile
}

type streamFile struct {
	f *os.File
	w *bufio.Writer
}

func NewStreamLog(dir string, recordID int) (*StreamLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &StreamLog{
		dir:      dir,
		recordID: recordID,
		files:    make(map[pmd.MeasurementType]*streamFile),
	}, nil
}

// Path returns the log file path for one stream.
func (l *StreamLog) Path(t pmd.MeasurementType) string {
	return filepath.Join(l.dir, fmt.Sprintf("%d-%s.txt", l.recordID, t))
}

// Write appends every sample of a record to its stream's file, opening the
// file on first use.
func (l *StreamLog) Write(record engine.Record) error {
	if len(record.Samples) == 0 {
		return nil
	}
	sf, err := l.file(record.Stream)
	if err != nil {
		return err
	}
	for _, sample := range record.Samples {
		writeRecordLine(sf.w, sample)
	}
	return sf.w.Flush()
}

// Consume drains a hub subscription until the context ends or the channel
// closes. Write errors are returned immediately; the caller owns retry
// policy, which for a local log file is to give up.
func (l *StreamLog) Consume(ctx context.Context, in <-chan engine.Record) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case record, ok := <-in:
			if !ok {
				return nil
			}
			if err := l.Write(record); err != nil {
				return err
			}
		}
	}
}

// Close flushes and closes every open stream file.
func (l *StreamLog) Close() error {
	var firstErr error
	for _, sf := range l.files {
		if err := sf.w.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := sf.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.files = make(map[pmd.MeasurementType]*streamFile)
	return firstErr
}

func (l *StreamLog) file(t pmd.MeasurementType) (*streamFile, error) {
	if sf, ok := l.files[t]; ok {
		return sf, nil
	}
	f, err := os.OpenFile(l.Path(t), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open stream log: %w", err)
	}
	sf := &streamFile{f: f, w: bufio.NewWriter(f)}
	l.files[t] = sf
	return sf, nil
}

func writeRecordLine(w *bufio.Writer, sample pmd.Sample) {
	w.WriteByte('[')
	w.WriteString(strconv.FormatInt(sample.TimestampUS, 10))
	for _, v := range sample.Values {
		w.WriteString(", ")
		w.WriteString(strconv.FormatInt(v, 10))
	}
	w.WriteString("]\n")
}
