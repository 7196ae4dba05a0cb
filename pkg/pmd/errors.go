package pmd

import "errors"

// All decode errors are fatal to the frame being decoded and harmless to the
// stream: the caller drops the frame and waits for the next notification.
var (
	// ErrExhausted reports that a fixed-width pull needed more bytes than
	// the buffer had left.
	ErrExhausted = errors.New("pmd: buffer exhausted")

	// ErrUnknownMeasurementType reports a header data-type tag outside the
	// known set.
	ErrUnknownMeasurementType = errors.New("pmd: unknown measurement type")

	// ErrUnsupportedFrameEncoding reports a recognized but undecodable
	// (measurement type, frame type) combination, e.g. a non-delta frame.
	ErrUnsupportedFrameEncoding = errors.New("pmd: unsupported frame encoding")

	// ErrTruncatedSubframe reports a sub-frame whose declared sample count
	// could not be fully unpacked. Samples emitted from earlier sub-frames
	// of the same frame remain valid.
	ErrTruncatedSubframe = errors.New("pmd: truncated sub-frame")
)
