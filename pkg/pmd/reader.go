package pmd

import "fmt"

// Reader is a sequential, non-rewindable cursor over one notification
// payload. It pulls little-endian integers at byte granularity and unsigned
// integer runs at bit granularity. A Reader is single-use and not safe for
// concurrent calls.
type Reader struct {
	buf       []byte
	pos       int
	remaining int
	next      byte
	eof       bool
}

// NewReader wraps buf. The buffer must not be mutated while the Reader is in
// use.
func NewReader(buf []byte) *Reader {
	r := &Reader{buf: buf, remaining: len(buf)}
	r.advance()
	return r
}

func (r *Reader) advance() {
	if r.pos >= len(r.buf) {
		r.eof = true
		r.next = 0
		return
	}
	r.next = r.buf[r.pos]
	r.pos++
}

// PullByte returns the next byte, or ErrExhausted if none remain.
func (r *Reader) PullByte() (byte, error) {
	if r.remaining <= 0 {
		return 0, ErrExhausted
	}
	b := r.next
	r.remaining--
	r.advance()
	return b, nil
}

// Exhausted reports whether no further PullByte can succeed.
func (r *Reader) Exhausted() bool {
	return r.remaining <= 0
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return r.remaining
}

// PullFixed reads ceil(width/8) bytes little-endian, masks the result to
// width bits and sign-extends it using the two's-complement convention
// (v >= 2^(width-1) becomes v - 2^width). Width 64 is a plain full-word
// little-endian read. Supported widths are 8, 10, 16, 22 and 64.
func (r *Reader) PullFixed(width int) (int64, error) {
	switch width {
	case 8, 10, 16, 22, 64:
	default:
		return 0, fmt.Errorf("pmd: unsupported fixed width %d", width)
	}

	n := (width + 7) / 8
	var v uint64
	for i := 0; i < n; i++ {
		b, err := r.PullByte()
		if err != nil {
			return 0, err
		}
		v |= uint64(b) << (8 * i)
	}
	if width == 64 {
		return int64(v), nil
	}

	v &= (uint64(1) << width) - 1
	if v >= uint64(1)<<(width-1) {
		return int64(v) - int64(1)<<width, nil
	}
	return int64(v), nil
}

// PullTimestamp reads a 64-bit little-endian unsigned device-epoch timestamp
// in nanoseconds and returns it truncated to microseconds.
func (r *Reader) PullTimestamp() (int64, error) {
	v, err := r.PullFixed(64)
	if err != nil {
		return 0, err
	}
	return int64(uint64(v) / 1000), nil
}

// PullBitpacked extracts up to expectedCount unsigned bitSize-wide integers
// from a contiguous MSB-first bit stream. Whole bytes are shifted into an
// accumulator and values are taken from its most significant end. Extraction
// stops exactly at expectedCount; residual buffered bits are discarded and
// the cursor continues from the next whole byte.
//
// A short result (never an error, never a panic) means the buffer ran out
// mid-stream; callers must compare the returned length to expectedCount.
func (r *Reader) PullBitpacked(bitSize, expectedCount int) []uint64 {
	if bitSize < 1 || bitSize > 32 || expectedCount <= 0 {
		return nil
	}

	mask := (uint64(1) << bitSize) - 1
	out := make([]uint64, 0, expectedCount)

	var bitBuffer uint64
	bitCount := 0
	for r.remaining > 0 {
		b, _ := r.PullByte()
		bitBuffer = bitBuffer<<8 | uint64(b)
		bitCount += 8

		for bitCount >= bitSize {
			bitCount -= bitSize
			out = append(out, (bitBuffer>>bitCount)&mask)
			if len(out) == expectedCount {
				return out
			}
			bitBuffer &^= mask << bitCount
		}
	}
	return out
}
