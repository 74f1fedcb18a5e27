// Package nativemsg implements the browser native messaging wire format: each
// message is a 4-byte little-endian length followed by that many bytes of
// UTF-8 JSON.
//
// A [Reader] serves one consumer. A [Writer] may be shared by any number of
// goroutines; every frame goes out in a single Write call under a mutex so
// frames never interleave.
package nativemsg

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxMessageBytes is the largest payload accepted in either direction.
const MaxMessageBytes = 1 << 20

const headerLen = 4

var (
	// ErrMessageTooLarge is returned for a declared or actual payload length
	// above the limit. The payload of an oversized inbound frame is not read.
	ErrMessageTooLarge = errors.New("nativemsg: message too large")

	// ErrTruncated is returned when the stream ends inside a frame.
	ErrTruncated = errors.New("nativemsg: truncated frame")

	// ErrMalformed is returned when a payload is not valid JSON for the
	// target value.
	ErrMalformed = errors.New("nativemsg: malformed message")

	// ErrShortWrite is returned when the underlying writer accepted fewer
	// bytes than the frame length.
	ErrShortWrite = errors.New("nativemsg: short write")
)

// Option configures a [Reader] or [Writer].
type Option func(*options)

type options struct {
	max uint32
}

// WithMaxMessageBytes overrides [MaxMessageBytes].
func WithMaxMessageBytes(n uint32) Option {
	return func(o *options) {
		if n > 0 {
			o.max = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{max: MaxMessageBytes}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Reader decodes frames from an input stream.
type Reader struct {
	r   io.Reader
	max uint32
	hdr [headerLen]byte
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader, opts ...Option) *Reader {
	o := buildOptions(opts)
	return &Reader{r: r, max: o.max}
}

// ReadFrame blocks until one full frame has arrived and returns its payload.
// It returns io.EOF when the stream closes cleanly between frames.
func (r *Reader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(r.r, r.hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: header", ErrTruncated)
		}
		return nil, fmt.Errorf("nativemsg: read header: %w", err)
	}

	n := binary.LittleEndian.Uint32(r.hdr[:])
	if n > r.max {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrMessageTooLarge, n, r.max)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: payload of %d bytes", ErrTruncated, n)
		}
		return nil, fmt.Errorf("nativemsg: read payload: %w", err)
	}
	return payload, nil
}

// ReadMessage reads one frame and unmarshals it into v.
func (r *Reader) ReadMessage(v any) error {
	payload, err := r.ReadFrame()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}

// Writer encodes frames onto an output stream.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	max uint32
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer, opts ...Option) *Writer {
	o := buildOptions(opts)
	return &Writer{w: w, max: o.max}
}

// WriteFrame writes payload as one frame.
func (w *Writer) WriteFrame(payload []byte) error {
	if uint64(len(payload)) > uint64(w.max) {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLarge, len(payload), w.max)
	}
	buf := make([]byte, headerLen+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[headerLen:], payload)

	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.w.Write(buf)
	if err != nil {
		return fmt.Errorf("nativemsg: write: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(buf))
	}
	return nil
}

// WriteMessage marshals v and writes it as one frame.
func (w *Writer) WriteMessage(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("nativemsg: marshal: %w", err)
	}
	return w.WriteFrame(payload)
}
