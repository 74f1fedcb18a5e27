package host

import (
	"context"
	"io"
	"log/slog"

	"github.com/customcuts/whisperhost/internal/observe"
	"github.com/customcuts/whisperhost/internal/protocol"
	"github.com/customcuts/whisperhost/pkg/nativemsg"
)

// Channel carries protocol envelopes over a native messaging stream. Writes
// from the read loop and both workers are serialised by the underlying
// [nativemsg.Writer].
type Channel struct {
	r       *nativemsg.Reader
	w       *nativemsg.Writer
	log     *slog.Logger
	metrics *observe.Metrics
}

// NewChannel frames envelopes read from in and written to out. maxBytes caps
// frames in both directions; zero keeps the native messaging default.
func NewChannel(in io.Reader, out io.Writer, maxBytes int, log *slog.Logger, metrics *observe.Metrics) *Channel {
	var opts []nativemsg.Option
	if maxBytes > 0 {
		opts = append(opts, nativemsg.WithMaxMessageBytes(uint32(maxBytes)))
	}
	return &Channel{
		r:       nativemsg.NewReader(in, opts...),
		w:       nativemsg.NewWriter(out, opts...),
		log:     log,
		metrics: metrics,
	}
}

// ReadEnvelope blocks for the next inbound envelope. It returns io.EOF when
// the browser closes the stream.
func (c *Channel) ReadEnvelope() (protocol.Envelope, error) {
	var env protocol.Envelope
	if err := c.r.ReadMessage(&env); err != nil {
		return protocol.Envelope{}, err
	}
	return env, nil
}

// WriteEnvelope sends env as one frame. A failed or short write is logged
// and reported as false; the caller carries on.
func (c *Channel) WriteEnvelope(env protocol.Envelope) bool {
	if err := c.w.WriteMessage(env); err != nil {
		c.log.Error("failed to send message", "type", env.Type, "err", err)
		c.metrics.WriteFailures.Add(context.Background(), 1)
		return false
	}
	if env.Type != protocol.TypePong {
		c.log.Debug("sent message", "type", env.Type)
	}
	return true
}
