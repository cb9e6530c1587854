// Package loop pulls frames from a capture source, runs each one through a
// dissect.Dispatcher, and hands the outcome to a sink. One bad frame never
// ends the loop; only the source going away or cancellation does.
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gopacket/gopacket"
	log "github.com/sirupsen/logrus"

	dissect "github.com/netdissect/go-dissect"
)

// Source supplies raw frames. capture.Handle satisfies this, as does any
// gopacket.PacketDataSource. io.EOF means the capture ended cleanly;
// context.DeadlineExceeded means a poll timeout with nothing to read; any
// other error is fatal to the loop.
type Source interface {
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
}

// Sink receives each frame's metadata and decode outcome. All formatting and
// output policy belongs here, not in the loop. A sink error is logged and
// scoped to that frame.
type Sink interface {
	Consume(frame dissect.RawFrame, res dissect.Result) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(frame dissect.RawFrame, res dissect.Result) error

func (f SinkFunc) Consume(frame dissect.RawFrame, res dissect.Result) error {
	return f(frame, res)
}

// Loop is a single-threaded pull loop: one frame is fully decoded and sunk
// before the next is requested. Run independent Loops over independent
// sources for concurrent capture; the loop itself shares nothing between
// frames.
type Loop struct {
	source     Source
	sink       Sink
	dispatcher *dissect.Dispatcher
	logger     *log.Entry
	stats      Stats
}

// Option adjusts a Loop at construction.
type Option func(*Loop)

// WithDispatcher replaces the default protocol table.
func WithDispatcher(d *dissect.Dispatcher) Option {
	return func(l *Loop) { l.dispatcher = d }
}

// WithLogger replaces the default logrus entry.
func WithLogger(logger *log.Entry) Option {
	return func(l *Loop) { l.logger = logger }
}

// New builds a loop over source and sink with the default dispatcher.
func New(source Source, sink Sink, opts ...Option) *Loop {
	l := &Loop{
		source:     source,
		sink:       sink,
		dispatcher: dissect.NewDispatcher(),
		logger:     log.WithField("component", "loop"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Stats returns a snapshot of the loop's counters. Safe to call while Run is
// in flight.
func (l *Loop) Stats() Snapshot {
	return l.stats.snapshot()
}

// Run pulls frames until the source reports io.EOF, the context is canceled,
// or the source fails fatally. Per-frame decode failures are counted, logged
// and skipped. The cancellation check sits between frames; a single frame's
// decode is bounded by the frame's own length and needs no cancellation.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.logger.WithField("stats", l.Stats()).Debug("stopped")
			return ctx.Err()
		default:
		}

		data, ci, err := l.source.ReadPacketData()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				l.logger.WithField("stats", l.Stats()).Debug("end of capture")
				return nil
			case errors.Is(err, context.DeadlineExceeded):
				// poll timeout, nothing arrived; go around again
				continue
			case errors.Is(err, context.Canceled):
				return context.Canceled
			default:
				return fmt.Errorf("capture source failed: %w", err)
			}
		}

		frame := dissect.NewRawFrame(data, ci)
		res := l.dispatcher.Dispatch(frame)
		l.stats.record(res.Verdict)

		switch res.Verdict {
		case dissect.VerdictTruncated, dissect.VerdictMalformed:
			// frame-fatal only; the loop goes on
			l.logger.WithFields(log.Fields{
				"len":     frame.CaptureLength,
				"outcome": res.String(),
			}).Debug("frame not decoded")
		case dissect.VerdictUnsupported:
			l.logger.WithFields(log.Fields{
				"len":      frame.CaptureLength,
				"protocol": res.Protocol,
			}).Trace("unsupported protocol")
		}

		if err := l.sink.Consume(frame, res); err != nil {
			l.stats.sinkError()
			l.logger.WithError(err).Warn("sink rejected frame")
		}
	}
}
