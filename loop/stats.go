package loop

import (
	"sync/atomic"

	dissect "github.com/netdissect/go-dissect"
)

// Stats counts frames by outcome. Counters are atomic so a snapshot can be
// taken from another goroutine while the loop runs.
type Stats struct {
	frames      atomic.Int64
	decoded     atomic.Int64
	truncated   atomic.Int64
	malformed   atomic.Int64
	unsupported atomic.Int64
	sinkErrors  atomic.Int64
}

// Snapshot is a point-in-time copy of the loop counters.
type Snapshot struct {
	Frames      int64
	Decoded     int64
	Truncated   int64
	Malformed   int64
	Unsupported int64
	SinkErrors  int64
}

func (s *Stats) record(v dissect.Verdict) {
	s.frames.Add(1)
	switch v {
	case dissect.VerdictDecoded:
		s.decoded.Add(1)
	case dissect.VerdictTruncated:
		s.truncated.Add(1)
	case dissect.VerdictMalformed:
		s.malformed.Add(1)
	case dissect.VerdictUnsupported:
		s.unsupported.Add(1)
	}
}

func (s *Stats) sinkError() {
	s.sinkErrors.Add(1)
}

func (s *Stats) snapshot() Snapshot {
	return Snapshot{
		Frames:      s.frames.Load(),
		Decoded:     s.decoded.Load(),
		Truncated:   s.truncated.Load(),
		Malformed:   s.malformed.Load(),
		Unsupported: s.unsupported.Load(),
		SinkErrors:  s.sinkErrors.Load(),
	}
}
