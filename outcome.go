package dissect

import (
	"errors"
	"fmt"
)

// TruncatedError reports a frame shorter than a header demanded. Shortfall is
// requested minus available bytes. Layer is filled in by the decoder that hit
// the short read; the Cursor itself only knows the shortfall.
type TruncatedError struct {
	Layer     LayerKind
	Shortfall int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("truncated at %s layer, %d bytes short", e.Layer, e.Shortfall)
}

// MalformedError reports a header that is self-inconsistent, for example a
// declared length below the protocol minimum or beyond the captured bytes.
type MalformedError struct {
	Layer  LayerKind
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s header: %s", e.Layer, e.Reason)
}

// atLayer stamps the failing layer onto decode errors that bubbled up from
// the cursor without one.
func atLayer(err error, kind LayerKind) error {
	var te *TruncatedError
	if errors.As(err, &te) && te.Layer == 0 {
		te.Layer = kind
	}
	var me *MalformedError
	if errors.As(err, &me) && me.Layer == 0 {
		me.Layer = kind
	}
	return err
}

// Verdict classifies the outcome of dispatching one frame.
type Verdict uint8

const (
	// VerdictDecoded means every layer down to transport was parsed.
	VerdictDecoded Verdict = iota + 1
	// VerdictTruncated means the capture ended inside a header.
	VerdictTruncated
	// VerdictUnsupported means a protocol id had no registered decoder. Not
	// a failure; everything decoded before it is retained.
	VerdictUnsupported
	// VerdictMalformed means a header contradicted itself.
	VerdictMalformed
)

func (v Verdict) String() string {
	switch v {
	case VerdictDecoded:
		return "decoded"
	case VerdictTruncated:
		return "truncated"
	case VerdictUnsupported:
		return "unsupported"
	case VerdictMalformed:
		return "malformed"
	}
	return "unknown"
}

// Result is the outcome of dispatching a single frame. Exactly one verdict is
// set per frame. Layers holds every fully decoded LayerRecord, including the
// ones completed before a truncation or malformation ended the dispatch.
type Result struct {
	Verdict Verdict
	Layers  []LayerRecord

	// FailedLayer and Shortfall are set for VerdictTruncated; FailedLayer
	// and Reason for VerdictMalformed; Protocol for VerdictUnsupported.
	FailedLayer LayerKind
	Shortfall   int
	Reason      string
	Protocol    uint16
}

// HeaderEnd returns the offset just past the last decoded header, which is
// where the undecoded payload begins. Zero when nothing was decoded.
func (r Result) HeaderEnd() int {
	if n := len(r.Layers); n > 0 {
		return r.Layers[n-1].End
	}
	return 0
}

// Layer returns the record for the given kind, or false if that layer was
// not reached.
func (r Result) Layer(kind LayerKind) (LayerRecord, bool) {
	for _, l := range r.Layers {
		if l.Kind == kind {
			return l, true
		}
	}
	return LayerRecord{}, false
}

func (r Result) String() string {
	switch r.Verdict {
	case VerdictTruncated:
		return fmt.Sprintf("truncated at %s layer (%d bytes short)", r.FailedLayer, r.Shortfall)
	case VerdictMalformed:
		return fmt.Sprintf("malformed %s header: %s", r.FailedLayer, r.Reason)
	case VerdictUnsupported:
		return fmt.Sprintf("unsupported protocol 0x%04x", r.Protocol)
	}
	return r.Verdict.String()
}
