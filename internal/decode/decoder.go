// Package decode wraps decoder backends behind a synchronization engine:
// timestamp repair, framedrop control, timeline segment switching, backward
// playback and cover-art handling all live here, between the packet source
// and the rest of the pipeline.
package decode

import (
	"errors"

	"github.com/zsiec/tempo/media"
)

// ErrAgain signals that the call cannot make progress until the opposite
// half of the send/receive pair runs.
var ErrAgain = errors.New("decode: try again")

// Status is the result of one Process step. The caller owns the
// re-invocation loop.
type Status int

const (
	// StatusIdle means nothing changed; call again after external state
	// moved (output consumed, options changed).
	StatusIdle Status = iota
	// StatusProgress means state advanced; call Process again immediately.
	StatusProgress
	// StatusNeedsInput means the packet source had nothing; call again
	// once it does.
	StatusNeedsInput
	// StatusFailed means the stream is dead until a seek reset.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusProgress:
		return "progress"
	case StatusNeedsInput:
		return "needs-input"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PacketSource is the demuxer-side collaborator. Pull never blocks: it
// returns a packet frame, an EOF frame, or a None frame when starved.
type PacketSource interface {
	Pull() media.Frame
}

// Decoder is one decoder backend. Implementations are black boxes with
// libavcodec-style send/receive semantics.
type Decoder interface {
	// Send queues one packet, or begins a drain when pkt is nil. ErrAgain
	// means Receive must run first; the packet was not consumed.
	Send(pkt *media.Packet) error
	// Receive returns one decoded frame. ErrAgain means a packet must be
	// sent first; io.EOF means a drain finished. Any other error is a
	// decoding failure for which a retry is allowed.
	Receive() (media.Frame, error)
	// Reset drops all buffered state, preparing for a discontinuity.
	Reset()
	Close()
}

// Framedrop directives passed to decoders that can skip work.
type Framedrop int

const (
	FramedropNone     Framedrop = iota
	FramedropStandard           // drop non-reference frames
	FramedropHRSeek             // decode as fast as possible, discard output
)

// FramedropSetter is implemented by decoders that honor framedrop
// directives.
type FramedropSetter interface {
	SetFramedrop(mode Framedrop)
}

// BFrameCounter is implemented by decoders that can report their reorder
// delay in frames, needed for AVI-style timestamp compensation.
type BFrameCounter interface {
	BFrames() int
}

// CaptionSink receives A53 closed-caption payloads peeled off decoded
// video frames, stamped with the frame's (uncorrected) timestamps.
type CaptionSink interface {
	FeedCaption(pts, dts float64, data []byte)
}
