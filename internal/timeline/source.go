package timeline

import (
	"context"
	"log/slog"

	"github.com/zsiec/tempo/media"
)

// Stream is the pull feed of one elementary stream within a segment.
// mpegts.Track satisfies it.
type Stream interface {
	Pull() media.Frame
}

// Waiter is implemented by streams that can block until data is queued.
type Waiter interface {
	Wait(ctx context.Context) error
}

// SegmentStream binds one parsed segment to the packet feed serving it.
type SegmentStream struct {
	Stream Stream
	Codec  *media.Codec
	// Start is the in point in source time; NoPTS means 0.
	Start float64
	// Length in seconds; 0 means to the stream's end (final segment only).
	Length float64
}

// Source stitches segment streams into one timeline-ordered packet feed.
// Packets come out with presentation times rebased to the timeline, the
// segment window in Start/End, and a codec pointer that is shared across
// segments whose parameters match, so decoders only reinitialize on real
// codec changes.
type Source struct {
	log  *slog.Logger
	segs []SegmentStream
	idx  int
	pos  float64 // timeline position of the current segment's start
}

// Option configures a Source.
type Option func(*Source)

// WithLogger sets the source's logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Source) { s.log = log }
}

// NewSource builds the stitched source. Adjacent segments with matching
// codec parameters are rewritten to share one *media.Codec.
func NewSource(segs []SegmentStream, opts ...Option) *Source {
	s := &Source{log: slog.Default(), segs: segs}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "timeline")
	for i := 1; i < len(s.segs); i++ {
		if sameCodec(s.segs[i].Codec, s.segs[i-1].Codec) {
			s.segs[i].Codec = s.segs[i-1].Codec
		}
	}
	return s
}

// Pull returns the next packet in timeline order. Segment-end EOFs are
// swallowed; only the final segment's EOF is forwarded.
func (s *Source) Pull() media.Frame {
	for {
		if s.idx >= len(s.segs) {
			return media.EOFFrame()
		}
		seg := &s.segs[s.idx]

		f := seg.Stream.Pull()
		if f.IsNone() {
			return f
		}
		if f.Type() == media.FrameEOF {
			if !s.advance("eof") {
				return f
			}
			continue
		}

		pkt := f.Packet()
		if pkt == nil {
			s.log.Error("segment stream produced a non-packet frame",
				"segment", s.idx, "type", f.Type().String())
			continue
		}

		// A keyframe at or past the out point ends the segment. Earlier
		// non-keyframe packets may still reorder to inside the window, so
		// they flow through and the decoder clips them.
		srcStart := seg.Start
		if !media.HasPTS(srcStart) {
			srcStart = 0
		}
		if seg.Length > 0 && pkt.Keyframe && media.HasPTS(pkt.PTS) &&
			pkt.PTS >= srcStart+seg.Length {
			if s.advance("out point") {
				continue
			}
			return media.EOFFrame()
		}

		offset := s.pos - srcStart
		if media.HasPTS(pkt.PTS) {
			pkt.PTS += offset
		}
		if media.HasPTS(pkt.DTS) {
			pkt.DTS += offset
		}
		pkt.Segmented = true
		pkt.Codec = seg.Codec
		pkt.Start = s.pos
		if seg.Length > 0 {
			pkt.End = s.pos + seg.Length
		} else {
			pkt.End = media.NoPTS
		}
		return f
	}
}

// Wait blocks until the current segment's stream has data, when the stream
// supports waiting.
func (s *Source) Wait(ctx context.Context) error {
	if s.idx >= len(s.segs) {
		return nil
	}
	if w, ok := s.segs[s.idx].Stream.(Waiter); ok {
		return w.Wait(ctx)
	}
	return nil
}

// advance moves to the next segment and reports whether one exists.
func (s *Source) advance(reason string) bool {
	seg := s.segs[s.idx]
	if s.idx == len(s.segs)-1 {
		s.idx++
		return false
	}
	s.pos += seg.Length
	s.idx++
	s.log.Info("timeline segment switch",
		"segment", s.idx, "timeline_pos", s.pos, "reason", reason)
	return true
}

// sameCodec reports whether two codec configurations are interchangeable
// for decoding purposes.
func sameCodec(a, b *media.Codec) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Kind == b.Kind && a.Name == b.Name &&
		a.W == b.W && a.H == b.H && a.FPS == b.FPS && a.Delay == b.Delay &&
		a.SampleRate == b.SampleRate && a.Channels == b.Channels &&
		a.SampleFormat == b.SampleFormat
}
