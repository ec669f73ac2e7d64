// Package media defines the frame and packet types that flow through the
// tempo playback pipeline, from demuxing through decode to audio output.
package media

// FrameType discriminates the payload carried by a Frame.
type FrameType int

const (
	// FrameNone is the zero Frame: no data available.
	FrameNone FrameType = iota
	// FramePacket carries one compressed access unit.
	FramePacket
	// FrameVideo carries one decoded picture.
	FrameVideo
	// FrameAudio carries one block of decoded audio samples.
	FrameAudio
	// FrameEOF marks the end of a stream or segment. It is data like any
	// other frame: it travels through pins and must not be dropped.
	FrameEOF
)

func (t FrameType) String() string {
	switch t {
	case FrameNone:
		return "none"
	case FramePacket:
		return "packet"
	case FrameVideo:
		return "video"
	case FrameAudio:
		return "audio"
	case FrameEOF:
		return "eof"
	default:
		return "unknown"
	}
}

// Frame is the tagged union moving between pipeline stages. A Frame has a
// single owner; handing it to a pin or sink transfers ownership. The zero
// value is FrameNone.
type Frame struct {
	typ FrameType
	pkt *Packet
	vid *VideoFrame
	aud *AudioFrame
}

// FromPacket wraps a compressed packet.
func FromPacket(p *Packet) Frame { return Frame{typ: FramePacket, pkt: p} }

// FromVideo wraps a decoded picture.
func FromVideo(v *VideoFrame) Frame { return Frame{typ: FrameVideo, vid: v} }

// FromAudio wraps a block of decoded audio.
func FromAudio(a *AudioFrame) Frame { return Frame{typ: FrameAudio, aud: a} }

// EOFFrame returns an end-of-stream marker frame.
func EOFFrame() Frame { return Frame{typ: FrameEOF} }

// Type returns the payload discriminant.
func (f Frame) Type() FrameType { return f.typ }

// IsNone reports whether the frame carries no data.
func (f Frame) IsNone() bool { return f.typ == FrameNone }

// Packet returns the packet payload, or nil if the frame is not a packet.
func (f Frame) Packet() *Packet {
	if f.typ != FramePacket {
		return nil
	}
	return f.pkt
}

// Video returns the picture payload, or nil if the frame is not video.
func (f Frame) Video() *VideoFrame {
	if f.typ != FrameVideo {
		return nil
	}
	return f.vid
}

// Audio returns the audio payload, or nil if the frame is not audio.
func (f Frame) Audio() *AudioFrame {
	if f.typ != FrameAudio {
		return nil
	}
	return f.aud
}

// PTS returns the payload's presentation timestamp, or NoPTS for frames
// that carry none (FrameNone, FrameEOF).
func (f Frame) PTS() float64 {
	switch f.typ {
	case FramePacket:
		return f.pkt.PTS
	case FrameVideo:
		return f.vid.PTS
	case FrameAudio:
		return f.aud.PTS
	}
	return NoPTS
}

// SetPTS rewrites the payload's presentation timestamp. It is a no-op for
// frames that carry none.
func (f Frame) SetPTS(pts float64) {
	switch f.typ {
	case FramePacket:
		f.pkt.PTS = pts
	case FrameVideo:
		f.vid.PTS = pts
	case FrameAudio:
		f.aud.PTS = pts
	}
}

// ApproxSize estimates the memory held by the frame's payload in bytes.
// Byte budgets (such as the backward-playback queue) use this estimate.
func (f Frame) ApproxSize() int {
	switch f.typ {
	case FramePacket:
		return f.pkt.ApproxSize()
	case FrameVideo:
		return f.vid.ApproxSize()
	case FrameAudio:
		return f.aud.ApproxSize()
	}
	return 0
}
