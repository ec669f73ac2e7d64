package media

// CodecKind classifies an elementary stream.
type CodecKind int

const (
	KindVideo CodecKind = iota
	KindAudio
)

func (k CodecKind) String() string {
	if k == KindAudio {
		return "audio"
	}
	return "video"
}

// Codec carries the stream-level decoder parameters for one elementary
// stream. Identity matters: decoder reinitialization across timeline
// segments compares Codec by pointer, so a segment that changes codec must
// hand packets a different *Codec.
type Codec struct {
	Kind CodecKind
	// Name is the codec identifier ("h264", "ac3", "lpcm", ...).
	Name string

	// FPS is the container frame rate for video, 0 when unknown.
	FPS float64
	// W, H are the coded picture dimensions for video, 0 when unknown.
	W, H int
	// Delay is the stream's frame reorder depth (B-frame delay) when the
	// container signals it, 0 otherwise.
	Delay int

	SampleRate   int
	Channels     int
	SampleFormat SampleFormat

	// AVIDTS marks containers that store decode timestamps in the PTS
	// field (AVI-style), requiring B-frame delay compensation.
	AVIDTS bool
	// AttachedPicture marks a cover-art stream: a single picture that must
	// decode exactly once per seek.
	AttachedPicture bool
	// MissingTimestamps marks containers that provide no timestamps at all.
	MissingTimestamps bool
}

// Packet is one compressed access unit handed to a decoder.
type Packet struct {
	PTS      float64
	DTS      float64
	Duration float64
	Keyframe bool
	Data     []byte

	// Codec identifies the segment's decoder configuration; see Codec.
	Codec *Codec

	// Segment window, set by sources that stitch timeline segments. The
	// window is start-inclusive, end-exclusive. Either bound may be NoPTS.
	Segmented bool
	Start     float64
	End       float64

	// Backward-demux marks.
	BackRestart bool // first packet of a restarted keyframe group
	BackPreroll bool // decode-and-discard packet preceding the group
}

// ApproxSize estimates the memory held by the packet in bytes.
func (p *Packet) ApproxSize() int { return frameOverhead + len(p.Data) }
