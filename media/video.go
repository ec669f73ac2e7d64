package media

// ImageParams describes the geometry of a decoded picture.
type ImageParams struct {
	W, H int
}

// VideoFrame is one decoded picture. Built-in backends are headless, so
// Data may be nil when only timing matters; ApproxSize then estimates from
// the geometry as if the picture were 4:2:0.
type VideoFrame struct {
	PTS float64
	// DTS is the decode timestamp the decoder echoed back, NoPTS if the
	// container never carried one. Kept separate so timestamp correction can
	// fall back to it when presentation timestamps are unreliable.
	DTS      float64
	Params   ImageParams
	Keyframe bool
	// NominalFPS is the container frame rate the decoder saw, 0 if unknown.
	NominalFPS float64
	Data       []byte
	// CC holds the caption SEI NAL units the decoder found in this picture's
	// access unit, in bitstream order. Each entry starts at the NAL header
	// byte.
	CC [][]byte
}

// ApproxSize estimates the memory held by the picture in bytes.
func (v *VideoFrame) ApproxSize() int {
	n := frameOverhead
	for _, cc := range v.CC {
		n += len(cc)
	}
	if v.Data != nil {
		return n + len(v.Data)
	}
	return n + v.Params.W*v.Params.H*3/2
}
