package media

// SampleFormat identifies the in-memory encoding of one audio sample.
type SampleFormat int

const (
	SampleNone SampleFormat = iota
	SampleU8
	SampleS16
	SampleS32
	SampleFloat
	SampleDouble
	// SampleSPDIF carries IEC 61937 bursts disguised as 16-bit samples for
	// compressed passthrough. The payload is opaque to sample-level code.
	SampleSPDIF
)

func (f SampleFormat) String() string {
	switch f {
	case SampleU8:
		return "u8"
	case SampleS16:
		return "s16"
	case SampleS32:
		return "s32"
	case SampleFloat:
		return "float"
	case SampleDouble:
		return "double"
	case SampleSPDIF:
		return "spdif"
	default:
		return "none"
	}
}

// Bytes returns the size of one sample for one channel.
func (f SampleFormat) Bytes() int {
	switch f {
	case SampleU8:
		return 1
	case SampleS16, SampleSPDIF:
		return 2
	case SampleS32, SampleFloat:
		return 4
	case SampleDouble:
		return 8
	default:
		return 0
	}
}

// silenceByte is the byte pattern representing digital silence. Unsigned
// 8-bit audio centers at 0x80; every other format is silent at zero.
func (f SampleFormat) silenceByte() byte {
	if f == SampleU8 {
		return 0x80
	}
	return 0
}

// AudioFormat describes the sample layout of a PCM or passthrough stream.
type AudioFormat struct {
	Format   SampleFormat
	Rate     int
	Channels int
	Planar   bool
}

// Valid reports whether the format is fully specified.
func (a AudioFormat) Valid() bool {
	return a.Format != SampleNone && a.Rate > 0 && a.Channels > 0
}

// NumPlanes returns the number of data planes: one per channel for planar
// layouts, a single interleaved plane otherwise.
func (a AudioFormat) NumPlanes() int {
	if a.Planar {
		return a.Channels
	}
	return 1
}

// SampleStride returns the byte distance between consecutive samples within
// one plane.
func (a AudioFormat) SampleStride() int {
	s := a.Format.Bytes()
	if !a.Planar {
		s *= a.Channels
	}
	return s
}

// BPS returns the per-plane data rate in bytes per second.
func (a AudioFormat) BPS() int { return a.Rate * a.SampleStride() }

// Equal reports whether two formats match exactly.
func (a AudioFormat) Equal(b AudioFormat) bool { return a == b }

// FillSilence overwrites dst with digital silence for the format.
func (a AudioFormat) FillSilence(dst []byte) {
	b := a.Format.silenceByte()
	for i := range dst {
		dst[i] = b
	}
}

// AudioFrame is one block of decoded (or passthrough) audio samples.
type AudioFrame struct {
	PTS     float64
	Format  AudioFormat
	Samples int
	// Planes holds Format.NumPlanes() slices of Samples*SampleStride bytes.
	Planes [][]byte
}

// NewAudioFrame allocates a frame with zeroed planes for the given format.
func NewAudioFrame(format AudioFormat, samples int) *AudioFrame {
	f := &AudioFrame{
		PTS:     NoPTS,
		Format:  format,
		Samples: samples,
		Planes:  make([][]byte, format.NumPlanes()),
	}
	for i := range f.Planes {
		f.Planes[i] = make([]byte, samples*format.SampleStride())
	}
	return f
}

// Duration returns the frame length in seconds.
func (a *AudioFrame) Duration() float64 {
	if a.Format.Rate <= 0 {
		return 0
	}
	return float64(a.Samples) / float64(a.Format.Rate)
}

// ApproxSize estimates the memory held by the frame in bytes.
func (a *AudioFrame) ApproxSize() int {
	n := frameOverhead
	for _, p := range a.Planes {
		n += len(p)
	}
	return n
}

// Clip trims the frame to the half-open window [start, end). The end clip
// truncates trailing samples; the start clip drops leading samples and moves
// PTS forward to match. A frame entirely before start collapses to zero
// samples with its PTS advanced to the old frame end. Frames without a PTS
// or a sample rate are left alone.
func (a *AudioFrame) Clip(start, end float64) {
	if !HasPTS(a.PTS) || a.Format.Rate <= 0 {
		return
	}
	rate := float64(a.Format.Rate)
	frameEnd := a.PTS + float64(a.Samples)/rate

	if HasPTS(end) && frameEnd >= end {
		if a.PTS >= end {
			a.setSamples(0)
		} else {
			keep := int((end - a.PTS) * rate)
			if keep < 0 {
				keep = 0
			}
			if keep < a.Samples {
				a.setSamples(keep)
			}
		}
	}
	if HasPTS(start) && a.PTS < start {
		if frameEnd <= start {
			a.setSamples(0)
			a.PTS = frameEnd
		} else {
			skip := int((start - a.PTS) * rate)
			if skip < 0 {
				skip = 0
			}
			if skip > a.Samples {
				skip = a.Samples
			}
			a.skipSamples(skip)
		}
	}
}

// setSamples truncates the frame to n samples, shrinking each plane.
func (a *AudioFrame) setSamples(n int) {
	stride := a.Format.SampleStride()
	for i := range a.Planes {
		if want := n * stride; want <= len(a.Planes[i]) {
			a.Planes[i] = a.Planes[i][:want]
		}
	}
	a.Samples = n
}

// skipSamples drops n samples from the front and advances PTS accordingly.
func (a *AudioFrame) skipSamples(n int) {
	stride := a.Format.SampleStride()
	for i := range a.Planes {
		if off := n * stride; off <= len(a.Planes[i]) {
			a.Planes[i] = a.Planes[i][off:]
		}
	}
	a.Samples -= n
	if a.Format.Rate > 0 {
		a.PTS += float64(n) / float64(a.Format.Rate)
	}
}

// Reverse flips the sample order in place, used when a decoded frame must
// play backward. Channel interleaving within a sample is preserved.
func (a *AudioFrame) Reverse() {
	stride := a.Format.SampleStride()
	if stride <= 0 {
		return
	}
	tmp := make([]byte, stride)
	for _, plane := range a.Planes {
		n := len(plane) / stride
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			x := plane[i*stride : (i+1)*stride]
			y := plane[j*stride : (j+1)*stride]
			copy(tmp, x)
			copy(x, y)
			copy(y, tmp)
		}
	}
}

// frameOverhead approximates per-frame bookkeeping for byte budgets.
const frameOverhead = 64
