package decode

import (
	"io"
	"log/slog"

	"github.com/zsiec/tempo/media"
)

// vrawDecoder is the headless video backend: each packet is one picture
// and the payload travels untouched. It still does the decoder-side chores
// the pipeline depends on: framedrop directives, reorder-delay reporting
// for AVI-style streams, and peeling caption SEI NAL units out of H.264
// and H.265 access units.
type vrawDecoder struct {
	log   *slog.Logger
	codec *media.Codec
	annex bool // payload is an Annex B access unit worth scanning
	hevc  bool

	drop     Framedrop
	out      media.Frame
	draining bool
}

func newVRaw(codec *media.Codec, log *slog.Logger) (Decoder, error) {
	return &vrawDecoder{
		log:   log.With("decoder", "vraw"),
		codec: codec,
		annex: codec.Name == "h264" || codec.Name == "h265",
		hevc:  codec.Name == "h265",
	}, nil
}

func (d *vrawDecoder) Send(pkt *media.Packet) error {
	if !d.out.IsNone() || d.draining {
		return ErrAgain
	}
	if pkt == nil {
		d.draining = true
		return nil
	}

	// Framedrop consumes the packet without producing a picture.
	if d.drop == FramedropHRSeek || (d.drop == FramedropStandard && !pkt.Keyframe) {
		return nil
	}

	v := &media.VideoFrame{
		PTS:        pkt.PTS,
		DTS:        pkt.DTS,
		Keyframe:   pkt.Keyframe,
		Params:     media.ImageParams{W: d.codec.W, H: d.codec.H},
		NominalFPS: d.codec.FPS,
		Data:       pkt.Data,
	}
	if d.annex {
		v.CC = findCaptionSEI(pkt.Data, d.hevc)
	}
	d.out = media.FromVideo(v)
	return nil
}

func (d *vrawDecoder) Receive() (media.Frame, error) {
	if !d.out.IsNone() {
		f := d.out
		d.out = media.Frame{}
		return f, nil
	}
	if d.draining {
		return media.Frame{}, io.EOF
	}
	return media.Frame{}, ErrAgain
}

func (d *vrawDecoder) Reset() {
	d.out = media.Frame{}
	d.draining = false
}

func (d *vrawDecoder) Close() {}

func (d *vrawDecoder) SetFramedrop(mode Framedrop) { d.drop = mode }

func (d *vrawDecoder) BFrames() int { return d.codec.Delay }
