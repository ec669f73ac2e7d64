package decode

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/tempo/media"
)

// lpcmDecoder handles linear PCM streams: the packet payload already is
// interleaved samples, so decoding reduces to wrapping the bytes in an
// audio frame with the stream's layout.
type lpcmDecoder struct {
	log    *slog.Logger
	format media.AudioFormat

	out      *media.AudioFrame
	draining bool
}

func newLPCM(codec *media.Codec, log *slog.Logger) (Decoder, error) {
	format := media.AudioFormat{
		Format:   codec.SampleFormat,
		Rate:     codec.SampleRate,
		Channels: codec.Channels,
	}
	if format.Format == media.SampleSPDIF {
		return nil, fmt.Errorf("lpcm: passthrough format on %q", codec.Name)
	}
	if !format.Valid() {
		return nil, fmt.Errorf("lpcm: stream %q carries no PCM layout", codec.Name)
	}
	return &lpcmDecoder{
		log:    log.With("decoder", "lpcm"),
		format: format,
	}, nil
}

func (d *lpcmDecoder) Send(pkt *media.Packet) error {
	if d.out != nil || d.draining {
		return ErrAgain
	}
	if pkt == nil {
		d.draining = true
		return nil
	}

	stride := d.format.SampleStride()
	samples := len(pkt.Data) / stride
	if samples*stride != len(pkt.Data) {
		d.log.Debug("dropping partial sample at packet end",
			"bytes", len(pkt.Data)-samples*stride)
	}

	d.out = &media.AudioFrame{
		PTS:     pkt.PTS,
		Format:  d.format,
		Samples: samples,
		Planes:  [][]byte{pkt.Data[:samples*stride]},
	}
	return nil
}

func (d *lpcmDecoder) Receive() (media.Frame, error) {
	if d.out != nil {
		f := media.FromAudio(d.out)
		d.out = nil
		return f, nil
	}
	if d.draining {
		return media.Frame{}, io.EOF
	}
	return media.Frame{}, ErrAgain
}

func (d *lpcmDecoder) Reset() {
	d.out = nil
	d.draining = false
}

func (d *lpcmDecoder) Close() {}
