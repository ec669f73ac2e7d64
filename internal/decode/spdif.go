package decode

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/zsiec/tempo/media"
)

// spdifProfile fixes the IEC 61937 burst geometry for one codec: the
// repetition period in bytes, the transport sample rate, and the number of
// carrier channels. PCM-shaped bursts of exactly burstBytes each carry one
// compressed frame.
type spdifProfile struct {
	burstBytes int
	rate       int
	channels   int
	dataType   uint16 // IEC 61937-2 Pc burst-info data type
}

var spdifProfiles = map[string]spdifProfile{
	"ac3":    {burstBytes: 6144, rate: 48000, channels: 2, dataType: 1},
	"mp3":    {burstBytes: 4608, rate: 48000, channels: 2, dataType: 5},
	"aac":    {burstBytes: 16384, rate: 48000, channels: 2, dataType: 7},
	"dts":    {burstBytes: 32768, rate: 48000, channels: 2, dataType: 11},
	"eac3":   {burstBytes: 24576, rate: 192000, channels: 2, dataType: 21},
	"truehd": {burstBytes: 61440, rate: 192000, channels: 8, dataType: 22},
}

// spdifCodecs returns the passthrough-eligible codec names, sorted for
// stable registry metadata.
func spdifCodecs() []string {
	names := make([]string, 0, len(spdifProfiles))
	for name := range spdifProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IEC 61937 burst preamble sync words.
const (
	spdifSyncPa = 0xF872
	spdifSyncPb = 0x4E1F
)

// spdifDecoder re-frames compressed audio packets as IEC 61937 bursts so a
// PCM device can carry them to an external decoder. One packet becomes one
// burst; payloads that exceed the burst period are decode errors, not
// truncated output.
type spdifDecoder struct {
	log     *slog.Logger
	profile spdifProfile
	format  media.AudioFormat

	out      *media.AudioFrame
	draining bool
}

func newSPDIF(codec *media.Codec, log *slog.Logger) (Decoder, error) {
	profile, ok := spdifProfiles[codec.Name]
	if !ok {
		return nil, fmt.Errorf("spdif: codec %q has no burst profile", codec.Name)
	}
	return &spdifDecoder{
		log:     log.With("decoder", "spdif"),
		profile: profile,
		format: media.AudioFormat{
			Format:   media.SampleSPDIF,
			Rate:     profile.rate,
			Channels: profile.channels,
		},
	}, nil
}

func (d *spdifDecoder) Send(pkt *media.Packet) error {
	if d.out != nil || d.draining {
		return ErrAgain
	}
	if pkt == nil {
		d.draining = true
		return nil
	}

	burst, err := d.buildBurst(pkt.Data)
	if err != nil {
		return err
	}

	d.out = &media.AudioFrame{
		PTS:     pkt.PTS,
		Format:  d.format,
		Samples: d.profile.burstBytes / d.format.SampleStride(),
		Planes:  [][]byte{burst},
	}
	return nil
}

// buildBurst wraps one compressed frame in a data burst: the four 16-bit
// preamble words Pa Pb Pc Pd, the payload, then zero stuffing out to the
// repetition period.
func (d *spdifDecoder) buildBurst(payload []byte) ([]byte, error) {
	const preambleBytes = 8
	if len(payload)+preambleBytes > d.profile.burstBytes {
		return nil, fmt.Errorf("spdif: frame of %d bytes exceeds burst period %d",
			len(payload), d.profile.burstBytes)
	}

	burst := make([]byte, d.profile.burstBytes)
	binary.LittleEndian.PutUint16(burst[0:], spdifSyncPa)
	binary.LittleEndian.PutUint16(burst[2:], spdifSyncPb)
	binary.LittleEndian.PutUint16(burst[4:], d.profile.dataType)
	binary.LittleEndian.PutUint16(burst[6:], uint16(len(payload)*8))
	copy(burst[preambleBytes:], payload)
	return burst, nil
}

func (d *spdifDecoder) Receive() (media.Frame, error) {
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

func (d *spdifDecoder) Reset() {
	d.out = nil
	d.draining = false
}

func (d *spdifDecoder) Close() {}
