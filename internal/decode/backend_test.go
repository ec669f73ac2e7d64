package decode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/zsiec/tempo/media"
)

func TestLPCM_DecodesInterleavedSamples(t *testing.T) {
	t.Parallel()
	c := pcmCodec()
	dec, err := newLPCM(c, testLogger())
	if err != nil {
		t.Fatalf("newLPCM: %v", err)
	}
	defer dec.Close()

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8} // 2 samples of s16 stereo
	if err := dec.Send(&media.Packet{PTS: 1.5, Data: data}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	f, err := dec.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	a := f.Audio()
	if a == nil {
		t.Fatal("expected an audio frame")
	}
	if a.PTS != 1.5 || a.Samples != 2 {
		t.Errorf("frame = %v pts %d samples, want 1.5 pts 2 samples", a.PTS, a.Samples)
	}
	if !bytes.Equal(a.Planes[0], data) {
		t.Errorf("plane = %v, want payload unchanged", a.Planes[0])
	}

	if _, err := dec.Receive(); !errors.Is(err, ErrAgain) {
		t.Errorf("second Receive error = %v, want ErrAgain", err)
	}
}

func TestLPCM_DropsPartialSample(t *testing.T) {
	t.Parallel()
	c := pcmCodec()
	dec, err := newLPCM(c, testLogger())
	if err != nil {
		t.Fatalf("newLPCM: %v", err)
	}
	defer dec.Close()

	if err := dec.Send(&media.Packet{Data: make([]byte, 10)}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	f, err := dec.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got := f.Audio().Samples; got != 2 {
		t.Errorf("samples = %d, want 2 with the partial tail dropped", got)
	}
}

func TestLPCM_DrainSignalsEOF(t *testing.T) {
	t.Parallel()
	dec, err := newLPCM(pcmCodec(), testLogger())
	if err != nil {
		t.Fatalf("newLPCM: %v", err)
	}
	defer dec.Close()

	if err := dec.Send(nil); err != nil {
		t.Fatalf("Send(nil): %v", err)
	}
	if _, err := dec.Receive(); !errors.Is(err, io.EOF) {
		t.Fatalf("Receive error = %v, want io.EOF", err)
	}

	dec.Reset()
	if _, err := dec.Receive(); !errors.Is(err, ErrAgain) {
		t.Errorf("after reset, Receive error = %v, want ErrAgain", err)
	}
}

func TestLPCM_RejectsStreamsWithoutLayout(t *testing.T) {
	t.Parallel()
	if _, err := newLPCM(&media.Codec{Kind: media.KindAudio, Name: "ac3"}, testLogger()); err == nil {
		t.Error("expected an init error for a stream without a PCM layout")
	}
}

func TestSPDIF_BurstLayout(t *testing.T) {
	t.Parallel()
	c := &media.Codec{Kind: media.KindAudio, Name: "ac3"}
	dec, err := newSPDIF(c, testLogger())
	if err != nil {
		t.Fatalf("newSPDIF: %v", err)
	}
	defer dec.Close()

	payload := bytes.Repeat([]byte{0xAB}, 100)
	if err := dec.Send(&media.Packet{PTS: 0.5, Data: payload}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	f, err := dec.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	a := f.Audio()
	burst := a.Planes[0]

	if len(burst) != 6144 {
		t.Fatalf("burst length = %d, want the 6144-byte AC-3 period", len(burst))
	}
	if got := binary.LittleEndian.Uint16(burst[0:]); got != spdifSyncPa {
		t.Errorf("Pa = %#x, want %#x", got, spdifSyncPa)
	}
	if got := binary.LittleEndian.Uint16(burst[2:]); got != spdifSyncPb {
		t.Errorf("Pb = %#x, want %#x", got, spdifSyncPb)
	}
	if got := binary.LittleEndian.Uint16(burst[4:]); got != 1 {
		t.Errorf("Pc data type = %d, want 1 for AC-3", got)
	}
	if got := binary.LittleEndian.Uint16(burst[6:]); got != uint16(len(payload)*8) {
		t.Errorf("Pd = %d bits, want %d", got, len(payload)*8)
	}
	if !bytes.Equal(burst[8:8+len(payload)], payload) {
		t.Error("payload not copied into the burst")
	}
	for _, b := range burst[8+len(payload):] {
		if b != 0 {
			t.Fatal("burst stuffing must be zeros")
		}
	}

	if a.Samples != 6144/4 {
		t.Errorf("samples = %d, want %d", a.Samples, 6144/4)
	}
}

func TestSPDIF_OversizedFrameRejected(t *testing.T) {
	t.Parallel()
	dec, err := newSPDIF(&media.Codec{Kind: media.KindAudio, Name: "mp3"}, testLogger())
	if err != nil {
		t.Fatalf("newSPDIF: %v", err)
	}
	defer dec.Close()

	err = dec.Send(&media.Packet{Data: make([]byte, 4608)})
	if err == nil || errors.Is(err, ErrAgain) {
		t.Fatalf("Send error = %v, want a decode error", err)
	}
	if _, err := dec.Receive(); !errors.Is(err, ErrAgain) {
		t.Errorf("Receive after rejected frame = %v, want ErrAgain", err)
	}
}

func TestVRaw_FramedropModes(t *testing.T) {
	t.Parallel()
	dec, err := newVRaw(rawVideoCodec(), testLogger())
	if err != nil {
		t.Fatalf("newVRaw: %v", err)
	}
	defer dec.Close()
	fd := dec.(FramedropSetter)

	decodeOne := func(key bool) bool {
		t.Helper()
		if err := dec.Send(&media.Packet{PTS: 0, Keyframe: key, Data: []byte{1}}); err != nil {
			t.Fatalf("Send: %v", err)
		}
		f, err := dec.Receive()
		if errors.Is(err, ErrAgain) {
			return false
		}
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		return !f.IsNone()
	}

	fd.SetFramedrop(FramedropNone)
	if !decodeOne(false) {
		t.Error("no framedrop: every packet decodes")
	}

	fd.SetFramedrop(FramedropStandard)
	if decodeOne(false) {
		t.Error("standard framedrop: non-keyframes are dropped")
	}
	if !decodeOne(true) {
		t.Error("standard framedrop: keyframes survive")
	}

	fd.SetFramedrop(FramedropHRSeek)
	if decodeOne(true) {
		t.Error("hr-seek framedrop: everything is dropped")
	}
}

func TestVRaw_ReportsReorderDelay(t *testing.T) {
	t.Parallel()
	c := rawVideoCodec()
	c.Delay = 3
	dec, err := newVRaw(c, testLogger())
	if err != nil {
		t.Fatalf("newVRaw: %v", err)
	}
	defer dec.Close()

	if got := dec.(BFrameCounter).BFrames(); got != 3 {
		t.Errorf("BFrames() = %d, want 3", got)
	}
}

func TestVRaw_ExtractsCaptionSEI(t *testing.T) {
	t.Parallel()
	c := &media.Codec{Kind: media.KindVideo, Name: "h264", FPS: 25}
	dec, err := newVRaw(c, testLogger())
	if err != nil {
		t.Fatalf("newVRaw: %v", err)
	}
	defer dec.Close()

	au := buildAccessUnit(buildCaptionSEINAL(0x14, 0x2C))
	if err := dec.Send(&media.Packet{PTS: 1, Keyframe: true, Data: au}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	f, err := dec.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	v := f.Video()
	if len(v.CC) != 1 {
		t.Fatalf("CC count = %d, want 1", len(v.CC))
	}
	if v.CC[0][0]&0x1F != nalTypeSEI {
		t.Errorf("CC entry is not an SEI NAL: header %#x", v.CC[0][0])
	}
}

func TestFindCaptionSEI(t *testing.T) {
	t.Parallel()
	capSEI := buildCaptionSEINAL(0x94, 0x20)

	tests := []struct {
		name string
		data []byte
		want int
	}{
		{"caption SEI found", buildAccessUnit(capSEI), 1},
		{"pic timing SEI ignored", buildAccessUnit(buildSEINAL(1, []byte{0x00, 0x01})), 0},
		{"non-SEI NALs ignored", buildAccessUnit([]byte{0x65, 0x88, 0x80}), 0},
		{"empty", nil, 0},
		{"two caption SEIs", append(buildAccessUnit(capSEI), buildAccessUnit(capSEI)...), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := findCaptionSEI(tt.data, false); len(got) != tt.want {
				t.Errorf("found %d caption SEIs, want %d", len(got), tt.want)
			}
		})
	}
}

func TestRegistry_SelectRespectsUserList(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register(Factory{Name: "alt", Desc: "alternate", Kind: media.KindVideo,
		New: newVRaw})

	got := r.Select(media.KindVideo, "raw", "")
	if len(got) != 2 || got[0].Name != "vraw" || got[1].Name != "alt" {
		t.Fatalf("default order = %v, want [vraw alt]", factoryNames(got))
	}

	got = r.Select(media.KindVideo, "raw", "alt,vraw")
	if len(got) != 2 || got[0].Name != "alt" {
		t.Fatalf("user order = %v, want [alt vraw]", factoryNames(got))
	}

	got = r.Select(media.KindVideo, "raw", "alt")
	if len(got) != 1 || got[0].Name != "alt" {
		t.Fatalf("user filter = %v, want [alt]", factoryNames(got))
	}

	got = r.Select(media.KindVideo, "raw", "nonsense")
	if len(got) != 0 {
		t.Fatalf("unknown names = %v, want none", factoryNames(got))
	}
}

func TestRegistry_SelectSPDIF(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	tests := []struct {
		name    string
		codec   string
		enabled string
		want    int
	}{
		{"enabled codec", "ac3", "ac3,dts", 1},
		{"not in list", "eac3", "ac3,dts", 0},
		{"empty list", "ac3", "", 0},
		{"dts-hd alias", "dts", "dts-hd", 1},
		{"ineligible codec", "opus", "opus", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := r.SelectSPDIF(tt.codec, tt.enabled)
			if len(got) != tt.want {
				t.Errorf("SelectSPDIF(%q, %q) = %d candidates, want %d",
					tt.codec, tt.enabled, len(got), tt.want)
			}
		})
	}
}

func TestRegistry_PassthroughHiddenFromSelect(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	for _, f := range r.Select(media.KindAudio, "ac3", "") {
		if f.Passthrough {
			t.Errorf("Select returned passthrough backend %q", f.Name)
		}
	}
}

func factoryNames(fs []Factory) []string {
	var names []string
	for _, f := range fs {
		names = append(names, f.Name)
	}
	return names
}

// buildSEINAL assembles an H.264 SEI NAL unit with one message.
func buildSEINAL(payloadType int, payload []byte) []byte {
	nal := []byte{0x06} // NAL header: type 6, NRI 0
	pt := payloadType
	for pt >= 255 {
		nal = append(nal, 0xFF)
		pt -= 255
	}
	nal = append(nal, byte(pt))
	ps := len(payload)
	for ps >= 255 {
		nal = append(nal, 0xFF)
		ps -= 255
	}
	nal = append(nal, byte(ps))
	nal = append(nal, payload...)
	nal = append(nal, 0x80) // RBSP stop bit
	return nal
}

// buildCaptionSEINAL wraps one CEA-608 byte pair in an A/53 GA94 SEI.
func buildCaptionSEINAL(cc1, cc2 byte) []byte {
	payload := []byte{
		countryCodeUS, 0x00, 0x31, 'G', 'A', '9', '4', userDataCC,
		0x40 | 0x01, // process_cc_data, cc_count=1
		0xFF,        // em_data
		0xFC, cc1, cc2,
		0xFF, // marker
	}
	return buildSEINAL(seiTypeITUT35, payload)
}

// buildAccessUnit prefixes each NAL with a 4-byte start code.
func buildAccessUnit(nals ...[]byte) []byte {
	var au []byte
	for _, nal := range nals {
		au = append(au, 0x00, 0x00, 0x00, 0x01)
		au = append(au, nal...)
	}
	return au
}
