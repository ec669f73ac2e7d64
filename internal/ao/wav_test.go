package ao

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zsiec/tempo/media"
)

func TestWAVDriver_RecordsPlayback(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.wav")
	format := media.AudioFormat{Format: media.SampleS16, Rate: 48000, Channels: 1}
	r := NewRegistry(discardLogger())
	o, err := r.InitBest(Config{Format: format, BufferSecs: 0.1}, "wav:"+path)
	if err != nil {
		t.Fatalf("InitBest: %v", err)
	}

	in := pattern(512 * o.SampleStride())
	if n := o.Play([][]byte{in}, 512); n != 512 {
		t.Fatalf("Play = %d, want 512", n)
	}
	// Give the paced writer a few callback periods (~10.7ms each).
	time.Sleep(150 * time.Millisecond)
	o.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading wav: %v", err)
	}
	if len(raw) < 44 {
		t.Fatalf("file too short: %d bytes", len(raw))
	}
	if string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" || string(raw[36:40]) != "data" {
		t.Fatal("missing RIFF/WAVE/data markers")
	}
	if tag := binary.LittleEndian.Uint16(raw[20:22]); tag != 1 {
		t.Errorf("format tag = %d, want 1 (PCM)", tag)
	}
	if ch := binary.LittleEndian.Uint16(raw[22:24]); ch != 1 {
		t.Errorf("channels = %d, want 1", ch)
	}
	if rate := binary.LittleEndian.Uint32(raw[24:28]); rate != 48000 {
		t.Errorf("rate = %d, want 48000", rate)
	}
	if bits := binary.LittleEndian.Uint16(raw[34:36]); bits != 16 {
		t.Errorf("bits = %d, want 16", bits)
	}

	dataLen := binary.LittleEndian.Uint32(raw[40:44])
	if int(dataLen) != len(raw)-44 {
		t.Errorf("data size = %d, file holds %d", dataLen, len(raw)-44)
	}
	if riffLen := binary.LittleEndian.Uint32(raw[4:8]); int(riffLen) != 36+int(dataLen) {
		t.Errorf("riff size = %d, want %d", riffLen, 36+int(dataLen))
	}
	if dataLen == 0 {
		t.Fatal("no audio captured")
	}

	// The first callback fetches our samples before any silence padding.
	data := raw[44:]
	for i := 0; i < len(in) && i < len(data); i++ {
		if data[i] != in[i] {
			t.Fatalf("data byte %d = %d, want %d", i, data[i], in[i])
		}
	}
}

func TestWAVDriver_RejectsPlanar(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.wav")
	planar := media.AudioFormat{Format: media.SampleFloat, Rate: 48000, Channels: 2, Planar: true}
	r := NewRegistry(discardLogger())
	if _, err := r.InitBest(Config{Format: planar}, "wav:"+path); err == nil {
		t.Fatal("InitBest accepted a planar format for wav")
	}
}

func TestWAVHeader_FloatTag(t *testing.T) {
	t.Parallel()

	hdr := wavHeader(media.AudioFormat{Format: media.SampleFloat, Rate: 44100, Channels: 2}, 100)
	if tag := binary.LittleEndian.Uint16(hdr[20:22]); tag != 3 {
		t.Errorf("float format tag = %d, want 3 (IEEE float)", tag)
	}
	if align := binary.LittleEndian.Uint16(hdr[32:34]); align != 8 {
		t.Errorf("block align = %d, want 8", align)
	}
}
