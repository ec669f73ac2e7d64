package main

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/zsiec/tempo/internal/mpegts"
	"github.com/zsiec/tempo/media"
	"github.com/zsiec/tempo/test/tools/tsutil"
)

// trackTally collects what one drain goroutine saw.
type trackTally struct {
	packets   int
	keyframes int
	captioned int
	firstPTS  float64
}

func drainTrackTally(ctx context.Context, t *testing.T, tr *mpegts.Track, tally *trackTally) {
	t.Helper()
	tally.firstPTS = media.NoPTS
	for {
		if err := tr.Wait(ctx); err != nil {
			t.Errorf("Wait: %v", err)
			return
		}
		f := tr.Pull()
		if f.Type() == media.FrameEOF {
			return
		}
		pkt := f.Packet()
		if pkt == nil {
			continue
		}
		tally.packets++
		if pkt.Keyframe {
			tally.keyframes++
		}
		if bytes.Contains(pkt.Data, []byte("GA94")) {
			tally.captioned++
		}
		if tally.firstPTS == media.NoPTS {
			tally.firstPTS = pkt.PTS
		}
	}
}

// TestBuildStreamParses runs the generated stream through the demux source
// and checks that tracks, timestamps, captions, and splice cues all survive
// the round trip.
func TestBuildStreamParses(t *testing.T) {
	t.Parallel()

	const duration = 9.0
	data, st := buildStream(duration)

	if len(data)%tsutil.TSPacketSize != 0 {
		t.Fatalf("stream length %d not packet aligned", len(data))
	}
	if st.videoFrames != int(duration*fps) {
		t.Errorf("videoFrames = %d, want %d", st.videoFrames, int(duration*fps))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := mpegts.NewSource(ctx, bytes.NewReader(data))
	defer src.Close()

	tracks, err := src.Tracks(ctx)
	if err != nil {
		t.Fatalf("Tracks: %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("got %d tracks, want 2", len(tracks))
	}

	var video, audio *mpegts.Track
	for _, tr := range tracks {
		switch tr.Codec.Kind {
		case media.KindVideo:
			video = tr
		case media.KindAudio:
			audio = tr
		}
	}
	if video == nil || audio == nil {
		t.Fatalf("missing a track kind: video=%v audio=%v", video != nil, audio != nil)
	}
	if video.Codec.Name != "h264" {
		t.Errorf("video codec = %q, want h264", video.Codec.Name)
	}
	if audio.Codec.Name != "lpcm" {
		t.Errorf("audio codec = %q, want lpcm", audio.Codec.Name)
	}
	if audio.Codec.SampleRate != sampleRate || audio.Codec.Channels != 2 {
		t.Errorf("LPCM layout = %d Hz / %d ch, want %d / 2",
			audio.Codec.SampleRate, audio.Codec.Channels, sampleRate)
	}

	var vt, at trackTally
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); drainTrackTally(ctx, t, video, &vt) }()
	go func() { defer wg.Done(); drainTrackTally(ctx, t, audio, &at) }()

	var splices []mpegts.Splice
	for sp := range src.Splices() {
		splices = append(splices, sp)
	}
	wg.Wait()

	if err := src.Err(); err != nil {
		t.Fatalf("source error: %v", err)
	}

	if vt.packets != st.videoFrames {
		t.Errorf("video packets = %d, want %d", vt.packets, st.videoFrames)
	}
	wantKeyframes := (st.videoFrames + gopLength - 1) / gopLength
	if vt.keyframes != wantKeyframes {
		t.Errorf("keyframes = %d, want %d", vt.keyframes, wantKeyframes)
	}
	if vt.captioned != vt.packets {
		t.Errorf("%d of %d video packets carry caption SEI, want all", vt.captioned, vt.packets)
	}
	if vt.firstPTS != float64(ptsStart)/90000 {
		t.Errorf("first video PTS = %v, want %v", vt.firstPTS, float64(ptsStart)/90000)
	}

	if at.packets != st.audioUnits {
		t.Errorf("audio packets = %d, want %d", at.packets, st.audioUnits)
	}
	// 20 ms units over the whole duration, one step of slack for float
	// accumulation at the boundary.
	wantAudio := int(duration * sampleRate / samplesPerPES)
	if st.audioUnits < wantAudio-1 || st.audioUnits > wantAudio+1 {
		t.Errorf("audioUnits = %d, want about %d", st.audioUnits, wantAudio)
	}

	if len(splices) != st.splices {
		t.Fatalf("splice cues = %d, want %d", len(splices), st.splices)
	}
	for i, sp := range splices {
		wantOut := i%2 == 0
		if sp.Out != wantOut {
			t.Errorf("splice %d: Out = %v, want %v", i, sp.Out, wantOut)
		}
		wantPTS := 1.0 + spliceInterval*float64(i+1)
		if sp.PTS != wantPTS {
			t.Errorf("splice %d: PTS = %v, want %v", i, sp.PTS, wantPTS)
		}
	}
}

// TestSpliceSectionLength checks the encoded section against its own length
// field, which the demux side trusts when slicing the CRC.
func TestSpliceSectionLength(t *testing.T) {
	t.Parallel()

	sec := spliceInsertSection(7, 450000, true)
	if sec[0] != 0xFC {
		t.Fatalf("table_id = %#x, want 0xFC", sec[0])
	}
	sectionLength := int(sec[1]&0x0F)<<8 | int(sec[2])
	if got := len(sec); got != 3+sectionLength {
		t.Errorf("section is %d bytes, header says %d", got, 3+sectionLength)
	}
}

func TestScheduleCaptionPairs(t *testing.T) {
	t.Parallel()

	cues := []cue{{start: 0.5, end: 1.0, text: "HI"}}
	pairs := scheduleCaptionPairs(cues, 24, 48)

	startFrame := 12
	// Six control pairs, then the text pair.
	if pairs[startFrame] != (ccPair{0x14, 0x25}) {
		t.Errorf("frame %d = %v, want RU2", startFrame, pairs[startFrame])
	}
	if pairs[startFrame+6] != (ccPair{'H', 'I'}) {
		t.Errorf("frame %d = %v, want text pair", startFrame+6, pairs[startFrame+6])
	}
	// EDM fires at the cue end.
	if pairs[24] != (ccPair{0x14, 0x2C}) {
		t.Errorf("frame 24 = %v, want EDM", pairs[24])
	}
	// Untouched frames stay null.
	if pairs[40] != (ccPair{0x00, 0x00}) {
		t.Errorf("frame 40 = %v, want null pair", pairs[40])
	}
}
