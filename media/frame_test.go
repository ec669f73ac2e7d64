package media

import "testing"

func TestFrame_ZeroValueIsNone(t *testing.T) {
	t.Parallel()

	var f Frame
	if f.Type() != FrameNone || !f.IsNone() {
		t.Errorf("zero frame type = %v, want none", f.Type())
	}
	if f.Packet() != nil || f.Video() != nil || f.Audio() != nil {
		t.Error("zero frame returned a non-nil payload")
	}
	if f.PTS() != NoPTS {
		t.Errorf("zero frame PTS = %v, want NoPTS", f.PTS())
	}
}

func TestFrame_PayloadAccessors(t *testing.T) {
	t.Parallel()

	pkt := &Packet{PTS: 1.5, Data: []byte{1, 2, 3}}
	fp := FromPacket(pkt)
	if fp.Type() != FramePacket || fp.Packet() != pkt {
		t.Error("packet frame did not round-trip")
	}
	if fp.Video() != nil || fp.Audio() != nil {
		t.Error("packet frame leaked a wrong-type payload")
	}
	if fp.PTS() != 1.5 {
		t.Errorf("packet frame PTS = %v, want 1.5", fp.PTS())
	}

	vid := &VideoFrame{PTS: 2.0, Params: ImageParams{W: 16, H: 16}}
	fv := FromVideo(vid)
	fv.SetPTS(3.25)
	if vid.PTS != 3.25 {
		t.Errorf("SetPTS did not write through, PTS = %v", vid.PTS)
	}

	fe := EOFFrame()
	if fe.Type() != FrameEOF || fe.PTS() != NoPTS {
		t.Error("EOF frame malformed")
	}
	fe.SetPTS(1) // must not panic
}

func TestFrame_ApproxSize(t *testing.T) {
	t.Parallel()

	pkt := FromPacket(&Packet{Data: make([]byte, 1000)})
	if got := pkt.ApproxSize(); got < 1000 {
		t.Errorf("packet ApproxSize() = %d, want >= 1000", got)
	}

	headless := FromVideo(&VideoFrame{Params: ImageParams{W: 64, H: 64}})
	if got := headless.ApproxSize(); got < 64*64*3/2 {
		t.Errorf("headless video ApproxSize() = %d, want >= %d", got, 64*64*3/2)
	}

	if got := EOFFrame().ApproxSize(); got != 0 {
		t.Errorf("EOF ApproxSize() = %d, want 0", got)
	}
}

func TestNoPTS_Comparison(t *testing.T) {
	t.Parallel()

	if HasPTS(NoPTS) {
		t.Error("HasPTS(NoPTS) = true")
	}
	if !HasPTS(0) || !HasPTS(-1.5) {
		t.Error("HasPTS rejected a real timestamp")
	}
}
