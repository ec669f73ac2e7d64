// Package captions decodes CEA-608 and CEA-708 closed captions carried
// in A53 SEI messages into timed text frames. The video decode path
// peels caption SEI NAL units off decoded frames and feeds them here;
// the sink publishes rendered caption updates on a channel.
package captions

import (
	"log/slog"

	"github.com/zsiec/ccx"

	"github.com/zsiec/tempo/internal/decode"
	"github.com/zsiec/tempo/media"
)

const (
	// frameBuffer sizes the outbound caption channel. Captions are
	// low-frequency; a session that never reads the channel costs a
	// handful of dropped frames, not a stalled decode loop.
	frameBuffer = 30

	// ctrlRepeatWindow is how many caption feeds apart a repeated
	// CEA-608 control pair still counts as the mandated redundant
	// retransmission rather than a new command.
	ctrlRepeatWindow = 2

	// cea708ChannelBase offsets CEA-708 service numbers so they never
	// collide with CEA-608 channels 1-4. Service 1 surfaces as
	// channel 7.
	cea708ChannelBase = 6
)

// Sink turns A53 caption payloads into timed text frames. CEA-608
// captions surface on channels 1-4 and CEA-708 services on channels
// 7-12. Feed it whole SEI NAL units starting at the NAL header byte;
// both H.264 and HEVC headers are recognized.
//
// A Sink is not safe for concurrent feeding. The decode loop owns it;
// only the frame channel crosses goroutines.
type Sink struct {
	log    *slog.Logger
	frames chan *ccx.CaptionFrame

	cea608 map[int]*ccx.CEA608Decoder
	cea708 map[int]*ccx.CEA708Service

	// dtvccBuf accumulates DTVCC packet bytes across SEI messages
	// until the next packet-start pair flushes them.
	dtvccBuf []byte

	// CEA-608 transmits every control pair twice on consecutive
	// frames for noise resilience. Track the last pair per field so
	// the duplicate is dropped before it reaches the decoder.
	lastCtrl     [2][2]byte
	lastWasCtrl  [2]bool
	lastCtrlFeed [2]int64
	feeds        int64

	dropped int64
}

var _ decode.CaptionSink = (*Sink)(nil)

// Option configures a Sink.
type Option func(*Sink)

// WithLogger sets the logger used for drop warnings.
func WithLogger(log *slog.Logger) Option {
	return func(s *Sink) { s.log = log }
}

// NewSink returns a Sink with fresh decoder state for all CEA-608
// channels and CEA-708 services.
func NewSink(opts ...Option) *Sink {
	s := &Sink{
		log:    slog.Default(),
		frames: make(chan *ccx.CaptionFrame, frameBuffer),
		cea608: map[int]*ccx.CEA608Decoder{
			1: ccx.NewCEA608Decoder(),
			2: ccx.NewCEA608Decoder(),
			3: ccx.NewCEA608Decoder(),
			4: ccx.NewCEA608Decoder(),
		},
		cea708: map[int]*ccx.CEA708Service{
			1: ccx.NewCEA708Service(),
			2: ccx.NewCEA708Service(),
			3: ccx.NewCEA708Service(),
			4: ccx.NewCEA708Service(),
			5: ccx.NewCEA708Service(),
			6: ccx.NewCEA708Service(),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "captions")
	return s
}

// Frames returns the channel caption updates are published on. When
// the channel is full new frames are dropped, so consumers that fall
// behind lose captions rather than stall playback.
func (s *Sink) Frames() <-chan *ccx.CaptionFrame { return s.frames }

// Reset discards all decoder and packet state. Call it across seeks
// and timeline splices so screen contents from the old position do
// not bleed into the new one.
func (s *Sink) Reset() {
	for ch := range s.cea608 {
		s.cea608[ch] = ccx.NewCEA608Decoder()
	}
	for svc := range s.cea708 {
		s.cea708[svc] = ccx.NewCEA708Service()
	}
	s.dtvccBuf = s.dtvccBuf[:0]
	s.lastWasCtrl = [2]bool{}
}

// FeedCaption decodes one caption SEI NAL unit. pts stamps any frames
// it produces; payloads that do not carry A53 captions are ignored.
func (s *Sink) FeedCaption(pts, dts float64, data []byte) {
	s.feeds++

	cd := ccx.ExtractCaptions(data)
	if cd == nil {
		return
	}

	var ptsUS int64
	if media.HasPTS(pts) {
		ptsUS = int64(pts * 1e6)
	}

	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]
		if s.dropRepeatedCtrl(int(pair.Field), cc1, cc2) {
			continue
		}

		dec := s.cea608[pair.Channel]
		if dec == nil {
			continue
		}
		if text := dec.Decode(cc1, cc2); text != "" {
			frame := &ccx.CaptionFrame{PTS: ptsUS, Text: text, Channel: pair.Channel}
			frame.Regions = dec.StyledRegions()
			s.publish(frame)
		}
	}

	for _, t := range cd.DTVCC {
		if t.Start {
			s.drainDTVCC(ptsUS)
			s.dtvccBuf = s.dtvccBuf[:0]
		}
		s.dtvccBuf = append(s.dtvccBuf, t.Data[0], t.Data[1])
	}
}

// dropRepeatedCtrl reports whether a CEA-608 pair is the redundant
// copy of the control pair just seen on the same field and should be
// skipped. Non-control pairs clear the pending state.
func (s *Sink) dropRepeatedCtrl(field int, cc1, cc2 byte) bool {
	if cc1 < 0x10 || cc1 > 0x1F {
		s.lastWasCtrl[field] = false
		return false
	}

	cp := [2]byte{cc1, cc2}
	if s.lastWasCtrl[field] && s.lastCtrl[field] == cp && s.feeds-s.lastCtrlFeed[field] <= ctrlRepeatWindow {
		s.lastWasCtrl[field] = false
		return true
	}
	s.lastCtrl[field] = cp
	s.lastWasCtrl[field] = true
	s.lastCtrlFeed[field] = s.feeds
	return false
}

// drainDTVCC decodes the buffered DTVCC packet, if complete, through
// the per-service 708 decoders.
func (s *Sink) drainDTVCC(ptsUS int64) {
	if len(s.dtvccBuf) < 1 {
		return
	}

	packetSize := ccx.DTVCCPacketSize(s.dtvccBuf[0])
	if len(s.dtvccBuf) < packetSize {
		return
	}

	for _, block := range ccx.ParseDTVCCPacket(s.dtvccBuf[:packetSize]) {
		svc := s.cea708[block.ServiceNum]
		if svc == nil {
			continue
		}
		if !svc.ProcessBlock(block.Data) {
			continue
		}
		if text := svc.DisplayText(); text != "" {
			channel := block.ServiceNum + cea708ChannelBase
			frame := &ccx.CaptionFrame{PTS: ptsUS, Text: text, Channel: channel}
			frame.Regions = svc.StyledRegions()
			s.publish(frame)
		}
	}
	s.dtvccBuf = s.dtvccBuf[packetSize:]
}

func (s *Sink) publish(frame *ccx.CaptionFrame) {
	select {
	case s.frames <- frame:
	default:
		s.dropped++
		s.log.Warn("caption frame dropped, channel full",
			"channel", frame.Channel,
			"dropped", s.dropped)
	}
}
