package mpegts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/zsiec/tempo/media"
)

// ptsClock is the MPEG-TS system clock for PES timestamps.
const ptsClock = 90000.0

const (
	// trackQueueDepth bounds the per-track packet backlog between the demux
	// goroutine and the decode loops. A full queue stalls the demuxer, which
	// is the intended backpressure for pull consumers.
	trackQueueDepth = 64
	// spliceQueueDepth bounds undelivered splice cut points.
	spliceQueueDepth = 16
)

// PMT stream_type assignments handled by the source.
const (
	streamTypeMPEG1Audio = 0x03
	streamTypeMPEG2Audio = 0x04
	streamTypeAAC        = 0x0F
	streamTypeH264       = 0x1B
	streamTypeHEVC       = 0x24
	streamTypeLPCM       = 0x80 // BDAV linear PCM
	streamTypeAC3        = 0x81
	streamTypeDTS        = 0x82
	streamTypeTrueHD     = 0x83
	streamTypeSCTE35     = 0x86
	streamTypeEAC3       = 0x87
)

func codecForStreamType(st uint8) *media.Codec {
	switch st {
	case streamTypeH264:
		return &media.Codec{Kind: media.KindVideo, Name: "h264"}
	case streamTypeHEVC:
		return &media.Codec{Kind: media.KindVideo, Name: "h265"}
	case streamTypeMPEG1Audio, streamTypeMPEG2Audio:
		return &media.Codec{Kind: media.KindAudio, Name: "mp3"}
	case streamTypeAAC:
		return &media.Codec{Kind: media.KindAudio, Name: "aac"}
	case streamTypeLPCM:
		return &media.Codec{Kind: media.KindAudio, Name: "lpcm"}
	case streamTypeAC3:
		return &media.Codec{Kind: media.KindAudio, Name: "ac3"}
	case streamTypeDTS:
		return &media.Codec{Kind: media.KindAudio, Name: "dts"}
	case streamTypeTrueHD:
		return &media.Codec{Kind: media.KindAudio, Name: "truehd"}
	case streamTypeEAC3:
		return &media.Codec{Kind: media.KindAudio, Name: "eac3"}
	}
	return nil
}

// Track is one elementary stream exposed as a pull source. Pull and Wait
// must be called from a single consumer goroutine; different tracks may be
// consumed concurrently.
type Track struct {
	PID uint16
	// Codec is shared by every packet of the track. Layout fields for LPCM
	// streams are filled during discovery, before Tracks returns.
	Codec *media.Codec

	ch    chan media.Frame
	stash media.Frame
	done  bool
}

// Pull returns the next packet without blocking. It returns a None frame
// while nothing is queued and an EOF frame forever once the stream ends.
func (t *Track) Pull() media.Frame {
	if !t.stash.IsNone() {
		f := t.stash
		t.stash = media.Frame{}
		return f
	}
	if t.done {
		return media.EOFFrame()
	}
	select {
	case f, ok := <-t.ch:
		if !ok {
			t.done = true
			return media.EOFFrame()
		}
		return f
	default:
		return media.Frame{}
	}
}

// Wait blocks until Pull has something to return, including end of stream.
func (t *Track) Wait(ctx context.Context) error {
	if !t.stash.IsNone() || t.done {
		return nil
	}
	select {
	case f, ok := <-t.ch:
		if !ok {
			t.done = true
			return nil
		}
		t.stash = f
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// trackState is the demux goroutine's per-PID bookkeeping. It is never
// touched by consumers.
type trackState struct {
	track       *Track
	lpcm        bool
	layoutKnown bool
}

// Source runs the TS demuxer on its own goroutine and fans elementary
// streams out as pull tracks. Discovery state is published by the ready
// channel: once Tracks returns, the track list and codecs are immutable.
type Source struct {
	log    *slog.Logger
	dem    *Demuxer
	r      io.Reader
	cancel context.CancelFunc

	tracks       []*Track
	states       map[uint16]*trackState
	splicePID    uint16
	hasSplicePID bool
	probing      int // LPCM tracks still awaiting their layout header

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	err       error
	splices   chan Splice
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithSourceLogger sets the source's logger.
func WithSourceLogger(log *slog.Logger) SourceOption {
	return func(s *Source) { s.log = log }
}

// NewSource starts demuxing r. The returned source owns a goroutine that
// runs until r is drained, the context is canceled, or Close is called.
func NewSource(ctx context.Context, r io.Reader, opts ...SourceOption) *Source {
	ctx, cancel := context.WithCancel(ctx)
	s := &Source{
		log:     slog.Default(),
		r:       r,
		cancel:  cancel,
		states:  make(map[uint16]*trackState),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		splices: make(chan Splice, spliceQueueDepth),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "ts_source")
	s.dem = NewDemuxer(ctx, r, DemuxerOptPacketsParser(s.interceptSplices))
	go s.run(ctx)
	return s
}

// Tracks blocks until stream discovery finishes (first PMT parsed and LPCM
// layouts probed) and returns the elementary-stream tracks. An input that
// ends before any PMT yields an empty list.
func (s *Source) Tracks(ctx context.Context) ([]*Track, error) {
	select {
	case <-s.ready:
		return s.tracks, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Splices delivers SCTE-35 splice_insert cut points as they appear in the
// stream. The channel closes when the source finishes.
func (s *Source) Splices() <-chan Splice { return s.splices }

// Err reports the demux failure, if any, once the source has finished.
func (s *Source) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close stops the demux goroutine and waits for it to exit. The underlying
// reader is closed when it supports it, unblocking an in-flight read. Track
// channels are closed, so pending Pulls observe EOF.
func (s *Source) Close() {
	s.cancel()
	if c, ok := s.r.(io.Closer); ok {
		c.Close()
	}
	<-s.done
}

func (s *Source) run(ctx context.Context) {
	defer func() {
		s.readyOnce.Do(func() { close(s.ready) })
		for _, t := range s.tracks {
			close(t.ch)
		}
		close(s.splices)
		close(s.done)
	}()

	for {
		data, err := s.dem.NextData()
		if err != nil {
			// Read errors after Close are part of the shutdown, not demux
			// failures.
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) &&
				ctx.Err() == nil {
				s.err = err
				s.log.Error("demux failed", "error", err)
			}
			return
		}
		switch {
		case data.PMT != nil:
			s.handlePMT(data.PMT)
		case data.PES != nil:
			s.handlePES(ctx, data.FirstPacket, data.PES)
		}
	}
}

func (s *Source) handlePMT(pmt *PMTData) {
	// The first PMT fixes the track set; periodic repeats and version
	// updates are ignored.
	if len(s.states) > 0 || s.hasSplicePID {
		return
	}
	for _, es := range pmt.ElementaryStreams {
		if es.StreamType == streamTypeSCTE35 {
			s.splicePID = es.ElementaryPID
			s.hasSplicePID = true
			// Splice sections flush on section boundaries like PSI, so cut
			// points surface without waiting for the next cue.
			s.dem.programMap.addPMTPID(es.ElementaryPID)
			s.log.Info("splice stream present", "pid", es.ElementaryPID)
			continue
		}
		codec := codecForStreamType(es.StreamType)
		if codec == nil {
			s.log.Debug("ignoring elementary stream",
				"pid", es.ElementaryPID, "stream_type", es.StreamType)
			continue
		}
		t := &Track{
			PID:   es.ElementaryPID,
			Codec: codec,
			ch:    make(chan media.Frame, trackQueueDepth),
		}
		st := &trackState{track: t, lpcm: es.StreamType == streamTypeLPCM}
		if st.lpcm {
			s.probing++
		}
		s.states[t.PID] = st
		s.tracks = append(s.tracks, t)
		s.log.Info("discovered elementary stream",
			"pid", t.PID, "codec", codec.Name, "kind", codec.Kind.String())
	}
	if s.probing == 0 {
		s.readyOnce.Do(func() { close(s.ready) })
	}
}

func (s *Source) handlePES(ctx context.Context, first *Packet, pes *PESData) {
	st := s.states[first.Header.PID]
	if st == nil {
		return
	}
	data := pes.Data
	if st.lpcm {
		var ok bool
		data, ok = s.applyLPCMHeader(st, data)
		if !ok {
			return
		}
	}

	pkt := &media.Packet{
		PTS:   media.NoPTS,
		DTS:   media.NoPTS,
		Data:  data,
		Codec: st.track.Codec,
	}
	if oh := pes.Header.OptionalHeader; oh != nil {
		if oh.PTS != nil {
			pkt.PTS = float64(oh.PTS.Base) / ptsClock
		}
		if oh.DTS != nil {
			pkt.DTS = float64(oh.DTS.Base) / ptsClock
		}
	}
	if st.track.Codec.Kind == media.KindVideo {
		pkt.Keyframe = first.Header.RandomAccessIndicator ||
			hasIRAP(data, st.track.Codec.Name == "h265")
	} else {
		pkt.Keyframe = true
	}

	select {
	case st.track.ch <- media.FromPacket(pkt):
	case <-ctx.Done():
	}
}

// applyLPCMHeader strips the 4-byte BDAV LPCM audio data header and, on the
// first packet, fills the track codec's sample layout from it. Samples are
// byte-swapped from the stream's big-endian order.
func (s *Source) applyLPCMHeader(st *trackState, data []byte) ([]byte, bool) {
	if len(data) < 4 {
		return nil, false
	}
	if !st.layoutKnown {
		st.layoutKnown = true
		c := st.track.Codec
		c.Channels = lpcmChannels(data[2] >> 4)
		c.SampleRate = lpcmRate(data[2] & 0x0F)
		if data[3]>>6 == 1 {
			c.SampleFormat = media.SampleS16
		}
		if c.Channels == 0 || c.SampleRate == 0 || c.SampleFormat == media.SampleNone {
			s.log.Warn("unsupported LPCM layout",
				"pid", st.track.PID,
				"channel_assignment", data[2]>>4,
				"rate_code", data[2]&0x0F,
				"bits_code", data[3]>>6)
		} else {
			s.log.Info("LPCM layout probed",
				"pid", st.track.PID,
				"rate", c.SampleRate, "channels", c.Channels)
		}
		s.probing--
		if s.probing == 0 {
			s.readyOnce.Do(func() { close(s.ready) })
		}
	}
	samples := data[4:]
	byteswap16(samples)
	return samples, true
}

// lpcmChannels maps the BDAV channel_assignment code to a channel count.
func lpcmChannels(code byte) int {
	switch code {
	case 1:
		return 1
	case 3:
		return 2
	case 4, 5:
		return 3
	case 6, 7:
		return 4
	case 8:
		return 5
	case 9:
		return 6
	case 10:
		return 7
	case 11:
		return 8
	}
	return 0
}

// lpcmRate maps the BDAV sampling_frequency code to a rate in Hz.
func lpcmRate(code byte) int {
	switch code {
	case 1:
		return 48000
	case 4:
		return 96000
	case 5:
		return 192000
	}
	return 0
}

func byteswap16(b []byte) {
	for i := 0; i+1 < len(b); i += 2 {
		b[i], b[i+1] = b[i+1], b[i]
	}
}

// hasIRAP reports whether an Annex B access unit contains a random-access
// picture (H.264 IDR, H.265 IRAP).
func hasIRAP(data []byte, hevc bool) bool {
	n := len(data)
	for i := 0; i+3 < n; i++ {
		if data[i] != 0 || data[i+1] != 0 {
			continue
		}
		var h byte
		if data[i+2] == 1 {
			h = data[i+3]
		} else if i+4 < n && data[i+2] == 0 && data[i+3] == 1 {
			h = data[i+4]
		} else {
			continue
		}
		if hevc {
			if t := (h >> 1) & 0x3F; t >= 16 && t <= 23 {
				return true
			}
		} else if h&0x1F == 5 {
			return true
		}
	}
	return false
}

// interceptSplices is the demuxer's PacketsParser hook. It claims packets
// on the signaled SCTE-35 PID, parses the splice section, and queues the
// cut point. Claims are only made after the PMT named the PID, and the hook
// runs on the demux goroutine, so the PID fields need no locking.
func (s *Source) interceptSplices(ps []*Packet) ([]*DemuxerData, bool, error) {
	if !s.hasSplicePID || len(ps) == 0 || ps[0].Header.PID != s.splicePID {
		return nil, false, nil
	}
	var payload []byte
	for _, p := range ps {
		payload = append(payload, p.Payload...)
	}
	sp, ok := parseSpliceSection(payload)
	if !ok {
		return nil, true, nil
	}
	select {
	case s.splices <- sp:
		s.log.Info("splice point",
			"event_id", sp.EventID, "pts", sp.PTS, "out", sp.Out)
	default:
		s.log.Warn("splice queue full, dropping cut point", "pts", sp.PTS)
	}
	return nil, true, nil
}
