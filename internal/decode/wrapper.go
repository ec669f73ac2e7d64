package decode

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/zsiec/tempo/internal/config"
	"github.com/zsiec/tempo/media"
)

// ErrNoDecoder is returned by Reinit when every candidate backend failed to
// initialize. The stream is left without a decoder; sibling streams keep
// playing.
var ErrNoDecoder = errors.New("decode: no decoder for codec")

const (
	// hrSeekTolerance widens the precise-seek framedrop cutoff so frames
	// landing a hair before the target survive. Empirical; kept for
	// behavior compatibility.
	hrSeekTolerance = 0.005

	// Audio jump thresholds, in seconds. Deviations up to the rounding
	// threshold are absorbed by the accumulator (container timestamp
	// rounding); past the warn threshold a warning is logged; past the
	// reset threshold downstream must resync.
	audioRoundingThreshold = 0.001
	audioJumpWarnThreshold = 0.1
	audioPTSResetThreshold = 5.0

	// fallbackFPS is assumed when timestamps must be synthesized and the
	// container reported no frame rate.
	fallbackFPS = 25.0

	// brokenPTSCountdown seeds hasBrokenPacketPTS on reinit: that many
	// clean packets must pass before the stream's PTS is trusted.
	brokenPTSCountdown = -10
)

// Wrapper drives one decoder backend for one elementary stream and repairs
// everything about its output that containers get wrong: missing or
// non-monotonic timestamps, timeline segment boundaries, backward playback
// and attached pictures. All state is owned by the calling goroutine; the
// caller invokes Process repeatedly and takes frames from the output slot.
type Wrapper struct {
	log      *slog.Logger
	cfg      *config.Cache
	registry *Registry
	source   PacketSource
	captions CaptionSink

	// header is the stream's original codec; codec is the current
	// segment's, compared by pointer to detect mid-stream codec changes.
	header *media.Codec
	codec  *media.Codec

	pump        *Pump
	decoderDesc string

	playDir      int
	containerFPS float64

	// Timestamp repair state. codecPTS/codecDTS track the last raw values
	// from the decoder; the problem counters only grow, so whichever of
	// pts/dts misbehaved less stays authoritative.
	codecPTS            float64
	codecDTS            float64
	numCodecPTSProblems int
	numCodecDTSProblems int

	// hasBrokenPacketPTS counts up from brokenPTSCountdown while evidence
	// accumulates; 0 means trusted, 1 means broken. Once broken it never
	// heals, and it survives seeks so the decision is not redone.
	hasBrokenPacketPTS  int
	hasBrokenDecodedPTS int

	// pts is the emission accumulator: the last corrected timestamp,
	// advanced by frame duration when the source provides nothing better.
	pts             float64
	firstPacketPDTS float64

	start    float64
	end      float64
	startPTS float64

	packet     media.Frame
	packetFed  bool
	newSegment *media.Packet

	prerollDiscard       bool
	attemptFramedrops    int
	droppedFrames        int64
	packetsWithoutOutput int
	ptsReset             bool

	reverseQueue         []media.Frame
	reverseQueueBytes    int64
	reverseQueueComplete bool

	decodedCoverart  media.Frame
	coverartReturned int // 0: not yet, 1: picture returned, 2: EOF returned

	out    media.Frame
	failed bool
}

// Option configures a Wrapper at construction.
type Option func(*Wrapper)

// WithLogger sets the parent logger.
func WithLogger(log *slog.Logger) Option {
	return func(w *Wrapper) {
		if log != nil {
			w.log = log
		}
	}
}

// WithCaptionSink routes closed-caption payloads found on decoded video
// frames to sink.
func WithCaptionSink(sink CaptionSink) Option {
	return func(w *Wrapper) { w.captions = sink }
}

// New creates a wrapper for one stream. Call Reinit before Process to open
// a decoder backend.
func New(stream *media.Codec, src PacketSource, reg *Registry, cfg *config.Cache, opts ...Option) *Wrapper {
	w := &Wrapper{
		log:             slog.Default(),
		cfg:             cfg,
		registry:        reg,
		source:          src,
		header:          stream,
		codec:           stream,
		playDir:         1,
		containerFPS:    stream.FPS,
		codecPTS:        media.NoPTS,
		codecDTS:        media.NoPTS,
		pts:             media.NoPTS,
		firstPacketPDTS: media.NoPTS,
		start:           media.NoPTS,
		end:             media.NoPTS,
		startPTS:        media.NoPTS,
	}
	for _, o := range opts {
		o(w)
	}
	w.log = w.log.With("component", "decoder", "stream", stream.Kind.String())
	return w
}

func (w *Wrapper) opts() *config.Options { return w.cfg.Get() }

// fps returns the effective container frame rate: the configured override
// when set, the stream's reported rate otherwise.
func (w *Wrapper) fps() float64 {
	if o := w.opts(); o.FPS > 0 {
		return o.FPS
	}
	return w.containerFPS
}

// DecoderDesc identifies the selected backend for diagnostics.
func (w *Wrapper) DecoderDesc() string { return w.decoderDesc }

// SetPlayDir switches playback direction (1 forward, -1 backward). Only
// call while the wrapper is reset; direction changes mid-stream corrupt the
// reversal queue.
func (w *Wrapper) SetPlayDir(dir int) {
	if dir < 0 {
		w.playDir = -1
	} else {
		w.playDir = 1
	}
}

// SetStartPTS sets the precise-seek target. Frames before it may be dropped
// by the backend; the target expires once a frame at or past it appears.
func (w *Wrapper) SetStartPTS(pts float64) { w.startPTS = pts }

// SetAttemptFramedrops asks the backend to drop up to n frames to catch up.
func (w *Wrapper) SetAttemptFramedrops(n int) { w.attemptFramedrops = n }

// DroppedFrames returns the running count of frames dropped for catch-up.
func (w *Wrapper) DroppedFrames() int64 { return w.droppedFrames }

// BrokenPacketPTS reports whether the stream's packet timestamps were
// judged unusable for precise seeking.
func (w *Wrapper) BrokenPacketPTS() bool { return w.hasBrokenPacketPTS == 1 }

// TakePTSReset reports and clears the audio discontinuity flag. A true
// result means emitted audio timestamps jumped by at least the reset
// threshold and downstream must resynchronize.
func (w *Wrapper) TakePTSReset() bool {
	r := w.ptsReset
	w.ptsReset = false
	return r
}

// HasOutput reports whether TakeOutput would return a frame.
func (w *Wrapper) HasOutput() bool { return !w.out.IsNone() }

// TakeOutput removes and returns the pending output frame, if any.
func (w *Wrapper) TakeOutput() media.Frame {
	f := w.out
	w.out = media.Frame{}
	return f
}

// Reinit opens a decoder backend for the current codec, tearing down any
// previous one. Candidates are tried in registry order, filtered by the
// configured preference list; for audio, eligible codecs try the IEC 61937
// passthrough backend first. All wrapper state except the output slot is
// reset, and the packet-PTS verdict starts over from scratch.
func (w *Wrapper) Reinit() error {
	if w.pump != nil {
		w.pump.Close()
		w.pump = nil
	}
	w.resetDecoder()
	w.hasBrokenPacketPTS = brokenPTSCountdown

	opts := w.opts()
	var cands []Factory
	if w.codec.Kind == media.KindAudio && opts.AudioSPDIF != "" {
		cands = w.registry.SelectSPDIF(w.codec.Name, opts.AudioSPDIF)
	}
	if len(cands) == 0 {
		userList := opts.VideoDecoders
		if w.codec.Kind == media.KindAudio {
			userList = opts.AudioDecoders
		}
		cands = w.registry.Select(w.codec.Kind, w.codec.Name, userList)
	}

	for _, f := range cands {
		w.log.Debug("opening decoder", "decoder", f.Name)
		dec, err := f.New(w.codec, w.log)
		if err != nil {
			w.log.Warn("decoder init failed", "decoder", f.Name, "error", err)
			continue
		}
		w.decoderDesc = fmt.Sprintf("%s (%s)", f.Name, f.Desc)
		w.pump = NewPump(dec, w.log)
		w.log.Debug("selected decoder", "decoder", w.decoderDesc)
		return nil
	}
	return fmt.Errorf("%w: %q", ErrNoDecoder, w.codec.Name)
}

// Reset prepares for a seek: all queued packets and frames are dropped and
// the reversal queue is cleared. The packet-PTS verdict and the decoded
// cover art cache survive; redoing either after every seek would defeat
// them.
func (w *Wrapper) Reset() {
	w.pts = media.NoPTS
	w.droppedFrames = 0
	w.attemptFramedrops = 0
	w.ptsReset = false
	w.coverartReturned = 0
	w.reverseQueue = nil
	w.reverseQueueBytes = 0
	w.reverseQueueComplete = false
	w.out = media.Frame{}
	w.failed = false
	w.resetDecoder()
}

// resetDecoder clears decode-side state without touching the seek-level
// state Reset owns. Timeline segment switches land here: the decoder
// restarts cleanly but the emission accumulator keeps running.
func (w *Wrapper) resetDecoder() {
	w.firstPacketPDTS = media.NoPTS
	w.startPTS = media.NoPTS
	w.codecPTS = media.NoPTS
	w.codecDTS = media.NoPTS
	w.numCodecPTSProblems = 0
	w.numCodecDTSProblems = 0
	w.hasBrokenDecodedPTS = 0
	w.packetsWithoutOutput = 0
	w.packet = media.Frame{}
	w.packetFed = false
	w.prerollDiscard = false
	w.newSegment = nil
	w.start = media.NoPTS
	w.end = media.NoPTS
	if w.pump != nil {
		w.pump.Reset()
	}
}

// Close releases the backend and all queued frames. The wrapper must not be
// used afterwards.
func (w *Wrapper) Close() {
	if w.pump != nil {
		w.pump.Close()
		w.pump = nil
	}
	w.Reset()
	w.decodedCoverart = media.Frame{}
}

// Process runs one cooperative step: feed one packet if the backend wants
// input, step the backend, move one decoded frame toward the output slot.
// The caller owns the re-invocation loop: keep calling while the result is
// StatusProgress, wait for the packet source on StatusNeedsInput, drain the
// output slot on StatusIdle.
func (w *Wrapper) Process() Status {
	if w.failed {
		return StatusFailed
	}
	w.cfg.Update()

	var progress, starved bool
	w.feedPacket(&progress, &starved)
	if w.pump != nil && w.pump.Process() {
		progress = true
	}
	w.readFrame(&progress)

	if w.pump != nil && w.pump.Failed() {
		w.failed = true
	}
	switch {
	case w.failed:
		return StatusFailed
	case progress:
		return StatusProgress
	case starved:
		return StatusNeedsInput
	default:
		return StatusIdle
	}
}

// isNewSegment reports whether the pending packet cannot be fed before the
// current decoder state is drained: its segment window or codec differ, or
// backward playback reached the next keyframe group.
func (w *Wrapper) isNewSegment(f media.Frame) bool {
	if f.Type() != media.FramePacket {
		return false
	}
	pkt := f.Packet()
	return (pkt.Segmented && (pkt.Start != w.start || pkt.End != w.end || pkt.Codec != w.codec)) ||
		(w.playDir < 0 && pkt.BackRestart && w.packetFed)
}

func (w *Wrapper) feedPacket(progress, starved *bool) {
	if w.pump == nil || !w.pump.NeedsData() {
		return
	}
	if !w.decodedCoverart.IsNone() {
		return
	}

	if w.packet.IsNone() && w.newSegment == nil {
		w.packet = w.source.Pull()
		if w.packet.IsNone() {
			*starved = true
			return
		}
		if t := w.packet.Type(); t != media.FrameEOF && t != media.FramePacket {
			w.log.Error("invalid frame type from packet source", "type", t.String())
			w.packet = media.Frame{}
			w.failed = true
			return
		}
	}
	if w.packet.IsNone() {
		return
	}

	// Flush current state before starting the new segment.
	if w.isNewSegment(w.packet) {
		w.newSegment = w.packet.Packet()
		w.packet = media.EOFFrame()
	}

	var pkt *media.Packet
	if w.packet.Type() == media.FramePacket {
		pkt = w.packet.Packet()
	}

	// Video framedrop control, including part of the precise-seek logic.
	if fd, ok := w.pump.Decoder().(FramedropSetter); ok {
		startPTS := w.startPTS
		if media.HasPTS(w.start) && (!media.HasPTS(startPTS) || w.start > startPTS) {
			startPTS = w.start
		}
		mode := FramedropNone
		if w.attemptFramedrops > 0 {
			mode = FramedropStandard
		}
		if media.HasPTS(startPTS) && pkt != nil && w.playDir > 0 &&
			pkt.PTS < startPTS-hrSeekTolerance && w.hasBrokenPacketPTS == 0 {
			mode = FramedropHRSeek
		}
		fd.SetFramedrop(mode)
	}

	pktPTS, pktDTS := media.NoPTS, media.NoPTS
	if pkt != nil {
		pktPTS, pktDTS = pkt.PTS, pkt.DTS
	}
	if !media.HasPTS(pktPTS) {
		w.hasBrokenPacketPTS = 1
	}
	if pkt != nil && !media.HasPTS(pkt.DTS) && !w.codec.AVIDTS {
		pkt.DTS = pkt.PTS
	}

	pdts := pktPTS
	if !media.HasPTS(pdts) {
		pdts = pktDTS
	}
	if !media.HasPTS(w.firstPacketPDTS) {
		w.firstPacketPDTS = pdts
	}

	if pkt != nil && pkt.BackPreroll {
		w.prerollDiscard = true
		pkt.PTS = media.NoPTS
		pkt.DTS = media.NoPTS
	}

	w.pump.Write(w.packet)
	w.packetFed = true
	w.packet = media.Frame{}
	w.packetsWithoutOutput++
	*progress = true
}

// repairVideoPTS untangles decoder timestamps: it tracks monotonicity of
// the raw pts and dts, falls back to dts when pts is absent or the less
// reliable of the two, and compensates AVI-style DTS-as-PTS streams for the
// backend's reorder delay.
func (w *Wrapper) repairVideoPTS(v *media.VideoFrame) {
	// The PTS is reordered but the DTS is not; both must be monotonic.
	if media.HasPTS(v.PTS) {
		if v.PTS < w.codecPTS {
			w.numCodecPTSProblems++
		}
		w.codecPTS = v.PTS
	}
	if media.HasPTS(v.DTS) {
		if v.DTS <= w.codecDTS {
			w.numCodecDTSProblems++
		}
		w.codecDTS = v.DTS
	}

	if w.hasBrokenPacketPTS < 0 {
		w.hasBrokenPacketPTS++
	}
	if w.numCodecPTSProblems > 0 {
		w.hasBrokenPacketPTS = 1
	}

	if (w.numCodecPTSProblems > w.numCodecDTSProblems || !media.HasPTS(v.PTS)) &&
		media.HasPTS(v.DTS) {
		v.PTS = v.DTS
	}

	if w.codec.AVIDTS && media.HasPTS(v.PTS) && w.fps() > 0 {
		if bc, ok := w.pump.Decoder().(BFrameCounter); ok {
			if delay := bc.BFrames(); delay > 0 {
				v.PTS -= float64(delay) / w.fps()
			}
		}
	}
}

// processDecodedFrame applies per-frame stream state and reports whether
// the frame landed outside the segment range.
func (w *Wrapper) processDecodedFrame(frame *media.Frame) bool {
	if frame.Type() == media.FrameEOF {
		// Draining for a segment switch; the EOF is internal.
		if w.newSegment != nil {
			*frame = media.Frame{}
		}
		return true
	}

	segmentEnded := false

	switch frame.Type() {
	case media.FrameVideo:
		v := frame.Video()

		w.repairVideoPTS(v)

		if len(v.CC) > 0 {
			if w.captions != nil {
				for _, cc := range v.CC {
					w.captions.FeedCaption(v.PTS, v.DTS, cc)
				}
			}
			v.CC = nil
		}

		// Stop precise-seek logic.
		if !media.HasPTS(v.PTS) || v.PTS >= w.startPTS {
			w.startPTS = media.NoPTS
		}

		if media.HasPTS(v.PTS) {
			segmentEnded = media.HasPTS(w.end) && v.PTS >= w.end
			if (media.HasPTS(w.start) && v.PTS < w.start) || segmentEnded {
				*frame = media.Frame{}
			}
		}
	case media.FrameAudio:
		a := frame.Audio()

		a.Clip(w.start, w.end)
		if media.HasPTS(a.PTS) && media.HasPTS(w.start) {
			segmentEnded = a.PTS >= w.end
		}
		if a.Samples == 0 {
			*frame = media.Frame{}
		}
	default:
		w.log.Error("unknown frame type from decoder", "type", frame.Type().String())
	}

	return segmentEnded
}

func (w *Wrapper) correctVideoPTS(v *media.VideoFrame) {
	if media.HasPTS(v.PTS) {
		v.PTS *= float64(w.playDir)
	}

	if !w.opts().CorrectPTS || !media.HasPTS(v.PTS) {
		fps := w.fps()
		if fps <= 0 {
			fps = fallbackFPS
		}

		if w.opts().CorrectPTS {
			if w.hasBrokenDecodedPTS <= 1 {
				w.log.Warn("no video pts, synthesizing one", "fps", fps)
				if w.hasBrokenDecodedPTS == 1 {
					w.log.Warn("ignoring further missing pts warnings")
				}
				w.hasBrokenDecodedPTS++
			}
		}

		frameTime := 1.0 / fps
		base := w.firstPacketPDTS
		v.PTS = w.pts
		if !media.HasPTS(v.PTS) {
			v.PTS = 0
			if media.HasPTS(base) {
				v.PTS = base
			}
		} else {
			v.PTS += frameTime
		}
	}

	w.pts = v.PTS
}

func (w *Wrapper) correctAudioPTS(a *media.AudioFrame) {
	framePTS := a.PTS
	frameLen := a.Duration()

	if media.HasPTS(framePTS) {
		if w.playDir < 0 {
			framePTS = -(framePTS + frameLen)
		}

		diff := math.Abs(w.pts - framePTS)

		// Even with the lowest sample rates and the worst container
		// timestamp rounding, a real jump clears this margin.
		if media.HasPTS(w.pts) && diff > audioJumpWarnThreshold {
			w.log.Warn("invalid audio pts", "expected", w.pts, "got", framePTS)
			if diff >= audioPTSResetThreshold {
				w.ptsReset = true
			}
		}

		// Keep the interpolated timestamp unless it deviates more than the
		// rounding threshold from the real one.
		if !media.HasPTS(w.pts) || diff > audioRoundingThreshold {
			w.pts = framePTS
		}
	}

	if !media.HasPTS(w.pts) && w.header.MissingTimestamps {
		w.pts = 0
	}

	a.PTS = w.pts

	if media.HasPTS(w.pts) {
		w.pts += frameLen
	}
}

func (w *Wrapper) processOutputFrame(f media.Frame) {
	switch f.Type() {
	case media.FrameVideo:
		v := f.Video()
		w.correctVideoPTS(v)
		v.NominalFPS = w.fps()
	case media.FrameAudio:
		a := f.Audio()
		if w.playDir < 0 {
			a.Reverse()
		}
		w.correctAudioPTS(a)
	}
}

// enqueueBackwardFrame collects frames during backward playback until the
// begin-of-stream marker arrives, bounded by the configured byte budget.
// The marker is kept at the queue head, never reversed.
func (w *Wrapper) enqueueBackwardFrame(f media.Frame) {
	eof := f.Type() == media.FrameEOF

	if !eof {
		budget := w.opts().VideoReverseBytes
		if w.header.Kind == media.KindAudio {
			budget = w.opts().AudioReverseBytes
		}
		if w.reverseQueueBytes >= budget {
			w.log.Error("reversal queue overflow, discarding frame")
			return
		}
		w.reverseQueueBytes += int64(f.ApproxSize())
	}

	if eof {
		w.reverseQueue = append([]media.Frame{f}, w.reverseQueue...)
	} else {
		w.reverseQueue = append(w.reverseQueue, f)
	}
	w.reverseQueueComplete = eof
}

func (w *Wrapper) readFrame(progress *bool) {
	if w.pump == nil || !w.out.IsNone() {
		return
	}

	if !w.decodedCoverart.IsNone() {
		switch w.coverartReturned {
		case 0:
			v := *w.decodedCoverart.Video()
			w.emit(media.FromVideo(&v))
			w.coverartReturned = 1
			*progress = true
		case 1:
			w.emit(media.EOFFrame())
			w.coverartReturned = 2
			*progress = true
		}
		return
	}

	if w.reverseQueueComplete && len(w.reverseQueue) > 0 {
		frame := w.reverseQueue[len(w.reverseQueue)-1]
		w.reverseQueue = w.reverseQueue[:len(w.reverseQueue)-1]
		w.emit(frame)
		*progress = true
		return
	}
	w.reverseQueueComplete = false

	if !w.pump.HasOutput() {
		return
	}
	frame := w.pump.Read()

	if w.header.AttachedPicture && frame.Type() == media.FrameVideo {
		w.decodedCoverart = frame
		*progress = true
		return
	}

	if w.attemptFramedrops > 0 {
		dropped := w.packetsWithoutOutput - 1
		if dropped < 0 {
			dropped = 0
		}
		w.attemptFramedrops -= dropped
		if w.attemptFramedrops < 0 {
			w.attemptFramedrops = 0
		}
		w.droppedFrames += int64(dropped)
	}
	w.packetsWithoutOutput = 0

	if w.prerollDiscard && frame.Type() != media.FrameEOF {
		if !media.HasPTS(frame.PTS()) {
			*progress = true
			return
		}
		w.prerollDiscard = false
	}

	segmentEnded := w.processDecodedFrame(&frame)

	if w.playDir < 0 && !frame.IsNone() {
		w.enqueueBackwardFrame(frame)
		frame = media.Frame{}
	}

	// If there's a new segment, start it as soon as we're drained.
	if segmentEnded && w.newSegment != nil {
		seg := w.newSegment
		w.newSegment = nil

		w.resetDecoder()

		if seg.Segmented {
			if seg.Codec != w.codec {
				w.codec = seg.Codec
				if err := w.Reinit(); err != nil {
					w.log.Error("decoder reinit across segment failed", "error", err)
					w.failed = true
				}
			}
			w.start = seg.Start
			w.end = seg.End
		}

		w.reverseQueueBytes = 0
		w.reverseQueueComplete = len(w.reverseQueue) > 0

		w.packet = media.FromPacket(seg)
		*progress = true
	}

	if frame.IsNone() {
		*progress = true
		return
	}

	w.emit(frame)
	*progress = true
}

func (w *Wrapper) emit(f media.Frame) {
	w.processOutputFrame(f)
	w.out = f
}
