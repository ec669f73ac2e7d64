// Package pipeline runs playback sessions: one decode loop per elementary
// stream, pushing corrected audio into the pull-mode output and decoded
// video into a sink, supervised as a single unit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/tempo/internal/ao"
	"github.com/zsiec/tempo/internal/config"
	"github.com/zsiec/tempo/internal/decode"
	"github.com/zsiec/tempo/media"
)

const (
	// statsInterval paces the periodic per-track counter dump.
	statsInterval = 5 * time.Second

	// starvePoll bounds the wait when a packet source cannot signal
	// readiness, and backstops a lost output wakeup. Playback never hinges
	// on it; it only keeps the loops from wedging on a stalled peer.
	starvePoll = 250 * time.Millisecond
)

// VideoSink consumes corrected video frames. Rendering is out of scope;
// headless consumers count, hash, pace, or forward them. WriteVideo may
// block; it must honor ctx.
type VideoSink interface {
	WriteVideo(ctx context.Context, v *media.VideoFrame) error
}

// Waiter is implemented by packet sources that can block until more input
// arrives. Sources without it are polled.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Input hands one elementary stream to the session.
type Input struct {
	Name   string
	Codec  *media.Codec
	Source decode.PacketSource
}

// Session plays one set of tracks to completion. Configure with AddTrack,
// then Run; a Session is single-use.
type Session struct {
	id     string
	log    *slog.Logger
	store  *config.Store
	decReg *decode.Registry
	aoReg  *ao.Registry

	videoSink VideoSink
	captions  decode.CaptionSink

	inputs []Input
	reg    *registry
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the parent logger.
func WithLogger(log *slog.Logger) SessionOption {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithVideoSink routes decoded video frames to sink.
func WithVideoSink(sink VideoSink) SessionOption {
	return func(s *Session) { s.videoSink = sink }
}

// WithCaptionSink routes A53 caption payloads from video decoding to sink.
func WithCaptionSink(sink decode.CaptionSink) SessionOption {
	return func(s *Session) { s.captions = sink }
}

// NewSession creates an empty session.
func NewSession(store *config.Store, decReg *decode.Registry, aoReg *ao.Registry, opts ...SessionOption) *Session {
	s := &Session{
		id:     uuid.New().String(),
		log:    slog.Default(),
		store:  store,
		decReg: decReg,
		aoReg:  aoReg,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "session", "session", s.id)
	s.reg = newRegistry(s.log)
	return s
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Tracks returns the currently running tracks.
func (s *Session) Tracks() []*Track { return s.reg.list() }

// AddTrack queues one elementary stream for playback. Must be called
// before Run; names must be unique within the session.
func (s *Session) AddTrack(name string, codec *media.Codec, src decode.PacketSource) error {
	for _, in := range s.inputs {
		if in.Name == name {
			return fmt.Errorf("pipeline: duplicate track %q", name)
		}
	}
	s.inputs = append(s.inputs, Input{Name: name, Codec: codec, Source: src})
	return nil
}

// Run plays all tracks until they end, a fatal error occurs, or ctx is
// cancelled. Per-track decode failures disable the track but let the
// siblings finish; sink errors abort the whole session.
func (s *Session) Run(ctx context.Context) error {
	if len(s.inputs) == 0 {
		return errors.New("pipeline: session has no tracks")
	}

	tracks := make([]*Track, 0, len(s.inputs))
	for _, in := range s.inputs {
		tr, ok := s.reg.create(in.Name, in.Codec.Kind)
		if !ok {
			return fmt.Errorf("pipeline: track %q already running", in.Name)
		}
		tracks = append(tracks, tr)
	}

	start := time.Now()
	s.log.Info("session starting", "tracks", len(tracks))

	g, ctx := errgroup.WithContext(ctx)
	for i, in := range s.inputs {
		in, tr := in, tracks[i]
		g.Go(func() error { return s.runTrack(ctx, in, tr) })
	}

	statsCtx, stopStats := context.WithCancel(ctx)
	statsDone := make(chan struct{})
	go func() {
		defer close(statsDone)
		s.logStats(statsCtx)
	}()

	err := g.Wait()
	stopStats()
	<-statsDone

	uptime := time.Since(start).Round(time.Millisecond)
	if err != nil {
		s.log.Error("session failed", "uptime", uptime, "error", err)
		return err
	}
	s.log.Info("session finished", "uptime", uptime)
	return nil
}

// runTrack owns one stream's wrapper from construction to teardown.
func (s *Session) runTrack(ctx context.Context, in Input, tr *Track) error {
	defer s.reg.remove(in.Name)

	log := s.log.With("track", in.Name)
	opts := []decode.Option{decode.WithLogger(log)}
	if in.Codec.Kind == media.KindVideo && s.captions != nil {
		opts = append(opts, decode.WithCaptionSink(s.captions))
	}
	w := decode.New(in.Codec, in.Source, s.decReg, s.store.Cache(), opts...)
	defer w.Close()

	if err := w.Reinit(); err != nil {
		// No decoder only kills this track; siblings keep playing.
		log.Error("no decoder for track", "codec", in.Codec.Name, "error", err)
		return nil
	}
	log.Info("decoder opened", "decoder", w.DecoderDesc())

	if in.Codec.Kind == media.KindAudio {
		return s.runAudio(ctx, log, in, tr, w)
	}
	return s.runVideo(ctx, log, in, tr, w)
}

// runVideo drives the wrapper and hands every corrected frame to the
// video sink. Returns nil on end of stream or cancellation; a sink error
// is fatal for the session.
func (s *Session) runVideo(ctx context.Context, log *slog.Logger, in Input, tr *Track, w *decode.Wrapper) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		st := w.Process()
		if w.HasOutput() {
			f := w.TakeOutput()
			switch f.Type() {
			case media.FrameEOF:
				log.Info("end of stream", "frames", tr.Frames(), "dropped", tr.Dropped())
				return nil
			case media.FrameVideo:
				v := f.Video()
				tr.frames.Add(1)
				tr.dropped.Store(w.DroppedFrames())
				if s.videoSink != nil {
					if err := s.videoSink.WriteVideo(ctx, v); err != nil {
						if ctx.Err() != nil {
							return nil
						}
						return fmt.Errorf("pipeline: video sink: %w", err)
					}
				}
			}
			continue
		}

		switch st {
		case decode.StatusProgress:
		case decode.StatusNeedsInput, decode.StatusIdle:
			if err := waitInput(ctx, in.Source); err != nil {
				return nil
			}
		case decode.StatusFailed:
			log.Error("decoding failed, stopping track")
			return nil
		}
	}
}

// runAudio drives the wrapper and feeds decoded samples into the audio
// output, opening it lazily once the first frame reveals the negotiated
// format. Timestamp jumps flagged by the wrapper reset the device queue.
func (s *Session) runAudio(ctx context.Context, log *slog.Logger, in Input, tr *Track, w *decode.Wrapper) error {
	wake := make(chan struct{}, 1)
	var out *ao.Output
	var outFmt media.AudioFormat
	defer func() {
		if out != nil {
			out.Close()
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		st := w.Process()
		if w.HasOutput() {
			f := w.TakeOutput()
			switch f.Type() {
			case media.FrameEOF:
				if out != nil {
					out.Drain()
				}
				log.Info("end of stream", "frames", tr.Frames(), "samples", tr.Samples())
				return nil
			case media.FrameAudio:
				a := f.Audio()
				if out == nil || !outFmt.Equal(a.Format) {
					var err error
					out, err = s.reopenOutput(out, a.Format, wake, log)
					if err != nil {
						log.Error("no usable audio output, stopping track", "error", err)
						return nil
					}
					outFmt = a.Format
				}
				if w.TakePTSReset() {
					tr.resyncs.Add(1)
					log.Warn("audio timestamps jumped, resyncing output")
					out.Reset()
				}
				if err := playAll(ctx, out, a, wake); err != nil {
					return nil
				}
				tr.frames.Add(1)
				tr.samples.Add(int64(a.Samples))
				tr.dropped.Store(w.DroppedFrames())
			}
			continue
		}

		switch st {
		case decode.StatusProgress:
		case decode.StatusNeedsInput, decode.StatusIdle:
			if err := waitInput(ctx, in.Source); err != nil {
				return nil
			}
		case decode.StatusFailed:
			log.Error("decoding failed, stopping track")
			return nil
		}
	}
}

// reopenOutput opens an output for format, draining and closing the
// previous one first when the stream's format changed mid-play.
func (s *Session) reopenOutput(old *ao.Output, format media.AudioFormat, wake chan struct{}, log *slog.Logger) (*ao.Output, error) {
	if old != nil {
		log.Info("audio format changed, reopening output",
			"rate", format.Rate, "channels", format.Channels, "format", format.Format.String())
		old.Drain()
		old.Close()
	}

	opts := s.store.Get()
	out, err := s.aoReg.InitBest(ao.Config{
		Format:     format,
		BufferSecs: opts.AOBuffer,
		Log:        log,
		Wakeup: func() {
			select {
			case wake <- struct{}{}:
			default:
			}
		},
	}, opts.AO)
	if err != nil {
		return nil, err
	}
	log.Info("audio output opened", "driver", out.Name(),
		"rate", out.Format().Rate, "channels", out.Format().Channels,
		"format", out.Format().Format.String())
	return out, nil
}

// playAll pushes a whole frame into the output rings, sleeping on the
// device watermark wakeup whenever they are full.
func playAll(ctx context.Context, out *ao.Output, a *media.AudioFrame, wake chan struct{}) error {
	stride := out.SampleStride()
	planes := make([][]byte, len(a.Planes))
	copy(planes, a.Planes)
	samples := a.Samples

	for samples > 0 {
		if n := out.Play(planes, samples); n > 0 {
			samples -= n
			for i := range planes {
				planes[i] = planes[i][n*stride:]
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		case <-time.After(starvePoll):
		}
	}
	return nil
}

// waitInput blocks until the packet source may have data again.
func waitInput(ctx context.Context, src decode.PacketSource) error {
	if w, ok := src.(Waiter); ok {
		return w.Wait(ctx)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(starvePoll):
		return nil
	}
}

// logStats dumps per-track counters until ctx ends.
func (s *Session) logStats(ctx context.Context) {
	t := time.NewTicker(statsInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, tr := range s.reg.list() {
				s.log.Debug("track stats",
					"track", tr.Name,
					"frames", tr.Frames(),
					"samples", tr.Samples(),
					"dropped", tr.Dropped(),
					"resyncs", tr.Resyncs())
			}
		}
	}
}
