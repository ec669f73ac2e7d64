// Command tempo plays MPEG-TS and EDL sources headlessly: elementary
// streams are decoded with corrected timing, audio feeds the pull-mode
// output, and captions and splice cues surface in the log.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/tempo/internal/ao"
	"github.com/zsiec/tempo/internal/captions"
	"github.com/zsiec/tempo/internal/config"
	"github.com/zsiec/tempo/internal/decode"
	"github.com/zsiec/tempo/internal/ingest"
	"github.com/zsiec/tempo/internal/mpegts"
	"github.com/zsiec/tempo/internal/pipeline"
	"github.com/zsiec/tempo/internal/timeline"
	"github.com/zsiec/tempo/media"
)

var version = "dev"

func main() {
	lvl := new(slog.LevelVar)
	if os.Getenv("DEBUG") != "" {
		lvl.Set(slog.LevelDebug)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	if len(os.Args) != 2 || os.Args[1] == "-h" || os.Args[1] == "--help" {
		fmt.Fprintf(os.Stderr,
			"usage: %s <file.ts | playlist.edl | srt://host:port[?streamid=...]>\n",
			filepath.Base(os.Args[0]))
		os.Exit(2)
	}
	source := os.Args[1]

	configPath := envOr("TEMPO_CONFIG", "")
	store, err := config.Load(configPath, nil)
	if err != nil {
		slog.Error("failed to load options", "error", err)
		os.Exit(1)
	}
	if os.Getenv("DEBUG") == "" {
		lvl.Set(logLevel(store.Get().LogLevel))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("tempo starting", "version", version, "source", source, "config", configPath)

	if err := run(ctx, store, configPath, source); err != nil {
		slog.Error("playback failed", "error", err)
		os.Exit(1)
	}
}

func run(parent context.Context, store *config.Store, configPath, source string) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if configPath != "" {
		g.Go(func() error {
			if err := store.Watch(ctx, configPath); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	a := &app{
		video:    &videoLog{log: slog.With("component", "video")},
		captions: captions.NewSink(captions.WithLogger(slog.Default())),
	}
	a.sess = pipeline.NewSession(store, decode.NewRegistry(), ao.NewRegistry(nil),
		pipeline.WithLogger(slog.Default()),
		pipeline.WithVideoSink(a.video),
		pipeline.WithCaptionSink(a.captions),
	)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case f := <-a.captions.Frames():
				slog.Info("caption",
					"channel", f.Channel, "pts_ms", f.PTS/1000, "text", f.Text)
			}
		}
	})

	err := a.open(ctx, g, source)
	if err == nil {
		g.Go(func() error {
			// Playback finished; wind down the watcher and drain loops.
			defer cancel()
			return a.sess.Run(ctx)
		})
	} else {
		cancel()
	}

	if werr := g.Wait(); err == nil {
		err = werr
	}

	for _, src := range a.sources {
		src.Close()
		if serr := src.Err(); serr != nil {
			slog.Warn("demux ended with error", "error", serr)
		}
	}
	for _, in := range a.inputs {
		st := in.Stats()
		slog.Info("input closed", "source", st.Source,
			"bytes", st.BytesRead, "reads", st.ReadCount, "uptime_ms", st.UptimeMs)
	}
	return err
}

// app couples the session with the inputs and demux sources feeding it.
type app struct {
	sess     *pipeline.Session
	video    *videoLog
	captions *captions.Sink

	inputs  []*ingest.Input
	sources []*mpegts.Source
}

// open prepares the session's tracks from a TS file, an EDL, or an SRT
// pull. Everything opened stays in the app for teardown and stats.
func (a *app) open(ctx context.Context, g *errgroup.Group, source string) error {
	if ingest.DetectFormat(source) == ingest.FormatEDL {
		return a.openEDL(ctx, g, source)
	}
	return a.openTS(ctx, g, source)
}

func (a *app) openTS(ctx context.Context, g *errgroup.Group, source string) error {
	tracks, err := a.demux(ctx, g, source)
	if err != nil {
		return err
	}

	// One track per kind plays, mirroring default stream selection. The
	// rest drain so the demuxer never stalls on their queues.
	picks := map[media.CodecKind]*mpegts.Track{}
	for _, t := range tracks {
		if _, ok := picks[t.Codec.Kind]; !ok {
			picks[t.Codec.Kind] = t
		}
	}
	if len(picks) == 0 {
		return fmt.Errorf("no playable streams in %s", source)
	}
	for _, t := range tracks {
		if picks[t.Codec.Kind] != t {
			slog.Info("ignoring additional stream", "pid", t.PID, "codec", t.Codec.Name)
			drainTrack(ctx, g, t)
			continue
		}
		name := fmt.Sprintf("%s/%d", t.Codec.Kind, t.PID)
		if err := a.sess.AddTrack(name, t.Codec, t); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) openEDL(ctx context.Context, g *errgroup.Group, path string) error {
	edl, err := ingest.Open(ctx, path, slog.Default())
	if err != nil {
		return err
	}
	segs, perr := timeline.Parse(edl)
	edl.Close()
	if perr != nil {
		return perr
	}

	// EDL entries resolve relative to the list's own directory.
	dir := filepath.Dir(path)
	type segTracks struct {
		seg    timeline.Segment
		tracks []*mpegts.Track
	}
	opened := make([]segTracks, 0, len(segs))
	for _, seg := range segs {
		file := seg.File
		if !strings.Contains(file, "://") && !filepath.IsAbs(file) {
			file = filepath.Join(dir, file)
		}
		tracks, err := a.demux(ctx, g, file)
		if err != nil {
			return err
		}
		opened = append(opened, segTracks{seg: seg, tracks: tracks})
	}

	used := make(map[*mpegts.Track]bool)
	added := 0
	for _, kind := range []media.CodecKind{media.KindVideo, media.KindAudio} {
		var (
			ss    []timeline.SegmentStream
			picks []*mpegts.Track
		)
		for _, st := range opened {
			var pick *mpegts.Track
			for _, t := range st.tracks {
				if t.Codec.Kind == kind {
					pick = t
					break
				}
			}
			if pick == nil {
				break
			}
			ss = append(ss, timeline.SegmentStream{
				Stream: pick,
				Codec:  pick.Codec,
				Start:  st.seg.Start,
				Length: st.seg.Length,
			})
			picks = append(picks, pick)
		}
		if len(ss) == 0 {
			continue
		}
		if len(ss) < len(opened) {
			slog.Warn("stream kind missing from a segment, skipping it",
				"kind", kind, "segments", len(ss))
			continue
		}
		for _, t := range picks {
			used[t] = true
		}
		tl := timeline.NewSource(ss, timeline.WithLogger(slog.Default()))
		if err := a.sess.AddTrack(kind.String(), ss[0].Codec, tl); err != nil {
			return err
		}
		added++
	}
	if added == 0 {
		return fmt.Errorf("no stitchable streams in %s", path)
	}

	for _, st := range opened {
		for _, t := range st.tracks {
			if !used[t] {
				drainTrack(ctx, g, t)
			}
		}
	}
	return nil
}

// demux opens one source and starts its TS demuxer, returning the
// discovered tracks.
func (a *app) demux(ctx context.Context, g *errgroup.Group, source string) ([]*mpegts.Track, error) {
	in, err := ingest.Open(ctx, source, slog.Default())
	if err != nil {
		return nil, err
	}
	a.inputs = append(a.inputs, in)

	src := mpegts.NewSource(ctx, in, mpegts.WithSourceLogger(slog.Default()))
	a.sources = append(a.sources, src)
	drainSplices(g, src)

	return src.Tracks(ctx)
}

// drainSplices logs ad-break cues; the queue must drain even when nobody
// acts on them.
func drainSplices(g *errgroup.Group, src *mpegts.Source) {
	g.Go(func() error {
		for sp := range src.Splices() {
			kind := "return"
			if sp.Out {
				kind = "break"
			}
			slog.Info("splice cue", "kind", kind, "event_id", sp.EventID, "pts", sp.PTS)
		}
		return nil
	})
}

// drainTrack consumes an elementary stream nobody plays so the demuxer
// never stalls on its queue.
func drainTrack(ctx context.Context, g *errgroup.Group, t *mpegts.Track) {
	g.Go(func() error {
		for {
			f := t.Pull()
			switch {
			case f.Type() == media.FrameEOF:
				return nil
			case f.IsNone():
				if err := t.Wait(ctx); err != nil {
					return nil
				}
			}
		}
	})
}

// videoLog is the headless video sink: it counts decoded frames and logs
// the first one's geometry.
type videoLog struct {
	log    *slog.Logger
	frames atomic.Int64
}

func (v *videoLog) WriteVideo(_ context.Context, f *media.VideoFrame) error {
	if v.frames.Add(1) == 1 {
		v.log.Info("first video frame",
			"pts", f.PTS, "width", f.Params.W, "height", f.Params.H)
	}
	return nil
}

// logLevel maps the options' log-level string onto slog levels.
func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
