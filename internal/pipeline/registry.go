package pipeline

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/tempo/media"
)

// Track is one elementary stream under session control. The decode loop
// updates the counters; any goroutine may read them.
type Track struct {
	Name      string
	Kind      media.CodecKind
	StartedAt time.Time
	done      chan struct{}

	frames  atomic.Int64 // frames delivered downstream
	samples atomic.Int64 // audio samples queued on the output
	dropped atomic.Int64 // frames dropped for catch-up
	resyncs atomic.Int64 // output resets forced by timestamp jumps
}

// Done returns a channel closed when the track's decode loop has exited.
func (t *Track) Done() <-chan struct{} { return t.done }

// Frames returns the number of frames delivered downstream.
func (t *Track) Frames() int64 { return t.frames.Load() }

// Samples returns the number of audio samples queued on the output.
func (t *Track) Samples() int64 { return t.samples.Load() }

// Dropped returns the number of frames dropped for catch-up.
func (t *Track) Dropped() int64 { return t.dropped.Load() }

// Resyncs returns how often a timestamp jump forced an output reset.
func (t *Track) Resyncs() int64 { return t.resyncs.Load() }

// registry tracks the lifecycle of a session's decode loops, providing
// create/remove/list for supervision and the stats logger.
type registry struct {
	log    *slog.Logger
	mu     sync.RWMutex
	tracks map[string]*Track
}

func newRegistry(log *slog.Logger) *registry {
	if log == nil {
		log = slog.Default()
	}
	return &registry{
		log:    log.With("component", "track-registry"),
		tracks: make(map[string]*Track),
	}
}

// create registers a new track. Returns the track and true if created, or
// nil and false if a track with this name is already running.
func (r *registry) create(name string, kind media.CodecKind) (*Track, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tracks[name]; ok {
		r.log.Warn("track already exists, rejecting duplicate", "track", name)
		return nil, false
	}

	t := &Track{
		Name:      name,
		Kind:      kind,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}

	r.tracks[name] = t
	r.log.Info("track started", "track", name, "kind", kind.String())
	return t, true
}

// remove unregisters a track and marks it done.
func (r *registry) remove(name string) {
	r.mu.Lock()
	t, ok := r.tracks[name]
	if ok {
		delete(r.tracks, name)
	}
	r.mu.Unlock()

	if ok {
		close(t.done)
		r.log.Info("track finished", "track", name,
			"frames", t.Frames(), "dropped", t.Dropped())
	}
}

// list returns all running tracks.
func (r *registry) list() []*Track {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tracks := make([]*Track, 0, len(r.tracks))
	for _, t := range r.tracks {
		tracks = append(tracks, t)
	}
	return tracks
}
