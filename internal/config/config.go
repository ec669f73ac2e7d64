// Package config loads tempo's options and publishes them as immutable
// snapshots. Pipeline stages hold a Cache and poll Update at the top of
// each processing step, so option changes apply between steps and never
// mid-frame.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Options is one immutable snapshot of the runtime options. Snapshots are
// shared across goroutines; never mutate one after publishing.
type Options struct {
	LogLevel string `yaml:"log-level"`

	// CorrectPTS selects timestamp-based video timing; disabling it makes
	// the decoder synthesize timestamps from the frame rate.
	CorrectPTS bool    `yaml:"correct-pts"`
	FPS        float64 `yaml:"fps"` // force container FPS, 0 keeps reported

	// Byte budgets for the backward-playback frame queues.
	VideoReverseBytes int64 `yaml:"video-reverse-bytes"`
	AudioReverseBytes int64 `yaml:"audio-reverse-bytes"`

	// Decoder preference lists, comma separated, highest priority first.
	VideoDecoders string `yaml:"video-decoders"`
	AudioDecoders string `yaml:"audio-decoders"`

	// AudioSPDIF lists codecs to pass through IEC 61937 framing instead of
	// decoding, e.g. "ac3,dts".
	AudioSPDIF string `yaml:"audio-spdif"`

	AO       string  `yaml:"ao"`        // output preference list for ao.InitBest
	AOBuffer float64 `yaml:"ao-buffer"` // output ring size in seconds
}

// Default returns the options used when nothing is configured.
func Default() Options {
	return Options{
		LogLevel:          "info",
		CorrectPTS:        true,
		VideoReverseBytes: 256 << 20,
		AudioReverseBytes: 64 << 20,
		AOBuffer:          0.2,
	}
}

// Validate rejects option combinations the pipeline cannot run with.
func (o *Options) Validate() error {
	if o.AOBuffer <= 0 {
		return errors.New("config: ao-buffer must be positive")
	}
	if o.VideoReverseBytes <= 0 || o.AudioReverseBytes <= 0 {
		return errors.New("config: reverse buffer sizes must be positive")
	}
	if o.FPS < 0 {
		return errors.New("config: fps must not be negative")
	}
	return nil
}

// Store holds the current snapshot and a generation counter so caches can
// detect changes without comparing structs.
type Store struct {
	log *slog.Logger
	cur atomic.Pointer[Options]
	gen atomic.Uint64
}

// NewStore creates a store seeded with opts.
func NewStore(opts Options, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{log: log.With("component", "config")}
	o := opts
	s.cur.Store(&o)
	s.gen.Store(1)
	return s
}

// Load reads a YAML options file over the defaults. An empty path yields a
// store with plain defaults.
func Load(path string, log *slog.Logger) (*Store, error) {
	opts := Default()
	if path != "" {
		if err := readFile(path, &opts); err != nil {
			return nil, err
		}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return NewStore(opts, log), nil
}

func readFile(path string, opts *Options) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(raw, opts); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// Get returns the current snapshot.
func (s *Store) Get() *Options { return s.cur.Load() }

// Set publishes a new snapshot.
func (s *Store) Set(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	o := opts
	s.cur.Store(&o)
	s.gen.Add(1)
	return nil
}

// Cache returns a consumer-local view of the store.
func (s *Store) Cache() *Cache {
	return &Cache{s: s, cur: s.Get(), seen: s.gen.Load()}
}

// Cache is one consumer's view of the options. It is not goroutine safe;
// each pipeline stage owns its own.
type Cache struct {
	s    *Store
	seen uint64
	cur  *Options
}

// Update pulls the latest snapshot and reports whether it changed since
// the previous call.
func (c *Cache) Update() bool {
	gen := c.s.gen.Load()
	if gen == c.seen {
		return false
	}
	c.seen = gen
	c.cur = c.s.Get()
	return true
}

// Get returns the snapshot as of the last Update.
func (c *Cache) Get() *Options { return c.cur }
