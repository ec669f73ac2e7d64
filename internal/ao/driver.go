package ao

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zsiec/tempo/internal/ring"
)

// Driver is one audio output implementation. Init may adjust the Output's
// format to what the device supports and must leave the device idle; Resume
// (re)starts the device callback, which pulls samples via Output.ReadData
// from a single goroutine.
type Driver interface {
	Name() string
	Init(o *Output) error
	Uninit(o *Output)
	Resume(o *Output)
}

// Resetter is implemented by drivers whose device can drop buffered audio
// synchronously, with the callback guaranteed stopped on return. Outputs
// without it fall back to the WAIT handshake in Reset.
type Resetter interface {
	Reset(o *Output)
}

// Entry describes a registered driver.
type Entry struct {
	Name string
	Desc string
	// New constructs a fresh driver instance. arg carries the optional
	// per-driver argument from a "name:arg" selection.
	New func(arg string) Driver
}

// ErrNoOutput is returned when no driver could be initialized.
var ErrNoOutput = errors.New("ao: no usable audio output")

// Registry holds drivers in autoprobe priority order.
type Registry struct {
	entries []Entry
	log     *slog.Logger
}

// NewRegistry returns a registry with the built-in drivers. The null driver
// precedes wav so autoprobe never lands on a file writer; wav plays only
// when selected by name.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{log: log.With("component", "ao")}
	r.Register(Entry{Name: "null", Desc: "null audio output", New: newNullDriver})
	r.Register(Entry{Name: "wav", Desc: "WAV file writer", New: newWAVDriver})
	return r
}

// Register appends a driver to the autoprobe order.
func (r *Registry) Register(e Entry) { r.entries = append(r.entries, e) }

func (r *Registry) find(name string) (Entry, bool) {
	for _, e := range r.entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// InitBest opens an output. names is a comma-separated preference list of
// "name" or "name:arg" selections; an empty element falls through to
// autoprobing the full registry order, and an empty list autoprobes
// directly. With a non-empty list and no empty element, failure of every
// named driver is final.
func (r *Registry) InitBest(cfg Config, names string) (*Output, error) {
	autoprobe := true
	if names != "" {
		autoprobe = false
		for _, sel := range strings.Split(names, ",") {
			if sel == "" {
				autoprobe = true
				break
			}
			name, arg, _ := strings.Cut(sel, ":")
			e, ok := r.find(name)
			if !ok {
				r.log.Error("audio output not found", "name", name)
				continue
			}
			r.log.Debug("trying preferred audio driver", "name", name)
			o, err := r.open(cfg, e, arg)
			if err != nil {
				r.log.Warn("failed to initialize audio driver", "name", name, "error", err)
				continue
			}
			return o, nil
		}
	}
	if autoprobe {
		for _, e := range r.entries {
			o, err := r.open(cfg, e, "")
			if err != nil {
				r.log.Debug("autoprobe rejected audio driver", "name", e.Name, "error", err)
				continue
			}
			return o, nil
		}
	}
	return nil, ErrNoOutput
}

func (r *Registry) open(cfg Config, e Entry, arg string) (*Output, error) {
	if !cfg.Format.Valid() {
		return nil, fmt.Errorf("ao: invalid format %+v", cfg.Format)
	}
	secs := cfg.BufferSecs
	if secs <= 0 {
		secs = 0.2
	}
	log := r.log
	if cfg.Log != nil {
		log = cfg.Log.With("component", "ao")
	}
	o := &Output{
		driver:  e.New(arg),
		fmt:     cfg.Format,
		samples: int(float64(cfg.Format.Rate) * secs),
		wakeup:  cfg.Wakeup,
		log:     log.With("driver", e.Name),
	}
	o.log.Debug("requested format",
		"rate", o.fmt.Rate, "channels", o.fmt.Channels, "format", o.fmt.Format.String())
	if err := o.driver.Init(o); err != nil {
		return nil, fmt.Errorf("ao: init %s: %w", e.Name, err)
	}
	// The driver may have adjusted the format; derive the layout after init.
	o.sstride = o.fmt.SampleStride()
	o.bps = o.fmt.BPS()
	o.buffers = make([]*ring.Buffer, o.fmt.NumPlanes())
	for n := range o.buffers {
		o.buffers[n] = ring.New(o.samples * o.sstride)
	}
	o.state.Store(stateNone)
	return o, nil
}
