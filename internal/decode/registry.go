package decode

import (
	"log/slog"
	"strings"

	"github.com/zsiec/tempo/media"
)

// Factory describes one decoder backend implementation.
type Factory struct {
	Name string
	Desc string
	Kind media.CodecKind
	// Codecs lists the codec names the backend accepts; empty means any
	// codec of its kind.
	Codecs []string
	// Passthrough marks backends that re-frame compressed data instead of
	// decoding it. They are skipped by normal selection and only reachable
	// through SelectSPDIF.
	Passthrough bool

	New func(codec *media.Codec, log *slog.Logger) (Decoder, error)
}

func (f *Factory) accepts(codecName string) bool {
	if len(f.Codecs) == 0 {
		return true
	}
	for _, c := range f.Codecs {
		if c == codecName {
			return true
		}
	}
	return false
}

// Registry holds the available decoder backends in probe order. Build one
// at startup and share it across streams; registration is not safe once
// selection has begun.
type Registry struct {
	factories []Factory
}

// NewRegistry returns a registry with the built-in backends registered.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(Factory{
		Name: "vraw",
		Desc: "headless video",
		Kind: media.KindVideo,
		New:  newVRaw,
	})
	r.Register(Factory{
		Name: "lpcm",
		Desc: "linear PCM audio",
		Kind: media.KindAudio,
		New:  newLPCM,
	})
	r.Register(Factory{
		Name:        "spdif",
		Desc:        "IEC 61937 frame mining",
		Kind:        media.KindAudio,
		Codecs:      spdifCodecs(),
		Passthrough: true,
		New:         newSPDIF,
	})
	return r
}

// Register appends a backend to the probe order.
func (r *Registry) Register(f Factory) {
	r.factories = append(r.factories, f)
}

// Select returns the candidate backends for a stream, highest priority
// first. userList is a comma-separated list of backend names that filters
// and reorders the candidates; empty keeps registry order. Unknown names
// are ignored.
func (r *Registry) Select(kind media.CodecKind, codecName, userList string) []Factory {
	var compat []Factory
	for _, f := range r.factories {
		if f.Kind == kind && !f.Passthrough && f.accepts(codecName) {
			compat = append(compat, f)
		}
	}
	if userList == "" {
		return compat
	}

	var out []Factory
	for _, name := range strings.Split(userList, ",") {
		name = strings.TrimSpace(name)
		for _, f := range compat {
			if f.Name == name {
				out = append(out, f)
			}
		}
	}
	return out
}

// SelectSPDIF returns the passthrough backend when the codec is eligible
// for IEC 61937 framing and named in the enabled list. The "dts-hd" list
// entry is accepted as an alias for dts.
func (r *Registry) SelectSPDIF(codecName, enabled string) []Factory {
	requested := false
	for _, name := range strings.Split(enabled, ",") {
		name = strings.TrimSpace(name)
		if name == "dts-hd" {
			name = "dts"
		}
		if name == codecName {
			requested = true
			break
		}
	}
	if !requested {
		return nil
	}

	var out []Factory
	for _, f := range r.factories {
		if f.Passthrough && f.Kind == media.KindAudio && f.accepts(codecName) {
			out = append(out, f)
		}
	}
	return out
}
