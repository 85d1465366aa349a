// Package decoder selects a working decoder implementation and backend
// combination for a video format, validates it with a test frame, and
// drives decoded frames into the presentation path.
package decoder

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jmylchreest/vidarr/internal/backend"
	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/render"
)

// ErrAgain is returned by Context.Receive when no output is ready yet.
var ErrAgain = errors.New("decoder: output not ready")

// Packet is one compressed access unit.
type Packet struct {
	Data []byte
	Key  bool
}

// Context is an open decoder.
type Context interface {
	Send(pkt Packet) error
	Receive() (*render.Frame, error)
	Close() error
}

// OpenConfig configures a decoder open.
type OpenConfig struct {
	Decoder  render.DecoderContext
	HWConfig *backend.HWConfig

	// GetFormat picks the output format out of the formats the decoder
	// offers, or returns PixFmtNone to fail the open.
	GetFormat func(offered []render.PixelFormat) render.PixelFormat
}

// Implementation is a decoder implementation for one codec family.
type Implementation struct {
	Name   string
	Family codec.Video

	// Hardware marks hardware-native implementations that decode without
	// a hardware configuration.
	Hardware bool

	HWConfigs []backend.HWConfig

	// PixelFormats lists the output formats. nil means unknown.
	PixelFormats []render.PixelFormat

	// Presenters restricts the software presenters tried for this
	// implementation. Empty means the platform order.
	Presenters []render.Type

	Open func(cfg OpenConfig) (Context, error)
}

// IsHardware reports whether the implementation decodes in hardware
// without a hardware configuration. OMX wrappers rarely declare it.
func (i *Implementation) IsHardware() bool {
	return i.Hardware || strings.HasSuffix(strings.ToLower(i.Name), "_omx")
}

// Matches reports whether the implementation decodes format f.
func (i *Implementation) Matches(f codec.Format) bool {
	return f&i.Family.Mask() != 0
}

// HasZeroCopyFormat reports whether any output format is a hardware
// surface that can be presented without a copy.
func (i *Implementation) HasZeroCopyFormat() bool {
	return slices.ContainsFunc(i.PixelFormats, render.PixelFormat.IsHWAccel)
}

// Registry is an ordered set of implementations. Iteration order is the
// registration order.
type Registry struct {
	impls []*Implementation
}

// NewRegistry creates a registry holding impls in order.
func NewRegistry(impls ...*Implementation) *Registry {
	return &Registry{impls: impls}
}

// Register appends impl. Names must be unique.
func (r *Registry) Register(impl *Implementation) error {
	if impl.Name == "" || impl.Open == nil {
		return fmt.Errorf("invalid implementation %q", impl.Name)
	}
	if r.Lookup(impl.Name) != nil {
		return fmt.Errorf("implementation %q already registered", impl.Name)
	}
	r.impls = append(r.impls, impl)
	return nil
}

// Lookup returns the implementation called name, or nil.
func (r *Registry) Lookup(name string) *Implementation {
	for _, impl := range r.impls {
		if impl.Name == name {
			return impl
		}
	}
	return nil
}

// Matching returns the implementations decoding f in registration order.
func (r *Registry) Matching(f codec.Format) []*Implementation {
	var out []*Implementation
	for _, impl := range r.impls {
		if impl.Matches(f) {
			out = append(out, impl)
		}
	}
	return out
}

// All returns every implementation in registration order.
func (r *Registry) All() []*Implementation {
	return slices.Clone(r.impls)
}
