package backend

import (
	"fmt"
	"maps"
	"slices"

	"github.com/jmylchreest/vidarr/internal/render"
)

// Order is the per-platform backend try-order used by the decoder search.
type Order struct {
	// Pass0 maps device types to the top-tier dedicated backend.
	Pass0 map[DeviceType]render.Type
	// Pass1 maps device types to second-tier dedicated backends.
	Pass1 map[DeviceType]render.Type
	// DRMPrimeFallback serves unknown device types producing DRM PRIME
	// surfaces with the DRM backend in pass 0.
	DRMPrimeFallback bool

	// Software presenters, matched against implementation pixel formats.
	Software []render.Type
	// Blind is tried in order for implementations with unknown pixel formats.
	Blind []render.Type

	// AlternateFrontends enables zero-copy import frontends.
	AlternateFrontends bool
	// HDRFrontends are import frontends tried for 10-bit formats, in order.
	// EGL import is always tried last.
	HDRFrontends []render.Type
	// Readback presents hardware surfaces after a copy to system memory.
	Readback render.Type
}

var orders = map[string]Order{
	"linux": {
		Pass0: map[DeviceType]render.Type{
			DeviceVAAPI:  render.TypeVAAPI,
			DeviceVDPAU:  render.TypeVDPAU,
			DeviceDRM:    render.TypeDRM,
			DeviceVulkan: render.TypeVulkan,
		},
		// CUDA only covers NVIDIA on Wayland, where VDPAU is unavailable.
		Pass1: map[DeviceType]render.Type{
			DeviceCUDA:  render.TypeCUDA,
			DeviceVAAPI: render.TypeVAAPI,
			DeviceVDPAU: render.TypeVDPAU,
		},
		DRMPrimeFallback:   true,
		Software:           []render.Type{render.TypeDRM, render.TypeVulkan, render.TypeSDL},
		Blind:              []render.Type{render.TypeDRM, render.TypeVulkan, render.TypeSDL},
		AlternateFrontends: true,
		HDRFrontends:       []render.Type{render.TypeVulkan, render.TypeDRM},
		Readback:           render.TypeSDL,
	},
	"windows": {
		// DXVA2 is listed before D3D11VA by implementations, so it only
		// gets a chance once D3D11VA failed at the top tier.
		Pass0: map[DeviceType]render.Type{
			DeviceD3D11VA: render.TypeD3D11VA,
			DeviceVulkan:  render.TypeVulkan,
		},
		Pass1: map[DeviceType]render.Type{
			DeviceCUDA:    render.TypeCUDA,
			DeviceDXVA2:   render.TypeDXVA2,
			DeviceD3D11VA: render.TypeD3D11VA,
		},
		Software: []render.Type{render.TypeVulkan, render.TypeSDL},
		Blind:    []render.Type{render.TypeVulkan, render.TypeSDL},
		Readback: render.TypeSDL,
	},
	"darwin": {
		Pass0: map[DeviceType]render.Type{
			DeviceVideoToolbox: render.TypeVTMetal,
			DeviceVulkan:       render.TypeVulkan,
		},
		Pass1: map[DeviceType]render.Type{
			DeviceVideoToolbox: render.TypeVTSampleLayer,
		},
		Software: []render.Type{render.TypeVulkan, render.TypeSDL},
		Blind:    []render.Type{render.TypeVulkan, render.TypeVTMetal, render.TypeSDL},
		Readback: render.TypeSDL,
	},
}

// fallbackOrder serves platforms without a dedicated table.
var fallbackOrder = Order{
	Pass0:    map[DeviceType]render.Type{DeviceVulkan: render.TypeVulkan},
	Pass1:    map[DeviceType]render.Type{},
	Software: []render.Type{render.TypeSDL},
	Blind:    []render.Type{render.TypeSDL},
	Readback: render.TypeSDL,
}

// OrderFor returns a copy of the try-order for goos.
func OrderFor(goos string) Order {
	o, ok := orders[goos]
	if !ok {
		o = fallbackOrder
	}
	return o.clone()
}

func (o Order) clone() Order {
	o.Pass0 = maps.Clone(o.Pass0)
	o.Pass1 = maps.Clone(o.Pass1)
	o.Software = slices.Clone(o.Software)
	o.Blind = slices.Clone(o.Blind)
	o.HDRFrontends = slices.Clone(o.HDRFrontends)
	return o
}

// Overrides restricts or reorders the try-order. Empty lists keep the
// platform default.
type Overrides struct {
	Pass0    []string
	Pass1    []string
	Software []string
}

// WithOverrides returns o with the dedicated passes restricted to the listed
// backend types and the software order replaced.
func (o Order) WithOverrides(ov Overrides) (Order, error) {
	out := o.clone()

	restrict := func(m map[DeviceType]render.Type, keys []string) error {
		if len(keys) == 0 {
			return nil
		}
		allowed, err := parseTypes(keys)
		if err != nil {
			return err
		}
		maps.DeleteFunc(m, func(_ DeviceType, t render.Type) bool {
			return !slices.Contains(allowed, t)
		})
		return nil
	}
	if err := restrict(out.Pass0, ov.Pass0); err != nil {
		return Order{}, fmt.Errorf("pass0: %w", err)
	}
	if err := restrict(out.Pass1, ov.Pass1); err != nil {
		return Order{}, fmt.Errorf("pass1: %w", err)
	}

	if len(ov.Software) > 0 {
		sw, err := parseTypes(ov.Software)
		if err != nil {
			return Order{}, fmt.Errorf("software: %w", err)
		}
		out.Software = sw
	}
	return out, nil
}

func parseTypes(keys []string) ([]render.Type, error) {
	out := make([]render.Type, 0, len(keys))
	for _, k := range keys {
		t, ok := render.ParseType(k)
		if !ok {
			return nil, fmt.Errorf("unknown backend %q", k)
		}
		out = append(out, t)
	}
	return out, nil
}
