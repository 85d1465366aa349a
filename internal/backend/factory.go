package backend

import (
	"log/slog"

	"github.com/jmylchreest/vidarr/internal/render"
)

// HWMethod is a bitmask of the ways a hardware configuration is set up.
type HWMethod uint8

const (
	MethodHWDeviceCtx HWMethod = 0x01
	MethodHWFramesCtx HWMethod = 0x02
	MethodInternal    HWMethod = 0x04
	MethodAdHoc       HWMethod = 0x08
)

// HWConfig is one hardware acceleration configuration of a decoder
// implementation.
type HWConfig struct {
	DeviceType  DeviceType
	PixelFormat render.PixelFormat
	Methods     HWMethod
}

// Factory constructs fresh backend instances following an Order.
type Factory struct {
	host   *Host
	order  Order
	logger *slog.Logger
}

// NewFactory creates a factory for host using order.
func NewFactory(host *Host, order Order) *Factory {
	return &Factory{host: host, order: order, logger: slog.Default()}
}

// WithLogger sets the logger handed to constructed backends.
func (f *Factory) WithLogger(logger *slog.Logger) *Factory {
	f.logger = logger
	return f
}

// Order returns the try-order in use.
func (f *Factory) Order() Order { return f.order }

// New constructs a presentation backend of type t, or nil when t has no
// implementation.
func (f *Factory) New(t render.Type) render.Backend {
	spec, ok := specs[t]
	if !ok {
		return nil
	}
	return newNative(spec, f.host, f.logger)
}

// HWAccel constructs the backend serving cfg in the given pass, or nil when
// the pass has nothing for the device type.
func (f *Factory) HWAccel(cfg HWConfig, pass int) render.Backend {
	if cfg.Methods&MethodHWDeviceCtx == 0 {
		return nil
	}

	var t render.Type
	switch pass {
	case 0:
		var ok bool
		if t, ok = f.order.Pass0[cfg.DeviceType]; !ok {
			// Out-of-tree hwaccels that output DRM PRIME frames.
			if !f.order.DRMPrimeFallback || cfg.PixelFormat != render.PixFmtDRMPrime {
				return nil
			}
			t = render.TypeDRM
		}
	case 1:
		var ok bool
		if t, ok = f.order.Pass1[cfg.DeviceType]; !ok {
			return nil
		}
	case 2:
		// A device type with a dedicated backend that reached this pass was
		// rejected by it. The generic backend does not second guess that.
		if cfg.DeviceType.IsKnown() {
			return nil
		}
		t = render.TypeGenericHWAccel
	default:
		return nil
	}

	n := newNative(specs[t], f.host, f.logger)
	n.device = cfg.DeviceType
	if cfg.PixelFormat != render.PixFmtNone {
		n.surface = cfg.PixelFormat
	}
	return n
}

// Frontend constructs an import or readback frontend of type t presenting
// surfaces exported by source.
func (f *Factory) Frontend(t render.Type, source render.Backend) render.Backend {
	spec, ok := specs[t]
	if !ok {
		return nil
	}
	n := newNative(spec, f.host, f.logger)
	if spec.Roles&RoleImport != 0 {
		n.source = source
	}
	return n
}
