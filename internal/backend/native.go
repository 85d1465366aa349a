package backend

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/render"
)

// Presenter is implemented by platform windows that accept frames.
type Presenter interface {
	Present(frame *render.Frame) error
}

// DeviceHandle is attached to the decoder context of hardware backends.
type DeviceHandle struct {
	Type DeviceType
	Node string
}

var errNotInitialized = errors.New("backend not initialized")

// Native is a backend driven by its Spec. Initialize probes the native API
// on the host, and frames are presented through the platform window.
type Native struct {
	render.Base

	spec   Spec
	host   *Host
	logger *slog.Logger

	device  DeviceType
	surface render.PixelFormat
	source  render.Backend
	absorbs render.WindowChangeFlag

	params      render.Params
	library     string
	node        string
	initialized bool
	hdr         bool

	tracker  render.FormatTracker
	csc      render.CSC
	rendered int
}

func newNative(spec Spec, host *Host, logger *slog.Logger) *Native {
	n := &Native{
		Base:    render.NewBase(spec.Type),
		spec:    spec,
		host:    host,
		logger:  logger.With(slog.String("backend", spec.Type.String())),
		surface: spec.Surface,
		absorbs: spec.Absorbs,
	}
	// Resizing breaks the readback presenter's render thread on Windows.
	if spec.Type == render.TypeSDL && host.GOOS == "windows" {
		n.absorbs = render.WindowChangeDisplay
	}
	return n
}

// Device returns the hardware device type this instance decodes with.
func (n *Native) Device() DeviceType { return n.device }

// Source returns the exporting backend when n is a frontend.
func (n *Native) Source() render.Backend { return n.source }

// Initialize probes the backend's native API for params.
func (n *Native) Initialize(p render.Params) error {
	if !n.spec.supportsOS(n.host.GOOS) {
		n.SetInitFailureReason(render.NoSoftwareSupport)
		return fmt.Errorf("%s: unsupported on %s", n.spec.Type, n.host.GOOS)
	}

	lib, node, err := n.spec.probe(n.host)
	if err != nil {
		n.SetInitFailureReason(render.NoSoftwareSupport)
		return fmt.Errorf("%s: %w", n.spec.Type, err)
	}
	n.library, n.node = lib, node

	if n.device != DeviceNone {
		if formats, ok := n.host.profiles(n.device); ok && formats&p.Format == 0 {
			n.SetInitFailureReason(render.NoHardwareSupport)
			return fmt.Errorf("%s: hardware cannot decode %s", n.spec.Type, p.Format)
		}
	}

	if n.spec.Attributes.Has(render.Attr1080pMax) && p.Width*p.Height > 1920*1080 {
		return fmt.Errorf("%s: %dx%d exceeds 1080p", n.spec.Type, p.Width, p.Height)
	}

	if n.source != nil {
		if err := n.checkSource(); err != nil {
			return err
		}
	}

	if !p.TestOnly && n.presents() && p.Window == nil {
		return fmt.Errorf("%s: no window to present into", n.spec.Type)
	}

	n.params = p
	n.initialized = true
	n.logger.Debug("backend initialized",
		slog.String("format", p.Format.String()),
		slog.Int("width", p.Width),
		slog.Int("height", p.Height),
		slog.String("library", lib),
		slog.String("device", node),
		slog.Bool("test_only", p.TestOnly),
	)
	return nil
}

func (n *Native) checkSource() error {
	switch n.spec.Type {
	case render.TypeEGL:
		if !render.CanExportEGL(n.source) {
			return fmt.Errorf("%s: %s cannot export EGL images", n.spec.Type, n.source.Type())
		}
	case render.TypeDRM:
		if !render.CanExportDRMPrime(n.source) {
			return fmt.Errorf("%s: %s cannot export DRM PRIME", n.spec.Type, n.source.Type())
		}
	case render.TypeVulkan:
		if n.source.Type() == render.TypeVulkan {
			return fmt.Errorf("%s: cannot import its own surfaces", n.spec.Type)
		}
	}
	return nil
}

// presents reports whether this instance draws to the window.
func (n *Native) presents() bool {
	return n.source != nil || n.DirectRenderingSupported()
}

func (n *Native) PrepareDecoderContext(ctx *render.DecoderContext) error {
	if !n.initialized {
		return errNotInitialized
	}
	if n.device != DeviceNone {
		ctx.HWDevice = DeviceHandle{Type: n.device, Node: n.node}
		ctx.PixelFormat = n.surface
	}
	return nil
}

func (n *Native) PreferredPixelFormat(f codec.Format) render.PixelFormat {
	switch {
	case n.source != nil:
		return n.source.PreferredPixelFormat(f)
	case n.device != DeviceNone:
		return n.surface
	case n.spec.preferred != nil:
		return n.spec.preferred(f)
	default:
		return render.DefaultPreferredPixelFormat(f)
	}
}

func (n *Native) PixelFormatSupported(f codec.Format, p render.PixelFormat) bool {
	switch {
	case n.source != nil:
		return n.source.PixelFormatSupported(f, p)
	case n.device != DeviceNone:
		return p == n.surface
	case n.spec.supported != nil:
		return n.spec.supported(f, p)
	default:
		return render.DefaultPixelFormatSupported(f, p)
	}
}

func (n *Native) NeedsTestFrame() bool { return n.spec.NeedsTestFrame }

// TestRenderFrame checks that a decoded test frame can be presented.
func (n *Native) TestRenderFrame(frame *render.Frame) bool {
	if frame == nil {
		return false
	}
	switch {
	case n.device != DeviceNone:
		return frame.Format == n.surface
	case n.source != nil:
		return frame.Format.IsHWAccel()
	case n.spec.Roles&RoleReadback != 0 && frame.Format.IsHWAccel():
		return frame.SWFormat.Known()
	case n.spec.Roles&RolePresent != 0:
		return n.PixelFormatSupported(n.params.Format, frame.Format)
	default:
		return true
	}
}

func (n *Native) DirectRenderingSupported() bool {
	if n.spec.Type == render.TypeVAAPI {
		switch {
		case n.host.getenv("VAAPI_FORCE_DIRECT") == "1":
			return true
		case n.host.getenv("VAAPI_FORCE_INDIRECT") == "1":
			return false
		}
	}
	return n.spec.DirectRendering
}

func (n *Native) DecoderCapabilities() render.Capability { return n.spec.Capabilities }

func (n *Native) RendererAttributes() render.Attribute {
	attrs := n.spec.Attributes
	if n.spec.Type == render.TypeDRM && n.source == nil && n.device == DeviceNone {
		// Software frames are mapped through dumb buffers, which cannot
		// carry HDR metadata.
		attrs &^= render.AttrHDRSupport
	}
	return attrs
}

func (n *Native) NotifyWindowChanged(change render.WindowChange) bool {
	return n.absorbs != 0 && change.Flags&^n.absorbs == 0
}

func (n *Native) SetHDRMode(enabled bool) {
	if n.hdr != enabled {
		n.logger.Info("HDR mode changed", slog.Bool("enabled", enabled))
	}
	n.hdr = enabled
}

// HDREnabled reports the last HDR mode applied.
func (n *Native) HDREnabled() bool { return n.hdr }

// Rendered returns the number of frames presented.
func (n *Native) Rendered() int { return n.rendered }

// RenderFrame presents frame into the window. Hardware frames handled by
// a readback presenter are presented as their software layout.
func (n *Native) RenderFrame(frame *render.Frame) {
	if !n.initialized || frame == nil {
		return
	}

	if n.tracker.Changed(frame) {
		n.csc = render.CSCConstants(frame, n.DecoderColorspace())
		n.logger.Debug("frame format changed",
			slog.String("pixel_format", frame.SWPixelFormat().String()),
			slog.Int("width", frame.Width),
			slog.Int("height", frame.Height),
			slog.Bool("full_range", render.IsFullRange(frame)),
			slog.Int("bits", render.BitsPerChannel(frame)),
		)
	}

	out := frame
	if n.spec.Roles&RoleReadback != 0 && frame.Format.IsHWAccel() {
		mapped := *frame
		mapped.Format = frame.SWFormat
		mapped.SWFormat = render.PixFmtNone
		mapped.Surface = nil
		out = &mapped
	}

	if p, ok := n.params.Window.(Presenter); ok {
		if err := p.Present(out); err != nil {
			n.logger.Warn("present failed", slog.String("error", err.Error()))
			return
		}
	}
	n.rendered++
}

// CanExportDRMPrime reports whether decoded surfaces can be exported as
// DRM PRIME descriptors.
func (n *Native) CanExportDRMPrime() bool {
	return n.device != DeviceNone && n.spec.ExportsDRMPrime
}

// CanExportEGL reports whether decoded surfaces can be imported as EGL
// images.
func (n *Native) CanExportEGL() bool {
	return n.device != DeviceNone && n.spec.ExportsEGL
}

// EGLImagePixelFormat returns the layout of exported EGL images.
func (n *Native) EGLImagePixelFormat() render.PixelFormat {
	if n.params.Format.Is10Bit() {
		return render.PixFmtP010
	}
	return render.PixFmtNV12
}

func (n *Native) Close() error {
	if n.initialized {
		n.logger.Debug("backend closed", slog.Int("rendered", n.rendered))
	}
	n.initialized = false
	return nil
}
