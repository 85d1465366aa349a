// Package render defines the capability model every video backend implements
// and the shared frame, pixel format and colorspace helpers they compose.
package render

import (
	"strings"

	"github.com/jmylchreest/vidarr/internal/codec"
)

// Type identifies a backend implementation.
type Type int

// Backend types.
const (
	TypeUnknown Type = iota
	TypeVulkan
	TypeCUDA
	TypeD3D11VA
	TypeDRM
	TypeDXVA2
	TypeEGL
	TypeMMAL
	TypeSDL
	TypeVAAPI
	TypeVDPAU
	TypeVTSampleLayer
	TypeVTMetal
	TypeGenericHWAccel
)

var typeNames = map[Type]string{
	TypeUnknown:        "Unknown",
	TypeVulkan:         "Vulkan (libplacebo)",
	TypeCUDA:           "CUDA",
	TypeD3D11VA:        "D3D11VA",
	TypeDRM:            "DRM",
	TypeDXVA2:          "DXVA2 (D3D9)",
	TypeEGL:            "EGL/GLES",
	TypeMMAL:           "MMAL",
	TypeSDL:            "SDL",
	TypeVAAPI:          "VAAPI",
	TypeVDPAU:          "VDPAU",
	TypeVTSampleLayer:  "VideoToolbox (AVSampleBufferDisplayLayer)",
	TypeVTMetal:        "VideoToolbox (Metal)",
	TypeGenericHWAccel: "Generic hwaccel",
}

// typeKeys are the short config names of each type.
var typeKeys = map[string]Type{
	"vulkan":         TypeVulkan,
	"cuda":           TypeCUDA,
	"d3d11va":        TypeD3D11VA,
	"drm":            TypeDRM,
	"dxva2":          TypeDXVA2,
	"egl":            TypeEGL,
	"mmal":           TypeMMAL,
	"sdl":            TypeSDL,
	"vaapi":          TypeVAAPI,
	"vdpau":          TypeVDPAU,
	"vt-samplelayer": TypeVTSampleLayer,
	"vt-metal":       TypeVTMetal,
	"generic":        TypeGenericHWAccel,
}

// String returns the display name of the backend type.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return typeNames[TypeUnknown]
}

// Key returns the short config name of the backend type.
func (t Type) Key() string {
	for k, v := range typeKeys {
		if v == t {
			return k
		}
	}
	return "unknown"
}

// ParseType parses a short config name such as "vaapi".
func ParseType(s string) (Type, bool) {
	t, ok := typeKeys[strings.ToLower(strings.TrimSpace(s))]
	return t, ok
}

// InitFailureReason classifies why Initialize failed.
type InitFailureReason int

const (
	// FailureUnknown is a transient or unclassified failure.
	FailureUnknown InitFailureReason = iota

	// NoHardwareSupport means the GPU physically lacks support for the codec.
	// Other hwaccel backends are not tried for the same implementation.
	NoHardwareSupport

	// NoSoftwareSupport means the backend API is unusable on this machine.
	// The backend type is skipped for every later codec.
	NoSoftwareSupport
)

func (r InitFailureReason) String() string {
	switch r {
	case NoHardwareSupport:
		return "no_hardware_support"
	case NoSoftwareSupport:
		return "no_software_support"
	default:
		return "unknown"
	}
}

// Selection is the user's decoder selection preference.
type Selection int

const (
	SelectionAuto Selection = iota
	SelectionForceHardware
	SelectionForceSoftware
)

// ParseSelection parses "auto", "hardware" or "software".
func ParseSelection(s string) (Selection, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return SelectionAuto, true
	case "hardware", "force-hardware":
		return SelectionForceHardware, true
	case "software", "force-software":
		return SelectionForceSoftware, true
	default:
		return SelectionAuto, false
	}
}

func (s Selection) String() string {
	switch s {
	case SelectionForceHardware:
		return "hardware"
	case SelectionForceSoftware:
		return "software"
	default:
		return "auto"
	}
}

// Window is the platform window a backend presents into.
type Window interface {
	ID() uint32
	Size() (width, height int)
	DisplayIndex() int
}

// Params describes the stream a backend is initialized for.
type Params struct {
	Window            Window
	Selection         Selection
	Format            codec.Format
	Width             int
	Height            int
	FrameRate         int
	EnableVsync       bool
	EnableFramePacing bool
	TestOnly          bool
}

// WindowChangeFlag marks which window properties changed.
type WindowChangeFlag uint8

const (
	WindowChangeSize    WindowChangeFlag = 0x01
	WindowChangeDisplay WindowChangeFlag = 0x02
)

// WindowChange describes a window state change.
type WindowChange struct {
	Flags        WindowChangeFlag
	Width        int
	Height       int
	DisplayIndex int
}

// DecoderContext is the decoder configuration a backend may adjust before
// the decoder is opened.
type DecoderContext struct {
	Format      codec.Format
	Width       int
	Height      int
	PixelFormat PixelFormat
	ThreadCount int
	HWDevice    any
	Options     map[string]string
}

// Backend is implemented by every video decode or presentation backend.
type Backend interface {
	Type() Type
	Initialize(params Params) error
	PrepareDecoderContext(ctx *DecoderContext) error
	PreferredPixelFormat(f codec.Format) PixelFormat
	PixelFormatSupported(f codec.Format, p PixelFormat) bool
	// NeedsTestFrame may be called before Initialize.
	NeedsTestFrame() bool
	TestRenderFrame(frame *Frame) bool
	DirectRenderingSupported() bool
	PrepareToRender()
	RenderFrame(frame *Frame)
	WaitToRender()
	CleanupRenderContext()
	DecoderCapabilities() Capability
	RendererAttributes() Attribute
	DecoderColorspace() Colorspace
	DecoderColorRange() ColorRange
	// NotifyWindowChanged reports whether the change was absorbed in place.
	NotifyWindowChanged(change WindowChange) bool
	SetHDRMode(enabled bool)
	InitFailureReason() InitFailureReason
	Close() error
}

// DRMPrimeExporter is implemented by backends whose surfaces can be exported
// as DRM PRIME descriptors.
type DRMPrimeExporter interface {
	CanExportDRMPrime() bool
}

// EGLExporter is implemented by backends whose surfaces can be imported as
// EGL images.
type EGLExporter interface {
	CanExportEGL() bool
	EGLImagePixelFormat() PixelFormat
}

// CanExportDRMPrime reports whether b exports DRM PRIME surfaces.
func CanExportDRMPrime(b Backend) bool {
	e, ok := b.(DRMPrimeExporter)
	return ok && e.CanExportDRMPrime()
}

// CanExportEGL reports whether b exports EGL images.
func CanExportEGL(b Backend) bool {
	e, ok := b.(EGLExporter)
	return ok && e.CanExportEGL()
}

// Base carries the default answers of the capability model. Concrete
// backends embed it and override what they support.
type Base struct {
	kind          Type
	failureReason InitFailureReason
}

// NewBase returns a Base for backend type t.
func NewBase(t Type) Base {
	return Base{kind: t}
}

func (b *Base) Type() Type { return b.kind }

// SetInitFailureReason records the classification of an Initialize failure.
func (b *Base) SetInitFailureReason(r InitFailureReason) { b.failureReason = r }

func (b *Base) InitFailureReason() InitFailureReason { return b.failureReason }

func (b *Base) PrepareDecoderContext(*DecoderContext) error { return nil }

func (b *Base) PreferredPixelFormat(f codec.Format) PixelFormat {
	return DefaultPreferredPixelFormat(f)
}

// PixelFormatSupported compares against the default preference. Backends
// overriding PreferredPixelFormat override this too.
func (b *Base) PixelFormatSupported(f codec.Format, p PixelFormat) bool {
	return DefaultPixelFormatSupported(f, p)
}

func (b *Base) NeedsTestFrame() bool                  { return false }
func (b *Base) TestRenderFrame(*Frame) bool           { return true }
func (b *Base) DirectRenderingSupported() bool        { return true }
func (b *Base) PrepareToRender()                      {}
func (b *Base) WaitToRender()                         {}
func (b *Base) CleanupRenderContext()                 {}
func (b *Base) DecoderCapabilities() Capability       { return 0 }
func (b *Base) RendererAttributes() Attribute         { return 0 }
func (b *Base) DecoderColorspace() Colorspace         { return ColorspaceRec601 }
func (b *Base) DecoderColorRange() ColorRange         { return ColorRangeLimited }
func (b *Base) NotifyWindowChanged(WindowChange) bool { return false }
func (b *Base) SetHDRMode(bool)                       {}
func (b *Base) Close() error                          { return nil }

// DefaultPreferredPixelFormat returns the software pixel format matching the
// bit depth and chroma subsampling of f.
func DefaultPreferredPixelFormat(f codec.Format) PixelFormat {
	if f.Is10Bit() {
		if f.IsYUV444() {
			return PixFmtYUV444P10
		}
		return PixFmtP010
	}
	if f.IsYUV444() {
		return PixFmtYUV444P
	}
	return PixFmtYUV420P
}

// DefaultPixelFormatSupported accepts only the default preferred format.
func DefaultPixelFormatSupported(f codec.Format, p PixelFormat) bool {
	return DefaultPreferredPixelFormat(f) == p
}
