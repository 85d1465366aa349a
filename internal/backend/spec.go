package backend

import (
	"fmt"
	"slices"

	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/render"
)

// Role describes how a backend participates in presentation.
type Role uint8

const (
	// RoleDecode backends own a hardware decode device.
	RoleDecode Role = 1 << iota
	// RolePresent backends present software frames or their own surfaces.
	RolePresent
	// RoleImport backends present surfaces exported by another backend.
	RoleImport
	// RoleReadback backends copy hardware surfaces to system memory.
	RoleReadback
)

// library is one native library a backend requires.
type library struct {
	candidates []string
	symbols    []string
}

// Spec is the static description of a backend implementation.
type Spec struct {
	Type   render.Type
	Device DeviceType
	Roles  Role
	GOOS   []string

	libraries []library
	devices   []string

	NeedsTestFrame  bool
	DirectRendering bool
	Attributes      render.Attribute
	Capabilities    render.Capability
	ExportsDRMPrime bool
	ExportsEGL      bool

	// Surface is the hardware pixel format produced in RoleDecode.
	Surface render.PixelFormat

	// Absorbs are the window changes handled without recreation.
	Absorbs render.WindowChangeFlag

	preferred func(codec.Format) render.PixelFormat
	supported func(codec.Format, render.PixelFormat) bool
}

func (s Spec) supportsOS(goos string) bool {
	return slices.Contains(s.GOOS, goos)
}

// probe checks the native libraries and device nodes, returning the first
// library path and device node found.
func (s Spec) probe(h *Host) (lib, device string, err error) {
	for i, l := range s.libraries {
		path, err := h.probe(l.candidates, l.symbols)
		if err != nil {
			return "", "", err
		}
		if i == 0 {
			lib = path
		}
	}
	if len(s.devices) > 0 {
		for _, pattern := range s.devices {
			if nodes := h.glob(pattern); len(nodes) > 0 {
				return lib, nodes[0], nil
			}
		}
		return "", "", fmt.Errorf("no device node for %s", s.Type)
	}
	return lib, "", nil
}

var (
	linuxOnly   = []string{"linux"}
	windowsOnly = []string{"windows"}
	darwinOnly  = []string{"darwin"}
	allDesktop  = []string{"linux", "windows", "darwin", "freebsd"}
)

var specs = map[render.Type]Spec{
	render.TypeVAAPI: {
		Type:   render.TypeVAAPI,
		Device: DeviceVAAPI,
		Roles:  RoleDecode,
		GOOS:   linuxOnly,
		libraries: []library{
			{candidates: []string{"libva.so.2", "libva.so"}, symbols: []string{"vaInitialize", "vaQueryConfigProfiles"}},
			{candidates: []string{"libva-drm.so.2", "libva-drm.so"}, symbols: []string{"vaGetDisplayDRM"}},
		},
		devices:         []string{"/dev/dri/renderD*"},
		NeedsTestFrame:  true,
		Capabilities:    render.CapReferenceFrameInvalidationHEVC | render.CapReferenceFrameInvalidationAV1,
		ExportsDRMPrime: true,
		ExportsEGL:      true,
		Surface:         render.PixFmtVAAPI,
	},
	render.TypeVDPAU: {
		Type:   render.TypeVDPAU,
		Device: DeviceVDPAU,
		Roles:  RoleDecode | RolePresent,
		GOOS:   linuxOnly,
		libraries: []library{
			{candidates: []string{"libvdpau.so.1", "libvdpau.so"}, symbols: []string{"vdp_device_create_x11"}},
		},
		NeedsTestFrame:  true,
		DirectRendering: true,
		Capabilities:    render.CapReferenceFrameInvalidationHEVC | render.CapReferenceFrameInvalidationAV1,
		Surface:         render.PixFmtVDPAU,
	},
	render.TypeCUDA: {
		Type:   render.TypeCUDA,
		Device: DeviceCUDA,
		Roles:  RoleDecode,
		GOOS:   []string{"linux", "windows"},
		libraries: []library{
			{candidates: []string{"libcuda.so.1", "libcuda.so", "nvcuda.dll"}, symbols: []string{"cuInit"}},
		},
		NeedsTestFrame: true,
		Capabilities:   render.CapReferenceFrameInvalidationHEVC | render.CapReferenceFrameInvalidationAV1,
		Surface:        render.PixFmtCUDA,
	},
	render.TypeD3D11VA: {
		Type:   render.TypeD3D11VA,
		Device: DeviceD3D11VA,
		Roles:  RoleDecode | RolePresent,
		GOOS:   windowsOnly,
		libraries: []library{
			{candidates: []string{"d3d11.dll"}, symbols: []string{"D3D11CreateDevice"}},
			{candidates: []string{"dxgi.dll"}, symbols: []string{"CreateDXGIFactory1"}},
		},
		NeedsTestFrame:  true,
		DirectRendering: true,
		Attributes:      render.AttrHDRSupport | render.AttrForcePacing,
		Capabilities:    render.CapReferenceFrameInvalidationHEVC | render.CapReferenceFrameInvalidationAV1,
		Surface:         render.PixFmtD3D11,
		Absorbs:         render.WindowChangeSize | render.WindowChangeDisplay,
	},
	render.TypeDXVA2: {
		Type:   render.TypeDXVA2,
		Device: DeviceDXVA2,
		Roles:  RoleDecode | RolePresent,
		GOOS:   windowsOnly,
		libraries: []library{
			{candidates: []string{"d3d9.dll"}, symbols: []string{"Direct3DCreate9Ex"}},
			{candidates: []string{"dxva2.dll"}, symbols: []string{"DXVA2CreateVideoService"}},
		},
		NeedsTestFrame:  true,
		DirectRendering: true,
		Capabilities:    render.CapReferenceFrameInvalidationAVC | render.CapReferenceFrameInvalidationHEVC,
		Surface:         render.PixFmtDXVA2,
	},
	render.TypeVTSampleLayer: {
		Type:   render.TypeVTSampleLayer,
		Device: DeviceVideoToolbox,
		Roles:  RoleDecode | RolePresent,
		GOOS:   darwinOnly,
		libraries: []library{
			{candidates: []string{"/System/Library/Frameworks/VideoToolbox.framework/VideoToolbox"}, symbols: []string{"VTDecompressionSessionCreate"}},
		},
		DirectRendering: true,
		Capabilities:    render.CapReferenceFrameInvalidationHEVC | render.CapReferenceFrameInvalidationAV1,
		Surface:         render.PixFmtVideoToolbox,
		Absorbs:         render.WindowChangeSize,
	},
	render.TypeVTMetal: {
		Type:   render.TypeVTMetal,
		Device: DeviceVideoToolbox,
		Roles:  RoleDecode | RolePresent,
		GOOS:   darwinOnly,
		libraries: []library{
			{candidates: []string{"/System/Library/Frameworks/VideoToolbox.framework/VideoToolbox"}, symbols: []string{"VTDecompressionSessionCreate"}},
			{candidates: []string{"/System/Library/Frameworks/Metal.framework/Metal"}, symbols: []string{"MTLCreateSystemDefaultDevice"}},
		},
		NeedsTestFrame:  true,
		DirectRendering: true,
		Attributes:      render.AttrHDRSupport,
		Capabilities:    render.CapReferenceFrameInvalidationHEVC | render.CapReferenceFrameInvalidationAV1,
		Surface:         render.PixFmtVideoToolbox,
		Absorbs:         render.WindowChangeSize | render.WindowChangeDisplay,
	},
	render.TypeDRM: {
		Type:   render.TypeDRM,
		Device: DeviceDRM,
		Roles:  RoleDecode | RolePresent | RoleImport,
		GOOS:   linuxOnly,
		libraries: []library{
			{candidates: []string{"libdrm.so.2", "libdrm.so"}, symbols: []string{"drmModeGetResources", "drmModeAddFB2"}},
		},
		devices:         []string{"/dev/dri/card*"},
		NeedsTestFrame:  true,
		DirectRendering: true,
		Attributes:      render.AttrFullscreenOnly | render.AttrHDRSupport | render.AttrNoBuffering,
		ExportsEGL:      true,
		Surface:         render.PixFmtDRMPrime,
		preferred: func(codec.Format) render.PixelFormat {
			return render.PixFmtDRMPrime
		},
		supported: func(f codec.Format, p render.PixelFormat) bool {
			switch p {
			case render.PixFmtDRMPrime:
				return true
			case render.PixFmtNV12, render.PixFmtNV21, render.PixFmtYUV420P, render.PixFmtYUVJ420P:
				return !f.Is10Bit() && !f.IsYUV444()
			case render.PixFmtP010:
				return f.Is10Bit() && !f.IsYUV444()
			case render.PixFmtYUV444P:
				return !f.Is10Bit() && f.IsYUV444()
			default:
				return false
			}
		},
	},
	render.TypeVulkan: {
		Type:   render.TypeVulkan,
		Device: DeviceVulkan,
		Roles:  RoleDecode | RolePresent | RoleImport,
		GOOS:   allDesktop,
		libraries: []library{
			{candidates: []string{"libvulkan.so.1", "libvulkan.so", "vulkan-1.dll", "libvulkan.1.dylib", "libMoltenVK.dylib"}, symbols: []string{"vkGetInstanceProcAddr"}},
		},
		NeedsTestFrame:  true,
		DirectRendering: true,
		Attributes:      render.AttrHDRSupport,
		Capabilities:    render.CapReferenceFrameInvalidationHEVC | render.CapReferenceFrameInvalidationAV1,
		Surface:         render.PixFmtVulkan,
		Absorbs:         render.WindowChangeSize | render.WindowChangeDisplay,
		preferred: func(codec.Format) render.PixelFormat {
			return render.PixFmtVulkan
		},
		supported: func(f codec.Format, p render.PixelFormat) bool {
			if p == render.PixFmtVulkan {
				return true
			}
			switch {
			case f.IsYUV444() && f.Is10Bit():
				return p == render.PixFmtYUV444P10
			case f.IsYUV444():
				return p == render.PixFmtYUV444P
			case f.Is10Bit():
				return p == render.PixFmtP010 || p == render.PixFmtYUV420P10
			default:
				return p == render.PixFmtYUV420P || p == render.PixFmtYUVJ420P ||
					p == render.PixFmtNV12 || p == render.PixFmtNV21
			}
		},
	},
	render.TypeEGL: {
		Type:  render.TypeEGL,
		Roles: RoleImport,
		GOOS:  []string{"linux", "freebsd"},
		libraries: []library{
			{candidates: []string{"libEGL.so.1", "libEGL.so"}, symbols: []string{"eglGetProcAddress", "eglCreateImage"}},
		},
		DirectRendering: true,
		Absorbs:         render.WindowChangeSize | render.WindowChangeDisplay,
	},
	render.TypeMMAL: {
		Type:  render.TypeMMAL,
		Roles: RolePresent,
		GOOS:  linuxOnly,
		libraries: []library{
			{candidates: []string{"libmmal.so", "/opt/vc/lib/libmmal.so"}, symbols: []string{"mmal_component_create"}},
		},
		DirectRendering: true,
		Attributes:      render.Attr1080pMax,
		preferred: func(codec.Format) render.PixelFormat {
			return render.PixFmtMMAL
		},
		supported: func(_ codec.Format, p render.PixelFormat) bool {
			return p == render.PixFmtMMAL
		},
	},
	render.TypeSDL: {
		Type:            render.TypeSDL,
		Roles:           RolePresent | RoleReadback,
		GOOS:            allDesktop,
		DirectRendering: true,
		Absorbs:         render.WindowChangeSize | render.WindowChangeDisplay,
		supported:       readbackSupported,
	},
	render.TypeGenericHWAccel: {
		Type:           render.TypeGenericHWAccel,
		Roles:          RoleDecode,
		GOOS:           allDesktop,
		NeedsTestFrame: true,
	},
}

// SpecFor returns the static description of backend type t.
func SpecFor(t render.Type) (Spec, bool) {
	s, ok := specs[t]
	return s, ok
}

// readbackSupported accepts the layouts a CPU presenter can upload or
// convert. 10-bit and 4:4:4 frames are converted on the CPU, so only the
// plane layout has to match.
func readbackSupported(f codec.Format, p render.PixelFormat) bool {
	if f.Is10Bit() || f.IsYUV444() {
		if !p.Known() || p.IsHWAccel() {
			return false
		}
		depth := 8
		if f.Is10Bit() {
			depth = 10
		}
		chroma := 1
		if f.IsYUV444() {
			chroma = 0
		}
		w, h := p.ChromaShift()
		return p.Depth() == depth && w == chroma && h == chroma
	}
	switch p {
	case render.PixFmtYUV420P, render.PixFmtYUVJ420P, render.PixFmtNV12, render.PixFmtNV21:
		return true
	default:
		return false
	}
}
