package backend

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/render"
)

// fakeHost builds a Host where only the listed libraries load.
func fakeHost(goos string, libs []string, nodes map[string][]string) *Host {
	return &Host{
		GOOS: goos,
		Probe: func(candidates, _ []string) (string, error) {
			for _, c := range candidates {
				if slices.Contains(libs, c) {
					return c, nil
				}
			}
			return "", ErrLibraryNotFound
		},
		Glob: func(pattern string) []string {
			return nodes[pattern]
		},
		Getenv: func(string) string { return "" },
	}
}

type fakeWindow struct {
	presented []*render.Frame
	err       error
}

func (w *fakeWindow) ID() uint32        { return 1 }
func (w *fakeWindow) Size() (int, int)  { return 1920, 1080 }
func (w *fakeWindow) DisplayIndex() int { return 0 }
func (w *fakeWindow) Present(f *render.Frame) error {
	if w.err != nil {
		return w.err
	}
	w.presented = append(w.presented, f)
	return nil
}

var linuxGPU = map[string][]string{
	"/dev/dri/renderD*": {"/dev/dri/renderD128"},
	"/dev/dri/card*":    {"/dev/dri/card0"},
}

func TestFactory_HWAccelPasses(t *testing.T) {
	f := NewFactory(fakeHost("linux", nil, nil), OrderFor("linux"))
	devCtx := MethodHWDeviceCtx

	tests := []struct {
		name     string
		cfg      HWConfig
		pass     int
		expected render.Type
	}{
		{"vaapi top tier", HWConfig{DeviceVAAPI, render.PixFmtVAAPI, devCtx}, 0, render.TypeVAAPI},
		{"vulkan top tier", HWConfig{DeviceVulkan, render.PixFmtVulkan, devCtx}, 0, render.TypeVulkan},
		{"cuda not top tier", HWConfig{DeviceCUDA, render.PixFmtCUDA, devCtx}, 0, render.TypeUnknown},
		{"cuda second tier", HWConfig{DeviceCUDA, render.PixFmtCUDA, devCtx}, 1, render.TypeCUDA},
		{"drm prime fallback", HWConfig{"v4l2request", render.PixFmtDRMPrime, devCtx}, 0, render.TypeDRM},
		{"known type never generic", HWConfig{DeviceCUDA, render.PixFmtCUDA, devCtx}, 2, render.TypeUnknown},
		{"unknown type generic", HWConfig{DeviceMediaCodec, render.PixFmtNV12, devCtx}, 2, render.TypeGenericHWAccel},
		{"no device ctx", HWConfig{DeviceVAAPI, render.PixFmtVAAPI, MethodInternal}, 0, render.TypeUnknown},
		{"invalid pass", HWConfig{DeviceVAAPI, render.PixFmtVAAPI, devCtx}, 3, render.TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := f.HWAccel(tt.cfg, tt.pass)
			if tt.expected == render.TypeUnknown {
				assert.Nil(t, b)
				return
			}
			require.NotNil(t, b)
			assert.Equal(t, tt.expected, b.Type())
			assert.Equal(t, tt.cfg.DeviceType, b.(*Native).Device())
		})
	}
}

func TestFactory_DarwinPasses(t *testing.T) {
	f := NewFactory(fakeHost("darwin", nil, nil), OrderFor("darwin"))
	cfg := HWConfig{DeviceVideoToolbox, render.PixFmtVideoToolbox, MethodHWDeviceCtx}

	assert.Equal(t, render.TypeVTMetal, f.HWAccel(cfg, 0).Type())
	assert.Equal(t, render.TypeVTSampleLayer, f.HWAccel(cfg, 1).Type())
	assert.Nil(t, f.HWAccel(cfg, 2))
}

func TestNative_InitializeFailureReasons(t *testing.T) {
	params := render.Params{Format: codec.FormatH265Main10, Width: 1280, Height: 720, TestOnly: true}
	cfg := HWConfig{DeviceVAAPI, render.PixFmtVAAPI, MethodHWDeviceCtx}

	t.Run("missing library", func(t *testing.T) {
		b := NewFactory(fakeHost("linux", nil, linuxGPU), OrderFor("linux")).HWAccel(cfg, 0)
		require.Error(t, b.Initialize(params))
		assert.Equal(t, render.NoSoftwareSupport, b.InitFailureReason())
	})

	t.Run("missing device node", func(t *testing.T) {
		host := fakeHost("linux", []string{"libva.so.2", "libva-drm.so.2"}, nil)
		b := NewFactory(host, OrderFor("linux")).HWAccel(cfg, 0)
		require.Error(t, b.Initialize(params))
		assert.Equal(t, render.NoSoftwareSupport, b.InitFailureReason())
	})

	t.Run("hardware lacks profile", func(t *testing.T) {
		host := fakeHost("linux", []string{"libva.so.2", "libva-drm.so.2"}, linuxGPU)
		host.Profiles = func(DeviceType) (codec.Format, bool) { return codec.FormatH264 | codec.FormatH265, true }
		b := NewFactory(host, OrderFor("linux")).HWAccel(cfg, 0)
		require.Error(t, b.Initialize(params))
		assert.Equal(t, render.NoHardwareSupport, b.InitFailureReason())
	})

	t.Run("wrong platform", func(t *testing.T) {
		b := NewFactory(fakeHost("windows", nil, nil), OrderFor("linux")).HWAccel(cfg, 0)
		require.Error(t, b.Initialize(params))
		assert.Equal(t, render.NoSoftwareSupport, b.InitFailureReason())
	})

	t.Run("success", func(t *testing.T) {
		host := fakeHost("linux", []string{"libva.so.2", "libva-drm.so.2"}, linuxGPU)
		host.Profiles = func(DeviceType) (codec.Format, bool) { return codec.FormatH265 | codec.FormatH265Main10, true }
		b := NewFactory(host, OrderFor("linux")).HWAccel(cfg, 0)
		require.NoError(t, b.Initialize(params))
		assert.Equal(t, render.FailureUnknown, b.InitFailureReason())
		assert.True(t, b.NeedsTestFrame())
		assert.False(t, b.DirectRenderingSupported())
		assert.True(t, render.CanExportDRMPrime(b))
		assert.True(t, render.CanExportEGL(b))

		ctx := &render.DecoderContext{}
		require.NoError(t, b.PrepareDecoderContext(ctx))
		assert.Equal(t, DeviceHandle{Type: DeviceVAAPI, Node: "/dev/dri/renderD128"}, ctx.HWDevice)
		assert.Equal(t, render.PixFmtVAAPI, ctx.PixelFormat)
	})
}

func TestNative_1080pCap(t *testing.T) {
	host := fakeHost("linux", []string{"libmmal.so"}, nil)
	b := NewFactory(host, OrderFor("linux")).New(render.TypeMMAL)

	err := b.Initialize(render.Params{Format: codec.FormatH264, Width: 3840, Height: 2160, Window: &fakeWindow{}})
	require.Error(t, err)
	assert.Equal(t, render.FailureUnknown, b.InitFailureReason())
	assert.NoError(t, b.Initialize(render.Params{Format: codec.FormatH264, Width: 1920, Height: 1080, Window: &fakeWindow{}}))
}

func TestNative_PresenterNeedsWindow(t *testing.T) {
	b := NewFactory(fakeHost("linux", nil, nil), OrderFor("linux")).New(render.TypeSDL)
	assert.Error(t, b.Initialize(render.Params{Format: codec.FormatH264}))
	assert.NoError(t, b.Initialize(render.Params{Format: codec.FormatH264, TestOnly: true}))
}

func TestNative_PixelFormats(t *testing.T) {
	f := NewFactory(fakeHost("linux", nil, nil), OrderFor("linux"))

	drm := f.New(render.TypeDRM)
	assert.Equal(t, render.PixFmtDRMPrime, drm.PreferredPixelFormat(codec.FormatH264))
	assert.True(t, drm.PixelFormatSupported(codec.FormatH264, render.PixFmtNV12))
	assert.False(t, drm.PixelFormatSupported(codec.FormatH265Main10, render.PixFmtNV12))
	assert.True(t, drm.PixelFormatSupported(codec.FormatH265Main10, render.PixFmtP010))

	vk := f.New(render.TypeVulkan)
	assert.Equal(t, render.PixFmtVulkan, vk.PreferredPixelFormat(codec.FormatAV1Main10))
	assert.True(t, vk.PixelFormatSupported(codec.FormatAV1High8444, render.PixFmtYUV444P))
	assert.False(t, vk.PixelFormatSupported(codec.FormatAV1High8444, render.PixFmtNV12))

	sdl := f.New(render.TypeSDL)
	tests := []struct {
		format   codec.Format
		pixfmt   render.PixelFormat
		expected bool
	}{
		{codec.FormatH264, render.PixFmtYUV420P, true},
		{codec.FormatH264, render.PixFmtNV21, true},
		{codec.FormatH264, render.PixFmtP010, false},
		{codec.FormatH265Main10, render.PixFmtP010, true},
		{codec.FormatH265Main10, render.PixFmtYUV420P10, true},
		{codec.FormatH265Main10, render.PixFmtNV12, false},
		{codec.FormatH265RExt8444, render.PixFmtYUV444P, true},
		{codec.FormatH265RExt10444, render.PixFmtYUV444P10, true},
		{codec.FormatH265RExt10444, render.PixFmtVAAPI, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, sdl.PixelFormatSupported(tt.format, tt.pixfmt), "%s %s", tt.format, tt.pixfmt)
	}
	assert.Equal(t, render.PixFmtP010, sdl.PreferredPixelFormat(codec.FormatH265Main10))
}

func TestNative_TestRenderFrame(t *testing.T) {
	host := fakeHost("linux", []string{"libva.so.2", "libva-drm.so.2", "libEGL.so.1"}, linuxGPU)
	f := NewFactory(host, OrderFor("linux"))
	params := render.Params{Format: codec.FormatH264, Width: 1280, Height: 720, TestOnly: true}

	vaapi := f.HWAccel(HWConfig{DeviceVAAPI, render.PixFmtVAAPI, MethodHWDeviceCtx}, 0)
	require.NoError(t, vaapi.Initialize(params))
	assert.True(t, vaapi.TestRenderFrame(&render.Frame{Format: render.PixFmtVAAPI, SWFormat: render.PixFmtNV12}))
	assert.False(t, vaapi.TestRenderFrame(&render.Frame{Format: render.PixFmtNV12}))
	assert.False(t, vaapi.TestRenderFrame(nil))

	egl := f.Frontend(render.TypeEGL, vaapi)
	require.NoError(t, egl.Initialize(params))
	assert.True(t, egl.TestRenderFrame(&render.Frame{Format: render.PixFmtVAAPI}))
	assert.Equal(t, render.PixFmtVAAPI, egl.PreferredPixelFormat(codec.FormatH264))

	sdl := f.Frontend(render.TypeSDL, vaapi)
	require.NoError(t, sdl.Initialize(params))
	assert.True(t, sdl.TestRenderFrame(&render.Frame{Format: render.PixFmtVAAPI, SWFormat: render.PixFmtNV12}))
	assert.False(t, sdl.TestRenderFrame(&render.Frame{Format: render.PixFmtVAAPI}))
	assert.True(t, sdl.TestRenderFrame(&render.Frame{Format: render.PixFmtYUV420P}))
}

func TestNative_FrontendRequiresExport(t *testing.T) {
	host := fakeHost("linux", []string{"libvdpau.so.1", "libEGL.so.1", "libdrm.so.2"}, linuxGPU)
	f := NewFactory(host, OrderFor("linux"))
	params := render.Params{Format: codec.FormatH264, TestOnly: true}

	vdpau := f.HWAccel(HWConfig{DeviceVDPAU, render.PixFmtVDPAU, MethodHWDeviceCtx}, 0)
	require.NoError(t, vdpau.Initialize(params))

	assert.Error(t, f.Frontend(render.TypeEGL, vdpau).Initialize(params))
	assert.Error(t, f.Frontend(render.TypeDRM, vdpau).Initialize(params))
}

func TestNative_NotifyWindowChanged(t *testing.T) {
	size := render.WindowChange{Flags: render.WindowChangeSize}
	display := render.WindowChange{Flags: render.WindowChangeDisplay}
	both := render.WindowChange{Flags: render.WindowChangeSize | render.WindowChangeDisplay}

	linux := NewFactory(fakeHost("linux", nil, nil), OrderFor("linux"))
	assert.True(t, linux.New(render.TypeSDL).NotifyWindowChanged(both))
	assert.False(t, linux.New(render.TypeDRM).NotifyWindowChanged(size))

	windows := NewFactory(fakeHost("windows", nil, nil), OrderFor("windows"))
	sdl := windows.New(render.TypeSDL)
	assert.True(t, sdl.NotifyWindowChanged(display))
	assert.False(t, sdl.NotifyWindowChanged(size))
}

func TestNative_RenderFrame(t *testing.T) {
	host := fakeHost("linux", []string{"libva.so.2", "libva-drm.so.2"}, linuxGPU)
	f := NewFactory(host, OrderFor("linux"))
	win := &fakeWindow{}

	vaapi := f.HWAccel(HWConfig{DeviceVAAPI, render.PixFmtVAAPI, MethodHWDeviceCtx}, 1)
	sdl := f.Frontend(render.TypeSDL, vaapi)
	require.NoError(t, sdl.Initialize(render.Params{Format: codec.FormatH264, Window: win}))

	frame := &render.Frame{Format: render.PixFmtVAAPI, SWFormat: render.PixFmtNV12, Width: 1920, Height: 1080, Surface: "surface"}
	sdl.RenderFrame(frame)
	sdl.RenderFrame(frame)

	require.Len(t, win.presented, 2)
	assert.Equal(t, render.PixFmtNV12, win.presented[0].Format)
	assert.Nil(t, win.presented[0].Surface)
	assert.Equal(t, 2, sdl.(*Native).Rendered())

	win.err = errors.New("lost")
	sdl.RenderFrame(frame)
	assert.Equal(t, 2, sdl.(*Native).Rendered())
}

func TestNative_HDRAttributes(t *testing.T) {
	host := fakeHost("linux", []string{"libdrm.so.2"}, linuxGPU)
	f := NewFactory(host, OrderFor("linux"))

	assert.False(t, f.New(render.TypeDRM).RendererAttributes().Has(render.AttrHDRSupport))
	assert.True(t, f.HWAccel(HWConfig{DeviceDRM, render.PixFmtDRMPrime, MethodHWDeviceCtx}, 0).RendererAttributes().Has(render.AttrHDRSupport))

	vk := f.New(render.TypeVulkan)
	vk.SetHDRMode(true)
	assert.True(t, vk.(*Native).HDREnabled())
}

func TestOrder_WithOverrides(t *testing.T) {
	base := OrderFor("linux")

	o, err := base.WithOverrides(Overrides{Pass0: []string{"vaapi"}, Software: []string{"sdl"}})
	require.NoError(t, err)
	assert.Equal(t, map[DeviceType]render.Type{DeviceVAAPI: render.TypeVAAPI}, o.Pass0)
	assert.Equal(t, []render.Type{render.TypeSDL}, o.Software)
	assert.Len(t, o.Pass1, 3)

	// The platform table is not modified.
	assert.Len(t, OrderFor("linux").Pass0, 4)

	_, err = base.WithOverrides(Overrides{Pass1: []string{"opengl"}})
	assert.Error(t, err)
}

func TestOrderFor_Fallback(t *testing.T) {
	o := OrderFor("plan9")
	assert.Equal(t, []render.Type{render.TypeSDL}, o.Software)
	assert.False(t, o.AlternateFrontends)
}

func TestDetector_Detect(t *testing.T) {
	host := fakeHost("linux", []string{"libva.so.2", "libva-drm.so.2", "libvulkan.so.1"}, linuxGPU)
	host.Profiles = func(dt DeviceType) (codec.Format, bool) {
		if dt == DeviceVAAPI {
			return codec.FormatH264 | codec.FormatH265, true
		}
		return 0, false
	}

	devices, err := NewDetector(host).Detect(context.Background())
	require.NoError(t, err)

	byType := map[DeviceType]DeviceInfo{}
	for _, d := range devices {
		byType[d.Type] = d
	}
	require.Contains(t, byType, DeviceVAAPI)
	assert.True(t, byType[DeviceVAAPI].Available)
	assert.Equal(t, "/dev/dri/renderD128", byType[DeviceVAAPI].DeviceName)
	assert.Equal(t, []string{"h264", "hevc"}, byType[DeviceVAAPI].Formats)
	assert.True(t, byType[DeviceVulkan].Available)
	assert.False(t, byType[DeviceCUDA].Available)
	assert.NotContains(t, byType, DeviceD3D11VA)

	rec := Recommended(devices)
	require.NotNil(t, rec)
	assert.Equal(t, DeviceVAAPI, rec.Type)
}

func TestDetector_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDetector(fakeHost("linux", nil, nil)).Detect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeviceType_IsKnown(t *testing.T) {
	assert.True(t, DeviceQSV.IsKnown())
	assert.True(t, ParseDeviceType(" VAAPI ").IsKnown())
	assert.False(t, DeviceMediaCodec.IsKnown())
}
