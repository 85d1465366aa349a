package render

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jmylchreest/vidarr/internal/codec"
)

type minimalBackend struct {
	Base
}

func (m *minimalBackend) Initialize(Params) error { return nil }
func (m *minimalBackend) RenderFrame(*Frame)      {}

func TestBase_Defaults(t *testing.T) {
	var b Backend = &minimalBackend{Base: NewBase(TypeSDL)}

	assert.Equal(t, TypeSDL, b.Type())
	assert.False(t, b.NeedsTestFrame())
	assert.True(t, b.TestRenderFrame(&Frame{}))
	assert.True(t, b.DirectRenderingSupported())
	assert.Equal(t, ColorspaceRec601, b.DecoderColorspace())
	assert.Equal(t, ColorRangeLimited, b.DecoderColorRange())
	assert.False(t, b.NotifyWindowChanged(WindowChange{Flags: WindowChangeSize}))
	assert.Zero(t, b.DecoderCapabilities())
	assert.Zero(t, b.RendererAttributes())
	assert.Equal(t, FailureUnknown, b.InitFailureReason())
	assert.NoError(t, b.PrepareDecoderContext(&DecoderContext{}))
	assert.False(t, CanExportDRMPrime(b))
	assert.False(t, CanExportEGL(b))
	assert.NoError(t, b.Close())
}

func TestDefaultPreferredPixelFormat(t *testing.T) {
	tests := []struct {
		format   codec.Format
		expected PixelFormat
	}{
		{codec.FormatH264, PixFmtYUV420P},
		{codec.FormatH265, PixFmtYUV420P},
		{codec.FormatH265Main10, PixFmtP010},
		{codec.FormatAV1Main10, PixFmtP010},
		{codec.FormatH264High8444, PixFmtYUV444P},
		{codec.FormatAV1High8444, PixFmtYUV444P},
		{codec.FormatH265RExt10444, PixFmtYUV444P10},
		{codec.FormatAV1High10444, PixFmtYUV444P10},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, DefaultPreferredPixelFormat(tt.format))
			assert.True(t, DefaultPixelFormatSupported(tt.format, tt.expected))
			assert.False(t, DefaultPixelFormatSupported(tt.format, PixFmtNV12))
		})
	}
}

func TestType_StringAndParse(t *testing.T) {
	assert.Equal(t, "Vulkan (libplacebo)", TypeVulkan.String())
	assert.Equal(t, "DXVA2 (D3D9)", TypeDXVA2.String())
	assert.Equal(t, "EGL/GLES", TypeEGL.String())
	assert.Equal(t, "Unknown", Type(99).String())

	for _, typ := range []Type{TypeVAAPI, TypeVDPAU, TypeCUDA, TypeDRM, TypeVulkan, TypeSDL, TypeEGL, TypeVTMetal} {
		got, ok := ParseType(typ.Key())
		assert.True(t, ok, typ.Key())
		assert.Equal(t, typ, got)
	}

	_, ok := ParseType("opengl")
	assert.False(t, ok)
}

func TestParseSelection(t *testing.T) {
	tests := []struct {
		input    string
		expected Selection
		ok       bool
	}{
		{"", SelectionAuto, true},
		{"auto", SelectionAuto, true},
		{"hardware", SelectionForceHardware, true},
		{"Software", SelectionForceSoftware, true},
		{"gpu", SelectionAuto, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseSelection(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFlags(t *testing.T) {
	attrs := AttrFullscreenOnly | AttrHDRSupport
	assert.True(t, attrs.Has(AttrHDRSupport))
	assert.False(t, attrs.Has(Attr1080pMax))
	assert.Equal(t, "fullscreen-only,hdr", attrs.String())
	assert.Equal(t, "none", Attribute(0).String())

	caps := CapPullRenderer | CapSlicesPerFrame(4)
	assert.Equal(t, 4, caps.SlicesPerFrame())
	assert.True(t, caps.Has(CapPullRenderer))
	assert.Equal(t, Capability(0x04000020), caps)
}

func TestPixelFormat(t *testing.T) {
	assert.Equal(t, 10, PixFmtP010.Depth())
	assert.Equal(t, 8, PixFmtVAAPI.Depth())
	assert.True(t, PixFmtDRMPrime.IsHWAccel())
	assert.False(t, PixFmtNV12.IsHWAccel())
	assert.False(t, PixFmtNone.Known())

	w, h := PixFmtYUV444P10.ChromaShift()
	assert.Zero(t, w)
	assert.Zero(t, h)

	f := &Frame{Format: PixFmtVAAPI, SWFormat: PixFmtP010}
	assert.Equal(t, PixFmtP010, f.SWPixelFormat())
}
