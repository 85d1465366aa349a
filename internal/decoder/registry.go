package decoder

import (
	"fmt"

	"github.com/jmylchreest/vidarr/internal/backend"
	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/render"
)

func hwConfigs(entries ...backend.HWConfig) []backend.HWConfig { return entries }

func devCtx(dt backend.DeviceType, pf render.PixelFormat) backend.HWConfig {
	return backend.HWConfig{DeviceType: dt, PixelFormat: pf, Methods: backend.MethodHWDeviceCtx}
}

var (
	h264HWConfigs = hwConfigs(
		devCtx(backend.DeviceDXVA2, render.PixFmtDXVA2),
		devCtx(backend.DeviceD3D11VA, render.PixFmtD3D11),
		devCtx(backend.DeviceD3D12VA, render.PixFmtD3D12),
		devCtx(backend.DeviceCUDA, render.PixFmtCUDA),
		devCtx(backend.DeviceVAAPI, render.PixFmtVAAPI),
		devCtx(backend.DeviceVDPAU, render.PixFmtVDPAU),
		devCtx(backend.DeviceVideoToolbox, render.PixFmtVideoToolbox),
		devCtx(backend.DeviceVulkan, render.PixFmtVulkan),
	)

	// Out-of-tree V4L2 request API builds add a DRM PRIME device type.
	hevcHWConfigs = append(hwConfigs(devCtx("v4l2request", render.PixFmtDRMPrime)), h264HWConfigs...)

	av1HWConfigs = h264HWConfigs

	sw8Bit   = []render.PixelFormat{render.PixFmtYUV420P, render.PixFmtYUVJ420P, render.PixFmtYUV444P}
	swAllBit = []render.PixelFormat{render.PixFmtYUV420P, render.PixFmtYUV420P10, render.PixFmtYUV444P, render.PixFmtYUV444P10}
)

// probedOpen wraps open with a host check run on every open.
func probedOpen(name string, available func() bool, open func(OpenConfig) (Context, error)) func(OpenConfig) (Context, error) {
	return func(cfg OpenConfig) (Context, error) {
		if !available() {
			return nil, fmt.Errorf("%s: device unavailable", name)
		}
		return open(cfg)
	}
}

// DefaultRegistry returns the built-in implementations in search order.
// Hardware-native implementations check host for their device on open.
func DefaultRegistry(host *backend.Host) *Registry {
	v4l2m2m := func() bool { return len(host.DeviceNodes("/dev/video*")) > 0 }
	mmal := func() bool {
		return host.HasLibrary([]string{"libmmal.so", "/opt/vc/lib/libmmal.so"}, "mmal_component_create")
	}
	nvv4l2 := func() bool {
		return host.HasLibrary([]string{"libnvv4l2.so", "/usr/lib/aarch64-linux-gnu/tegra/libnvv4l2.so"})
	}

	return NewRegistry(
		&Implementation{
			Name:         "h264",
			Family:       codec.VideoH264,
			HWConfigs:    h264HWConfigs,
			PixelFormats: sw8Bit,
			Open:         openBitstream(codec.VideoH264, sw8Bit, 0),
		},
		&Implementation{
			Name:         "h264_mmal",
			Family:       codec.VideoH264,
			Hardware:     true,
			PixelFormats: []render.PixelFormat{render.PixFmtMMAL, render.PixFmtYUV420P},
			// YUV420P output deadlocks the MMAL libraries.
			Presenters: []render.Type{render.TypeMMAL},
			Open:       probedOpen("h264_mmal", mmal, openBitstream(codec.VideoH264, []render.PixelFormat{render.PixFmtMMAL}, 0)),
		},
		&Implementation{
			Name:         "h264_v4l2m2m",
			Family:       codec.VideoH264,
			Hardware:     true,
			PixelFormats: []render.PixelFormat{render.PixFmtDRMPrime, render.PixFmtNV12},
			Open:         probedOpen("h264_v4l2m2m", v4l2m2m, openBitstream(codec.VideoH264, []render.PixelFormat{render.PixFmtDRMPrime, render.PixFmtNV12}, 1)),
		},
		&Implementation{
			Name:     "h264_nvv4l2",
			Family:   codec.VideoH264,
			Hardware: true,
			Open:     probedOpen("h264_nvv4l2", nvv4l2, openBitstream(codec.VideoH264, []render.PixelFormat{render.PixFmtNV12}, 1)),
		},
		&Implementation{
			Name:         "hevc",
			Family:       codec.VideoH265,
			HWConfigs:    hevcHWConfigs,
			PixelFormats: swAllBit,
			Open:         openBitstream(codec.VideoH265, swAllBit, 0),
		},
		&Implementation{
			Name:         "hevc_v4l2m2m",
			Family:       codec.VideoH265,
			Hardware:     true,
			PixelFormats: []render.PixelFormat{render.PixFmtDRMPrime, render.PixFmtNV12},
			Open:         probedOpen("hevc_v4l2m2m", v4l2m2m, openBitstream(codec.VideoH265, []render.PixelFormat{render.PixFmtDRMPrime, render.PixFmtNV12}, 1)),
		},
		&Implementation{
			Name:     "hevc_nvv4l2",
			Family:   codec.VideoH265,
			Hardware: true,
			Open:     probedOpen("hevc_nvv4l2", nvv4l2, openBitstream(codec.VideoH265, []render.PixelFormat{render.PixFmtNV12, render.PixFmtP010}, 1)),
		},
		&Implementation{
			Name:         "libdav1d",
			Family:       codec.VideoAV1,
			PixelFormats: swAllBit,
			Open:         openBitstream(codec.VideoAV1, swAllBit, 0),
		},
		// The native AV1 decoder only decodes through a hardware device.
		&Implementation{
			Name:         "av1",
			Family:       codec.VideoAV1,
			HWConfigs:    av1HWConfigs,
			PixelFormats: []render.PixelFormat{},
			Open:         openBitstream(codec.VideoAV1, nil, 0),
		},
	)
}
