package decoder

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/vidarr/internal/backend"
	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/render"
)

// nativeCapabilities are the capabilities of hardware-native implementations
// used without a hardware configuration. Unlisted implementations have none.
var nativeCapabilities = map[string]render.Capability{
	"h264_mmal":    0,
	"h264_rkmpp":   0,
	"h264_nvv4l2":  0,
	"h264_nvmpi":   0,
	"h264_v4l2m2m": 0,
	"h264_omx":     0,
	"hevc_rkmpp":   0,
	"hevc_nvv4l2":  render.CapReferenceFrameInvalidationHEVC,
	"hevc_nvmpi":   0,
	"hevc_v4l2m2m": 0,
	"hevc_omx":     0,
}

// Instance is a configured decoder with its render pipeline.
type Instance struct {
	impl           *Implementation
	hwCfg          *backend.HWConfig
	requiredFormat render.PixelFormat
	backend        render.Backend
	frontend       render.Backend
	params         render.Params
	testOnly       bool
	needsSPSFixup  bool
	capsOverride   *render.Capability
	cpus           int
	pacing         bool
	pacer          Pacer
	logger         *slog.Logger
	now            func() time.Time
	sleep          func(time.Duration)

	mu              sync.Mutex
	ctx             Context
	framesIn        int
	framesOut       int
	pendingInfo     []DecodeUnit
	lastFrameNumber int
	failedDecodes   int
	stats           statsWindow

	src     Source
	onReset func()
	quit    atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
}

// Implementation returns the decoder implementation name.
func (inst *Instance) Implementation() string { return inst.impl.Name }

// HWConfig returns the hardware configuration, or nil for software and
// hardware-native decoding.
func (inst *Instance) HWConfig() *backend.HWConfig { return inst.hwCfg }

// Format returns the negotiated video format.
func (inst *Instance) Format() codec.Format { return inst.params.Format }

// Params returns the parameters the instance was initialized with.
func (inst *Instance) Params() render.Params { return inst.params }

// Backend returns the decode backend.
func (inst *Instance) Backend() render.Backend { return inst.backend }

// Frontend returns the presenting backend. It is the decode backend when
// that renders directly.
func (inst *Instance) Frontend() render.Backend { return inst.frontend }

// TestOnly reports whether the instance was created only to validate a
// configuration.
func (inst *Instance) TestOnly() bool { return inst.testOnly }

// NeedsSPSFixup reports whether H.264 parameter sets are adjusted for a
// backend without reference frame invalidation.
func (inst *Instance) NeedsSPSFixup() bool { return inst.needsSPSFixup }

// FramePacing reports whether the pacer paces frames to the display.
func (inst *Instance) FramePacing() bool { return inst.pacing }

// IsHardwareAccelerated reports whether decoding runs on dedicated hardware.
func (inst *Instance) IsHardwareAccelerated() bool {
	return inst.hwCfg != nil || inst.impl.IsHardware()
}

func (inst *Instance) IsDirectRenderingSupported() bool {
	return inst.frontend.DirectRenderingSupported()
}

func (inst *Instance) IsAlwaysFullScreen() bool {
	return inst.frontend.RendererAttributes().Has(render.AttrFullscreenOnly)
}

func (inst *Instance) IsHDRSupported() bool {
	return inst.frontend.RendererAttributes().Has(render.AttrHDRSupport)
}

// MaxResolution returns the largest stream the backend can decode, or zero
// when unlimited.
func (inst *Instance) MaxResolution() (width, height int) {
	if inst.backend.RendererAttributes().Has(render.Attr1080pMax) {
		return 1920, 1080
	}
	return 0, 0
}

// DecoderCapabilities returns the capabilities advertised to the host.
func (inst *Instance) DecoderCapabilities() render.Capability {
	if inst.capsOverride != nil {
		return *inst.capsOverride | render.CapPullRenderer
	}

	caps := inst.backend.DecoderCapabilities()
	switch {
	case !inst.IsHardwareAccelerated():
		caps |= render.CapSlicesPerFrame(min(MaxSlices, inst.cpus)) |
			render.CapReferenceFrameInvalidationHEVC |
			render.CapReferenceFrameInvalidationAV1
	case inst.hwCfg == nil:
		caps = nativeCapabilities[inst.impl.Name]
	}
	return caps | render.CapPullRenderer
}

func (inst *Instance) DecoderColorspace() render.Colorspace {
	return inst.frontend.DecoderColorspace()
}

func (inst *Instance) DecoderColorRange() render.ColorRange {
	return inst.frontend.DecoderColorRange()
}

// NotifyWindowChanged forwards a window change to the frontend and reports
// whether it was absorbed without a decoder reset.
func (inst *Instance) NotifyWindowChanged(change render.WindowChange) bool {
	return inst.frontend.NotifyWindowChanged(change)
}

func (inst *Instance) SetHDRMode(enabled bool) {
	inst.frontend.SetHDRMode(enabled)
}

// negotiateFormat picks the decoder output format from those offered.
func (inst *Instance) negotiateFormat(offered []render.PixelFormat) render.PixelFormat {
	var desired render.PixelFormat
	switch {
	case inst.hwCfg != nil:
		desired = inst.hwCfg.PixelFormat
	case inst.requiredFormat != render.PixFmtNone:
		desired = inst.requiredFormat
	default:
		desired = inst.frontend.PreferredPixelFormat(inst.params.Format)
	}
	if slices.Contains(offered, desired) {
		return desired
	}

	// Software decoding without a required format can use anything the
	// frontend accepts.
	if inst.hwCfg == nil && inst.requiredFormat == render.PixFmtNone {
		for _, p := range offered {
			if inst.frontend.PixelFormatSupported(inst.params.Format, p) {
				return p
			}
		}
	}

	inst.logger.Warn("decoder offered no usable pixel format",
		slog.String("desired", desired.String()),
		slog.Any("offered", offered))
	return render.PixFmtNone
}

// Stats returns the last completed measurement window and the totals since
// the instance went live.
func (inst *Instance) Stats() (last, total Stats) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.stats.last, inst.stats.totals()
}

// release closes everything but the decode backend.
func (inst *Instance) release() {
	if inst.ctx != nil {
		_ = inst.ctx.Close()
		inst.ctx = nil
	}
	if inst.pacer != nil {
		inst.pacer.Close()
		inst.pacer = nil
	}
	if inst.frontend != nil && inst.frontend != inst.backend {
		_ = inst.frontend.Close()
	}
	inst.frontend = nil
}

// Close stops the decode loop and releases the decoder and its backends.
func (inst *Instance) Close() {
	inst.Stop()

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.closed {
		return
	}
	inst.closed = true

	if !inst.testOnly && inst.framesIn > 0 {
		inst.logger.Info("global video stats", slog.Any("stats", inst.stats.totals()))
	}
	inst.release()
	if inst.backend != nil {
		_ = inst.backend.Close()
	}
}
