package session

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/decoder"
	"github.com/jmylchreest/vidarr/internal/render"
)

// probeWidth, probeHeight and probeFPS are the stream the decoder info
// probe asks for.
const (
	probeWidth  = 1920
	probeHeight = 1080
	probeFPS    = 60
)

// Availability classifies the best decoder for a format.
type Availability int

const (
	AvailabilityNone Availability = iota
	AvailabilitySoftware
	AvailabilityHardware
)

func (a Availability) String() string {
	switch a {
	case AvailabilitySoftware:
		return "software"
	case AvailabilityHardware:
		return "hardware"
	default:
		return "none"
	}
}

// Prober runs test-only decoder searches.
type Prober struct {
	Engine   *decoder.Engine
	Failures *decoder.FailureRegistry
	Window   render.Window
}

// Availability reports whether format can be decoded with the given
// selection, and whether the decoder found is hardware accelerated.
func (p Prober) Availability(ctx context.Context, sel render.Selection, format codec.Format, width, height, fps int) Availability {
	inst, ok := p.choose(ctx, sel, format, width, height, fps)
	if !ok {
		return AvailabilityNone
	}
	defer inst.Close()
	if inst.IsHardwareAccelerated() {
		return AvailabilityHardware
	}
	return AvailabilitySoftware
}

func (p Prober) choose(ctx context.Context, sel render.Selection, format codec.Format, width, height, fps int) (*decoder.Instance, bool) {
	inst, err := p.Engine.Select(ctx, decoder.Request{
		Params: render.Params{
			Window:    p.Window,
			Selection: sel,
			Format:    format,
			Width:     width,
			Height:    height,
			FrameRate: fps,
			TestOnly:  true,
		},
		TestOnly: true,
		Failures: p.Failures,
	})
	if err != nil {
		return nil, false
	}
	return inst, true
}

// DecoderInfo summarizes the decoding capabilities of the machine.
type DecoderInfo struct {
	HardwareAccelerated bool `json:"hardware_accelerated" yaml:"hardware_accelerated"`
	FullscreenOnly      bool `json:"fullscreen_only" yaml:"fullscreen_only"`
	HDRSupported        bool `json:"hdr_supported" yaml:"hdr_supported"`
	MaxWidth            int  `json:"max_width" yaml:"max_width"`
	MaxHeight           int  `json:"max_height" yaml:"max_height"`
}

func (d *DecoderInfo) fill(inst *decoder.Instance) {
	d.HardwareAccelerated = inst.IsHardwareAccelerated()
	d.FullscreenOnly = inst.IsAlwaysFullScreen()
	d.MaxWidth, d.MaxHeight = inst.MaxResolution()
}

// DecoderInfo probes HEVC Main10 hardware decoding first. Without it, HDR
// support comes from AV1 Main10 hardware decoding or a software decoder
// with an HDR renderer, and the remaining attributes from HEVC hardware
// decoding or, failing that, any H.264 decoder. AV1 alone never counts as
// hardware acceleration.
func (p Prober) DecoderInfo(ctx context.Context, logger *slog.Logger) (DecoderInfo, bool) {
	var info DecoderInfo

	if inst, ok := p.choose(ctx, render.SelectionForceHardware, codec.FormatH265Main10, probeWidth, probeHeight, probeFPS); ok {
		info.fill(inst)
		info.HDRSupported = inst.IsHDRSupported()
		inst.Close()
		return info, true
	}

	if inst, ok := p.choose(ctx, render.SelectionForceHardware, codec.FormatAV1Main10, probeWidth, probeHeight, probeFPS); ok {
		info.HDRSupported = inst.IsHDRSupported()
		inst.Close()
	} else if inst, ok := p.chooseAny(ctx, render.SelectionForceSoftware, codec.FormatH265Main10, codec.FormatAV1Main10); ok {
		info.HDRSupported = inst.IsHDRSupported()
		inst.Close()
	}

	for _, c := range []struct {
		sel    render.Selection
		format codec.Format
	}{
		{render.SelectionForceHardware, codec.FormatH265},
		{render.SelectionAuto, codec.FormatH264},
	} {
		if inst, ok := p.choose(ctx, c.sel, c.format, probeWidth, probeHeight, probeFPS); ok {
			info.fill(inst)
			inst.Close()
			return info, true
		}
	}

	logger.Error("failed to find any working H.264 or HEVC decoder")
	return info, false
}

func (p Prober) chooseAny(ctx context.Context, sel render.Selection, formats ...codec.Format) (*decoder.Instance, bool) {
	for _, f := range formats {
		if inst, ok := p.choose(ctx, sel, f, probeWidth, probeHeight, probeFPS); ok {
			return inst, true
		}
	}
	return nil, false
}
