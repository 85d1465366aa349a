package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/vidarr/internal/audio"
	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/platform"
	"github.com/jmylchreest/vidarr/internal/render"
)

// initialize negotiates the stream configuration with a hidden test window,
// validates the launch and shows the launch warnings.
func (s *Session) initialize(ctx context.Context) error {
	s.setState(StateNegotiating)
	if err := s.prefs.Validate(); err != nil {
		return fmt.Errorf("initialize session: %w", err)
	}

	s.streamCfg = StreamConfig{
		Width:              s.prefs.Width,
		Height:             s.prefs.Height,
		FPS:                s.prefs.FPS,
		BitrateKbps:        s.prefs.BitrateKbps,
		PacketSize:         DefaultPacketSize,
		AudioConfiguration: s.prefs.AudioConfig,
		AudioCapabilities:  audio.Capabilities(),
		Encryption:         EncryptionFor(s.system.HasFastAES(), s.system.CPUCount()),
	}
	key, iv, err := remoteInputKeys()
	if err != nil {
		return err
	}
	s.streamCfg.RemoteInputKey, s.streamCfg.RemoteInputIV = key, iv

	s.logger.Info("initializing session",
		slog.String("host", s.host.Name),
		slog.String("host_gpu", s.host.GPU),
		slog.String("host_version", s.host.ServerVersion),
		slog.Int("bitrate_kbps", s.streamCfg.BitrateKbps),
		slog.Int("audio_channels", s.streamCfg.AudioConfiguration.ChannelCount()),
		slog.Bool("encrypt_video", s.streamCfg.Encryption == EncryptAll))

	if err := s.probe(ctx); err != nil {
		return err
	}

	for _, text := range s.warnings {
		s.listener.DisplayLaunchWarning(text)
		if err := s.sleep(ctx, s.prefs.WarningDuration); err != nil {
			return err
		}
	}
	return nil
}

// probe runs negotiation, validation and decoder property discovery
// against a hidden window that is destroyed before streaming.
func (s *Session) probe(ctx context.Context) error {
	w, err := s.platform.CreateWindow(platform.WindowOptions{
		Width:  s.prefs.Width,
		Height: s.prefs.Height,
		Hidden: true,
	})
	if err != nil {
		return fmt.Errorf("create test window: %w", err)
	}
	defer s.platform.DestroyWindow(w)

	prober := Prober{Engine: s.engine, Failures: s.failures, Window: w}
	s.negotiate(ctx, prober)

	err = s.validateLaunch(ctx, prober)
	if err == nil {
		// The video format is locked in from here.
		s.streamCfg.VideoFormat, _ = s.formats.Front()
		err = s.populateDecoderProperties(ctx, prober)
	}
	var le *LaunchError
	if errors.As(err, &le) {
		s.listener.DisplayLaunchError(le.Message)
	}
	return err
}

func (s *Session) availability(ctx context.Context, p Prober, format codec.Format) Availability {
	a := p.Availability(ctx, s.prefs.DecoderSelection, format, s.streamCfg.Width, s.streamCfg.Height, s.streamCfg.FPS)
	s.logger.Debug("decoder availability",
		slog.String("format", format.String()),
		slog.String("availability", a.String()))
	return a
}

// negotiate builds the priority list from the codec preference. Automatic
// selection probes HEVC (10-bit first when HDR is on, falling back to
// 10-bit AV1) and moves codecs without hardware decoding down the list.
func (s *Session) negotiate(ctx context.Context, p Prober) {
	formats := codec.DefaultPriorityList()
	hdr, yuv444 := s.prefs.EnableHDR, s.prefs.EnableYUV444

	switch s.prefs.Codec {
	case CodecAuto:
		hevc := pick(yuv444, pick(hdr, codec.FormatH265RExt10444, codec.FormatH265RExt8444), pick(hdr, codec.FormatH265Main10, codec.FormatH265))
		hevcDA := s.availability(ctx, p, hevc)
		if hevcDA == AvailabilityNone && hdr {
			formats.RemoveByMask(codec.MaskH265 & codec.Mask10Bit)

			av1DA := s.availability(ctx, p, pick(yuv444, codec.FormatAV1High10444, codec.FormatAV1Main10))
			if av1DA == AvailabilityNone {
				formats.RemoveByMask(codec.MaskAV1 & codec.Mask10Bit)
				hevcDA = s.availability(ctx, p, pick(yuv444, codec.FormatH265RExt8444, codec.FormatH265))
			}
		}

		// 10-bit software decoding needs HEVC since H.264 has no 10-bit
		// profile.
		if hevcDA != AvailabilityHardware &&
			(s.prefs.DecoderSelection != render.SelectionForceSoftware || !hdr) {
			formats.DeprioritizeByMask(codec.MaskH265)
		}

		// AV1 stays on top only for HDR without HEVC hardware decoding.
		if hevcDA == AvailabilityHardware || !hdr {
			formats.DeprioritizeByMask(codec.MaskAV1)
		}
	case CodecH264:
		formats.RemoveByMask(^codec.MaskH264)
	case CodecHEVC:
		formats.RemoveByMask(^codec.MaskH265)
	case CodecAV1:
		// HEVC is the fallback for a host without AV1.
		formats.RemoveByMask(^(codec.MaskAV1 | codec.MaskH265))
	}

	// The most critical attribute is deprioritized last so it ends up
	// lowest.
	if !yuv444 {
		formats.RemoveByMask(codec.MaskYUV444)
	} else {
		formats.DeprioritizeByMask(^codec.MaskYUV444)
	}
	if !hdr {
		formats.RemoveByMask(codec.Mask10Bit)
	} else {
		formats.DeprioritizeByMask(^codec.Mask10Bit)
	}

	s.formats = formats
	s.logger.Debug("negotiated formats", slog.String("formats", formats.String()))
}

func pick[T any](cond bool, a, b T) T {
	if cond {
		return a
	}
	return b
}

// populateDecoderProperties fills the decoder-dependent stream fields from
// a test instance for the front format.
func (s *Session) populateDecoderProperties(ctx context.Context, p Prober) error {
	inst, ok := p.choose(ctx, s.prefs.DecoderSelection, s.streamCfg.VideoFormat, s.streamCfg.Width, s.streamCfg.Height, s.streamCfg.FPS)
	if !ok {
		if err := ctx.Err(); err != nil {
			return err
		}
		return &LaunchError{Message: msgDecoderInit}
	}
	defer inst.Close()

	s.streamCfg.DecoderCapabilities = inst.DecoderCapabilities()

	if s.prefs.Colorspace >= 0 {
		s.streamCfg.Colorspace = render.Colorspace(s.prefs.Colorspace)
		s.logger.Warn("using colorspace override", slog.String("colorspace", s.streamCfg.Colorspace.String()))
	} else {
		s.streamCfg.Colorspace = inst.DecoderColorspace()
	}
	if s.prefs.ColorRange >= 0 {
		s.streamCfg.ColorRange = render.ColorRange(s.prefs.ColorRange)
		s.logger.Warn("using color range override", slog.String("color_range", s.streamCfg.ColorRange.String()))
	} else {
		s.streamCfg.ColorRange = inst.DecoderColorRange()
	}

	if inst.IsAlwaysFullScreen() {
		s.fullscreen = true
	}

	s.logger.Info("decoder properties",
		slog.String("decoder", inst.Implementation()),
		slog.Bool("hardware", inst.IsHardwareAccelerated()),
		slog.Bool("pull_renderer", s.streamCfg.PullRenderer()),
		slog.String("colorspace", s.streamCfg.Colorspace.String()),
		slog.String("color_range", s.streamCfg.ColorRange.String()))
	return nil
}
