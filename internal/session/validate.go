package session

import (
	"context"
	"strings"

	"github.com/jmylchreest/vidarr/internal/audio"
	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/render"
)

// maxNVENCDimension is the largest dimension older NVIDIA encoders accept.
const maxNVENCDimension = 4096

func (s *Session) warn(text string) {
	s.logger.Warn("launch warning", "warning", text)
	s.warnings = append(s.warnings, text)
}

// validateLaunch reconciles the negotiated formats with the host. Problems
// the session can work around are queued as warnings; the rest abort the
// launch with a *LaunchError.
func (s *Session) validateLaunch(ctx context.Context, p Prober) error {
	prefs, host, formats := s.prefs, s.host, s.formats
	autoDecode := prefs.DecoderSelection == render.SelectionAuto

	if !host.SupportedServerVersion {
		return &LaunchError{Message: "The host software version on " + host.Name + " is not supported. Update the host software to stream from " + host.Name + "."}
	}

	if prefs.DecoderSelection == render.SelectionForceSoftware {
		s.warn("Your settings selection to force software decoding may cause poor streaming performance.")
	}

	if formats.Mask()&codec.MaskAV1 != 0 {
		if formats.MaskByServerCodecModes(host.CodecModes&codec.SCMMaskAV1) == 0 {
			if prefs.Codec == CodecAV1 {
				s.warn("Your host software or GPU doesn't support encoding AV1.")
			}
			formats.RemoveByMask(codec.MaskAV1)
		} else if !prefs.EnableHDR && autoDecode && prefs.Codec != CodecAuto &&
			s.availability(ctx, p, codec.FormatAV1Main8) != AvailabilityHardware {
			s.warn("Using software decoding due to your selection to force AV1 without GPU support. This may cause poor streaming performance.")
		}
	}

	if formats.Mask()&codec.MaskH265 != 0 {
		if host.MaxLumaPixelsHEVC == 0 {
			if prefs.Codec == CodecHEVC {
				s.warn("Your host PC doesn't support encoding HEVC.")
			}
			formats.RemoveByMask(codec.MaskH265)
		} else if !prefs.EnableHDR && autoDecode && prefs.Codec != CodecAuto &&
			s.availability(ctx, p, codec.FormatH265) != AvailabilityHardware {
			s.warn("Using software decoding due to your selection to force HEVC without GPU support. This may cause poor streaming performance.")
		}
	}

	if formats.Mask()&codec.MaskH265 == 0 && autoDecode &&
		s.availability(ctx, p, codec.FormatH264) != AvailabilityHardware {
		switch {
		case prefs.Codec == CodecH264:
			s.warn("Using software decoding due to your selection to force H.264 without GPU support. This may cause poor streaming performance.")
		case host.MaxLumaPixelsHEVC == 0 && s.availability(ctx, p, codec.FormatH265) == AvailabilityHardware:
			s.warn("Your host PC and client PC don't support the same video codecs. This may cause poor streaming performance.")
		default:
			s.warn("Your client GPU doesn't support H.264 decoding. This may cause poor streaming performance.")
		}
	}

	if prefs.EnableHDR {
		s.validateHDR(ctx, p)
	}
	if prefs.EnableYUV444 {
		s.validateYUV444(ctx, p)
	}

	if s.streamCfg.Width >= 3840 && (host.ServerVersion == "" || strings.HasPrefix(host.ServerVersion, "2.")) {
		s.warn("Host software 3.0 or higher is required for 4K streaming.")
		s.streamCfg.Width, s.streamCfg.Height = 1920, 1080
	}

	s.validateAudio()

	if formats.EnsureFallback() {
		s.logger.Info("no negotiable formats left, falling back to H.264")
	}

	if (s.streamCfg.Width > maxNVENCDimension || s.streamCfg.Height > maxNVENCDimension) && host.NvidiaServerSoftware {
		// HEVC Main10 support arrived with 8K HEVC encoding.
		if host.MaxLumaPixelsHEVC == 0 || host.CodecModes&codec.SCMHEVCMain10 == 0 {
			return &LaunchError{Message: "Your host PC's GPU doesn't support streaming video resolutions over 4K."}
		}
		if formats.Mask()&^codec.MaskH264 == 0 {
			return &LaunchError{Message: "Video resolutions over 4K are not supported by the H.264 codec."}
		}
	}

	if prefs.DecoderSelection == render.SelectionForceHardware && formats.Mask()&codec.Mask10Bit == 0 {
		front, _ := formats.Front()
		if s.availability(ctx, p, front) != AvailabilityHardware {
			if prefs.Codec == CodecAuto {
				return &LaunchError{Message: "Your selection to force hardware decoding cannot be satisfied due to missing hardware decoding support on this PC's GPU."}
			}
			return &LaunchError{Message: "Your codec selection and force hardware decoding setting are not compatible. This PC's GPU lacks support for decoding your chosen codec."}
		}
	}
	return nil
}

func (s *Session) validateHDR(ctx context.Context, p Prober) {
	prefs, host, formats := s.prefs, s.host, s.formats

	switch {
	case prefs.Codec == CodecH264:
		s.warn("HDR is not supported using the H.264 codec.")
		formats.RemoveByMask(codec.Mask10Bit)
	case formats.Mask()&codec.Mask10Bit == 0:
		s.warn("This PC's GPU doesn't support 10-bit HEVC or AV1 decoding for HDR streaming.")
	case formats.MaskByServerCodecModes(host.CodecModes&codec.SCMMask10Bit) == 0:
		s.warn("Your host PC doesn't support HDR streaming.")
		formats.RemoveByMask(codec.Mask10Bit)
	case prefs.Codec != CodecAuto:
		warnedSoftware := false
		for _, c := range []struct {
			mode   codec.ServerCodecMode
			format codec.Format
			name   string
		}{
			{codec.SCMAV1Main10, codec.FormatAV1Main10, "AV1 Main10"},
			{codec.SCMHEVCMain10, codec.FormatH265Main10, "HEVC Main10"},
		} {
			if formats.MaskByServerCodecModes(host.CodecModes&c.mode) == 0 {
				continue
			}
			switch s.availability(ctx, p, c.format) {
			case AvailabilityNone:
				s.warn("This PC's GPU doesn't support " + c.name + " decoding for HDR streaming.")
				formats.RemoveByMask(c.format)
			case AvailabilitySoftware:
				if prefs.DecoderSelection != render.SelectionForceSoftware && !warnedSoftware {
					s.warn("Using software decoding due to your selection to force HDR without GPU support. This may cause poor streaming performance.")
					warnedSoftware = true
				}
			}
		}
	}

	if formats.Mask()&codec.Mask10Bit != 0 &&
		formats.MaskByServerCodecModes(host.CodecModes)&codec.Mask10Bit == 0 {
		s.warn("Your host PC and client PC don't support the same HDR video codecs.")
		formats.RemoveByMask(codec.Mask10Bit)
	}
}

func (s *Session) validateYUV444(ctx context.Context, p Prober) {
	prefs, host, formats := s.prefs, s.host, s.formats

	if host.CodecModes&codec.SCMMaskYUV444 == 0 {
		s.warn("Your host PC doesn't support YUV 4:4:4 streaming.")
		formats.RemoveByMask(codec.MaskYUV444)
		return
	}

	formats.RemoveByMask(^formats.MaskByServerCodecModes(host.CodecModes))
	frontIs444 := func() bool {
		f, ok := formats.Front()
		return ok && f.IsYUV444()
	}

	if !formats.Empty() && !frontIs444() {
		s.warn("Your host PC doesn't support YUV 4:4:4 streaming for selected video codec.")
		return
	}
	if prefs.DecoderSelection == render.SelectionForceSoftware {
		return
	}

	for frontIs444() {
		front, _ := formats.Front()
		if s.availability(ctx, p, front) == AvailabilityHardware {
			break
		}
		if prefs.DecoderSelection != render.SelectionForceHardware {
			s.warn("Using software decoding due to your selection to force YUV 4:4:4 without GPU support. This may cause poor streaming performance.")
			break
		}
		formats.RemoveFirst()
	}
	if !formats.Empty() && !frontIs444() {
		s.warn("This PC's GPU doesn't support YUV 4:4:4 decoding for selected video codec.")
	}
}

// validateAudio tests the requested channel layout, degrading surround to
// stereo when only stereo works.
func (s *Session) validateAudio() {
	sel := s.selector
	requested := s.streamCfg.AudioConfiguration

	err := sel.TestAudio(requested)
	if err != nil && requested.ChannelCount() > 2 {
		if sel.TestAudio(audio.ConfigurationStereo) == nil {
			s.streamCfg.AudioConfiguration = audio.ConfigurationStereo
			s.warn("Your selected surround sound setting is not supported by the current audio device.")
			return
		}
	}
	if err != nil {
		s.warn("Failed to open audio device. Audio will be unavailable during this session.")
	}
}
