package session

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jmylchreest/vidarr/internal/audio"
	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/platform"
	"github.com/jmylchreest/vidarr/internal/render"
)

// Default timings.
const (
	DefaultWarningDuration = 3500 * time.Millisecond
	DefaultConnectDelay    = 1500 * time.Millisecond
)

// CodecPreference is the user's video codec choice.
type CodecPreference int

const (
	CodecAuto CodecPreference = iota
	CodecH264
	CodecHEVC
	CodecAV1
)

func (c CodecPreference) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecHEVC:
		return "hevc"
	case CodecAV1:
		return "av1"
	default:
		return "auto"
	}
}

// ParseCodecPreference parses auto, h264, hevc or av1 and their aliases.
func ParseCodecPreference(s string) (CodecPreference, bool) {
	if s == "" || strings.EqualFold(s, "auto") {
		return CodecAuto, true
	}
	v, ok := codec.ParseVideo(s)
	if !ok {
		return CodecAuto, false
	}
	switch v {
	case codec.VideoH264:
		return CodecH264, true
	case codec.VideoH265:
		return CodecHEVC, true
	case codec.VideoAV1:
		return CodecAV1, true
	}
	return CodecAuto, false
}

// WindowMode is how the streaming window is shown.
type WindowMode int

const (
	WindowFullscreen WindowMode = iota
	WindowBorderless
	WindowWindowed
)

func (m WindowMode) String() string {
	switch m {
	case WindowBorderless:
		return "borderless"
	case WindowWindowed:
		return "windowed"
	default:
		return "fullscreen"
	}
}

// ParseWindowMode parses fullscreen, borderless or windowed.
func ParseWindowMode(s string) (WindowMode, bool) {
	switch strings.ToLower(s) {
	case "", "fullscreen":
		return WindowFullscreen, true
	case "borderless":
		return WindowBorderless, true
	case "windowed":
		return WindowWindowed, true
	}
	return WindowFullscreen, false
}

// Preferences are the user settings a session starts from.
type Preferences struct {
	Width       int
	Height      int
	FPS         int
	BitrateKbps int

	DecoderSelection render.Selection
	Codec            CodecPreference
	EnableHDR        bool
	EnableYUV444     bool
	EnableVsync      bool
	FramePacing      bool
	WindowMode       WindowMode

	// PacketSize overrides the video packet size and forces local
	// streaming when non-zero.
	PacketSize  int
	AudioConfig audio.Configuration
	// AudioReinitInterval throttles audio backend recovery, in samples.
	AudioReinitInterval int

	QuitAppAfter       bool
	MuteOnFocusLoss    bool
	ConnectionWarnings bool

	// Colorspace and ColorRange override the decoder's choice when not -1.
	Colorspace int
	ColorRange int

	WarningDuration time.Duration
	ConnectDelay    time.Duration
}

// DefaultPreferences returns 1080p60 stereo streaming with automatic codec
// and decoder selection.
func DefaultPreferences() Preferences {
	return Preferences{
		Width:               1920,
		Height:              1080,
		FPS:                 60,
		BitrateKbps:         DefaultBitrate(1920, 1080, 60, false),
		EnableVsync:         true,
		AudioConfig:         audio.ConfigurationStereo,
		AudioReinitInterval: audio.DefaultReinitInterval,
		ConnectionWarnings:  true,
		Colorspace:          -1,
		ColorRange:          -1,
		WarningDuration:     DefaultWarningDuration,
		ConnectDelay:        DefaultConnectDelay,
	}
}

// Validate checks the stream dimensions.
func (p Preferences) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("invalid stream resolution %dx%d", p.Width, p.Height)
	}
	if p.FPS <= 0 {
		return fmt.Errorf("invalid stream frame rate %d", p.FPS)
	}
	if p.BitrateKbps <= 0 {
		return fmt.Errorf("invalid bitrate %d kbps", p.BitrateKbps)
	}
	return nil
}

var bitrateResolutions = []struct {
	pixels int
	factor float64
}{
	{640 * 360, 1},
	{854 * 480, 2},
	{1280 * 720, 5},
	{1920 * 1080, 10},
	{2560 * 1440, 20},
	{3840 * 2160, 40},
}

// DefaultBitrate returns the default bitrate in kbps for a stream,
// interpolating between known resolutions. Frame rates above 60 scale by
// the square root.
func DefaultBitrate(width, height, fps int, yuv444 bool) int {
	frameRate := float64(fps)
	if fps > 60 {
		frameRate = math.Sqrt(float64(fps)/60) * 60
	}
	frameRateFactor := frameRate / 30

	pixels := width * height
	last := bitrateResolutions[len(bitrateResolutions)-1]
	resolutionFactor := last.factor
	for i, r := range bitrateResolutions {
		if pixels == r.pixels || (pixels < r.pixels && i == 0) {
			resolutionFactor = r.factor
			break
		}
		if pixels < r.pixels {
			prev := bitrateResolutions[i-1]
			resolutionFactor = float64(pixels-prev.pixels)/float64(r.pixels-prev.pixels)*(r.factor-prev.factor) + prev.factor
			break
		}
	}

	if yuv444 {
		resolutionFactor *= 2
	}
	return int(math.Round(resolutionFactor*frameRateFactor)) * 1000
}

// HostInfo describes the paired host.
type HostInfo struct {
	Name    string
	Address string
	GPU     string
	// ServerVersion is the host software version. Versions starting with
	// "2." predate 4K support.
	ServerVersion          string
	SupportedServerVersion bool
	NvidiaServerSoftware   bool
	CodecModes             codec.ServerCodecMode
	MaxLumaPixelsHEVC      int
	DisplayModes           []platform.DisplayMode
}

// Distance classifies the network path to the host.
type Distance int

const (
	DistanceAuto Distance = iota
	DistanceLocal
	DistanceRemote
)

func (d Distance) String() string {
	switch d {
	case DistanceLocal:
		return "local"
	case DistanceRemote:
		return "remote"
	default:
		return "auto"
	}
}

// Encryption selects the encrypted streams.
type Encryption uint32

const (
	EncryptNone  Encryption = 0
	EncryptAudio Encryption = 0x01
	EncryptVideo Encryption = 0x02
	EncryptAll   Encryption = 0xFFFFFFFF
)

// StreamConfig is the negotiated configuration handed to the connection.
type StreamConfig struct {
	Width       int
	Height      int
	FPS         int
	BitrateKbps int
	PacketSize  int
	Distance    Distance

	// VideoFormat is the front of the negotiated priority list.
	VideoFormat codec.Format
	Colorspace  render.Colorspace
	ColorRange  render.ColorRange
	// DecoderCapabilities are the capabilities of the chosen decoder.
	DecoderCapabilities render.Capability

	AudioConfiguration audio.Configuration
	AudioCapabilities  audio.Capability

	Encryption     Encryption
	RemoteInputKey [16]byte
	// RemoteInputIV only has its first 4 bytes populated.
	RemoteInputIV [16]byte
}

// PullRenderer reports whether decode units are pulled by the decoder
// instead of pushed by the connection.
func (c StreamConfig) PullRenderer() bool {
	return c.DecoderCapabilities.Has(render.CapPullRenderer)
}
