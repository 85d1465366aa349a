// Package config provides configuration management for vidarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jmylchreest/vidarr/internal/audio"
	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/render"
)

// Default configuration values.
const (
	defaultWidth           = 1920
	defaultHeight          = 1080
	defaultFPS             = 60
	defaultWarningDuration = 3500 * time.Millisecond
	defaultConnectDelay    = 1500 * time.Millisecond
	defaultReinitInterval  = 200
	defaultFetchTimeout    = 30 * time.Second
	defaultFetchRetries    = 3
	defaultFetchRetryDelay = time.Second
	defaultFetchBreaker    = 5
	minPacketSize          = 256
	maxPacketSize          = 65535
)

// Config holds all configuration for the application.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Video    VideoConfig    `mapstructure:"video" yaml:"video"`
	Stream   StreamConfig   `mapstructure:"stream" yaml:"stream"`
	Audio    AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Backends BackendsConfig `mapstructure:"backends" yaml:"backends"`
	Fetch    FetchConfig    `mapstructure:"fetch" yaml:"fetch"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
}

// VideoConfig holds decoder and presentation settings.
type VideoConfig struct {
	DecoderSelection string `mapstructure:"decoder_selection" yaml:"decoder_selection"` // auto, hardware, software
	Codec            string `mapstructure:"codec" yaml:"codec"`                         // auto, h264, hevc, av1
	HDR              bool   `mapstructure:"hdr" yaml:"hdr"`
	YUV444           bool   `mapstructure:"yuv444" yaml:"yuv444"`
	Vsync            bool   `mapstructure:"vsync" yaml:"vsync"`
	FramePacing      bool   `mapstructure:"frame_pacing" yaml:"frame_pacing"`
	// DecoderHints maps a codec family to the implementation tried first.
	DecoderHints map[string]string `mapstructure:"decoder_hints" yaml:"decoder_hints"`
	// DecoderCaps replaces the capabilities reported to the host when non-zero.
	DecoderCaps uint32 `mapstructure:"decoder_caps" yaml:"decoder_caps"`
	// Colorspace and ColorRange override the decoder's choice; -1 keeps it.
	Colorspace int    `mapstructure:"colorspace" yaml:"colorspace"`
	ColorRange int    `mapstructure:"color_range" yaml:"color_range"`
	WindowMode string `mapstructure:"window_mode" yaml:"window_mode"` // fullscreen, borderless, windowed
}

// StreamConfig holds the stream requested from the host.
type StreamConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
	FPS    int `mapstructure:"fps" yaml:"fps"`
	// Bitrate is in kbps. Zero derives it from resolution and frame rate.
	Bitrate int `mapstructure:"bitrate" yaml:"bitrate"`
	// PacketSize forces local streaming with the given video packet size
	// when non-zero.
	PacketSize         int           `mapstructure:"packet_size" yaml:"packet_size"`
	AudioConfig        string        `mapstructure:"audio_config" yaml:"audio_config"` // stereo, 5.1, 7.1
	WarningDuration    time.Duration `mapstructure:"warning_duration" yaml:"warning_duration"`
	ConnectDelay       time.Duration `mapstructure:"connect_delay" yaml:"connect_delay"`
	QuitAppAfter       bool          `mapstructure:"quit_app_after" yaml:"quit_app_after"`
	ConnectionWarnings bool          `mapstructure:"connection_warnings" yaml:"connection_warnings"`
}

// AudioConfig holds audio output settings.
type AudioConfig struct {
	// Backend forces an audio backend by name; empty tries each in order.
	Backend         string `mapstructure:"backend" yaml:"backend"`
	MuteOnFocusLoss bool   `mapstructure:"mute_on_focus_loss" yaml:"mute_on_focus_loss"`
	// ReinitInterval is the number of samples between backend recovery attempts.
	ReinitInterval int `mapstructure:"reinit_interval" yaml:"reinit_interval"`
	// PCMOutput receives the pcm backend's interleaved float32 samples: a
	// file path, or "-" for stdout. Empty discards them.
	PCMOutput string `mapstructure:"pcm_output" yaml:"pcm_output"`
}

// BackendsConfig holds renderer backend settings.
type BackendsConfig struct {
	Order OrderConfig `mapstructure:"order" yaml:"order"`
}

// OrderConfig restricts or reorders the per-platform backend try-order.
// Empty lists keep the platform default.
type OrderConfig struct {
	Pass0    []string `mapstructure:"pass0" yaml:"pass0"`
	Pass1    []string `mapstructure:"pass1" yaml:"pass1"`
	Software []string `mapstructure:"software" yaml:"software"`
}

// FetchConfig holds HTTP settings for remote captures.
type FetchConfig struct {
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	// CircuitThreshold is the number of consecutive failures that pause
	// fetching; zero disables the breaker.
	CircuitThreshold int `mapstructure:"circuit_threshold" yaml:"circuit_threshold"`
	// MaxSize limits a capture in bytes; zero is unlimited.
	MaxSize int64 `mapstructure:"max_size" yaml:"max_size"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with VIDARR_ and use underscores for nesting.
// Example: VIDARR_STREAM_FPS=120.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/vidarr")
		v.AddConfigPath("$HOME/.vidarr")
	}

	// Environment variable settings
	v.SetEnvPrefix("VIDARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Video defaults
	v.SetDefault("video.decoder_selection", "auto")
	v.SetDefault("video.codec", "auto")
	v.SetDefault("video.hdr", false)
	v.SetDefault("video.yuv444", false)
	v.SetDefault("video.vsync", true)
	v.SetDefault("video.frame_pacing", false)
	v.SetDefault("video.decoder_caps", 0)
	v.SetDefault("video.colorspace", -1)
	v.SetDefault("video.color_range", -1)
	v.SetDefault("video.window_mode", "fullscreen")

	// Stream defaults
	v.SetDefault("stream.width", defaultWidth)
	v.SetDefault("stream.height", defaultHeight)
	v.SetDefault("stream.fps", defaultFPS)
	v.SetDefault("stream.bitrate", 0)
	v.SetDefault("stream.packet_size", 0)
	v.SetDefault("stream.audio_config", "stereo")
	v.SetDefault("stream.warning_duration", defaultWarningDuration)
	v.SetDefault("stream.connect_delay", defaultConnectDelay)
	v.SetDefault("stream.quit_app_after", false)
	v.SetDefault("stream.connection_warnings", true)

	// Audio defaults
	v.SetDefault("audio.backend", "")
	v.SetDefault("audio.mute_on_focus_loss", false)
	v.SetDefault("audio.reinit_interval", defaultReinitInterval)
	v.SetDefault("audio.pcm_output", "")

	// Backend order defaults
	v.SetDefault("backends.order.pass0", []string{})
	v.SetDefault("backends.order.pass1", []string{})
	v.SetDefault("backends.order.software", []string{})

	// Fetch defaults
	v.SetDefault("fetch.timeout", defaultFetchTimeout)
	v.SetDefault("fetch.retry_attempts", defaultFetchRetries)
	v.SetDefault("fetch.retry_delay", defaultFetchRetryDelay)
	v.SetDefault("fetch.circuit_threshold", defaultFetchBreaker)
	v.SetDefault("fetch.max_size", 0)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Video validation
	if _, ok := render.ParseSelection(c.Video.DecoderSelection); !ok {
		return fmt.Errorf("video.decoder_selection must be one of: auto, hardware, software")
	}
	if c.Video.Codec != "" && !strings.EqualFold(c.Video.Codec, "auto") {
		if _, ok := codec.ParseVideo(c.Video.Codec); !ok {
			return fmt.Errorf("video.codec must be one of: auto, h264, hevc, av1")
		}
	}
	validModes := map[string]bool{"": true, "fullscreen": true, "borderless": true, "windowed": true}
	if !validModes[strings.ToLower(c.Video.WindowMode)] {
		return fmt.Errorf("video.window_mode must be one of: fullscreen, borderless, windowed")
	}
	for family, impl := range c.Video.DecoderHints {
		if _, ok := codec.ParseVideo(family); !ok {
			return fmt.Errorf("video.decoder_hints: unknown codec %q", family)
		}
		if impl == "" {
			return fmt.Errorf("video.decoder_hints.%s must name a decoder", family)
		}
	}
	if c.Video.Colorspace < -1 {
		return fmt.Errorf("video.colorspace must be -1 or a colorspace value")
	}
	if c.Video.ColorRange < -1 {
		return fmt.Errorf("video.color_range must be -1 or a color range value")
	}

	// Stream validation
	if c.Stream.Width < 1 || c.Stream.Height < 1 {
		return fmt.Errorf("stream.width and stream.height must be at least 1")
	}
	if c.Stream.FPS < 1 {
		return fmt.Errorf("stream.fps must be at least 1")
	}
	if c.Stream.Bitrate < 0 {
		return fmt.Errorf("stream.bitrate must not be negative")
	}
	if c.Stream.PacketSize != 0 && (c.Stream.PacketSize < minPacketSize || c.Stream.PacketSize > maxPacketSize) {
		return fmt.Errorf("stream.packet_size must be 0 or between %d and %d", minPacketSize, maxPacketSize)
	}
	if _, ok := audio.ParseConfiguration(c.Stream.AudioConfig); !ok {
		return fmt.Errorf("stream.audio_config must be one of: stereo, 5.1, 7.1")
	}
	if c.Stream.WarningDuration < 0 || c.Stream.ConnectDelay < 0 {
		return fmt.Errorf("stream.warning_duration and stream.connect_delay must not be negative")
	}

	// Audio validation
	if c.Audio.ReinitInterval < 1 {
		return fmt.Errorf("audio.reinit_interval must be at least 1")
	}

	// Fetch validation
	if c.Fetch.Timeout < 0 || c.Fetch.RetryDelay < 0 {
		return fmt.Errorf("fetch.timeout and fetch.retry_delay must not be negative")
	}
	if c.Fetch.RetryAttempts < 0 || c.Fetch.CircuitThreshold < 0 || c.Fetch.MaxSize < 0 {
		return fmt.Errorf("fetch.retry_attempts, fetch.circuit_threshold and fetch.max_size must not be negative")
	}

	// Backend order validation
	for pass, names := range map[string][]string{
		"pass0":    c.Backends.Order.Pass0,
		"pass1":    c.Backends.Order.Pass1,
		"software": c.Backends.Order.Software,
	} {
		for _, name := range names {
			if _, ok := render.ParseType(name); !ok {
				return fmt.Errorf("backends.order.%s: unknown backend %q", pass, name)
			}
		}
	}

	return nil
}

// Hints returns the decoder hints keyed by canonical codec family.
func (c *VideoConfig) Hints() map[codec.Video]string {
	if len(c.DecoderHints) == 0 {
		return nil
	}
	out := make(map[codec.Video]string, len(c.DecoderHints))
	for family, impl := range c.DecoderHints {
		if v, ok := codec.ParseVideo(family); ok {
			out[v] = impl
		}
	}
	return out
}

// BitrateOrDefault returns the configured bitrate, or def when unset.
func (c *StreamConfig) BitrateOrDefault(def int) int {
	if c.Bitrate > 0 {
		return c.Bitrate
	}
	return def
}
