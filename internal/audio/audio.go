// Package audio selects an audio output backend for the stream's Opus
// configuration, decodes samples, and recovers from backend failures.
package audio

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownBackend is returned when the configured backend does not exist.
	ErrUnknownBackend = errors.New("unknown audio backend")

	// ErrNoBackend is returned when no backend can play the configuration.
	ErrNoBackend = errors.New("no usable audio backend")
)

// Configuration is the channel layout requested from the host.
type Configuration int

const (
	ConfigurationStereo Configuration = iota
	Configuration51
	Configuration71
)

// ParseConfiguration parses "stereo", "5.1" or "7.1".
func ParseConfiguration(s string) (Configuration, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stereo", "2.0":
		return ConfigurationStereo, true
	case "5.1", "surround51":
		return Configuration51, true
	case "7.1", "surround71":
		return Configuration71, true
	default:
		return ConfigurationStereo, false
	}
}

func (c Configuration) String() string {
	switch c {
	case Configuration51:
		return "5.1"
	case Configuration71:
		return "7.1"
	default:
		return "stereo"
	}
}

// ChannelCount returns the number of output channels.
func (c Configuration) ChannelCount() int {
	switch c {
	case Configuration51:
		return 6
	case Configuration71:
		return 8
	default:
		return 2
	}
}

// Config is an Opus multistream configuration.
type Config struct {
	SampleRate      int
	SamplesPerFrame int
	ChannelCount    int
	Streams         int
	CoupledStreams  int
	Mapping         [8]byte
}

// DefaultConfig returns the host's default Opus configuration for c at
// 48kHz with 5ms frames.
func DefaultConfig(c Configuration) Config {
	cfg := Config{SampleRate: 48000, SamplesPerFrame: 240, ChannelCount: c.ChannelCount()}
	switch c {
	case Configuration51:
		cfg.Streams, cfg.CoupledStreams = 4, 2
		cfg.Mapping = [8]byte{0, 4, 1, 5, 2, 3}
	case Configuration71:
		cfg.Streams, cfg.CoupledStreams = 5, 3
		cfg.Mapping = [8]byte{0, 6, 1, 7, 2, 3, 4, 5}
	default:
		cfg.Streams, cfg.CoupledStreams = 1, 1
		cfg.Mapping = [8]byte{0, 1}
	}
	return cfg
}

// Validate checks that cfg describes a playable stream.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("invalid sample rate %d", c.SampleRate)
	case c.ChannelCount < 1 || c.ChannelCount > len(c.Mapping):
		return fmt.Errorf("invalid channel count %d", c.ChannelCount)
	case c.SamplesPerFrame < 0:
		return fmt.Errorf("invalid samples per frame %d", c.SamplesPerFrame)
	}
	return nil
}

// SampleFormat is the PCM layout a backend accepts.
type SampleFormat int

const (
	SampleS16NE SampleFormat = iota
	SampleFloat32NE
)

// BytesPerSample returns the size of one sample of one channel.
func (f SampleFormat) BytesPerSample() int {
	if f == SampleFloat32NE {
		return 4
	}
	return 2
}

func (f SampleFormat) String() string {
	if f == SampleFloat32NE {
		return "f32"
	}
	return "s16"
}

// Capability flags advertised to the host.
type Capability int

const (
	CapSlowOpusDecoder        Capability = 0x08
	CapArbitraryAudioDuration Capability = 0x10
)

// Capabilities returns the audio capabilities every backend supports.
func Capabilities() Capability {
	return CapArbitraryAudioDuration
}

// Backend is an audio output.
type Backend interface {
	Name() string
	PrepareForPlayback(cfg Config) error
	// RemapChannels adjusts the Opus mapping to the backend's channel order.
	RemapChannels(cfg *Config)
	SampleFormat() SampleFormat
	// Buffer returns a buffer of at least size bytes to decode into, or
	// nil to skip the sample.
	Buffer(size int) []byte
	// SubmitAudio plays the first n bytes of the buffer. False means the
	// backend failed and must be recreated.
	SubmitAudio(n int) bool
	Close() error
}

// DefaultRemap keeps the host's channel order: FL FR FC LFE RL RR SL SR.
func DefaultRemap(*Config) {}
