package audio

import (
	"fmt"
	"log/slog"
	"strings"
)

// Selector creates backends, either the configured override or the first
// that prepares successfully in factory order.
type Selector struct {
	factories []Factory
	override  string
	logger    *slog.Logger
}

// NewSelector creates a selector. A non-empty override names the only
// backend that may be used.
func NewSelector(factories []Factory, override string) *Selector {
	return &Selector{
		factories: factories,
		override:  strings.ToLower(strings.TrimSpace(override)),
		logger:    slog.Default(),
	}
}

// WithLogger sets the logger.
func (s *Selector) WithLogger(logger *slog.Logger) *Selector {
	s.logger = logger
	return s
}

// Names returns the backend names in selection order.
func (s *Selector) Names() []string {
	names := make([]string, 0, len(s.factories))
	for _, f := range s.factories {
		names = append(names, f.Name)
	}
	return names
}

// Create returns a backend prepared for cfg.
func (s *Selector) Create(cfg Config) (Backend, error) {
	if s.override != "" {
		for _, f := range s.factories {
			if f.Name != s.override {
				continue
			}
			b, err := s.try(f, cfg)
			if err != nil {
				return nil, fmt.Errorf("audio backend %s: %w", f.Name, err)
			}
			return b, nil
		}
		s.logger.Error("unknown audio backend", slog.String("backend", s.override))
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, s.override)
	}

	for _, f := range s.factories {
		b, err := s.try(f, cfg)
		if err != nil {
			s.logger.Debug("audio backend unavailable",
				slog.String("backend", f.Name),
				slog.String("error", err.Error()))
			continue
		}
		return b, nil
	}
	return nil, ErrNoBackend
}

func (s *Selector) try(f Factory, cfg Config) (Backend, error) {
	b := f.New(s.logger)
	if err := b.PrepareForPlayback(cfg); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

// TestAudio reports whether some backend can play c.
func (s *Selector) TestAudio(c Configuration) error {
	cfg := Config{SampleRate: 48000, SamplesPerFrame: 240, ChannelCount: c.ChannelCount()}
	b, err := s.Create(cfg)
	if err != nil {
		return err
	}
	return b.Close()
}
