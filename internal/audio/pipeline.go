package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultReinitInterval is the number of samples between attempts to
// recreate a failed backend. At 5ms per sample this is once a second.
const DefaultReinitInterval = 200

// Pipeline decodes Opus samples into the selected backend and recreates the
// backend after failures.
type Pipeline struct {
	selector       *Selector
	decoders       DecoderFactory
	reinitInterval int
	logger         *slog.Logger
	now            func() time.Time

	mu          sync.Mutex
	original    Config
	active      Config
	backend     Backend
	decoder     Decoder
	sampleCount int
	dropUntil   time.Time

	muted atomic.Bool
}

// NewPipeline creates a pipeline selecting backends with selector and
// decoding with decoders.
func NewPipeline(selector *Selector, decoders DecoderFactory) *Pipeline {
	return &Pipeline{
		selector:       selector,
		decoders:       decoders,
		reinitInterval: DefaultReinitInterval,
		logger:         slog.Default(),
		now:            time.Now,
	}
}

// WithLogger sets the logger.
func (p *Pipeline) WithLogger(logger *slog.Logger) *Pipeline {
	p.logger = logger
	return p
}

// WithReinitInterval sets the samples between recreate attempts.
func (p *Pipeline) WithReinitInterval(n int) *Pipeline {
	if n > 0 {
		p.reinitInterval = n
	}
	return p
}

// WithClock replaces the clock.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Init records the stream's declared configuration and creates the output.
// On failure playback continues and the output is recreated later.
func (p *Pipeline) Init(cfg Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.original = cfg
	return p.initializeLocked()
}

func (p *Pipeline) initializeLocked() error {
	b, err := p.selector.Create(p.original)
	if err != nil {
		return fmt.Errorf("create audio backend: %w", err)
	}

	// Decode in the backend's channel order.
	active := p.original
	b.RemapChannels(&active)

	d, err := p.decoders(active)
	if err != nil {
		_ = b.Close()
		p.logger.Error("failed to create audio decoder", slog.String("error", err.Error()))
		return fmt.Errorf("create audio decoder: %w", err)
	}

	p.backend, p.decoder, p.active = b, d, active
	p.logger.Info("audio stream ready",
		slog.String("backend", b.Name()),
		slog.Int("channels", active.ChannelCount),
		slog.String("sample_format", b.SampleFormat().String()))
	return nil
}

func (p *Pipeline) teardownLocked() {
	if p.decoder != nil {
		_ = p.decoder.Close()
		p.decoder = nil
	}
	if p.backend != nil {
		_ = p.backend.Close()
		p.backend = nil
	}
}

// DecodeAndPlay decodes one Opus sample and plays it.
func (p *Pipeline) DecodeAndPlay(sample []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.dropUntil.IsZero() {
		if p.now().Before(p.dropUntil) {
			return
		}
		p.dropUntil = time.Time{}
		p.logger.Info("audio drop window has ended")
	}

	p.sampleCount++
	if p.muted.Load() {
		return
	}

	if p.backend != nil {
		format := p.backend.SampleFormat()
		size := format.BytesPerSample() * p.active.ChannelCount * p.active.SamplesPerFrame
		buf := p.backend.Buffer(size)
		if buf == nil {
			return
		}
		if len(buf) > size {
			buf = buf[:size]
		}

		n, err := decodeInto(p.decoder, format, p.active.ChannelCount, sample, buf)
		if err != nil {
			p.logger.Debug("audio decode failed", slog.String("error", err.Error()))
		}
		if !p.backend.SubmitAudio(n) {
			p.logger.Warn("reinitializing audio output after failure",
				slog.String("backend", p.backend.Name()))
			p.teardownLocked()
		}
	}

	// Recreating blocks playback, so samples are dropped afterwards for as
	// long as it took to get back to real time.
	if p.backend == nil && p.sampleCount%p.reinitInterval == 0 {
		start := p.now()
		if err := p.initializeLocked(); err == nil {
			stop := p.now()
			took := stop.Sub(start)
			p.dropUntil = stop.Add(took)
			p.logger.Info("audio reinitialized, starting drop window", slog.Duration("took", took))
		}
	}
}

// SetMuted drops samples without touching the output while muted.
func (p *Pipeline) SetMuted(muted bool) {
	p.muted.Store(muted)
}

// Muted reports whether samples are being dropped.
func (p *Pipeline) Muted() bool { return p.muted.Load() }

// Active returns the configuration decoded to, after the backend's remap.
func (p *Pipeline) Active() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// BackendName returns the live backend, or "" when none is live.
func (p *Pipeline) BackendName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backend == nil {
		return ""
	}
	return p.backend.Name()
}

// SampleCount returns the samples accepted outside drop windows.
func (p *Pipeline) SampleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sampleCount
}

// Close releases the backend and decoder.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()
}
