package audio

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Factory constructs one kind of backend.
type Factory struct {
	Name string
	New  func(logger *slog.Logger) Backend
}

// DefaultFactories returns the backends in automatic selection order. The
// pcm backend plays into pcmSink, discarding the samples when it is nil.
func DefaultFactories(pcmSink io.Writer) []Factory {
	if pcmSink == nil {
		pcmSink = io.Discard
	}
	return []Factory{
		{Name: "pcm", New: func(logger *slog.Logger) Backend { return NewPCMBackend(logger, pcmSink) }},
		{Name: "null", New: func(logger *slog.Logger) Backend { return NewNullBackend(logger) }},
	}
}

// MaxPendingDuration is the queued audio beyond which the PCM backend drops
// new samples.
const MaxPendingDuration = 30 * time.Millisecond

// PCMBackend queues interleaved PCM and plays it into a sink at the
// stream's sample rate, one frame per frame period, like a device would.
type PCMBackend struct {
	logger *slog.Logger
	sink   io.Writer
	cfg    Config
	buf    []byte

	mu      sync.Mutex
	pending []byte
	dropped int

	// tick returns the playout clock and its stop function.
	tick func(period time.Duration) (<-chan time.Time, func())
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewPCMBackend creates an unprepared PCM backend playing into sink.
func NewPCMBackend(logger *slog.Logger, sink io.Writer) *PCMBackend {
	return &PCMBackend{logger: logger, sink: sink, tick: realtimeTick}
}

func realtimeTick(period time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(period)
	return t.C, t.Stop
}

func (b *PCMBackend) Name() string               { return "pcm" }
func (b *PCMBackend) RemapChannels(cfg *Config)  { DefaultRemap(cfg) }
func (b *PCMBackend) SampleFormat() SampleFormat { return SampleFloat32NE }

func (b *PCMBackend) PrepareForPlayback(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("pcm: %w", err)
	}
	b.stopPlayout()

	b.mu.Lock()
	b.cfg = cfg
	b.pending = nil
	b.mu.Unlock()

	frameBytes := cfg.ChannelCount * b.SampleFormat().BytesPerSample()
	samples := max(cfg.SamplesPerFrame, 1)
	b.buf = make([]byte, frameBytes*samples)

	period := time.Duration(samples) * time.Second / time.Duration(cfg.SampleRate)
	b.stop = make(chan struct{})
	b.wg.Add(1)
	go b.playout(b.stop, period, len(b.buf))

	b.logger.Info("pcm audio output ready",
		slog.Int("sample_rate", cfg.SampleRate),
		slog.Int("channels", cfg.ChannelCount),
		slog.Int("buffer_bytes", len(b.buf)),
		slog.Duration("period", period))
	return nil
}

// playout consumes one frame of queued audio per period until stop closes.
// After a sink write error the samples are still consumed but discarded.
func (b *PCMBackend) playout(stop <-chan struct{}, period time.Duration, frame int) {
	defer b.wg.Done()
	ticks, stopTicks := b.tick(period)
	defer stopTicks()

	sink := b.sink
	out := make([]byte, frame)
	for {
		select {
		case <-stop:
			return
		case <-ticks:
		}
		n := b.read(out)
		if n == 0 {
			continue
		}
		if _, err := sink.Write(out[:n]); err != nil {
			b.logger.Warn("pcm sink write failed, discarding audio", slog.String("error", err.Error()))
			sink = io.Discard
		}
	}
}

func (b *PCMBackend) stopPlayout() {
	if b.stop == nil {
		return
	}
	close(b.stop)
	b.wg.Wait()
	b.stop = nil
}

func (b *PCMBackend) Buffer(size int) []byte {
	if size > len(b.buf) {
		b.buf = make([]byte, size)
	}
	return b.buf
}

func (b *PCMBackend) SubmitAudio(n int) bool {
	if n == 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pendingDurationLocked() > MaxPendingDuration {
		b.dropped++
		return true
	}
	b.pending = append(b.pending, b.buf[:n]...)
	return true
}

func (b *PCMBackend) pendingDurationLocked() time.Duration {
	frameBytes := b.cfg.ChannelCount * b.SampleFormat().BytesPerSample()
	if frameBytes == 0 || b.cfg.SampleRate == 0 {
		return 0
	}
	frames := len(b.pending) / frameBytes
	return time.Duration(frames) * time.Second / time.Duration(b.cfg.SampleRate)
}

// PendingDuration returns the queued audio duration.
func (b *PCMBackend) PendingDuration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pendingDurationLocked()
}

// Dropped returns the number of samples dropped due to a full queue.
func (b *PCMBackend) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *PCMBackend) read(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := copy(p, b.pending)
	b.pending = b.pending[n:]
	return n
}

func (b *PCMBackend) Close() error {
	b.stopPlayout()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = nil
	return nil
}

// NullBackend discards audio.
type NullBackend struct {
	logger    *slog.Logger
	buf       []byte
	submitted int
}

// NewNullBackend creates a backend that discards everything.
func NewNullBackend(logger *slog.Logger) *NullBackend {
	return &NullBackend{logger: logger}
}

func (b *NullBackend) Name() string               { return "null" }
func (b *NullBackend) RemapChannels(cfg *Config)  { DefaultRemap(cfg) }
func (b *NullBackend) SampleFormat() SampleFormat { return SampleS16NE }

func (b *NullBackend) PrepareForPlayback(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("null: %w", err)
	}
	b.logger.Debug("discarding audio output", slog.Int("channels", cfg.ChannelCount))
	return nil
}

func (b *NullBackend) Buffer(size int) []byte {
	if size > len(b.buf) {
		b.buf = make([]byte, size)
	}
	return b.buf
}

func (b *NullBackend) SubmitAudio(n int) bool {
	b.submitted += n
	return true
}

func (b *NullBackend) Close() error { return nil }
