package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/jmylchreest/vidarr/internal/audio"
	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/decoder"
	"github.com/jmylchreest/vidarr/internal/render"
	"github.com/jmylchreest/vidarr/internal/session"
)

const (
	// DefaultQueueSize is the number of decode units buffered ahead of the
	// decoder.
	DefaultQueueSize = 32

	stageOpen = "capture open"

	// terminationReadError is reported when the capture cannot be read to
	// the end.
	terminationReadError = -1

	// opusFrameSamples is the frame size assumed for captured Opus audio.
	opusFrameSamples = 960
)

// ErrFormatMismatch is returned by Start when the negotiated format cannot
// be served from the capture.
var ErrFormatMismatch = errors.New("negotiated format does not match capture")

// Stats counts decode unit delivery.
type Stats struct {
	Delivered uint64
	Skipped   uint64
	IDRs      uint64
	Passes    uint64
}

// Connection plays back a capture as a streaming host.
type Connection struct {
	open     Opener
	logger   *slog.Logger
	realtime bool
	loop     bool
	queue    int
	now      func() time.Time

	mu      sync.Mutex
	cb      session.ConnectionCallbacks
	units   chan *decoder.DecodeUnit
	cancel  context.CancelFunc
	done    chan struct{}
	info    Info
	started bool

	hdr        atomic.Bool
	idrPending atomic.Bool

	delivered atomic.Uint64
	skipped   atomic.Uint64
	idrs      atomic.Uint64
	passes    atomic.Uint64
}

// New creates a connection playing back the capture returned by open.
func New(open Opener) *Connection {
	return &Connection{
		open:   open,
		logger: slog.Default(),
		queue:  DefaultQueueSize,
		now:    time.Now,
	}
}

// WithLogger sets the logger.
func (c *Connection) WithLogger(logger *slog.Logger) *Connection {
	c.logger = logger
	return c
}

// WithRealtime paces delivery by the capture's presentation timestamps.
func (c *Connection) WithRealtime(on bool) *Connection {
	c.realtime = on
	return c
}

// WithLoop restarts playback when the capture ends.
func (c *Connection) WithLoop(on bool) *Connection {
	c.loop = on
	return c
}

// WithQueueSize sets the number of buffered decode units.
func (c *Connection) WithQueueSize(n int) *Connection {
	if n > 0 {
		c.queue = n
	}
	return c
}

// SetCallbacks registers the session callbacks.
func (c *Connection) SetCallbacks(cb session.ConnectionCallbacks) {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()
}

func (c *Connection) callbacks() session.ConnectionCallbacks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cb
}

// Start probes the capture, announces its streams and starts delivering
// decode units.
func (c *Connection) Start(ctx context.Context, cfg session.StreamConfig) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("replay connection already started")
	}
	c.started = true
	c.mu.Unlock()

	cb := c.callbacks()
	stageStarting(cb, stageOpen)

	info, err := Probe(ctx, c.open, c.logger)
	if err == nil && info.Format.Family() != cfg.VideoFormat.Family() {
		err = fmt.Errorf("%w: capture is %s, session negotiated %s",
			ErrFormatMismatch, info.Format, cfg.VideoFormat)
	}
	if err != nil {
		if cb.StageFailed != nil {
			cb.StageFailed(stageOpen, -1, session.PortTest{})
		}
		return err
	}

	c.logger.Info("replaying capture",
		slog.String("format", info.Format.String()),
		slog.Int("width", info.Width),
		slog.Int("height", info.Height),
		slog.Int("audio_channels", info.AudioChannels),
		slog.Bool("realtime", c.realtime),
		slog.Bool("loop", c.loop))

	if cb.VideoSetup != nil {
		cb.VideoSetup(info.Format, info.Width, info.Height, cfg.FPS)
	}
	if info.Format.Is10Bit() {
		c.hdr.Store(true)
		if cb.SetHDRMode != nil {
			cb.SetHDRMode(true)
		}
	}

	audioOn := false
	if info.HasAudio() && cb.AudioInit != nil {
		if err := cb.AudioInit(opusConfig(info.AudioChannels)); err != nil {
			c.logger.Warn("audio unavailable for replay", slog.String("error", err.Error()))
		} else {
			audioOn = true
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.info = info
	c.units = make(chan *decoder.DecodeUnit, c.queue)
	c.cancel = cancel
	c.done = make(chan struct{})
	units, done := c.units, c.done
	c.mu.Unlock()

	// Decoding starts at a key frame.
	c.idrPending.Store(true)

	go c.run(runCtx, cb, info.Format.Family(), audioOn, units, done)

	if cb.ConnectionStarted != nil {
		cb.ConnectionStarted()
	}
	return nil
}

func stageStarting(cb session.ConnectionCallbacks, stage string) {
	if cb.StageStarting != nil {
		cb.StageStarting(stage)
	}
}

// opusConfig is the decoder configuration for a captured Opus track.
func opusConfig(channels int) audio.Config {
	cfg := audio.Config{
		SampleRate:      48000,
		SamplesPerFrame: opusFrameSamples,
		ChannelCount:    channels,
		Streams:         1,
	}
	if channels == 2 {
		cfg.CoupledStreams = 1
	}
	for i := 0; i < channels && i < len(cfg.Mapping); i++ {
		cfg.Mapping[i] = byte(i)
	}
	return cfg
}

// run reads the capture until it ends or the connection stops.
func (c *Connection) run(ctx context.Context, cb session.ConnectionCallbacks, family codec.Video, audioOn bool, units chan<- *decoder.DecodeUnit, done chan<- struct{}) {
	defer close(done)
	defer close(units)

	p := &player{conn: c, ctx: ctx, family: family, units: units}
	for {
		c.passes.Add(1)
		err := p.pass(cb, audioOn)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			c.logger.Error("replay failed", slog.String("error", err.Error()))
			if cb.ConnectionTerminated != nil {
				cb.ConnectionTerminated(terminationReadError, session.PortTest{})
			}
			return
		case !c.loop:
			c.logger.Info("capture finished",
				slog.Uint64("delivered", c.delivered.Load()),
				slog.Uint64("skipped", c.skipped.Load()))
			if audioOn && cb.AudioCleanup != nil {
				cb.AudioCleanup()
			}
			if cb.ConnectionTerminated != nil {
				cb.ConnectionTerminated(session.TerminationGraceful, session.PortTest{})
			}
			return
		}
		c.logger.Debug("looping capture")
	}
}

// player delivers one capture pass at a time.
type player struct {
	conn   *Connection
	ctx    context.Context
	family codec.Video
	units  chan<- *decoder.DecodeUnit

	frameNumber int
	// base is the first timestamp of the pass and the wall time it maps to.
	basePTS  int64
	baseTime time.Time
	based    bool
}

var errStopped = errors.New("replay stopped")

func (p *player) pass(cb session.ConnectionCallbacks, audioOn bool) error {
	cp, err := openCapture(p.conn.open, p.conn.logger)
	if err != nil {
		return err
	}
	defer cp.Close()

	p.based = false
	cp.onVideo(func(pts int64, au [][]byte) error {
		return p.deliver(pts, au)
	})
	if audioOn && cp.audio != nil && cb.AudioSample != nil {
		cp.reader.OnDataOpus(cp.audio, func(_ int64, packets [][]byte) error {
			for _, pkt := range packets {
				if len(pkt) > 0 {
					cb.AudioSample(pkt)
				}
			}
			return nil
		})
	}

	for {
		if p.ctx.Err() != nil {
			return nil
		}
		if err := cp.reader.Read(); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, errStopped) {
				return nil
			}
			return fmt.Errorf("reading capture: %w", err)
		}
	}
}

func (p *player) deliver(pts int64, au [][]byte) error {
	c := p.conn
	p.frameNumber++

	key := codec.IsKeyFrame(p.family, au)
	if c.idrPending.Load() {
		if !key {
			c.skipped.Add(1)
			return nil
		}
		c.idrPending.Store(false)
	}

	if err := p.pace(pts); err != nil {
		return err
	}

	now := c.now()
	du := &decoder.DecodeUnit{
		FrameNumber:  p.frameNumber,
		FrameType:    decoder.FrameTypeP,
		Buffers:      buffers(p.family, au),
		RTPTimestamp: uint32(pts),
		ReceiveTime:  now,
		EnqueueTime:  now,
	}
	if key {
		du.FrameType = decoder.FrameTypeIDR
	}

	select {
	case p.units <- du:
		c.delivered.Add(1)
		return nil
	case <-p.ctx.Done():
		return errStopped
	}
}

// pace sleeps until pts is due when playing back in real time.
func (p *player) pace(pts int64) error {
	if !p.conn.realtime {
		return nil
	}
	if !p.based {
		p.basePTS, p.baseTime, p.based = pts, p.conn.now(), true
		return nil
	}
	due := p.baseTime.Add(time.Duration(pts-p.basePTS) * time.Second / 90000)
	wait := due.Sub(p.conn.now())
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-p.ctx.Done():
		return errStopped
	}
}

// buffers splits an access unit into Annex B buffers tagged by type.
// Access unit delimiters are dropped.
func buffers(family codec.Video, au [][]byte) []decoder.Buffer {
	out := make([]decoder.Buffer, 0, len(au))
	for _, nalu := range au {
		if len(nalu) == 0 || isDelimiter(family, nalu) {
			continue
		}
		data, err := codec.JoinAccessUnit(family, [][]byte{nalu})
		if err != nil {
			continue
		}
		out = append(out, decoder.Buffer{Type: bufferType(family, nalu), Data: data})
	}
	return out
}

func isDelimiter(family codec.Video, nalu []byte) bool {
	switch family {
	case codec.VideoH264:
		return h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeAccessUnitDelimiter
	case codec.VideoH265:
		return h265.NALUType((nalu[0]>>1)&0x3F) == h265.NALUType_AUD_NUT
	}
	return false
}

func bufferType(family codec.Video, nalu []byte) decoder.BufferType {
	switch family {
	case codec.VideoH264:
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			return decoder.BufferSPS
		case h264.NALUTypePPS:
			return decoder.BufferPPS
		}
	case codec.VideoH265:
		switch h265.NALUType((nalu[0] >> 1) & 0x3F) {
		case h265.NALUType_VPS_NUT:
			return decoder.BufferVPS
		case h265.NALUType_SPS_NUT:
			return decoder.BufferSPS
		case h265.NALUType_PPS_NUT:
			return decoder.BufferPPS
		}
	}
	return decoder.BufferPicData
}

// WaitForNextDecodeUnit blocks until a decode unit is available.
func (c *Connection) WaitForNextDecodeUnit(ctx context.Context) (*decoder.DecodeUnit, bool) {
	units := c.queueChan()
	if units == nil {
		return nil, false
	}
	select {
	case du, ok := <-units:
		return du, ok
	case <-ctx.Done():
		return nil, false
	}
}

// PollDecodeUnit returns a queued decode unit without blocking.
func (c *Connection) PollDecodeUnit() (*decoder.DecodeUnit, bool) {
	units := c.queueChan()
	if units == nil {
		return nil, false
	}
	select {
	case du, ok := <-units:
		return du, ok
	default:
		return nil, false
	}
}

func (c *Connection) queueChan() chan *decoder.DecodeUnit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.units
}

// CompleteDecodeUnit records the decoder's verdict on du.
func (c *Connection) CompleteDecodeUnit(du *decoder.DecodeUnit, status int) {
	if status == decoder.StatusNeedIDR {
		c.RequestIDR()
	}
}

// RequestIDR drops decode units until the next key frame.
func (c *Connection) RequestIDR() {
	c.idrs.Add(1)
	c.idrPending.Store(true)
	c.logger.Debug("IDR frame requested")
}

// HDRMetadata returns BT.2020 mastering metadata for 10-bit captures.
func (c *Connection) HDRMetadata() (render.HDRMetadata, bool) {
	if !c.hdr.Load() {
		return render.HDRMetadata{}, false
	}
	return render.HDRMetadata{
		DisplayPrimaries:          [3][2]uint16{{35400, 14600}, {8500, 39850}, {6550, 2300}},
		WhitePoint:                [2]uint16{15635, 16450},
		MaxDisplayLuminance:       1000,
		MinDisplayLuminance:       50,
		MaxContentLightLevel:      1000,
		MaxFrameAverageLightLevel: 400,
	}, true
}

// HostHDRMode reports whether the capture is HDR.
func (c *Connection) HostHDRMode() bool { return c.hdr.Load() }

// EstimatedRTT is unavailable without a network path.
func (c *Connection) EstimatedRTT() (rtt, variance time.Duration, ok bool) {
	return 0, 0, false
}

// QuitApp is a no-op for a capture.
func (c *Connection) QuitApp(context.Context) error {
	c.logger.Info("quit app requested")
	return nil
}

// Stop ends playback and waits for the reader to exit.
func (c *Connection) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Info returns the capture description once started.
func (c *Connection) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Stats returns delivery counters.
func (c *Connection) Stats() Stats {
	return Stats{
		Delivered: c.delivered.Load(),
		Skipped:   c.skipped.Load(),
		IDRs:      c.idrs.Load(),
		Passes:    c.passes.Load(),
	}
}
