package decoder

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/render"
)

// FailedDecodesResetThreshold is the number of consecutive decode failures
// that triggers a decoder reset.
const FailedDecodesResetThreshold = 20

// DefaultPollInterval is the wait between receive attempts while the
// decoder has no output and no input is queued.
const DefaultPollInterval = 2 * time.Millisecond

// rtpClockRate is the video RTP timestamp clock.
const rtpClockRate = 90000

// Decode unit submission results.
const (
	StatusOK      = 0
	StatusNeedIDR = -1
)

var (
	errNotRunnable    = errors.New("test-only decoder cannot run")
	errAlreadyRunning = errors.New("decoder already running")
)

// FrameType classifies a decode unit.
type FrameType int

const (
	FrameTypeP FrameType = iota
	FrameTypeIDR
)

// BufferType classifies a decode unit buffer.
type BufferType int

const (
	BufferPicData BufferType = iota
	BufferSPS
	BufferPPS
	BufferVPS
)

// Buffer is one Annex B chunk of a decode unit.
type Buffer struct {
	Type BufferType
	Data []byte
}

// DecodeUnit is one reassembled video frame from the host.
type DecodeUnit struct {
	FrameNumber int
	FrameType   FrameType
	Buffers     []Buffer
	// RTPTimestamp uses the 90kHz video clock.
	RTPTimestamp uint32
	// HostProcessingLatency is in units of 100µs. Zero if unreported.
	HostProcessingLatency int
	ReceiveTime           time.Time
	EnqueueTime           time.Time
}

// FullLength returns the size of the joined frame.
func (du *DecodeUnit) FullLength() int {
	n := 0
	for _, b := range du.Buffers {
		n += len(b.Data)
	}
	return n
}

// Bytes joins the buffers into one access unit.
func (du *DecodeUnit) Bytes() []byte {
	out := make([]byte, 0, du.FullLength())
	for _, b := range du.Buffers {
		out = append(out, b.Data...)
	}
	return out
}

// Source supplies decode units to a running instance.
type Source interface {
	// WaitForNextDecodeUnit blocks until a unit is queued. It returns false
	// when the source is drained or ctx is done.
	WaitForNextDecodeUnit(ctx context.Context) (*DecodeUnit, bool)
	PollDecodeUnit() (*DecodeUnit, bool)
	CompleteDecodeUnit(du *DecodeUnit, status int)
	RequestIDR()
	// HDRMetadata returns the host's current HDR metadata, if any.
	HDRMetadata() (render.HDRMetadata, bool)
}

// Pacer hands decoded frames to the frontend.
type Pacer interface {
	SubmitFrame(frame *render.Frame)
	Close()
}

// PacerConfig configures a pacer for a live instance.
type PacerConfig struct {
	Frontend  render.Backend
	Window    render.Window
	FrameRate int
	Pacing    bool
}

// PacerFactory creates the pacer of a live instance.
type PacerFactory func(cfg PacerConfig) (Pacer, error)

// ImmediatePacer renders each frame as soon as it is decoded.
func ImmediatePacer(cfg PacerConfig) (Pacer, error) {
	return immediatePacer{frontend: cfg.Frontend}, nil
}

type immediatePacer struct {
	frontend render.Backend
}

func (p immediatePacer) SubmitFrame(frame *render.Frame) { p.frontend.RenderFrame(frame) }
func (p immediatePacer) Close()                          {}

// Start runs the decode loop, pulling units from src. onReset is called once
// when consecutive decode failures require a new decoder.
func (inst *Instance) Start(src Source, onReset func()) error {
	if inst.testOnly {
		return errNotRunnable
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.cancel != nil {
		return errAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	inst.src = src
	inst.onReset = onReset
	inst.cancel = cancel
	inst.done = make(chan struct{})
	go inst.run(ctx)
	return nil
}

// Stop ends the decode loop and waits for it to exit.
func (inst *Instance) Stop() {
	inst.mu.Lock()
	cancel, done := inst.cancel, inst.done
	inst.mu.Unlock()
	if cancel == nil {
		return
	}

	inst.quit.Store(true)
	cancel()
	<-done
}

func (inst *Instance) stopping(ctx context.Context) bool {
	return ctx.Err() != nil || inst.quit.Load()
}

func (inst *Instance) run(ctx context.Context) {
	defer close(inst.done)

	for !inst.stopping(ctx) {
		if !inst.hasPendingFrames() {
			du, ok := inst.src.WaitForNextDecodeUnit(ctx)
			if !ok {
				continue
			}
			inst.src.CompleteDecodeUnit(du, inst.SubmitDecodeUnit(du))
		}
		inst.drain(ctx)
	}
}

func (inst *Instance) hasPendingFrames() bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.framesIn != inst.framesOut
}

// drain receives one frame, feeding queued units to the decoder while it
// has no output.
func (inst *Instance) drain(ctx context.Context) {
	timer := time.NewTimer(DefaultPollInterval)
	defer timer.Stop()

	for !inst.stopping(ctx) {
		frame, err := inst.receive()
		switch {
		case err == nil:
			inst.pacer.SubmitFrame(frame)
			return
		case errors.Is(err, ErrAgain):
			if du, ok := inst.src.PollDecodeUnit(); ok {
				inst.src.CompleteDecodeUnit(du, inst.SubmitDecodeUnit(du))
				continue
			}
			timer.Reset(DefaultPollInterval)
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		default:
			inst.logger.Warn("receive frame failed", slog.String("error", err.Error()))
			inst.mu.Lock()
			inst.recordFailureLocked()
			inst.mu.Unlock()
			inst.src.RequestIDR()
			return
		}
	}
}

// receive pulls one frame and does the per-frame bookkeeping.
func (inst *Instance) receive() (*render.Frame, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.ctx == nil {
		return nil, errClosed
	}

	frame, err := inst.ctx.Receive()
	if err != nil {
		return nil, err
	}
	inst.framesOut++

	if frame.HDR == nil && inst.src != nil {
		if md, ok := inst.src.HDRMetadata(); ok {
			frame.HDR = &md
		}
	}
	inst.failedDecodes = 0

	now := inst.now()
	if len(inst.pendingInfo) > 0 {
		info := inst.pendingInfo[0]
		inst.pendingInfo = inst.pendingInfo[1:]
		inst.stats.active.TotalDecodeTime += now.Sub(info.EnqueueTime)
		frame.FrameNumber = info.FrameNumber
		frame.ReceiveTime = info.ReceiveTime
		frame.PTS = time.Duration(info.RTPTimestamp) * time.Second / rtpClockRate
	}
	frame.DecodeEnd = now
	inst.stats.active.DecodedFrames++
	return frame, nil
}

// SubmitDecodeUnit sends du to the decoder and returns StatusOK, or
// StatusNeedIDR when the host must send a key frame.
func (inst *Instance) SubmitDecodeUnit(du *DecodeUnit) int {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.submitLocked(du)
}

// TrySubmitDecodeUnit submits du unless another goroutine holds the decoder,
// in which case it reports false without blocking.
func (inst *Instance) TrySubmitDecodeUnit(du *DecodeUnit) (int, bool) {
	if !inst.mu.TryLock() {
		return 0, false
	}
	defer inst.mu.Unlock()
	return inst.submitLocked(du), true
}

func (inst *Instance) submitLocked(du *DecodeUnit) int {
	if inst.ctx == nil {
		return StatusNeedIDR
	}
	// Decoders can't start on a P-frame.
	if inst.framesIn == 0 && du.FrameType != FrameTypeIDR {
		return StatusNeedIDR
	}

	now := inst.now()
	if inst.lastFrameNumber == 0 {
		inst.stats.active.Start = now
	} else if gap := du.FrameNumber - (inst.lastFrameNumber + 1); gap > 0 {
		inst.stats.active.NetworkDroppedFrames += gap
		inst.stats.active.TotalFrames += gap
	}
	inst.lastFrameNumber = du.FrameNumber

	if inst.stats.flip(now) {
		inst.logger.Debug("video stats", slog.Any("stats", inst.stats.last))
	}

	inst.stats.active.recordHostLatency(du.HostProcessingLatency)
	inst.stats.active.ReceivedFrames++
	inst.stats.active.TotalFrames++
	if !du.ReceiveTime.IsZero() && !du.EnqueueTime.IsZero() {
		inst.stats.active.TotalReassemblyTime += du.EnqueueTime.Sub(du.ReceiveTime)
	}

	if err := inst.ctx.Send(Packet{Data: inst.packetData(du), Key: du.FrameType == FrameTypeIDR}); err != nil {
		inst.logger.Warn("send decode unit failed",
			slog.Int("frame", du.FrameNumber),
			slog.String("error", err.Error()))
		inst.recordFailureLocked()
		return StatusNeedIDR
	}

	info := *du
	info.Buffers = nil
	inst.pendingInfo = append(inst.pendingInfo, info)
	inst.framesIn++
	return StatusOK
}

// packetData joins the decode unit's buffers, applying the H.264 SPS fixup
// when the backend needs it.
func (inst *Instance) packetData(du *DecodeUnit) []byte {
	if !inst.needsSPSFixup {
		return du.Bytes()
	}
	out := make([]byte, 0, du.FullLength()+8)
	for _, b := range du.Buffers {
		if b.Type == BufferSPS {
			fixed, err := codec.FixupH264SPS(b.Data)
			if err == nil {
				out = append(out, fixed...)
				continue
			}
			inst.logger.Warn("SPS fixup failed, sending SPS unchanged",
				slog.Int("frame", du.FrameNumber),
				slog.String("error", err.Error()))
		}
		out = append(out, b.Data...)
	}
	return out
}

// recordFailureLocked counts a decode failure and requests a reset once the
// threshold is reached. onReset must not call back into the instance.
func (inst *Instance) recordFailureLocked() {
	inst.failedDecodes++
	if inst.failedDecodes != FailedDecodesResetThreshold {
		return
	}
	inst.logger.Error("resetting decoder after consecutive failures",
		slog.Int("failures", inst.failedDecodes))
	inst.quit.Store(true)
	if inst.onReset != nil {
		inst.onReset()
	}
}
