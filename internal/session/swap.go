package session

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/vidarr/internal/decoder"
	"github.com/jmylchreest/vidarr/internal/observability"
	"github.com/jmylchreest/vidarr/internal/platform"
	"github.com/jmylchreest/vidarr/internal/render"
)

// vsyncHeadroom is how far the refresh rate may fall below the stream frame
// rate before vsync is disabled.
const vsyncHeadroom = 5

const msgDecoderInit = "Unable to initialize video decoder. Please check your streaming settings and try again."

// handleEvent processes one platform event and reports whether the session
// should end.
func (s *Session) handleEvent(ctx context.Context, ev platform.Event) (bool, error) {
	switch ev.Kind {
	case platform.EventQuit:
		s.logger.Info("quit event received")
		return true, nil

	case platform.EventFlushBarrier:
		s.flushing.Add(-1)
		return false, nil

	case platform.EventWindowFocusLost:
		if s.prefs.MuteOnFocusLoss {
			s.audio.SetMuted(true)
		}
		return false, nil

	case platform.EventWindowFocusGained:
		if s.prefs.MuteOnFocusLoss {
			s.audio.SetMuted(false)
		}
		return false, nil

	case platform.EventToggleFullscreen:
		s.fullscreen = !s.window.Fullscreen()
		s.platform.SetFullscreen(s.window, s.fullscreen)
		width, height := s.window.Size()
		return false, s.handleWindowEvent(ctx, platform.Event{
			Kind:    platform.EventWindowSizeChanged,
			Window:  s.window.ID(),
			Width:   width,
			Height:  height,
			Display: s.window.DisplayIndex(),
		})

	case platform.EventRenderDeviceReset, platform.EventRenderTargetsReset:
		s.logger.Warn("recreating renderer by internal request",
			slog.String("event", ev.Kind.String()))
		return false, s.swap(ctx)
	}

	if ev.Kind.IsWindowEvent() {
		return false, s.handleWindowEvent(ctx, ev)
	}
	return false, nil
}

func (s *Session) hasRenderer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inst != nil
}

// handleWindowEvent recreates the renderer for size and display changes
// the renderer cannot absorb, and creates the first renderer when the
// window is shown.
func (s *Session) handleWindowEvent(ctx context.Context, ev platform.Event) error {
	hasRenderer := s.hasRenderer()
	switch ev.Kind {
	case platform.EventWindowSizeChanged, platform.EventWindowDisplayChanged:
	case platform.EventWindowShown:
		if hasRenderer {
			return nil
		}
	default:
		return nil
	}

	if s.flushing.Load() > 0 {
		s.logger.Info("dropping window event during flush",
			slog.String("event", ev.Kind.String()),
			slog.Int("width", ev.Width),
			slog.Int("height", ev.Height))
		return nil
	}

	if hasRenderer {
		change := render.WindowChange{}
		forceRecreation := false

		if ev.Kind == platform.EventWindowSizeChanged {
			change.Flags |= render.WindowChangeSize
			change.Width = ev.Width
			change.Height = ev.Height
		}

		newDisplay := s.window.DisplayIndex()
		if newDisplay != s.display {
			change.Flags |= render.WindowChangeDisplay
			change.DisplayIndex = newDisplay

			oldMode, okOld := s.platform.CurrentMode(s.display)
			newMode, okNew := s.platform.CurrentMode(newDisplay)
			if !okOld || !okNew || oldMode.RefreshRate != newMode.RefreshRate {
				s.logger.Info("forcing renderer recreation due to refresh rate change between displays")
				forceRecreation = true
			}
		}

		if !forceRecreation && s.notifyWindowChanged(change) {
			if newDisplay != s.display {
				s.display = newDisplay
				s.updateOptimalDisplayMode()
			}
			return nil
		}
	}

	s.logger.Info("recreating renderer for window event",
		slog.String("event", ev.Kind.String()),
		slog.Int("width", ev.Width),
		slog.Int("height", ev.Height))
	return s.swap(ctx)
}

func (s *Session) notifyWindowChanged(change render.WindowChange) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inst != nil && s.inst.NotifyWindowChanged(change)
}

// flushWindowEvents hides window events queued before this call. They are
// dropped until the barrier posted here is received.
func (s *Session) flushWindowEvents() {
	s.flushing.Add(1)
	if !s.platform.Push(platform.Event{Kind: platform.EventFlushBarrier}) {
		s.flushing.Add(-1)
	}
}

// swap replaces the live renderer. Submission is rejected while it runs.
// Failing to create a new renderer is fatal to the session.
func (s *Session) swap(ctx context.Context) error {
	logger := observability.WithOperation(s.logger, "renderer swap")
	s.renderer.Store(int32(RendererSwapping))
	s.mu.Lock()
	defer s.mu.Unlock()

	s.destroyRendererLocked()
	s.flushWindowEvents()

	if display := s.window.DisplayIndex(); display != s.display {
		s.display = display
		s.updateOptimalDisplayMode()
	}
	s.platform.FlushEvents(platform.EventRenderDeviceReset, platform.EventRenderTargetsReset)

	vsync := s.prefs.EnableVsync
	if hz := s.refreshRate(); hz+vsyncHeadroom < s.streamCfg.FPS {
		logger.Warn("disabling vsync because refresh rate limit exceeded",
			slog.Int("refresh_rate", hz),
			slog.Int("fps", s.streamCfg.FPS))
		vsync = false
	}

	width, height, fps, format := s.activeVideo()
	p := s.params(s.window, s.prefs.DecoderSelection, format, width, height, fps)
	p.EnableVsync = vsync
	p.EnableFramePacing = vsync && s.prefs.FramePacing

	inst, err := s.engine.Select(ctx, decoder.Request{Params: p, Failures: s.failures})
	if err != nil {
		if ctx.Err() != nil {
			s.renderer.Store(int32(RendererNone))
			return nil
		}
		s.renderer.Store(int32(RendererFatal))
		logger.Error("failed to recreate decoder after reset", slog.String("error", err.Error()))
		s.listener.DisplayLaunchError(msgDecoderInit)
		return &LaunchError{Message: msgDecoderInit, Err: err}
	}

	if inst.DecoderCapabilities().Has(render.CapPullRenderer) {
		if err := inst.Start(s.conn, s.requestReset); err != nil {
			inst.Close()
			s.renderer.Store(int32(RendererFatal))
			s.listener.DisplayLaunchError(msgDecoderInit)
			return &LaunchError{Message: msgDecoderInit, Err: err}
		}
	}
	s.inst = inst

	s.conn.RequestIDR()
	inst.SetHDRMode(s.conn.HostHDRMode())

	n := s.swaps.Add(1)
	s.renderer.Store(int32(RendererLive))
	logger.Info("renderer live",
		slog.String("decoder", inst.Implementation()),
		slog.String("frontend", inst.Frontend().Type().String()),
		slog.Bool("hardware", inst.IsHardwareAccelerated()),
		slog.Bool("vsync", vsync),
		slog.Int64("generation", n))
	return nil
}

func (s *Session) destroyRendererLocked() {
	if s.inst == nil {
		return
	}
	s.inst.Close()
	s.inst = nil
}

// requestReset is called by the decode loop after repeated decode
// failures. The decode loop holds its own lock, so the reset is posted.
func (s *Session) requestReset() {
	s.platform.Push(platform.Event{Kind: platform.EventRenderDeviceReset})
}

// SubmitDecodeUnit hands a decode unit to the live renderer in push mode.
// It never waits: while the renderer is being replaced the unit is
// accepted and dropped, and the replacement requests a key frame.
func (s *Session) SubmitDecodeUnit(du *decoder.DecodeUnit) int {
	if !s.mu.TryLock() {
		return decoder.StatusOK
	}
	defer s.mu.Unlock()
	if s.inst == nil {
		return decoder.StatusOK
	}
	return s.inst.SubmitDecodeUnit(du)
}

// setHDRMode applies a host HDR change. It is dropped during a swap, which
// reapplies the host mode when it completes.
func (s *Session) setHDRMode(enabled bool) {
	if !s.mu.TryLock() {
		return
	}
	defer s.mu.Unlock()
	if s.inst != nil {
		s.inst.SetHDRMode(enabled)
	}
}
