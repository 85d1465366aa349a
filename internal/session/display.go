package session

import (
	"log/slog"
	"math"

	"github.com/jmylchreest/vidarr/internal/platform"
)

// fallbackRefreshRate is assumed when a display does not report one.
const fallbackRefreshRate = 60

// OptimalDisplayMode picks the fullscreen mode for a stream of the given
// size and frame rate. It prefers the highest refresh rate that fps divides
// at the desktop resolution, then the mode covering the video whose aspect
// ratio is closest to it, and falls back to the desktop mode.
func OptimalDisplayMode(desktop platform.DisplayMode, modes []platform.DisplayMode, width, height, fps int) (platform.DisplayMode, bool) {
	if fps <= 0 {
		return desktop, false
	}

	best := desktop
	best.RefreshRate = 0
	for _, m := range modes {
		if m.Width == desktop.Width && m.Height == desktop.Height &&
			m.RefreshRate%fps == 0 && m.RefreshRate > best.RefreshRate {
			best = m
		}
	}
	if best.RefreshRate != 0 {
		return best, true
	}

	videoAspect := float64(width) / float64(height)
	bestAspect := 0.0
	for _, m := range modes {
		if m.Width < width || m.Height < height || m.RefreshRate%fps != 0 {
			continue
		}
		aspect := float64(m.Width) / float64(m.Height)
		if m.RefreshRate >= best.RefreshRate &&
			(bestAspect == 0 || math.Abs(videoAspect-aspect) <= math.Abs(videoAspect-bestAspect)) {
			best = m
			bestAspect = aspect
		}
	}
	if best.RefreshRate != 0 {
		return best, true
	}
	return desktop, false
}

// updateOptimalDisplayMode sets the fullscreen mode of the streaming window
// for its current display.
func (s *Session) updateOptimalDisplayMode() {
	w := s.window
	display := w.DisplayIndex()

	desktop, ok := s.platform.DesktopMode(display)
	if !ok {
		s.logger.Warn("desktop display mode unavailable", slog.Int("display", display))
		return
	}
	width, height, _, _ := s.activeVideo()
	if desktop.Width < width || desktop.Height < height {
		if desktop, ok = s.platform.NativeMode(display); !ok {
			return
		}
	}

	mode, found := OptimalDisplayMode(desktop, s.platform.DisplayModes(display), width, height, s.streamCfg.FPS)
	if !found {
		s.logger.Warn("no matching display mode found, using desktop mode",
			slog.String("mode", mode.String()))
	} else if w.Fullscreen() && s.prefs.WindowMode == WindowFullscreen {
		s.logger.Info("chosen best display mode", slog.String("mode", mode.String()))
	}
	s.platform.SetDisplayMode(w, mode)
}

// refreshRate returns the refresh rate the window presents at.
func (s *Session) refreshRate() int {
	var mode platform.DisplayMode
	if s.window.Fullscreen() && s.prefs.WindowMode == WindowFullscreen {
		mode = s.window.Mode()
	} else {
		current, ok := s.platform.CurrentMode(s.window.DisplayIndex())
		if !ok {
			s.logger.Error("current display mode unavailable, assuming 60 Hz")
			return fallbackRefreshRate
		}
		mode = current
	}
	if mode.RefreshRate == 0 {
		s.logger.Warn("refresh rate unknown, assuming 60 Hz")
		return fallbackRefreshRate
	}
	return mode.RefreshRate
}
