package session

import (
	"log/slog"

	"github.com/jmylchreest/vidarr/internal/audio"
	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/platform"
)

// callbacks binds the connection callbacks to s.
func (s *Session) callbacks() ConnectionCallbacks {
	connLogger := s.logger.With(slog.String("component", "connection"))
	return ConnectionCallbacks{
		StageStarting: func(stage string) {
			s.logger.Info("stage starting", slog.String("stage", stage))
			s.listener.StageStarting(stage)
		},
		StageFailed: func(stage string, errorCode int, ports PortTest) {
			s.portTest.Store(int64(ports.Result))
			s.logger.Error("stage failed",
				slog.String("stage", stage),
				slog.Int("error_code", errorCode),
				slog.String("ports", ports.Ports))
			s.listener.StageFailed(stage, errorCode, ports.Ports)
		},
		ConnectionStarted: func() {
			s.listener.ConnectionStarted()
		},
		ConnectionTerminated: s.connectionTerminated,
		LogMessage: func(msg string) {
			connLogger.Info(msg)
		},
		Rumble: func(controller, lowFreq, highFreq uint16) {
			connLogger.Debug("rumble ignored",
				slog.Int("controller", int(controller)),
				slog.Int("low", int(lowFreq)),
				slog.Int("high", int(highFreq)))
		},
		SetHDRMode:   s.setHDRMode,
		StatusUpdate: s.statusUpdate,
		VideoSetup:   s.videoSetup,
		AudioInit: func(cfg audio.Config) error {
			return s.audio.Init(cfg)
		},
		AudioSample: func(data []byte) {
			s.audio.DecodeAndPlay(data)
		},
		AudioCleanup: func() {
			s.audio.Close()
		},
	}
}

func (s *Session) connectionTerminated(errorCode int, ports PortTest) {
	s.portTest.Store(int64(ports.Result))
	if msg := TerminationMessage(errorCode, ports.Ports); msg != "" {
		s.unexpected.Store(true)
		s.listener.DisplayLaunchError(msg)
	}
	s.logger.Error("connection terminated", slog.Int("error_code", errorCode))
	s.platform.Push(platform.Event{Kind: platform.EventQuit})
}

func (s *Session) statusUpdate(status ConnectionStatus) {
	s.logger.Info("connection status update", slog.Int("status", int(status)))
	if !s.prefs.ConnectionWarnings {
		return
	}
	switch status {
	case ConnectionStatusPoor:
		msg := "Poor connection to PC"
		if s.streamCfg.BitrateKbps > 5000 {
			msg = "Slow connection to PC, reduce your bitrate"
		}
		s.poorLink.Store(true)
		s.logger.Warn(msg)
	case ConnectionStatusOkay:
		s.poorLink.Store(false)
	}
}

// videoSetup records the stream announced by the host. The renderer is
// created later on the event loop.
func (s *Session) videoSetup(format codec.Format, width, height, fps int) {
	s.videoMu.Lock()
	s.video = &videoSetup{format: format, width: width, height: height, fps: fps}
	s.videoMu.Unlock()

	s.logger.Info("video stream announced",
		slog.String("format", format.String()),
		slog.Int("width", width),
		slog.Int("height", height),
		slog.Int("fps", fps))
}
