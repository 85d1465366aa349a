package cmd

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/jmylchreest/vidarr/internal/audio"
	"github.com/jmylchreest/vidarr/internal/backend"
	"github.com/jmylchreest/vidarr/internal/config"
	"github.com/jmylchreest/vidarr/internal/decoder"
	"github.com/jmylchreest/vidarr/internal/observability"
	"github.com/jmylchreest/vidarr/internal/render"
	"github.com/jmylchreest/vidarr/internal/session"
)

// preferencesFromConfig converts the loaded configuration into session
// preferences. An unset bitrate is derived from the stream dimensions.
func preferencesFromConfig(c *config.Config) (session.Preferences, error) {
	prefs := session.DefaultPreferences()

	sel, ok := render.ParseSelection(c.Video.DecoderSelection)
	if !ok {
		return prefs, fmt.Errorf("unknown decoder selection %q", c.Video.DecoderSelection)
	}
	codecPref, ok := session.ParseCodecPreference(c.Video.Codec)
	if !ok {
		return prefs, fmt.Errorf("unknown codec %q", c.Video.Codec)
	}
	windowMode, ok := session.ParseWindowMode(c.Video.WindowMode)
	if !ok {
		return prefs, fmt.Errorf("unknown window mode %q", c.Video.WindowMode)
	}
	audioCfg, ok := audio.ParseConfiguration(c.Stream.AudioConfig)
	if !ok {
		return prefs, fmt.Errorf("unknown audio configuration %q", c.Stream.AudioConfig)
	}

	prefs.Width = c.Stream.Width
	prefs.Height = c.Stream.Height
	prefs.FPS = c.Stream.FPS
	prefs.BitrateKbps = c.Stream.BitrateOrDefault(
		session.DefaultBitrate(c.Stream.Width, c.Stream.Height, c.Stream.FPS, c.Video.YUV444))
	prefs.PacketSize = c.Stream.PacketSize
	prefs.AudioConfig = audioCfg
	prefs.QuitAppAfter = c.Stream.QuitAppAfter
	prefs.ConnectionWarnings = c.Stream.ConnectionWarnings
	prefs.WarningDuration = c.Stream.WarningDuration
	prefs.ConnectDelay = c.Stream.ConnectDelay

	prefs.DecoderSelection = sel
	prefs.Codec = codecPref
	prefs.EnableHDR = c.Video.HDR
	prefs.EnableYUV444 = c.Video.YUV444
	prefs.EnableVsync = c.Video.Vsync
	prefs.FramePacing = c.Video.FramePacing
	prefs.WindowMode = windowMode
	prefs.Colorspace = c.Video.Colorspace
	prefs.ColorRange = c.Video.ColorRange

	prefs.MuteOnFocusLoss = c.Audio.MuteOnFocusLoss
	prefs.AudioReinitInterval = c.Audio.ReinitInterval

	if err := prefs.Validate(); err != nil {
		return prefs, err
	}
	return prefs, nil
}

// newEngine builds the decoder engine for this machine, applying the
// configured backend order, decoder hints and capability override.
func newEngine(c *config.Config, goos string, host *backend.Host, logger *slog.Logger) (*decoder.Engine, error) {
	order, err := backend.OrderFor(goos).WithOverrides(backend.Overrides{
		Pass0:    c.Backends.Order.Pass0,
		Pass1:    c.Backends.Order.Pass1,
		Software: c.Backends.Order.Software,
	})
	if err != nil {
		return nil, fmt.Errorf("backends.order: %w", err)
	}

	factory := backend.NewFactory(host, order).
		WithLogger(observability.WithComponent(logger, "backend"))
	engine := decoder.NewEngine(decoder.DefaultRegistry(host), factory).
		WithLogger(observability.WithComponent(logger, "decoder")).
		WithHints(c.Video.Hints())
	if c.Video.DecoderCaps != 0 {
		engine = engine.WithCapabilityOverride(render.Capability(c.Video.DecoderCaps))
	}
	return engine, nil
}

// systemEngine builds the engine against the running system.
func systemEngine(c *config.Config, logger *slog.Logger) (*decoder.Engine, error) {
	return newEngine(c, runtime.GOOS, backend.SystemHost(), logger)
}

// logListener reports session notifications through the logger.
type logListener struct {
	logger *slog.Logger
}

func newLogListener(logger *slog.Logger) *logListener {
	return &logListener{logger: observability.WithComponent(logger, "listener")}
}

func (l *logListener) StageStarting(stage string) {
	l.logger.Info("starting stage", slog.String("stage", stage))
}

func (l *logListener) StageFailed(stage string, errorCode int, failingPorts string) {
	l.logger.Error("stage failed",
		slog.String("stage", stage),
		slog.Int("error_code", errorCode),
		slog.String("failing_ports", failingPorts),
	)
}

func (l *logListener) DisplayLaunchWarning(text string) {
	l.logger.Warn(text)
}

func (l *logListener) DisplayLaunchError(text string) {
	l.logger.Error(text)
}

func (l *logListener) ConnectionStarted() {
	l.logger.Info("connection started")
}

func (l *logListener) QuitStarting() {
	l.logger.Info("quitting host application")
}

func (l *logListener) SessionFinished(portTestResult int) {
	l.logger.Info("session finished", slog.Int("port_test_result", portTestResult))
}
