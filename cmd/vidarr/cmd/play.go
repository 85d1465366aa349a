package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vidarr/internal/audio"
	"github.com/jmylchreest/vidarr/internal/config"
	"github.com/jmylchreest/vidarr/internal/httpclient"
	"github.com/jmylchreest/vidarr/internal/observability"
	"github.com/jmylchreest/vidarr/internal/platform"
	"github.com/jmylchreest/vidarr/internal/replay"
	"github.com/jmylchreest/vidarr/internal/session"
	"github.com/jmylchreest/vidarr/internal/version"
)

var (
	playRealtime bool
	playLoop     bool
	playHostName string
)

var playCmd = &cobra.Command{
	Use:   "play <capture.ts|url>",
	Short: "Stream a recorded MPEG-TS capture through a session",
	Long: `Run a full streaming session against a recorded MPEG-TS capture.

The capture stands in for the streaming host: its H.264 or HEVC track is
negotiated, decoded and rendered to an offscreen window, and an Opus track,
when present, is played through the configured audio backend.

Captures may be local files or http(s) URLs. Remote captures are fetched
with the retry and circuit breaker settings of the fetch section.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)
	playCmd.Flags().BoolVar(&playRealtime, "realtime", true, "pace frames by their timestamps")
	playCmd.Flags().BoolVar(&playLoop, "loop", false, "restart the capture when it ends")
	playCmd.Flags().StringVar(&playHostName, "host-name", "replay", "host name reported to the session")
}

func runPlay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.LoggerFromContext(ctx)
	path := args[0]

	prefs, err := preferencesFromConfig(cfg)
	if err != nil {
		return err
	}

	open, err := captureOpener(ctx, &cfg.Fetch, path, logger)
	if err != nil {
		return err
	}
	info, err := replay.Probe(ctx, open, logger)
	if err != nil {
		return fmt.Errorf("probing %s: %w", path, err)
	}
	logger.Info("capture probed",
		slog.String("path", path),
		slog.String("format", info.Format.String()),
		slog.Int("width", info.Width),
		slog.Int("height", info.Height),
		slog.Int("audio_channels", info.AudioChannels),
	)

	engine, err := systemEngine(cfg, logger)
	if err != nil {
		return err
	}

	conn := replay.New(open).
		WithLogger(observability.WithComponent(logger, "replay")).
		WithRealtime(playRealtime).
		WithLoop(playLoop)

	pcmSink, closePCM, err := openPCMOutput(cfg.Audio.PCMOutput)
	if err != nil {
		return err
	}
	defer closePCM()

	sess, err := session.New(replay.HostInfo(playHostName, info), prefs, session.Dependencies{
		Connection: conn,
		Platform:   platform.NewHeadless().WithLogger(observability.WithComponent(logger, "platform")),
		Listener:   newLogListener(logger),
		Engine:     engine,
		Audio:      audio.NewSelector(audio.DefaultFactories(pcmSink), cfg.Audio.Backend).WithLogger(observability.WithComponent(logger, "audio")),
		Decoders:   audio.OpusDecoder,
	})
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	sess.WithLogger(logger)

	runErr := sess.Run(ctx)

	st := sess.Status()
	stats := conn.Stats()
	logger.Info("playback finished",
		slog.String("session_id", st.ID),
		slog.String("state", st.State.String()),
		slog.Uint64("units_delivered", stats.Delivered),
		slog.Uint64("units_skipped", stats.Skipped),
		slog.Uint64("idr_requests", stats.IDRs),
		slog.Uint64("passes", stats.Passes),
		slog.Int64("renderer_swaps", st.Swaps),
	)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("streaming %s: %w", path, runErr)
	}
	return nil
}

// openPCMOutput opens the pcm backend's sink. A nil writer discards audio.
func openPCMOutput(path string) (io.Writer, func(), error) {
	switch path {
	case "":
		return nil, func() {}, nil
	case "-":
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening pcm output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// captureOpener resolves the capture source. Remote captures are fetched
// with the configured retry and circuit breaker settings.
func captureOpener(ctx context.Context, fc *config.FetchConfig, source string, logger *slog.Logger) (replay.Opener, error) {
	hc := httpclient.DefaultConfig()
	hc.Timeout = fc.Timeout
	hc.RetryAttempts = fc.RetryAttempts
	hc.RetryDelay = fc.RetryDelay
	hc.CircuitThreshold = fc.CircuitThreshold
	hc.MaxResponseSize = fc.MaxSize
	hc.UserAgent = version.UserAgent()
	hc.Logger = observability.WithComponent(logger, "fetch")
	return replay.SourceOpener(ctx, httpclient.New(hc), source)
}
