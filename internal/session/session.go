// Package session drives one streaming session: codec negotiation, launch
// validation, the connection handshake, and the live renderer, which is
// replaced in place when the window or render device changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/vidarr/internal/audio"
	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/decoder"
	"github.com/jmylchreest/vidarr/internal/observability"
	"github.com/jmylchreest/vidarr/internal/platform"
	"github.com/jmylchreest/vidarr/internal/render"
)

// ErrSessionActive is returned when Run is called on a session that has
// already run.
var ErrSessionActive = errors.New("session already active")

// StatsInterval is how often decode statistics are logged while streaming.
const StatsInterval = 10 * time.Second

// State is the session lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateNegotiating
	StateConnecting
	StateStreaming
	StateTerminating
	StateTerminated
)

var stateNames = [...]string{
	StateUninitialized: "uninitialized",
	StateNegotiating:   "negotiating",
	StateConnecting:    "connecting",
	StateStreaming:     "streaming",
	StateTerminating:   "terminating",
	StateTerminated:    "terminated",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// RendererState is the state of the live renderer while streaming.
type RendererState int32

const (
	RendererNone RendererState = iota
	RendererLive
	RendererSwapping
	RendererFatal
)

func (r RendererState) String() string {
	switch r {
	case RendererLive:
		return "live"
	case RendererSwapping:
		return "swapping"
	case RendererFatal:
		return "fatal"
	default:
		return "none"
	}
}

// LaunchError is a condition that prevents the session from streaming.
// Message is shown to the user.
type LaunchError struct {
	Message string
	Err     error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Dependencies are the collaborators of a session.
type Dependencies struct {
	Connection Connection
	Platform   Platform
	Listener   Listener
	Engine     *decoder.Engine
	Audio      *audio.Selector
	Decoders   audio.DecoderFactory
	// System defaults to HostSystem.
	System System
}

// videoSetup is the stream announced by the connection.
type videoSetup struct {
	format codec.Format
	width  int
	height int
	fps    int
}

// Session is one streaming session.
type Session struct {
	id       uuid.UUID
	host     HostInfo
	prefs    Preferences
	conn     Connection
	platform Platform
	listener Listener
	engine   *decoder.Engine
	system   System
	audio    *audio.Pipeline
	selector *audio.Selector
	failures *decoder.FailureRegistry
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	started  atomic.Bool
	state    atomic.Int32
	renderer atomic.Int32

	formats    *codec.PriorityList
	streamCfg  StreamConfig
	warnings   []string
	fullscreen bool

	// mu guards the live instance. Submission paths only TryLock it.
	mu   sync.Mutex
	inst *decoder.Instance

	window   platform.Window
	display  int
	flushing atomic.Int32

	videoMu sync.Mutex
	video   *videoSetup

	unexpected atomic.Bool
	portTest   atomic.Int64
	poorLink   atomic.Bool
	swaps      atomic.Int64
}

// New creates a session streaming from host.
func New(host HostInfo, prefs Preferences, deps Dependencies) (*Session, error) {
	switch {
	case deps.Connection == nil:
		return nil, errors.New("session requires a connection")
	case deps.Platform == nil:
		return nil, errors.New("session requires a platform")
	case deps.Engine == nil:
		return nil, errors.New("session requires a decoder engine")
	case deps.Audio == nil:
		return nil, errors.New("session requires an audio selector")
	}
	if deps.Listener == nil {
		deps.Listener = NopListener{}
	}

	id := uuid.New()
	logger := observability.WithSession(slog.Default(), id.String())
	if deps.System == nil {
		deps.System = HostSystem(logger)
	}

	s := &Session{
		id:         id,
		host:       host,
		prefs:      prefs,
		conn:       deps.Connection,
		platform:   deps.Platform,
		listener:   deps.Listener,
		engine:     deps.Engine,
		system:     deps.System,
		audio:      audio.NewPipeline(deps.Audio, deps.Decoders).WithLogger(logger),
		selector:   deps.Audio,
		failures:   decoder.NewFailureRegistry(),
		logger:     logger,
		sleep:      sleepContext,
		fullscreen: prefs.WindowMode != WindowWindowed,
	}
	if prefs.AudioReinitInterval > 0 {
		s.audio.WithReinitInterval(prefs.AudioReinitInterval)
	}
	// Failures before streaming starts are unexpected.
	s.unexpected.Store(true)
	return s, nil
}

// WithLogger sets the logger. The session id is attached to it.
func (s *Session) WithLogger(logger *slog.Logger) *Session {
	s.logger = observability.WithSession(logger, s.id.String())
	s.audio.WithLogger(s.logger)
	return s
}

// WithSleep replaces the context-aware sleep used for the launch warning
// and connection delays.
func (s *Session) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Session {
	s.sleep = sleep
	return s
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// State returns the lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// RendererState returns the live renderer state.
func (s *Session) RendererState() RendererState { return RendererState(s.renderer.Load()) }

// StreamConfig returns the negotiated stream configuration.
func (s *Session) StreamConfig() StreamConfig { return s.streamCfg }

// Formats returns a copy of the negotiated priority list.
func (s *Session) Formats() *codec.PriorityList {
	if s.formats == nil {
		return codec.NewPriorityList()
	}
	return s.formats.Clone()
}

// Warnings returns the launch warnings.
func (s *Session) Warnings() []string { return append([]string(nil), s.warnings...) }

// Failures returns the session's failure registry.
func (s *Session) Failures() *decoder.FailureRegistry { return s.failures }

func (s *Session) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st {
		s.logger.Debug("session state changed",
			slog.String("from", old.String()),
			slog.String("to", st.String()))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run negotiates, connects and streams until the user quits, the
// connection terminates, ctx is cancelled, or the renderer cannot be
// recreated. Cleanup is complete when Run returns.
func (s *Session) Run(ctx context.Context) (err error) {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSessionActive
	}
	defer observability.Timed(ctx, s.logger, "session", &err)()

	if err := s.initialize(ctx); err != nil {
		s.setState(StateTerminated)
		s.listener.SessionFinished(0)
		return err
	}

	s.conn.SetCallbacks(s.callbacks())
	if err := s.connect(ctx); err != nil {
		s.cleanup(ctx)
		return err
	}

	err = s.stream(ctx)
	s.cleanup(ctx)
	return err
}

// connect waits out the connection delay while classifying the route to
// the host, then starts the connection.
func (s *Session) connect(ctx context.Context) error {
	s.setState(StateConnecting)

	reach := ReachabilityUnknown
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.sleep(gctx, s.prefs.ConnectDelay)
	})
	if s.prefs.PacketSize == 0 && s.host.Address != "" {
		g.Go(func() error {
			reach = s.system.Reachability(gctx, s.host.Address)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	s.streamCfg.Distance, s.streamCfg.PacketSize = NetworkPolicy(s.prefs.PacketSize, reach)
	if s.prefs.PacketSize != 0 {
		s.logger.Warn("using custom packet size", slog.Int("packet_size", s.prefs.PacketSize))
	}

	// A YUV 4:4:4 request the host cannot serve falls back to the 4:2:0
	// default bitrate unless the user changed it.
	if s.prefs.EnableYUV444 && !s.streamCfg.VideoFormat.IsYUV444() &&
		s.streamCfg.BitrateKbps == DefaultBitrate(s.streamCfg.Width, s.streamCfg.Height, s.streamCfg.FPS, true) {
		s.streamCfg.BitrateKbps = DefaultBitrate(s.streamCfg.Width, s.streamCfg.Height, s.streamCfg.FPS, false)
	}

	s.logger.Info("starting connection",
		slog.String("host", s.host.Name),
		slog.String("format", s.streamCfg.VideoFormat.String()),
		slog.String("distance", s.streamCfg.Distance.String()),
		slog.Int("packet_size", s.streamCfg.PacketSize),
		slog.Int("bitrate_kbps", s.streamCfg.BitrateKbps))

	if err := s.conn.Start(ctx, s.streamCfg); err != nil {
		return fmt.Errorf("start connection: %w", err)
	}
	return nil
}

// stream creates the streaming window and runs the event loop. The first
// renderer is created when the window is shown.
func (s *Session) stream(ctx context.Context) error {
	w, err := s.platform.CreateWindow(platform.WindowOptions{
		Title:      s.host.Name + " - vidarr",
		Width:      s.streamCfg.Width,
		Height:     s.streamCfg.Height,
		Fullscreen: s.fullscreen,
	})
	if err != nil {
		return fmt.Errorf("create window: %w", err)
	}
	s.window = w
	s.display = w.DisplayIndex()
	defer s.platform.DestroyWindow(w)

	s.updateOptimalDisplayMode()
	if s.fullscreen {
		s.platform.SetFullscreen(w, true)
	}

	// Quit events are expected from here on unless the connection
	// terminates.
	s.unexpected.Store(false)
	s.setState(StateStreaming)

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.eventLoop(gctx)
	})
	g.Go(func() error {
		s.reportStats(gctx)
		return nil
	})
	err = g.Wait()

	s.setState(StateTerminating)
	s.mu.Lock()
	s.destroyRendererLocked()
	s.mu.Unlock()
	s.renderer.Store(int32(RendererNone))
	return err
}

func (s *Session) eventLoop(ctx context.Context) error {
	events := s.platform.Events()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session cancelled")
			return nil
		case ev := <-events:
			quit, err := s.handleEvent(ctx, ev)
			if err != nil || quit {
				return err
			}
		}
	}
}

func (s *Session) reportStats(ctx context.Context) {
	t := time.NewTicker(StatsInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !s.mu.TryLock() {
				continue
			}
			inst := s.inst
			s.mu.Unlock()
			if inst == nil {
				continue
			}
			last, _ := inst.Stats()
			s.logger.Debug("decode stats",
				slog.String("decoder", inst.Implementation()),
				slog.Any("stats", last))
		}
	}
}

// cleanup stops the connection and quits the host application when the
// session ended gracefully and the user asked for it.
func (s *Session) cleanup(ctx context.Context) {
	s.setState(StateTerminating)
	shouldQuit := !s.unexpected.Load() && s.prefs.QuitAppAfter
	port := int(s.portTest.Load())

	if shouldQuit {
		s.listener.QuitStarting()
	} else {
		s.listener.SessionFinished(port)
	}

	s.conn.Stop()
	s.audio.Close()

	if shouldQuit {
		if err := s.conn.QuitApp(context.WithoutCancel(ctx)); err != nil {
			observability.WithError(s.logger, err).Warn("quit app failed")
		}
		s.listener.SessionFinished(port)
	}
	s.setState(StateTerminated)
}

// Status is a snapshot of a session.
type Status struct {
	ID                  string
	State               State
	Renderer            RendererState
	Decoder             string
	HardwareAccelerated bool
	Format              codec.Format
	Swaps               int64
	Stats               decoder.Stats
	AudioBackend        string
	PoorConnection      bool
}

// Status returns a snapshot. Renderer fields are empty while a swap is in
// progress.
func (s *Session) Status() Status {
	st := Status{
		ID:             s.id.String(),
		State:          s.State(),
		Renderer:       s.RendererState(),
		Swaps:          s.swaps.Load(),
		AudioBackend:   s.audio.BackendName(),
		PoorConnection: s.poorLink.Load(),
	}
	if s.mu.TryLock() {
		if s.inst != nil {
			st.Decoder = s.inst.Implementation()
			st.HardwareAccelerated = s.inst.IsHardwareAccelerated()
			st.Format = s.inst.Format()
			_, st.Stats = s.inst.Stats()
		}
		s.mu.Unlock()
	}
	return st
}

// activeVideo returns the stream announced by the connection, or the
// negotiated stream before the announcement.
func (s *Session) activeVideo() (width, height, fps int, format codec.Format) {
	s.videoMu.Lock()
	defer s.videoMu.Unlock()
	if s.video != nil {
		return s.video.width, s.video.height, s.video.fps, s.video.format
	}
	return s.streamCfg.Width, s.streamCfg.Height, s.streamCfg.FPS, s.streamCfg.VideoFormat
}

func (s *Session) params(w render.Window, sel render.Selection, format codec.Format, width, height, fps int) render.Params {
	return render.Params{
		Window:    w,
		Selection: sel,
		Format:    format,
		Width:     width,
		Height:    height,
		FrameRate: fps,
	}
}
