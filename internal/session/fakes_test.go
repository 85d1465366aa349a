package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidarr/internal/audio"
	"github.com/jmylchreest/vidarr/internal/backend"
	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/decoder"
	"github.com/jmylchreest/vidarr/internal/platform"
	"github.com/jmylchreest/vidarr/internal/render"
)

// fakeConnection is a scriptable protocol layer.
type fakeConnection struct {
	units chan *decoder.DecodeUnit
	hdr   bool

	startErr error
	// onStart runs inside Start with the registered callbacks.
	onStart func(cb ConnectionCallbacks)

	mu        sync.Mutex
	callbacks ConnectionCallbacks
	started   []StreamConfig
	completed []int

	idrs  atomic.Int32
	stops atomic.Int32
	quits atomic.Int32
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{units: make(chan *decoder.DecodeUnit, 16)}
}

func (c *fakeConnection) WaitForNextDecodeUnit(ctx context.Context) (*decoder.DecodeUnit, bool) {
	select {
	case du := <-c.units:
		return du, true
	case <-ctx.Done():
		return nil, false
	}
}

func (c *fakeConnection) PollDecodeUnit() (*decoder.DecodeUnit, bool) {
	select {
	case du := <-c.units:
		return du, true
	default:
		return nil, false
	}
}

func (c *fakeConnection) CompleteDecodeUnit(_ *decoder.DecodeUnit, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = append(c.completed, status)
}

func (c *fakeConnection) RequestIDR() { c.idrs.Add(1) }

func (c *fakeConnection) HDRMetadata() (render.HDRMetadata, bool) {
	return render.HDRMetadata{}, false
}

func (c *fakeConnection) SetCallbacks(cb ConnectionCallbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = cb
}

func (c *fakeConnection) Start(_ context.Context, cfg StreamConfig) error {
	c.mu.Lock()
	c.started = append(c.started, cfg)
	cb := c.callbacks
	c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	if c.onStart != nil {
		c.onStart(cb)
	}
	return nil
}

func (c *fakeConnection) Stop() { c.stops.Add(1) }

func (c *fakeConnection) QuitApp(context.Context) error {
	c.quits.Add(1)
	return nil
}

func (c *fakeConnection) EstimatedRTT() (time.Duration, time.Duration, bool) {
	return 0, 0, false
}

func (c *fakeConnection) HostHDRMode() bool { return c.hdr }

func (c *fakeConnection) registered() ConnectionCallbacks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callbacks
}

func (c *fakeConnection) startedConfigs() []StreamConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]StreamConfig(nil), c.started...)
}

// recordingListener records every notification.
type recordingListener struct {
	mu       sync.Mutex
	warnings []string
	errors   []string
	stages   []string
	finished []int
	quitting int
}

func (l *recordingListener) StageStarting(stage string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stages = append(l.stages, stage)
}

func (l *recordingListener) StageFailed(stage string, _ int, _ string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stages = append(l.stages, stage+" failed")
}

func (l *recordingListener) DisplayLaunchWarning(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnings = append(l.warnings, text)
}

func (l *recordingListener) DisplayLaunchError(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, text)
}

func (l *recordingListener) ConnectionStarted() {}

func (l *recordingListener) QuitStarting() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quitting++
}

func (l *recordingListener) SessionFinished(result int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished = append(l.finished, result)
}

func (l *recordingListener) errorTexts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errors...)
}

func (l *recordingListener) finishedResults() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.finished...)
}

type fakeSystem struct {
	cpus  int
	aes   bool
	reach Reachability
}

func (s fakeSystem) CPUCount() int                                     { return s.cpus }
func (s fakeSystem) HasFastAES() bool                                  { return s.aes }
func (s fakeSystem) Reachability(context.Context, string) Reachability { return s.reach }

// testRenderer is a presenter that absorbs the configured window changes.
type testRenderer struct {
	render.Base
	factory *testFactory
}

func (r *testRenderer) Initialize(render.Params) error {
	if r.factory.failInit.Load() {
		r.SetInitFailureReason(render.FailureUnknown)
		return errors.New("renderer unavailable")
	}
	r.factory.inits.Add(1)
	return nil
}

func (r *testRenderer) NotifyWindowChanged(change render.WindowChange) bool {
	absorbs := r.factory.absorbs
	return absorbs != 0 && change.Flags&^absorbs == 0
}

func (r *testRenderer) RendererAttributes() render.Attribute { return r.factory.attrs }
func (r *testRenderer) RenderFrame(*render.Frame)            {}

// testFactory builds testRenderers as the only software presenter.
type testFactory struct {
	absorbs render.WindowChangeFlag
	attrs   render.Attribute

	failInit atomic.Bool
	inits    atomic.Int32
}

func (f *testFactory) New(t render.Type) render.Backend {
	return &testRenderer{Base: render.NewBase(t), factory: f}
}

func (f *testFactory) HWAccel(backend.HWConfig, int) render.Backend        { return nil }
func (f *testFactory) Frontend(render.Type, render.Backend) render.Backend { return nil }

func (f *testFactory) Order() backend.Order {
	return backend.Order{
		Software: []render.Type{render.TypeSDL},
		Blind:    []render.Type{render.TypeSDL},
		Readback: render.TypeSDL,
	}
}

// testContext returns one frame per packet in the negotiated format.
type testContext struct {
	mu     sync.Mutex
	format render.PixelFormat
	queue  int
}

func (c *testContext) Send(decoder.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue++
	return nil
}

func (c *testContext) Receive() (*render.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue == 0 {
		return nil, decoder.ErrAgain
	}
	c.queue--
	return &render.Frame{Format: c.format, Width: 64, Height: 64}, nil
}

func (c *testContext) Close() error { return nil }

var testPixelFormats = []render.PixelFormat{
	render.PixFmtYUV420P, render.PixFmtP010, render.PixFmtYUV444P, render.PixFmtYUV444P10,
}

// decoderSupport lists the formats decoded by hardware-native and
// software implementations.
type decoderSupport struct {
	hardware codec.Format
	software codec.Format
}

var (
	softwareOnly = decoderSupport{software: codec.MaskH264 | codec.MaskH265 | codec.MaskAV1}
	hardwareHEVC = decoderSupport{
		hardware: codec.MaskH264 | codec.FormatH265 | codec.FormatH265Main10,
		software: codec.MaskH264 | codec.MaskH265 | codec.MaskAV1,
	}
	noDecoders = decoderSupport{}
)

func openIf(name string, supported codec.Format) func(decoder.OpenConfig) (decoder.Context, error) {
	return func(cfg decoder.OpenConfig) (decoder.Context, error) {
		if cfg.Decoder.Format&supported == 0 {
			return nil, fmt.Errorf("%s: %s unsupported", name, cfg.Decoder.Format)
		}
		return &testContext{format: cfg.Decoder.PixelFormat}, nil
	}
}

func newTestEngine(support decoderSupport, factory *testFactory) *decoder.Engine {
	var impls []*decoder.Implementation
	for _, family := range []codec.Video{codec.VideoH264, codec.VideoH265, codec.VideoAV1} {
		hwName := string(family) + "_native"
		impls = append(impls,
			&decoder.Implementation{
				Name:         hwName,
				Family:       family,
				Hardware:     true,
				PixelFormats: testPixelFormats,
				Open:         openIf(hwName, support.hardware),
			},
			&decoder.Implementation{
				Name:         string(family),
				Family:       family,
				PixelFormats: testPixelFormats,
				Open:         openIf(string(family), support.software),
			},
		)
	}
	return decoder.NewEngine(decoder.NewRegistry(impls...), factory).
		WithLogger(slog.New(slog.DiscardHandler)).
		WithCPUCount(4).
		WithTestRetryDelay(0)
}

// stereoOnlyBackend refuses surround layouts.
type stereoOnlyBackend struct {
	*audio.NullBackend
}

func (b stereoOnlyBackend) PrepareForPlayback(cfg audio.Config) error {
	if cfg.ChannelCount > 2 {
		return errors.New("surround unavailable")
	}
	return b.NullBackend.PrepareForPlayback(cfg)
}

func stereoOnlySelector() *audio.Selector {
	return audio.NewSelector([]audio.Factory{{
		Name: "stereo",
		New: func(logger *slog.Logger) audio.Backend {
			return stereoOnlyBackend{audio.NewNullBackend(logger)}
		},
	}}, "")
}

func testHost() HostInfo {
	return HostInfo{
		Name:                   "desk",
		Address:                "192.168.1.20:47989",
		GPU:                    "NVIDIA GeForce RTX 4070",
		ServerVersion:          "7.1.431.-1",
		SupportedServerVersion: true,
		CodecModes:             codec.SCMH264 | codec.SCMHEVC | codec.SCMHEVCMain10 | codec.SCMAV1Main8 | codec.SCMAV1Main10,
		MaxLumaPixelsHEVC:      3840 * 2160,
	}
}

func testPreferences() Preferences {
	p := DefaultPreferences()
	p.WarningDuration = 0
	p.ConnectDelay = 0
	return p
}

type testRig struct {
	session  *Session
	conn     *fakeConnection
	platform *platform.Headless
	listener *recordingListener
	factory  *testFactory
}

type rigOption func(*Dependencies, *testFactory)

func withSelector(sel *audio.Selector) rigOption {
	return func(d *Dependencies, _ *testFactory) { d.Audio = sel }
}

func withPlatform(p *platform.Headless) rigOption {
	return func(d *Dependencies, _ *testFactory) { d.Platform = p }
}

func withAbsorbs(flags render.WindowChangeFlag) rigOption {
	return func(_ *Dependencies, f *testFactory) { f.absorbs = flags }
}

func newTestRig(t *testing.T, host HostInfo, prefs Preferences, support decoderSupport, opts ...rigOption) *testRig {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	factory := &testFactory{}
	conn := newFakeConnection()
	listener := &recordingListener{}
	deps := Dependencies{
		Connection: conn,
		Platform:   platform.NewHeadless().WithLogger(logger),
		Listener:   listener,
		Audio:      audio.NewSelector(audio.DefaultFactories(nil), "").WithLogger(logger),
		Decoders: func(audio.Config) (audio.Decoder, error) {
			return nil, audio.ErrOpusUnavailable
		},
		System: fakeSystem{cpus: 8, aes: true, reach: ReachabilityLAN},
	}
	for _, opt := range opts {
		opt(&deps, factory)
	}
	deps.Engine = newTestEngine(support, factory)

	s, err := New(host, prefs, deps)
	require.NoError(t, err)
	s.WithLogger(logger)
	s.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })

	return &testRig{
		session:  s,
		conn:     conn,
		platform: deps.Platform.(*platform.Headless),
		listener: listener,
		factory:  factory,
	}
}

func testWindowOptions(hidden bool) platform.WindowOptions {
	return platform.WindowOptions{Title: "test", Width: 1920, Height: 1080, Hidden: hidden}
}

// startStreaming negotiates and shows the streaming window, creating the
// first renderer.
func (r *testRig) startStreaming(t *testing.T) platform.Window {
	t.Helper()
	require.NoError(t, r.session.initialize(context.Background()))

	w, err := r.platform.CreateWindow(testWindowOptions(false))
	require.NoError(t, err)
	r.session.window = w
	r.session.display = w.DisplayIndex()
	t.Cleanup(func() {
		r.session.mu.Lock()
		r.session.destroyRendererLocked()
		r.session.mu.Unlock()
	})

	require.NoError(t, r.pump())
	require.Equal(t, RendererLive, r.session.RendererState())
	return w
}

// pump handles queued events until the queue is empty, returning the first
// error.
func (r *testRig) pump() error {
	var first error
	for {
		select {
		case ev := <-r.platform.Events():
			if _, err := r.session.handleEvent(context.Background(), ev); err != nil && first == nil {
				first = err
			}
		default:
			return first
		}
	}
}
