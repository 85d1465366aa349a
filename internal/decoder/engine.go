package decoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/jmylchreest/vidarr/internal/backend"
	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/observability"
	"github.com/jmylchreest/vidarr/internal/render"
)

// ErrNoDecoder is returned when no candidate works in any pass.
var ErrNoDecoder = errors.New("no working decoder")

var errNoFrontend = errors.New("no frontend can present the backend's surfaces")

const (
	// MaxDecoderPass is the last hardware acceleration pass.
	MaxDecoderPass = 2

	// MaxSlices caps slices per frame and software decode threads.
	MaxSlices = 4

	testFrameAttempts = 5
)

// DefaultTestRetryDelay is the wait between test decode attempts while the
// decoder has no output.
const DefaultTestRetryDelay = 100 * time.Millisecond

// BackendFactory constructs backend instances. Every call returns a fresh
// instance.
type BackendFactory interface {
	New(t render.Type) render.Backend
	HWAccel(cfg backend.HWConfig, pass int) render.Backend
	Frontend(t render.Type, source render.Backend) render.Backend
	Order() backend.Order
}

// TestState tracks a candidate through validation.
type TestState int

const (
	StateUntested TestState = iota
	StateTestDecoding
	StateTestPassed
	StateTestFailed
	StateRealInit
	StateLive
	StateRealInitFailed
)

func (s TestState) String() string {
	switch s {
	case StateTestDecoding:
		return "test_decoding"
	case StateTestPassed:
		return "test_passed"
	case StateTestFailed:
		return "test_failed"
	case StateRealInit:
		return "real_init"
	case StateLive:
		return "live"
	case StateRealInitFailed:
		return "real_init_failed"
	default:
		return "untested"
	}
}

// Candidate is one (implementation, hardware config, pixel format, backend)
// combination tried by the search.
type Candidate struct {
	Implementation string
	HWConfig       *backend.HWConfig
	PixelFormat    render.PixelFormat
	// Pass is the hardware acceleration pass, or -1 without one.
	Pass    int
	Backend render.Type
}

func (c Candidate) attrs() []any {
	attrs := []any{
		slog.String("implementation", c.Implementation),
		slog.String("backend", c.Backend.String()),
		slog.Int("pass", c.Pass),
	}
	if c.HWConfig != nil {
		attrs = append(attrs, slog.String("device_type", string(c.HWConfig.DeviceType)))
	}
	if c.PixelFormat != render.PixFmtNone {
		attrs = append(attrs, slog.String("pixel_format", c.PixelFormat.String()))
	}
	return attrs
}

// Request describes one search.
type Request struct {
	Params   render.Params
	TestOnly bool

	// Failures is shared across every search of a session. A nil registry
	// scopes failures to this search.
	Failures *FailureRegistry
}

// Engine searches for a working decoder.
type Engine struct {
	registry       *Registry
	factory        BackendFactory
	hints          map[codec.Video]string
	capsOverride   *render.Capability
	cpus           int
	pacer          PacerFactory
	testRetryDelay time.Duration
	observer       func(Candidate, TestState)
	logger         *slog.Logger
	sleep          func(time.Duration)
	now            func() time.Time
}

// NewEngine creates an engine searching registry with backends from factory.
func NewEngine(registry *Registry, factory BackendFactory) *Engine {
	return &Engine{
		registry:       registry,
		factory:        factory,
		cpus:           cpuCount(),
		pacer:          ImmediatePacer,
		testRetryDelay: DefaultTestRetryDelay,
		logger:         slog.Default(),
		sleep:          time.Sleep,
		now:            time.Now,
	}
}

func cpuCount() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// WithLogger sets the logger.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	e.logger = logger
	return e
}

// WithHints sets per-family implementation names tried before the search.
func (e *Engine) WithHints(hints map[codec.Video]string) *Engine {
	e.hints = hints
	return e
}

// WithCapabilityOverride replaces the capabilities reported by instances.
func (e *Engine) WithCapabilityOverride(caps render.Capability) *Engine {
	e.capsOverride = &caps
	return e
}

// WithCPUCount overrides the detected CPU count.
func (e *Engine) WithCPUCount(n int) *Engine {
	e.cpus = n
	return e
}

// WithPacer sets the pacer constructed for live instances.
func (e *Engine) WithPacer(f PacerFactory) *Engine {
	e.pacer = f
	return e
}

// WithTestRetryDelay sets the wait between test decode attempts.
func (e *Engine) WithTestRetryDelay(d time.Duration) *Engine {
	e.testRetryDelay = d
	return e
}

// WithObserver registers fn to receive candidate state transitions.
func (e *Engine) WithObserver(fn func(Candidate, TestState)) *Engine {
	e.observer = fn
	return e
}

// WithClock replaces the clock and sleep used by the engine and its
// instances.
func (e *Engine) WithClock(now func() time.Time, sleep func(time.Duration)) *Engine {
	e.now = now
	e.sleep = sleep
	return e
}

// Registry returns the implementations searched.
func (e *Engine) Registry() *Registry { return e.registry }

// search is the state of one Select call.
type search struct {
	*Engine
	ctx        context.Context
	req        Request
	params     render.Params
	testParams render.Params
	failures   *FailureRegistry
	logger     *slog.Logger
}

// Select finds a working decoder for req. The returned instance is
// validated and, unless req.TestOnly, initialized at the real parameters.
func (e *Engine) Select(ctx context.Context, req Request) (*Instance, error) {
	format := req.Params.Format
	if format.Family() == "" {
		return nil, fmt.Errorf("select decoder: invalid format %s", format)
	}

	s := &search{
		Engine:     e,
		ctx:        ctx,
		req:        req,
		params:     req.Params,
		testParams: req.Params,
		failures:   req.Failures,
		logger:     observability.WithOperation(e.logger, "decoder search").With(slog.String("format", format.String())),
	}
	s.testParams.Width = TestFrameWidth
	s.testParams.Height = TestFrameHeight
	if s.failures == nil {
		s.failures = NewFailureRegistry()
	}

	if inst := s.run(); inst != nil {
		return inst, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.logger.Error("unable to find working decoder",
		slog.String("selection", req.Params.Selection.String()))
	return nil, fmt.Errorf("%w for format %s", ErrNoDecoder, format)
}

func (s *search) cancelled() bool { return s.ctx.Err() != nil }

func (s *search) run() *Instance {
	format := s.params.Format

	if name := s.hints[format.Family()]; name != "" {
		impl := s.registry.Lookup(name)
		if impl != nil && impl.Matches(format) {
			if inst := s.tryUnknown(impl, true); inst != nil {
				s.logger.Warn("using decoder hint", slog.String("implementation", name))
				return inst
			}
		}
		s.logger.Error("decoder hint failed to load", slog.String("implementation", name))
	}

	if s.params.Selection != render.SelectionForceSoftware {
		if inst := s.tryHWAccel(0); inst != nil {
			return inst
		}
		// Hardware-native implementations with a zero-copy output format
		// first, then any.
		if inst := s.tryNonHWAccel(true); inst != nil {
			return inst
		}
		if inst := s.tryNonHWAccel(false); inst != nil {
			return inst
		}
		for pass := 1; pass <= MaxDecoderPass; pass++ {
			if inst := s.tryHWAccel(pass); inst != nil {
				return inst
			}
		}
	}

	if s.params.Selection != render.SelectionForceHardware {
		for _, impl := range s.registry.Matching(format) {
			if s.cancelled() {
				return nil
			}
			// Implementations with hardware configurations are software
			// decoders without one.
			if impl.IsHardware() {
				continue
			}
			if inst := s.tryUnknown(impl, false); inst != nil {
				return inst
			}
		}
	}
	return nil
}

func (s *search) tryHWAccel(pass int) *Instance {
	format := s.params.Format.String()
	for _, impl := range s.registry.Matching(s.params.Format) {
		if impl.IsHardware() || s.failures.ImplementationFailed(impl.Name, format) {
			continue
		}
		for _, cfg := range impl.HWConfigs {
			if s.cancelled() {
				return nil
			}
			inst, reason := s.tryRenderer(impl, render.PixFmtNone, &cfg, pass, func() render.Backend {
				return s.factory.HWAccel(cfg, pass)
			})
			if inst != nil {
				return inst
			}
			if reason == render.NoHardwareSupport {
				s.failures.MarkImplementation(impl.Name, format)
				s.logger.Info("skipping remaining hwaccels, hardware lacks codec support",
					slog.String("implementation", impl.Name))
				break
			}
		}
	}
	return nil
}

func (s *search) tryNonHWAccel(requireZeroCopy bool) *Instance {
	format := s.params.Format.String()
	for _, impl := range s.registry.Matching(s.params.Format) {
		if s.cancelled() {
			return nil
		}
		if !impl.IsHardware() {
			continue
		}
		if requireZeroCopy && !impl.HasZeroCopyFormat() {
			continue
		}
		if s.failures.ImplementationFailed(impl.Name, format) {
			continue
		}
		if inst := s.tryUnknown(impl, true); inst != nil {
			return inst
		}
	}
	return nil
}

// tryUnknown tries impl with its hardware configurations, then matches its
// output formats against the software presenters.
func (s *search) tryUnknown(impl *Implementation, tryHWAccel bool) *Instance {
	if tryHWAccel {
		for pass := 0; pass <= MaxDecoderPass; pass++ {
			for _, cfg := range impl.HWConfigs {
				if s.cancelled() {
					return nil
				}
				inst, reason := s.tryRenderer(impl, render.PixFmtNone, &cfg, pass, func() render.Backend {
					return s.factory.HWAccel(cfg, pass)
				})
				if inst != nil {
					return inst
				}
				if reason == render.NoHardwareSupport {
					s.logger.Info("skipping remaining hwaccels, hardware lacks codec support",
						slog.String("implementation", impl.Name))
					return nil
				}
			}
		}
	}

	order := s.factory.Order()
	if impl.PixelFormats == nil {
		// Output formats unknown. Try presenters blind.
		for _, t := range order.Blind {
			if s.cancelled() {
				return nil
			}
			if inst, _ := s.tryRenderer(impl, render.PixFmtNone, nil, -1, s.newFunc(t)); inst != nil {
				return inst
			}
		}
		return nil
	}

	presenters := order.Software
	if len(impl.Presenters) > 0 {
		presenters = impl.Presenters
	}

	format := s.params.Format
	for _, preferred := range []bool{true, false} {
		for _, pf := range impl.PixelFormats {
			for _, t := range presenters {
				if s.cancelled() {
					return nil
				}
				probe := s.factory.New(t)
				if probe == nil {
					continue
				}
				match := probe.PreferredPixelFormat(format) == pf
				if !preferred {
					match = !match && probe.PixelFormatSupported(format, pf)
				}
				_ = probe.Close()
				if !match {
					continue
				}

				s.logger.Debug("trying presenter for output format",
					slog.String("implementation", impl.Name),
					slog.String("backend", t.String()),
					slog.String("pixel_format", pf.String()),
					slog.Bool("preferred", preferred))
				if inst, _ := s.tryRenderer(impl, pf, nil, -1, s.newFunc(t)); inst != nil {
					return inst
				}
			}
		}
	}

	s.logger.Warn("no presenter can handle decoder output", slog.String("implementation", impl.Name))
	return nil
}

func (s *search) newFunc(t render.Type) func() render.Backend {
	return func() render.Backend { return s.factory.New(t) }
}

func (s *search) observe(c Candidate, st TestState) {
	s.logger.Debug("candidate state", append(c.attrs(), slog.String("state", st.String()))...)
	if s.observer != nil {
		s.observer(c, st)
	}
}

// tryRenderer tries one candidate, first with a zero-copy import frontend
// when the platform has them, then with direct rendering or readback. It
// returns the backend's failure reason when no instance results.
func (s *search) tryRenderer(impl *Implementation, required render.PixelFormat, hwCfg *backend.HWConfig, pass int, create func() render.Backend) (*Instance, render.InitFailureReason) {
	reason := render.FailureUnknown

	first := 1
	if s.factory.Order().AlternateFrontends {
		first = 0
	}
attempts:
	for attempt := first; attempt < 2; attempt++ {
		be := create()
		if be == nil {
			break
		}
		c := Candidate{
			Implementation: impl.Name,
			HWConfig:       hwCfg,
			PixelFormat:    required,
			Pass:           pass,
			Backend:        be.Type(),
		}
		alternate := attempt == 0
		s.observe(c, StateUntested)

		needsTest := s.req.TestOnly || be.NeedsTestFrame()
		p := s.params
		if needsTest {
			p = s.testParams
		}

		if !s.initialize(be, p) {
			// A different frontend cannot fix a backend that fails.
			reason = be.InitFailureReason()
			_ = be.Close()
			break
		}

		inst, err := s.complete(c, impl, required, hwCfg, be, p, needsTest, alternate)
		if err == nil {
			switch {
			case s.req.TestOnly:
				return inst, render.FailureUnknown
			case !needsTest:
				s.observe(c, StateLive)
				return inst, render.FailureUnknown
			}

			// Validated at the test resolution. Reconstruct for real.
			inst.Close()
			s.observe(c, StateRealInit)
			if be = create(); be == nil {
				break attempts
			}
			if s.initialize(be, s.params) {
				inst, err = s.complete(c, impl, required, hwCfg, be, s.params, false, alternate)
				if err == nil {
					s.observe(c, StateLive)
					return inst, render.FailureUnknown
				}
			}
			s.observe(c, StateRealInitFailed)
			s.logger.Error("decoder failed to initialize after successful test",
				append(c.attrs(), slog.Any("error", err))...)
		} else {
			s.logger.Debug("candidate failed", append(c.attrs(), slog.String("error", err.Error()))...)
		}

		reason = be.InitFailureReason()
		_ = be.Close()
	}
	return nil, reason
}

// initialize initializes b unless its type already failed for good, and
// records failures that rule the type out.
func (s *search) initialize(b render.Backend, p render.Params) bool {
	t := b.Type()
	if t != render.TypeUnknown && s.failures.BackendFailed(t) {
		s.logger.Debug("skipping backend due to prior failure", slog.String("backend", t.String()))
		return false
	}
	if err := b.Initialize(p); err != nil {
		if b.InitFailureReason() == render.NoSoftwareSupport {
			s.failures.MarkBackend(t)
			s.logger.Info("backend failed to initialize, it will not be tried again",
				slog.String("backend", t.String()),
				slog.String("error", err.Error()))
		} else {
			s.logger.Debug("backend failed to initialize",
				slog.String("backend", t.String()),
				slog.String("reason", b.InitFailureReason().String()),
				slog.String("error", err.Error()))
		}
		return false
	}
	return true
}

// createFrontend picks the backend presenting be's output.
func (s *search) createFrontend(be render.Backend, p render.Params, alternate bool) (render.Backend, error) {
	order := s.factory.Order()

	if alternate {
		if p.Format.Is10Bit() {
			// HDR needs a frontend that can pass metadata to the display.
			for _, t := range order.HDRFrontends {
				switch {
				case t == render.TypeVulkan && be.Type() == render.TypeVulkan:
					continue
				case t == render.TypeDRM && !render.CanExportDRMPrime(be):
					continue
				}
				if fe := s.tryFrontend(t, be, p); fe != nil {
					if fe.RendererAttributes().Has(render.AttrHDRSupport) {
						return fe, nil
					}
					_ = fe.Close()
				}
			}
		}
		if render.CanExportEGL(be) {
			if fe := s.tryFrontend(render.TypeEGL, be, p); fe != nil {
				return fe, nil
			}
		}
		return nil, errNoFrontend
	}

	if be.DirectRenderingSupported() {
		return be, nil
	}
	if fe := s.tryFrontend(order.Readback, be, p); fe != nil {
		return fe, nil
	}
	return nil, errNoFrontend
}

func (s *search) tryFrontend(t render.Type, be render.Backend, p render.Params) render.Backend {
	fe := s.factory.Frontend(t, be)
	if fe == nil {
		return nil
	}
	if !s.initialize(fe, p) {
		_ = fe.Close()
		return nil
	}
	return fe
}

// complete builds the frontend, opens the decoder, and either validates it
// with a test frame or prepares it to render. On failure every resource
// except be is released.
func (s *search) complete(c Candidate, impl *Implementation, required render.PixelFormat, hwCfg *backend.HWConfig, be render.Backend, p render.Params, testFrame, alternate bool) (*Instance, error) {
	fe, err := s.createFrontend(be, p, alternate)
	if err != nil {
		return nil, err
	}

	inst := &Instance{
		impl:           impl,
		hwCfg:          hwCfg,
		requiredFormat: required,
		backend:        be,
		frontend:       fe,
		params:         p,
		testOnly:       s.req.TestOnly,
		capsOverride:   s.capsOverride,
		cpus:           s.cpus,
		logger:         s.logger,
		now:            s.now,
		sleep:          s.sleep,
		stats:          newStatsWindow(time.Second),
	}

	if !testFrame {
		inst.pacing = p.EnableFramePacing ||
			(p.EnableVsync && fe.RendererAttributes().Has(render.AttrForcePacing))
		pacer, err := s.pacer(PacerConfig{
			Frontend:  fe,
			Window:    p.Window,
			FrameRate: p.FrameRate,
			Pacing:    inst.pacing,
		})
		if err != nil {
			inst.release()
			return nil, fmt.Errorf("create pacer: %w", err)
		}
		inst.pacer = pacer
	}

	dctx := render.DecoderContext{
		Format:  p.Format,
		Width:   p.Width,
		Height:  p.Height,
		Options: map[string]string{},
	}
	if inst.IsHardwareAccelerated() {
		dctx.ThreadCount = 1
	} else {
		dctx.ThreadCount = min(MaxSlices, s.cpus)
	}
	if hwCfg == nil {
		dctx.PixelFormat = required
		if required == render.PixFmtNone {
			dctx.PixelFormat = fe.PreferredPixelFormat(p.Format)
		}
	}
	if err := be.PrepareDecoderContext(&dctx); err != nil {
		inst.release()
		return nil, fmt.Errorf("prepare decoder context: %w", err)
	}

	dc, err := impl.Open(OpenConfig{Decoder: dctx, HWConfig: hwCfg, GetFormat: inst.negotiateFormat})
	if err != nil {
		inst.release()
		return nil, fmt.Errorf("open %s: %w", impl.Name, err)
	}
	inst.ctx = dc

	if testFrame {
		s.observe(c, StateTestDecoding)
		if err := s.testDecode(inst); err != nil {
			s.observe(c, StateTestFailed)
			inst.release()
			return nil, err
		}
		s.observe(c, StateTestPassed)
		return inst, nil
	}

	inst.needsSPSFixup = p.Format&codec.MaskH264 != 0 &&
		!be.DecoderCapabilities().Has(render.CapReferenceFrameInvalidationAVC)
	if inst.needsSPSFixup {
		s.logger.Info("using H.264 SPS fixup")
	}
	fe.PrepareToRender()

	if fe.Type() != be.Type() {
		s.logger.Info("renderer chosen",
			slog.String("frontend", fe.Type().String()),
			slog.String("backend", be.Type().String()),
			slog.String("implementation", impl.Name))
	} else {
		s.logger.Info("renderer chosen",
			slog.String("frontend", fe.Type().String()),
			slog.String("implementation", impl.Name))
	}
	return inst, nil
}

// testDecode feeds the format's test frame through the decoder and lets the
// frontend inspect the output.
func (s *search) testDecode(inst *Instance) error {
	data, err := TestFrame(inst.params.Format)
	if err != nil {
		return err
	}

	var frame *render.Frame
	for range testFrameAttempts {
		if err = inst.ctx.Send(Packet{Data: data, Key: true}); err != nil {
			return fmt.Errorf("test decode send: %w", err)
		}
		frame, err = inst.ctx.Receive()
		if !errors.Is(err, ErrAgain) {
			break
		}
		s.sleep(s.testRetryDelay)
	}
	if err != nil {
		return fmt.Errorf("test decode receive: %w", err)
	}
	if !inst.frontend.TestRenderFrame(frame) {
		return errors.New("test decode failed: frontend rejected frame")
	}
	return nil
}
