package decoder

import (
	"errors"
	"sync"
	"time"

	"github.com/jmylchreest/vidarr/internal/backend"
	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/render"
)

// fakeBackend is a scriptable backend.
type fakeBackend struct {
	render.Base
	initErr    error
	reason     render.InitFailureReason
	needsTest  bool
	direct     bool
	attrs      render.Attribute
	caps       render.Capability
	preferred  render.PixelFormat
	supported  []render.PixelFormat
	rejectTest bool
	hwDevice   bool
	exportEGL  bool

	mu       sync.Mutex
	inits    []render.Params
	rendered []*render.Frame
	closed   bool
}

func newFakeBackend(t render.Type) *fakeBackend {
	return &fakeBackend{Base: render.NewBase(t), direct: true}
}

func (b *fakeBackend) Initialize(p render.Params) error {
	b.inits = append(b.inits, p)
	if b.initErr != nil {
		b.SetInitFailureReason(b.reason)
		return b.initErr
	}
	return nil
}

func (b *fakeBackend) PrepareDecoderContext(ctx *render.DecoderContext) error {
	if b.hwDevice {
		ctx.HWDevice = "device"
	}
	return nil
}

func (b *fakeBackend) PreferredPixelFormat(f codec.Format) render.PixelFormat {
	if b.preferred != render.PixFmtNone {
		return b.preferred
	}
	return render.DefaultPreferredPixelFormat(f)
}

func (b *fakeBackend) PixelFormatSupported(f codec.Format, p render.PixelFormat) bool {
	for _, s := range b.supported {
		if s == p {
			return true
		}
	}
	return p == b.PreferredPixelFormat(f)
}

func (b *fakeBackend) NeedsTestFrame() bool                    { return b.needsTest }
func (b *fakeBackend) TestRenderFrame(f *render.Frame) bool    { return f != nil && !b.rejectTest }
func (b *fakeBackend) DirectRenderingSupported() bool          { return b.direct }
func (b *fakeBackend) RendererAttributes() render.Attribute    { return b.attrs }
func (b *fakeBackend) DecoderCapabilities() render.Capability  { return b.caps }
func (b *fakeBackend) CanExportEGL() bool                      { return b.exportEGL }
func (b *fakeBackend) EGLImagePixelFormat() render.PixelFormat { return render.PixFmtNV12 }

func (b *fakeBackend) RenderFrame(f *render.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rendered = append(b.rendered, f)
}

func (b *fakeBackend) Close() error {
	b.closed = true
	return nil
}

func (b *fakeBackend) renderedFrames() []*render.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*render.Frame(nil), b.rendered...)
}

// fakeFactory builds fake backends through per-kind constructors and keeps
// every backend it returned.
type fakeFactory struct {
	order    backend.Order
	newFn    func(t render.Type) *fakeBackend
	hwFn     func(cfg backend.HWConfig, pass int) *fakeBackend
	feFn     func(t render.Type, src render.Backend) *fakeBackend
	created  []*fakeBackend
	hwaccels []string
}

func (f *fakeFactory) track(b *fakeBackend) render.Backend {
	if b == nil {
		return nil
	}
	f.created = append(f.created, b)
	return b
}

func (f *fakeFactory) New(t render.Type) render.Backend {
	if f.newFn == nil {
		return nil
	}
	return f.track(f.newFn(t))
}

func (f *fakeFactory) HWAccel(cfg backend.HWConfig, pass int) render.Backend {
	f.hwaccels = append(f.hwaccels, string(cfg.DeviceType))
	if f.hwFn == nil {
		return nil
	}
	return f.track(f.hwFn(cfg, pass))
}

func (f *fakeFactory) Frontend(t render.Type, src render.Backend) render.Backend {
	if f.feFn == nil {
		return nil
	}
	return f.track(f.feFn(t, src))
}

func (f *fakeFactory) Order() backend.Order { return f.order }

func (f *fakeFactory) initializedOfType(t render.Type) int {
	n := 0
	for _, b := range f.created {
		if b.Type() == t {
			n += len(b.inits)
		}
	}
	return n
}

var errFakeInit = errors.New("fake init failure")

func softwareOrder() backend.Order {
	return backend.Order{
		Software: []render.Type{render.TypeSDL},
		Blind:    []render.Type{render.TypeSDL},
		Readback: render.TypeSDL,
	}
}

// fakeContext is a scriptable decoder.
type fakeContext struct {
	mu         sync.Mutex
	sendErr    error
	receiveErr error
	queue      []*render.Frame
	sent       int
	packets    [][]byte
	closed     bool
}

func (c *fakeContext) Send(pkt Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent++
	c.packets = append(c.packets, pkt.Data)
	c.queue = append(c.queue, &render.Frame{Format: render.PixFmtYUV420P, KeyFrame: pkt.Key})
	return nil
}

func (c *fakeContext) Receive() (*render.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.receiveErr != nil {
		return nil, c.receiveErr
	}
	if len(c.queue) == 0 {
		return nil, ErrAgain
	}
	f := c.queue[0]
	c.queue = c.queue[1:]
	return f, nil
}

func (c *fakeContext) Close() error {
	c.closed = true
	return nil
}

func openFake(ctx *fakeContext) func(OpenConfig) (Context, error) {
	return func(OpenConfig) (Context, error) { return ctx, nil }
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
