package platform

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jmylchreest/vidarr/internal/render"
)

// ErrNoDisplay is returned when a window targets a display that does not
// exist.
var ErrNoDisplay = errors.New("no such display")

// Window is a platform window.
type Window interface {
	render.Window
	Fullscreen() bool
	// Mode is the display mode used while the window is fullscreen.
	Mode() DisplayMode
}

// WindowOptions configures CreateWindow.
type WindowOptions struct {
	Title      string
	Width      int
	Height     int
	Display    int
	Hidden     bool
	Fullscreen bool
}

// Headless is an in-memory platform.
type Headless struct {
	mu       sync.Mutex
	displays []Display
	windows  map[uint32]*HeadlessWindow
	nextID   uint32
	queue    *Queue
	logger   *slog.Logger
}

// NewHeadless creates a platform with the given displays, or a single
// DefaultDisplay when none are given.
func NewHeadless(displays ...Display) *Headless {
	if len(displays) == 0 {
		displays = []Display{DefaultDisplay()}
	}
	return &Headless{
		displays: displays,
		windows:  make(map[uint32]*HeadlessWindow),
		queue:    NewQueue(DefaultQueueSize),
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger.
func (h *Headless) WithLogger(logger *slog.Logger) *Headless {
	h.logger = logger
	return h
}

// CreateWindow creates a window. Visible windows post EventWindowShown.
func (h *Headless) CreateWindow(opts WindowOptions) (Window, error) {
	h.mu.Lock()
	if opts.Display < 0 || opts.Display >= len(h.displays) {
		h.mu.Unlock()
		return nil, fmt.Errorf("create window on display %d: %w", opts.Display, ErrNoDisplay)
	}
	h.nextID++
	w := &HeadlessWindow{
		id:         h.nextID,
		title:      opts.Title,
		width:      opts.Width,
		height:     opts.Height,
		display:    opts.Display,
		hidden:     opts.Hidden,
		fullscreen: opts.Fullscreen,
		mode:       h.displays[opts.Display].Desktop,
	}
	h.windows[w.id] = w
	h.mu.Unlock()

	h.logger.Debug("window created",
		slog.Int("window_id", int(w.id)),
		slog.Int("width", opts.Width),
		slog.Int("height", opts.Height),
		slog.Bool("hidden", opts.Hidden))

	if !opts.Hidden {
		h.Push(Event{Kind: EventWindowShown, Window: w.id, Display: opts.Display})
	}
	return w, nil
}

// DestroyWindow releases w.
func (h *Headless) DestroyWindow(w Window) {
	if w == nil {
		return
	}
	h.mu.Lock()
	delete(h.windows, w.ID())
	h.mu.Unlock()
}

func (h *Headless) display(index int) (Display, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if index < 0 || index >= len(h.displays) {
		return Display{}, false
	}
	return h.displays[index], true
}

// Displays returns the number of attached displays.
func (h *Headless) Displays() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.displays)
}

// DesktopMode returns the desktop mode of a display.
func (h *Headless) DesktopMode(display int) (DisplayMode, bool) {
	d, ok := h.display(display)
	return d.Desktop, ok
}

// NativeMode returns the unscaled mode of a display.
func (h *Headless) NativeMode(display int) (DisplayMode, bool) {
	d, ok := h.display(display)
	return d.Native, ok
}

// CurrentMode returns the mode in effect on a display.
func (h *Headless) CurrentMode(display int) (DisplayMode, bool) {
	d, ok := h.display(display)
	return d.Current, ok
}

// DisplayModes lists the modes of a display.
func (h *Headless) DisplayModes(display int) []DisplayMode {
	d, _ := h.display(display)
	return d.Modes
}

// SetDisplayMode sets the mode w uses while fullscreen.
func (h *Headless) SetDisplayMode(w Window, mode DisplayMode) {
	if hw, ok := w.(*HeadlessWindow); ok {
		hw.mu.Lock()
		hw.mode = mode
		hw.mu.Unlock()
	}
}

// SetFullscreen switches w in or out of fullscreen.
func (h *Headless) SetFullscreen(w Window, on bool) {
	if hw, ok := w.(*HeadlessWindow); ok {
		hw.mu.Lock()
		hw.fullscreen = on
		hw.mu.Unlock()
	}
}

// Events returns the event stream.
func (h *Headless) Events() <-chan Event { return h.queue.Events() }

// Push posts ev, reporting false when the queue is full.
func (h *Headless) Push(ev Event) bool {
	if !h.queue.Push(ev) {
		h.logger.Warn("event queue full, dropping event",
			slog.String("event", ev.Kind.String()))
		return false
	}
	return true
}

// FlushEvents drops queued events of the given kinds.
func (h *Headless) FlushEvents(kinds ...EventKind) {
	if n := h.queue.Flush(kinds...); n > 0 {
		h.logger.Debug("flushed events", slog.Int("count", n))
	}
}

// Resize resizes w and posts the size change.
func (h *Headless) Resize(w Window, width, height int) {
	hw, ok := w.(*HeadlessWindow)
	if !ok {
		return
	}
	hw.mu.Lock()
	hw.width, hw.height = width, height
	hw.mu.Unlock()
	h.Push(Event{Kind: EventWindowSizeChanged, Window: hw.id, Width: width, Height: height, Display: hw.DisplayIndex()})
}

// MoveToDisplay moves w to another display and posts the display change.
func (h *Headless) MoveToDisplay(w Window, display int) error {
	hw, ok := w.(*HeadlessWindow)
	if !ok {
		return nil
	}
	if _, ok := h.display(display); !ok {
		return fmt.Errorf("move window to display %d: %w", display, ErrNoDisplay)
	}
	hw.mu.Lock()
	hw.display = display
	hw.mu.Unlock()
	h.Push(Event{Kind: EventWindowDisplayChanged, Window: hw.id, Display: display})
	return nil
}

// SetFocus posts a focus change for w.
func (h *Headless) SetFocus(w Window, focused bool) {
	kind := EventWindowFocusLost
	if focused {
		kind = EventWindowFocusGained
	}
	h.Push(Event{Kind: kind, Window: w.ID(), Display: w.DisplayIndex()})
}

// ResetDevice posts a render device loss.
func (h *Headless) ResetDevice() {
	h.Push(Event{Kind: EventRenderDeviceReset})
}

// Quit posts a quit request.
func (h *Headless) Quit() {
	h.Push(Event{Kind: EventQuit})
}

// HeadlessWindow is a window of a Headless platform. Presented frames are
// counted and dropped.
type HeadlessWindow struct {
	id    uint32
	title string

	mu         sync.Mutex
	width      int
	height     int
	display    int
	hidden     bool
	fullscreen bool
	mode       DisplayMode

	frames    atomic.Uint64
	lastFrame atomic.Pointer[render.Frame]
}

// ID returns the window id.
func (w *HeadlessWindow) ID() uint32 { return w.id }

// Title returns the window title.
func (w *HeadlessWindow) Title() string { return w.title }

// Size returns the client area size.
func (w *HeadlessWindow) Size() (width, height int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width, w.height
}

// DisplayIndex returns the display the window is on.
func (w *HeadlessWindow) DisplayIndex() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.display
}

// Fullscreen reports whether the window is fullscreen.
func (w *HeadlessWindow) Fullscreen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fullscreen
}

// Mode returns the fullscreen display mode.
func (w *HeadlessWindow) Mode() DisplayMode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}

// Present accepts a decoded frame.
func (w *HeadlessWindow) Present(frame *render.Frame) error {
	w.frames.Add(1)
	w.lastFrame.Store(frame)
	return nil
}

// Frames returns the number of frames presented.
func (w *HeadlessWindow) Frames() uint64 { return w.frames.Load() }

// LastFrame returns the most recently presented frame.
func (w *HeadlessWindow) LastFrame() *render.Frame { return w.lastFrame.Load() }
