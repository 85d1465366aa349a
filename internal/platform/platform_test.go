package platform

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidarr/internal/render"
)

func drain(q *Queue) []EventKind {
	var kinds []EventKind
	for {
		select {
		case ev := <-q.Events():
			kinds = append(kinds, ev.Kind)
		default:
			return kinds
		}
	}
}

func TestQueue_PushAndDrop(t *testing.T) {
	q := NewQueue(2)
	assert.True(t, q.Push(Event{Kind: EventWindowShown}))
	assert.True(t, q.Push(Event{Kind: EventQuit}))
	assert.False(t, q.Push(Event{Kind: EventQuit}))
	assert.Equal(t, uint64(1), q.Dropped())
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, []EventKind{EventWindowShown, EventQuit}, drain(q))
}

func TestQueue_Flush(t *testing.T) {
	q := NewQueue(0)
	for _, k := range []EventKind{EventRenderDeviceReset, EventWindowSizeChanged, EventRenderTargetsReset, EventQuit, EventRenderDeviceReset} {
		q.Push(Event{Kind: k})
	}

	removed := q.Flush(EventRenderDeviceReset, EventRenderTargetsReset)
	assert.Equal(t, 3, removed)
	assert.Equal(t, []EventKind{EventWindowSizeChanged, EventQuit}, drain(q))
	assert.Zero(t, q.Flush(EventQuit))
}

func TestEventKind(t *testing.T) {
	tests := []struct {
		kind   EventKind
		name   string
		window bool
	}{
		{EventQuit, "quit", false},
		{EventWindowShown, "window_shown", true},
		{EventWindowSizeChanged, "window_size_changed", true},
		{EventWindowLeave, "window_leave", true},
		{EventRenderDeviceReset, "render_device_reset", false},
		{EventFlushBarrier, "flush_barrier", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.kind.String())
		assert.Equal(t, tt.window, tt.kind.IsWindowEvent(), tt.name)
	}
}

func TestHeadless_Windows(t *testing.T) {
	h := NewHeadless().WithLogger(slog.New(slog.DiscardHandler))

	hidden, err := h.CreateWindow(WindowOptions{Width: 640, Height: 480, Hidden: true})
	require.NoError(t, err)
	assert.Empty(t, drain(h.queue))

	w, err := h.CreateWindow(WindowOptions{Title: "stream", Width: 1920, Height: 1080, Fullscreen: true})
	require.NoError(t, err)
	assert.NotEqual(t, hidden.ID(), w.ID())
	assert.True(t, w.Fullscreen())
	assert.Equal(t, DefaultDisplay().Desktop, w.Mode())
	assert.Equal(t, []EventKind{EventWindowShown}, drain(h.queue))

	_, err = h.CreateWindow(WindowOptions{Display: 3})
	assert.ErrorIs(t, err, ErrNoDisplay)

	h.Resize(w, 1280, 720)
	width, height := w.Size()
	assert.Equal(t, 1280, width)
	assert.Equal(t, 720, height)

	mode := DisplayMode{Width: 1920, Height: 1080, RefreshRate: 120}
	h.SetDisplayMode(w, mode)
	assert.Equal(t, mode, w.Mode())

	h.SetFullscreen(w, false)
	assert.False(t, w.Fullscreen())

	h.DestroyWindow(w)
	h.DestroyWindow(nil)
	assert.Equal(t, []EventKind{EventWindowSizeChanged}, drain(h.queue))
}

func TestHeadless_Displays(t *testing.T) {
	second := DefaultDisplay()
	second.Current.RefreshRate = 144
	h := NewHeadless(DefaultDisplay(), second)
	assert.Equal(t, 2, h.Displays())

	current, ok := h.CurrentMode(1)
	require.True(t, ok)
	assert.Equal(t, 144, current.RefreshRate)

	_, ok = h.DesktopMode(2)
	assert.False(t, ok)
	assert.Nil(t, h.DisplayModes(5))

	w, err := h.CreateWindow(WindowOptions{Hidden: true})
	require.NoError(t, err)
	require.NoError(t, h.MoveToDisplay(w, 1))
	assert.Equal(t, 1, w.DisplayIndex())
	assert.ErrorIs(t, h.MoveToDisplay(w, 7), ErrNoDisplay)

	ev := <-h.Events()
	assert.Equal(t, EventWindowDisplayChanged, ev.Kind)
	assert.Equal(t, 1, ev.Display)
}

func TestHeadlessWindow_Present(t *testing.T) {
	h := NewHeadless()
	w, err := h.CreateWindow(WindowOptions{Hidden: true})
	require.NoError(t, err)

	hw := w.(*HeadlessWindow)
	frame := &render.Frame{Width: 64, Height: 64}
	require.NoError(t, hw.Present(frame))
	require.NoError(t, hw.Present(frame))
	assert.Equal(t, uint64(2), hw.Frames())
	assert.Same(t, frame, hw.LastFrame())
}

func TestDisplayMode_String(t *testing.T) {
	assert.Equal(t, "2560x1440x165", DisplayMode{Width: 2560, Height: 1440, RefreshRate: 165}.String())
}
