package platform

import (
	"slices"
	"sync"
	"sync/atomic"
)

// EventKind identifies a platform event.
type EventKind int

const (
	EventQuit EventKind = iota
	EventWindowShown
	EventWindowSizeChanged
	EventWindowDisplayChanged
	EventWindowFocusLost
	EventWindowFocusGained
	EventWindowEnter
	EventWindowLeave
	EventRenderDeviceReset
	EventRenderTargetsReset
	EventToggleFullscreen
	// EventFlushBarrier marks the end of a window event flush.
	EventFlushBarrier
)

var eventNames = map[EventKind]string{
	EventQuit:                 "quit",
	EventWindowShown:          "window_shown",
	EventWindowSizeChanged:    "window_size_changed",
	EventWindowDisplayChanged: "window_display_changed",
	EventWindowFocusLost:      "window_focus_lost",
	EventWindowFocusGained:    "window_focus_gained",
	EventWindowEnter:          "window_enter",
	EventWindowLeave:          "window_leave",
	EventRenderDeviceReset:    "render_device_reset",
	EventRenderTargetsReset:   "render_targets_reset",
	EventToggleFullscreen:     "toggle_fullscreen",
	EventFlushBarrier:         "flush_barrier",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsWindowEvent reports whether k is a window state event.
func (k EventKind) IsWindowEvent() bool {
	return k >= EventWindowShown && k <= EventWindowLeave
}

// Event is a platform event.
type Event struct {
	Kind    EventKind
	Window  uint32
	Width   int
	Height  int
	Display int
}

// DefaultQueueSize is the event queue capacity of a headless platform.
const DefaultQueueSize = 256

// Queue is a bounded FIFO of events. Push never blocks.
type Queue struct {
	mu      sync.Mutex
	ch      chan Event
	dropped atomic.Uint64
}

// NewQueue creates a queue holding at most size events.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan Event, size)}
}

// Push appends ev, reporting false when the queue is full.
func (q *Queue) Push(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case q.ch <- ev:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Events returns the receive side of the queue.
func (q *Queue) Events() <-chan Event { return q.ch }

// Dropped returns the number of events rejected because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Len returns the number of queued events.
func (q *Queue) Len() int { return len(q.ch) }

// Flush removes queued events of the given kinds, keeping the order of the
// rest, and returns the number removed.
func (q *Queue) Flush(kinds ...EventKind) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	var kept []Event
	removed := 0
drain:
	for {
		select {
		case ev := <-q.ch:
			if slices.Contains(kinds, ev.Kind) {
				removed++
				continue
			}
			kept = append(kept, ev)
		default:
			break drain
		}
	}
	for _, ev := range kept {
		q.ch <- ev
	}
	return removed
}
