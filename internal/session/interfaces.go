package session

import (
	"context"
	"time"

	"github.com/jmylchreest/vidarr/internal/audio"
	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/decoder"
	"github.com/jmylchreest/vidarr/internal/platform"
)

// ConnectionStatus is the link quality reported by the protocol layer.
type ConnectionStatus int

const (
	ConnectionStatusOkay ConnectionStatus = iota
	ConnectionStatusPoor
)

// PortTest is the result of a connectivity test run after a failure.
type PortTest struct {
	// Ports lists the ports implicated by the failure, comma separated.
	Ports string
	// Result is the test outcome passed to SessionFinished.
	Result int
}

// ConnectionCallbacks are invoked by the protocol layer. Each closure is
// bound to the session that registered it.
type ConnectionCallbacks struct {
	StageStarting        func(stage string)
	StageFailed          func(stage string, errorCode int, ports PortTest)
	ConnectionStarted    func()
	ConnectionTerminated func(errorCode int, ports PortTest)
	LogMessage           func(msg string)
	Rumble               func(controller, lowFreq, highFreq uint16)
	SetHDRMode           func(enabled bool)
	StatusUpdate         func(status ConnectionStatus)

	// VideoSetup announces the negotiated video stream before any decode
	// unit is delivered.
	VideoSetup func(format codec.Format, width, height, fps int)

	AudioInit    func(cfg audio.Config) error
	AudioSample  func(data []byte)
	AudioCleanup func()
}

// Connection is the streaming protocol layer. Video decode units are pulled
// through the embedded decoder.Source.
type Connection interface {
	decoder.Source

	SetCallbacks(cb ConnectionCallbacks)
	// Start performs the handshake and starts the media streams. It blocks
	// until the stream is running or the handshake failed.
	Start(ctx context.Context, cfg StreamConfig) error
	Stop()
	// QuitApp asks the host to quit the streamed application.
	QuitApp(ctx context.Context) error
	EstimatedRTT() (rtt, variance time.Duration, ok bool)
	HostHDRMode() bool
}

// Platform is the windowing layer.
type Platform interface {
	CreateWindow(opts platform.WindowOptions) (platform.Window, error)
	DestroyWindow(w platform.Window)
	DesktopMode(display int) (platform.DisplayMode, bool)
	NativeMode(display int) (platform.DisplayMode, bool)
	CurrentMode(display int) (platform.DisplayMode, bool)
	DisplayModes(display int) []platform.DisplayMode
	SetDisplayMode(w platform.Window, mode platform.DisplayMode)
	SetFullscreen(w platform.Window, on bool)
	Events() <-chan platform.Event
	Push(ev platform.Event) bool
	FlushEvents(kinds ...platform.EventKind)
}

// Listener receives user-facing session notifications.
type Listener interface {
	StageStarting(stage string)
	StageFailed(stage string, errorCode int, failingPorts string)
	DisplayLaunchWarning(text string)
	DisplayLaunchError(text string)
	ConnectionStarted()
	QuitStarting()
	SessionFinished(portTestResult int)
}

// NopListener ignores every notification.
type NopListener struct{}

func (NopListener) StageStarting(string)            {}
func (NopListener) StageFailed(string, int, string) {}
func (NopListener) DisplayLaunchWarning(string)     {}
func (NopListener) DisplayLaunchError(string)       {}
func (NopListener) ConnectionStarted()              {}
func (NopListener) QuitStarting()                   {}
func (NopListener) SessionFinished(int)             {}
