// Package platform provides the windowing layer a streaming session presents
// into. Headless is the only implementation; it keeps display and window
// state in memory and accepts frames without drawing them.
package platform

import "fmt"

// DisplayMode is a display resolution and refresh rate. A zero refresh rate
// is unknown.
type DisplayMode struct {
	Width       int `json:"width" yaml:"width"`
	Height      int `json:"height" yaml:"height"`
	RefreshRate int `json:"refresh_rate" yaml:"refresh_rate"`
}

func (m DisplayMode) String() string {
	return fmt.Sprintf("%dx%dx%d", m.Width, m.Height, m.RefreshRate)
}

// Display describes one attached display.
type Display struct {
	Name string
	// Desktop is the desktop mode, possibly scaled.
	Desktop DisplayMode
	// Native is the unscaled panel mode.
	Native DisplayMode
	// Current is the mode in effect.
	Current DisplayMode
	// Modes lists the modes the display can be set to.
	Modes []DisplayMode
}

// DefaultDisplay is a 1080p60 panel that also offers 720p and 120 Hz modes.
func DefaultDisplay() Display {
	desktop := DisplayMode{Width: 1920, Height: 1080, RefreshRate: 60}
	return Display{
		Name:    "headless-0",
		Desktop: desktop,
		Native:  desktop,
		Current: desktop,
		Modes: []DisplayMode{
			{Width: 1920, Height: 1080, RefreshRate: 120},
			desktop,
			{Width: 1280, Height: 720, RefreshRate: 60},
		},
	}
}
