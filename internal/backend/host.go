package backend

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/jmylchreest/vidarr/internal/codec"
)

// Host abstracts the machine a backend probes during Initialize.
type Host struct {
	GOOS string

	// Probe loads the first candidate library exporting every symbol and
	// returns its path.
	Probe func(candidates, symbols []string) (string, error)

	// Glob lists device nodes matching pattern.
	Glob func(pattern string) []string

	Getenv func(key string) string

	// Profiles reports the formats the hardware of device type dt can
	// decode. ok is false when the driver cannot be queried.
	Profiles func(dt DeviceType) (formats codec.Format, ok bool)
}

// SystemHost probes the running machine.
func SystemHost() *Host {
	return &Host{
		GOOS:  runtime.GOOS,
		Probe: probeLibrary,
		Glob: func(pattern string) []string {
			matches, _ := filepath.Glob(pattern)
			return matches
		},
		Getenv:   os.Getenv,
		Profiles: queryProfiles,
	}
}

func (h *Host) probe(candidates, symbols []string) (string, error) {
	if h.Probe == nil {
		return "", ErrLibraryNotFound
	}
	return h.Probe(candidates, symbols)
}

func (h *Host) glob(pattern string) []string {
	if h.Glob == nil {
		return nil
	}
	return h.Glob(pattern)
}

func (h *Host) getenv(key string) string {
	if h.Getenv == nil {
		return ""
	}
	return h.Getenv(key)
}

func (h *Host) profiles(dt DeviceType) (codec.Format, bool) {
	if h.Profiles == nil {
		return 0, false
	}
	return h.Profiles(dt)
}

// HasLibrary reports whether one of candidates loads with every symbol.
func (h *Host) HasLibrary(candidates []string, symbols ...string) bool {
	_, err := h.probe(candidates, symbols)
	return err == nil
}

// DeviceNodes lists device nodes matching pattern.
func (h *Host) DeviceNodes(pattern string) []string {
	return h.glob(pattern)
}
