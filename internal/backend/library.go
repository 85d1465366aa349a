package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrLibraryNotFound is returned when no candidate library could be loaded.
	ErrLibraryNotFound = errors.New("library not found")

	// ErrSymbolNotFound is returned when a loaded library lacks a required symbol.
	ErrSymbolNotFound = errors.New("symbol not found")
)

// Library is a dynamically loaded native library.
type Library struct {
	Path   string
	handle uintptr
}

// OpenLibrary loads the first loadable candidate that exports every symbol.
func OpenLibrary(candidates, symbols []string) (*Library, error) {
	var lastErr error
	for _, path := range candidates {
		handle, err := dlopen(path)
		if err != nil {
			lastErr = err
			continue
		}
		lib := &Library{Path: path, handle: handle}
		if err := lib.resolve(symbols); err != nil {
			_ = lib.Close()
			lastErr = err
			continue
		}
		return lib, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrLibraryNotFound, lastErr)
	}
	return nil, ErrLibraryNotFound
}

func (l *Library) resolve(symbols []string) error {
	for _, name := range symbols {
		if _, err := l.Symbol(name); err != nil {
			return err
		}
	}
	return nil
}

// Symbol returns the address of an exported symbol.
func (l *Library) Symbol(name string) (uintptr, error) {
	addr, err := dlsym(l.handle, name)
	if err != nil || addr == 0 {
		return 0, fmt.Errorf("%w: %s in %s", ErrSymbolNotFound, name, l.Path)
	}
	return addr, nil
}

// Close unloads the library.
func (l *Library) Close() error {
	if l.handle == 0 {
		return nil
	}
	err := dlclose(l.handle)
	l.handle = 0
	return err
}

// probeLibrary loads and immediately releases a library, returning the path
// that satisfied the probe.
func probeLibrary(candidates, symbols []string) (string, error) {
	lib, err := OpenLibrary(candidates, symbols)
	if err != nil {
		return "", err
	}
	defer lib.Close()
	return lib.Path, nil
}
