//go:build !darwin && !linux && !windows

package backend

import "errors"

var errNoDynamicLoading = errors.New("dynamic loading not supported on this platform")

func dlopen(string) (uintptr, error)         { return 0, errNoDynamicLoading }
func dlsym(uintptr, string) (uintptr, error) { return 0, errNoDynamicLoading }
func dlclose(uintptr) error                  { return nil }
