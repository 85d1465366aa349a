//go:build !linux

package backend

import "github.com/jmylchreest/vidarr/internal/codec"

func queryProfiles(DeviceType) (codec.Format, bool) {
	return 0, false
}
