//go:build linux

package backend

import (
	"os"
	"path/filepath"

	"github.com/ebitengine/purego"

	"github.com/jmylchreest/vidarr/internal/codec"
)

// VAProfile values from va.h.
const (
	vaProfileH264Main                = 6
	vaProfileH264High                = 7
	vaProfileH264ConstrainedBaseline = 13
	vaProfileHEVCMain                = 17
	vaProfileHEVCMain10              = 18
	vaProfileHEVCMain444             = 26
	vaProfileHEVCMain444_10          = 27
	vaProfileAV1Profile0             = 32
	vaProfileAV1Profile1             = 33
)

var vaProfileFormats = map[int32]codec.Format{
	vaProfileH264Main:                codec.FormatH264,
	vaProfileH264High:                codec.FormatH264,
	vaProfileH264ConstrainedBaseline: codec.FormatH264,
	vaProfileHEVCMain:                codec.FormatH265,
	vaProfileHEVCMain10:              codec.FormatH265Main10,
	vaProfileHEVCMain444:             codec.FormatH265RExt8444,
	vaProfileHEVCMain444_10:          codec.FormatH265RExt10444,
	vaProfileAV1Profile0:             codec.FormatAV1Main8 | codec.FormatAV1Main10,
	vaProfileAV1Profile1:             codec.FormatAV1High8444 | codec.FormatAV1High10444,
}

func queryProfiles(dt DeviceType) (codec.Format, bool) {
	if dt != DeviceVAAPI {
		return 0, false
	}
	nodes, _ := filepath.Glob("/dev/dri/renderD*")
	for _, node := range nodes {
		if formats, ok := queryVAProfiles(node); ok {
			return formats, true
		}
	}
	return 0, false
}

// queryVAProfiles opens a VA display on a DRM render node and maps the
// decode profiles it reports to client formats.
func queryVAProfiles(node string) (codec.Format, bool) {
	va, err := OpenLibrary([]string{"libva.so.2", "libva.so"}, nil)
	if err != nil {
		return 0, false
	}
	defer va.Close()
	vaDRM, err := OpenLibrary([]string{"libva-drm.so.2", "libva-drm.so"}, nil)
	if err != nil {
		return 0, false
	}
	defer vaDRM.Close()

	var (
		vaGetDisplayDRM       func(fd int32) uintptr
		vaInitialize          func(dpy uintptr, major, minor *int32) int32
		vaMaxNumProfiles      func(dpy uintptr) int32
		vaQueryConfigProfiles func(dpy uintptr, profiles *int32, num *int32) int32
		vaTerminate           func(dpy uintptr) int32
	)
	purego.RegisterLibFunc(&vaGetDisplayDRM, vaDRM.handle, "vaGetDisplayDRM")
	purego.RegisterLibFunc(&vaInitialize, va.handle, "vaInitialize")
	purego.RegisterLibFunc(&vaMaxNumProfiles, va.handle, "vaMaxNumProfiles")
	purego.RegisterLibFunc(&vaQueryConfigProfiles, va.handle, "vaQueryConfigProfiles")
	purego.RegisterLibFunc(&vaTerminate, va.handle, "vaTerminate")

	f, err := os.OpenFile(node, os.O_RDWR, 0)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	dpy := vaGetDisplayDRM(int32(f.Fd()))
	if dpy == 0 {
		return 0, false
	}
	var major, minor int32
	if vaInitialize(dpy, &major, &minor) != 0 {
		return 0, false
	}
	defer vaTerminate(dpy)

	maxProfiles := vaMaxNumProfiles(dpy)
	if maxProfiles <= 0 {
		return 0, false
	}
	profiles := make([]int32, maxProfiles)
	var num int32
	if vaQueryConfigProfiles(dpy, &profiles[0], &num) != 0 {
		return 0, false
	}

	var formats codec.Format
	for _, p := range profiles[:min(num, maxProfiles)] {
		formats |= vaProfileFormats[p]
	}
	return formats, true
}
