package backend

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/jmylchreest/vidarr/internal/codec"
)

// DeviceType is a hardware decode device type exposed by a decoder
// implementation's hardware configurations.
type DeviceType string

const (
	DeviceNone         DeviceType = ""
	DeviceVAAPI        DeviceType = "vaapi"        // VA-API (Linux)
	DeviceVDPAU        DeviceType = "vdpau"        // VDPAU (Linux, X11)
	DeviceCUDA         DeviceType = "cuda"         // NVIDIA NVDEC
	DeviceQSV          DeviceType = "qsv"          // Intel Quick Sync
	DeviceDXVA2        DeviceType = "dxva2"        // Windows (older)
	DeviceD3D11VA      DeviceType = "d3d11va"      // Windows 8+
	DeviceD3D12VA      DeviceType = "d3d12va"      // Windows 10+
	DeviceVideoToolbox DeviceType = "videotoolbox" // macOS
	DeviceDRM          DeviceType = "drm"          // V4L2 request API, DRM PRIME output
	DeviceVulkan       DeviceType = "vulkan"       // Vulkan video
	DeviceMediaCodec   DeviceType = "mediacodec"   // Android
	DeviceOpenCL       DeviceType = "opencl"
)

// knownDeviceTypes have dedicated backends somewhere. The generic hwaccel
// backend never serves them, even on platforms where the dedicated backend
// is missing.
var knownDeviceTypes = []DeviceType{
	DeviceVDPAU, DeviceCUDA, DeviceVAAPI, DeviceDXVA2, DeviceQSV,
	DeviceVideoToolbox, DeviceD3D11VA, DeviceDRM, DeviceVulkan, DeviceD3D12VA,
}

// IsKnown reports whether dt has a dedicated backend.
func (dt DeviceType) IsKnown() bool {
	return slices.Contains(knownDeviceTypes, dt)
}

// ParseDeviceType parses a device type name such as "vaapi".
func ParseDeviceType(s string) DeviceType {
	return DeviceType(strings.ToLower(strings.TrimSpace(s)))
}

// DeviceInfo describes the availability of a hardware decode device type.
type DeviceInfo struct {
	Type       DeviceType `json:"type"`
	Name       string     `json:"name"`
	Available  bool       `json:"available"`
	DeviceName string     `json:"device_name,omitempty"`
	Library    string     `json:"library,omitempty"`
	Formats    []string   `json:"formats,omitempty"`
}

// Detector detects available hardware decode devices.
type Detector struct {
	host *Host
}

// NewDetector creates a detector probing host.
func NewDetector(host *Host) *Detector {
	return &Detector{host: host}
}

// Detect tests every device type that has a backend on the host platform.
func (d *Detector) Detect(ctx context.Context) ([]DeviceInfo, error) {
	var results []DeviceInfo
	for _, dt := range deviceTypesFor(d.host.GOOS) {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		info := DeviceInfo{Type: dt, Name: string(dt)}
		info.Available, info.DeviceName, info.Library = d.testDevice(dt)
		if info.Available {
			if formats, ok := d.host.profiles(dt); ok {
				for _, f := range codec.AllFormats() {
					if formats&f != 0 {
						info.Formats = append(info.Formats, f.String())
					}
				}
			}
		}

		slog.Debug("hardware device probed",
			slog.String("device_type", string(dt)),
			slog.Bool("available", info.Available),
			slog.String("device", info.DeviceName),
		)
		results = append(results, info)
	}
	return results, nil
}

// deviceTypesFor lists the device types served by some backend on goos.
func deviceTypesFor(goos string) []DeviceType {
	var out []DeviceType
	for _, spec := range specs {
		if spec.Device == DeviceNone || !spec.supportsOS(goos) {
			continue
		}
		if !slices.Contains(out, spec.Device) {
			out = append(out, spec.Device)
		}
	}
	slices.Sort(out)
	return out
}

// testDevice tests whether a device type is usable on the host.
func (d *Detector) testDevice(dt DeviceType) (bool, string, string) {
	for _, spec := range specs {
		if spec.Device != dt || !spec.supportsOS(d.host.GOOS) {
			continue
		}
		lib, device, err := spec.probe(d.host)
		if err == nil {
			return true, device, lib
		}
	}
	return false, "", ""
}

// Recommended returns the best available device.
func Recommended(devices []DeviceInfo) *DeviceInfo {
	priority := []DeviceType{
		DeviceD3D11VA,      // Windows
		DeviceVideoToolbox, // macOS - platform native
		DeviceVAAPI,        // Linux - broadest driver coverage
		DeviceVDPAU,
		DeviceCUDA,
		DeviceDXVA2, // Windows (older)
		DeviceVulkan,
		DeviceDRM,
	}

	for _, prio := range priority {
		for i := range devices {
			if devices[i].Type == prio && devices[i].Available {
				return &devices[i]
			}
		}
	}
	return nil
}
