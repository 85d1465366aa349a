// Package codec provides the video format model used during stream negotiation.
// It consolidates codec family names, the per-profile format bit-flags shared
// with the streaming protocol, and the host codec-mode mapping.
package codec

import (
	"fmt"
	"strings"
)

// Video represents a video codec family.
type Video string

// Video codec family constants.
const (
	VideoH264 Video = "h264" // H.264/AVC
	VideoH265 Video = "h265" // H.265/HEVC
	VideoAV1  Video = "av1"  // AV1
)

// String returns the string representation of the video codec.
func (v Video) String() string {
	return string(v)
}

// Mask returns the format mask covering every profile of the family.
func (v Video) Mask() Format {
	switch v {
	case VideoH264:
		return MaskH264
	case VideoH265:
		return MaskH265
	case VideoAV1:
		return MaskAV1
	default:
		return 0
	}
}

// videoAliases maps every accepted spelling to its canonical family.
var videoAliases = map[string]Video{
	"h264": VideoH264,
	"avc":  VideoH264,
	"avc1": VideoH264,
	"h265": VideoH265,
	"hevc": VideoH265,
	"hev1": VideoH265,
	"hvc1": VideoH265,
	"av1":  VideoAV1,
	"av01": VideoAV1,
}

// ParseVideo parses a codec name or alias to a Video codec family.
func ParseVideo(s string) (Video, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	v, ok := videoAliases[s]
	return v, ok
}

// Normalize converts a codec alias to its canonical form.
// Returns the input unchanged if not recognized.
func Normalize(name string) string {
	if v, ok := ParseVideo(name); ok {
		return string(v)
	}
	return name
}

// Format is a single codec+profile+bit-depth+chroma combination. Values are
// bit-flags so sets of formats can be carried as one mask.
type Format uint32

// Format constants. The values are part of the streaming protocol.
const (
	FormatH264          Format = 0x0001
	FormatH264High8444  Format = 0x0004
	FormatH265          Format = 0x0100
	FormatH265Main10    Format = 0x0200
	FormatH265RExt8444  Format = 0x0400
	FormatH265RExt10444 Format = 0x0800
	FormatAV1Main8      Format = 0x1000
	FormatAV1Main10     Format = 0x2000
	FormatAV1High8444   Format = 0x4000
	FormatAV1High10444  Format = 0x8000
)

// Format masks.
const (
	MaskH264   Format = 0x000F
	MaskH265   Format = 0x0F00
	MaskAV1    Format = 0xF000
	Mask10Bit  Format = 0xAA00
	MaskYUV444 Format = 0xCC04
)

// formatInfo contains metadata about a format bit.
type formatInfo struct {
	Name    string
	Aliases []string
	Family  Video
}

var formatRegistry = map[Format]formatInfo{
	FormatH264:          {Name: "h264", Aliases: []string{"avc"}, Family: VideoH264},
	FormatH264High8444:  {Name: "h264-high8-444", Aliases: []string{"h264-444"}, Family: VideoH264},
	FormatH265:          {Name: "hevc", Aliases: []string{"h265", "hevc-main"}, Family: VideoH265},
	FormatH265Main10:    {Name: "hevc-main10", Aliases: []string{"h265-main10"}, Family: VideoH265},
	FormatH265RExt8444:  {Name: "hevc-rext8-444", Aliases: []string{"h265-rext8-444"}, Family: VideoH265},
	FormatH265RExt10444: {Name: "hevc-rext10-444", Aliases: []string{"h265-rext10-444"}, Family: VideoH265},
	FormatAV1Main8:      {Name: "av1-main8", Aliases: []string{"av1"}, Family: VideoAV1},
	FormatAV1Main10:     {Name: "av1-main10", Family: VideoAV1},
	FormatAV1High8444:   {Name: "av1-high8-444", Family: VideoAV1},
	FormatAV1High10444:  {Name: "av1-high10-444", Family: VideoAV1},
}

var formatAliasIndex map[string]Format

func init() {
	formatAliasIndex = make(map[string]Format, len(formatRegistry)*2)
	for f, info := range formatRegistry {
		formatAliasIndex[info.Name] = f
		for _, alias := range info.Aliases {
			formatAliasIndex[alias] = f
		}
	}
}

// AllFormats returns every known single format in ascending bit order.
func AllFormats() []Format {
	return []Format{
		FormatH264, FormatH264High8444,
		FormatH265, FormatH265Main10, FormatH265RExt8444, FormatH265RExt10444,
		FormatAV1Main8, FormatAV1Main10, FormatAV1High8444, FormatAV1High10444,
	}
}

// ParseFormat parses a format name such as "hevc-main10".
func ParseFormat(s string) (Format, bool) {
	f, ok := formatAliasIndex[strings.ToLower(strings.TrimSpace(s))]
	return f, ok
}

// String returns the format name. Masks covering several formats render as
// a "|"-joined list.
func (f Format) String() string {
	if info, ok := formatRegistry[f]; ok {
		return info.Name
	}
	if f == 0 {
		return "none"
	}
	var names []string
	rest := f
	for _, single := range AllFormats() {
		if f&single != 0 {
			names = append(names, formatRegistry[single].Name)
			rest &^= single
		}
	}
	if rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(names, "|")
}

// Family returns the codec family of a single format, or "" if the value
// spans several families or none.
func (f Format) Family() Video {
	switch {
	case f != 0 && f&^MaskH264 == 0:
		return VideoH264
	case f != 0 && f&^MaskH265 == 0:
		return VideoH265
	case f != 0 && f&^MaskAV1 == 0:
		return VideoAV1
	default:
		return ""
	}
}

// Is10Bit reports whether any bit of f is a 10-bit profile.
func (f Format) Is10Bit() bool { return f&Mask10Bit != 0 }

// IsYUV444 reports whether any bit of f is a 4:4:4 profile.
func (f Format) IsYUV444() bool { return f&MaskYUV444 != 0 }

// ServerCodecMode is the host-advertised codec support bitmask.
type ServerCodecMode uint32

// Server codec mode bits.
const (
	SCMH264          ServerCodecMode = 0x00001
	SCMHEVC          ServerCodecMode = 0x00100
	SCMHEVCMain10    ServerCodecMode = 0x00200
	SCMAV1Main8      ServerCodecMode = 0x10000
	SCMAV1Main10     ServerCodecMode = 0x20000
	SCMH264High8444  ServerCodecMode = 0x40000
	SCMHEVCRExt8444  ServerCodecMode = 0x80000
	SCMHEVCRExt10444 ServerCodecMode = 0x100000
	SCMAV1High8444   ServerCodecMode = 0x200000
	SCMAV1High10444  ServerCodecMode = 0x400000
)

// Server codec mode masks.
const (
	SCMMaskH264   = SCMH264 | SCMH264High8444
	SCMMaskHEVC   = SCMHEVC | SCMHEVCMain10 | SCMHEVCRExt8444 | SCMHEVCRExt10444
	SCMMaskAV1    = SCMAV1Main8 | SCMAV1Main10 | SCMAV1High8444 | SCMAV1High10444
	SCMMask10Bit  = SCMHEVCMain10 | SCMHEVCRExt10444 | SCMAV1Main10 | SCMAV1High10444
	SCMMaskYUV444 = SCMH264High8444 | SCMHEVCRExt8444 | SCMHEVCRExt10444 | SCMAV1High8444 | SCMAV1High10444
)

// serverCodecModeFormats is the host mode to client format mapping.
var serverCodecModeFormats = []struct {
	mode   ServerCodecMode
	format Format
}{
	{SCMH264, FormatH264},
	{SCMH264High8444, FormatH264High8444},
	{SCMHEVC, FormatH265},
	{SCMHEVCMain10, FormatH265Main10},
	{SCMHEVCRExt8444, FormatH265RExt8444},
	{SCMHEVCRExt10444, FormatH265RExt10444},
	{SCMAV1Main8, FormatAV1Main8},
	{SCMAV1Main10, FormatAV1Main10},
	{SCMAV1High8444, FormatAV1High8444},
	{SCMAV1High10444, FormatAV1High10444},
}

// Formats maps host codec modes into client format space. Unknown mode bits
// are ignored.
func (m ServerCodecMode) Formats() Format {
	var mask Format
	for _, e := range serverCodecModeFormats {
		if m&e.mode != 0 {
			mask |= e.format
		}
	}
	return mask
}

// String returns the list of client formats the mode maps to.
func (m ServerCodecMode) String() string {
	return m.Formats().String()
}
