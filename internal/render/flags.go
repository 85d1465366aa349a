package render

import "strings"

// Attribute is a bitmask of static renderer properties.
type Attribute uint32

// Renderer attributes.
const (
	AttrFullscreenOnly Attribute = 0x01
	Attr1080pMax       Attribute = 0x02
	AttrHDRSupport     Attribute = 0x04
	AttrNoBuffering    Attribute = 0x08
	AttrForcePacing    Attribute = 0x10
)

// Has reports whether all bits of f are set.
func (a Attribute) Has(f Attribute) bool { return a&f == f }

func (a Attribute) String() string {
	var names []string
	for _, e := range []struct {
		flag Attribute
		name string
	}{
		{AttrFullscreenOnly, "fullscreen-only"},
		{Attr1080pMax, "1080p-max"},
		{AttrHDRSupport, "hdr"},
		{AttrNoBuffering, "no-buffering"},
		{AttrForcePacing, "force-pacing"},
	} {
		if a.Has(e.flag) {
			names = append(names, e.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// Capability is the decoder capability bitmask reported to the streaming
// protocol.
type Capability uint32

// Decoder capabilities.
const (
	CapDirectSubmit                   Capability = 0x01
	CapReferenceFrameInvalidationAVC  Capability = 0x02
	CapReferenceFrameInvalidationHEVC Capability = 0x04
	CapPullRenderer                   Capability = 0x20
	CapReferenceFrameInvalidationAV1  Capability = 0x40
)

const slicesShift = 24

// CapSlicesPerFrame encodes the preferred number of slices per frame.
func CapSlicesPerFrame(n int) Capability {
	return Capability(uint32(n&0xFF) << slicesShift)
}

// SlicesPerFrame decodes the slices-per-frame field.
func (c Capability) SlicesPerFrame() int {
	return int(uint32(c) >> slicesShift)
}

// Has reports whether all bits of f are set.
func (c Capability) Has(f Capability) bool { return c&f == f }
