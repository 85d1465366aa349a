package render

// PixelFormat identifies a frame memory layout. Hardware formats describe
// opaque surfaces whose real layout is the frame's SWFormat.
type PixelFormat int

// Pixel formats.
const (
	PixFmtNone PixelFormat = iota
	PixFmtYUV420P
	PixFmtYUVJ420P
	PixFmtNV12
	PixFmtNV21
	PixFmtP010
	PixFmtYUV420P10
	PixFmtYUV444P
	PixFmtYUV444P10
	PixFmtBGR0

	PixFmtVAAPI
	PixFmtVDPAU
	PixFmtCUDA
	PixFmtD3D11
	PixFmtDXVA2
	PixFmtVideoToolbox
	PixFmtDRMPrime
	PixFmtVulkan
	PixFmtMMAL
	PixFmtQSV
	PixFmtD3D12
)

type pixFmtDescriptor struct {
	name        string
	depth       int
	log2ChromaW int
	log2ChromaH int
	hwaccel     bool
}

var pixFmtDescriptors = map[PixelFormat]pixFmtDescriptor{
	PixFmtYUV420P:   {name: "yuv420p", depth: 8, log2ChromaW: 1, log2ChromaH: 1},
	PixFmtYUVJ420P:  {name: "yuvj420p", depth: 8, log2ChromaW: 1, log2ChromaH: 1},
	PixFmtNV12:      {name: "nv12", depth: 8, log2ChromaW: 1, log2ChromaH: 1},
	PixFmtNV21:      {name: "nv21", depth: 8, log2ChromaW: 1, log2ChromaH: 1},
	PixFmtP010:      {name: "p010", depth: 10, log2ChromaW: 1, log2ChromaH: 1},
	PixFmtYUV420P10: {name: "yuv420p10", depth: 10, log2ChromaW: 1, log2ChromaH: 1},
	PixFmtYUV444P:   {name: "yuv444p", depth: 8},
	PixFmtYUV444P10: {name: "yuv444p10", depth: 10},
	PixFmtBGR0:      {name: "bgr0", depth: 8},

	PixFmtVAAPI:        {name: "vaapi", hwaccel: true},
	PixFmtVDPAU:        {name: "vdpau", hwaccel: true},
	PixFmtCUDA:         {name: "cuda", hwaccel: true},
	PixFmtD3D11:        {name: "d3d11", hwaccel: true},
	PixFmtDXVA2:        {name: "dxva2_vld", hwaccel: true},
	PixFmtVideoToolbox: {name: "videotoolbox_vld", hwaccel: true},
	PixFmtDRMPrime:     {name: "drm_prime", hwaccel: true},
	PixFmtVulkan:       {name: "vulkan", hwaccel: true},
	PixFmtMMAL:         {name: "mmal", hwaccel: true},
	PixFmtQSV:          {name: "qsv", hwaccel: true},
	PixFmtD3D12:        {name: "d3d12", hwaccel: true},
}

func (p PixelFormat) String() string {
	if d, ok := pixFmtDescriptors[p]; ok {
		return d.name
	}
	return "none"
}

// Known reports whether p has a descriptor.
func (p PixelFormat) Known() bool {
	_, ok := pixFmtDescriptors[p]
	return ok
}

// IsHWAccel reports whether p is an opaque hardware surface format. These
// are the zero-copy output formats of hardware decoders.
func (p PixelFormat) IsHWAccel() bool {
	return pixFmtDescriptors[p].hwaccel
}

// Depth returns the bit depth of plane 0, or 8 for unknown and hardware
// formats.
func (p PixelFormat) Depth() int {
	if d := pixFmtDescriptors[p].depth; d > 0 {
		return d
	}
	return 8
}

// ChromaShift returns log2 of the horizontal and vertical chroma subsampling.
func (p PixelFormat) ChromaShift() (w, h int) {
	d := pixFmtDescriptors[p]
	return d.log2ChromaW, d.log2ChromaH
}
