package render

// Full range YUV to RGB matrices, column-major.
var (
	cscMatrixBT601 = [9]float32{
		1.0, 1.0, 1.0,
		0.0, -0.3441, 1.7720,
		1.4020, -0.7141, 0.0,
	}
	cscMatrixBT709 = [9]float32{
		1.0, 1.0, 1.0,
		0.0, -0.1873, 1.8556,
		1.5748, -0.4681, 0.0,
	}
	cscMatrixBT2020 = [9]float32{
		1.0, 1.0, 1.0,
		0.0, -0.1646, 1.8814,
		1.4746, -0.5714, 0.0,
	}
)

// FrameColorspace returns the colorspace tagged on the frame, or fallback
// (the colorspace requested from the host) when the frame is untagged.
func FrameColorspace(f *Frame, fallback Colorspace) Colorspace {
	switch f.Matrix {
	case MatrixSMPTE170M, MatrixBT470BG:
		return ColorspaceRec601
	case MatrixBT709:
		return ColorspaceRec709
	case MatrixBT2020NCL, MatrixBT2020CL:
		return ColorspaceRec2020
	default:
		return fallback
	}
}

// IsFullRange reports whether the frame uses full range. Untagged frames are
// limited range.
func IsFullRange(f *Frame) bool {
	return f.Range == RangeJPEG
}

// BitsPerChannel returns the bit depth of the luma plane.
func BitsPerChannel(f *Frame) int {
	return f.SWPixelFormat().Depth()
}

// CSC holds premultiplied color conversion constants for a shader.
type CSC struct {
	Matrix  [9]float32
	Offsets [3]float32
}

// CSCConstants returns the YUV to RGB conversion for the frame, scaled for
// its bit depth and range.
func CSCConstants(f *Frame, fallback Colorspace) CSC {
	fullRange := IsFullRange(f)
	bits := BitsPerChannel(f)
	channelRange := 1 << bits

	var yMin, yMax, uvMin, uvMax float64
	if fullRange {
		yMax = float64(channelRange - 1)
		uvMax = float64(channelRange - 1)
	} else {
		yMin = float64(int(16) << (bits - 8))
		yMax = float64(int(235) << (bits - 8))
		uvMin = float64(int(16) << (bits - 8))
		uvMax = float64(int(240) << (bits - 8))
	}
	yScale := float64(channelRange-1) / (yMax - yMin)
	uvScale := float64(channelRange-1) / (uvMax - uvMin)

	var out CSC
	out.Offsets[0] = float32(yMin / float64(channelRange-1))
	out.Offsets[1] = float32(float64(channelRange/2) / float64(channelRange-1))
	out.Offsets[2] = out.Offsets[1]

	switch FrameColorspace(f, fallback) {
	case ColorspaceRec709:
		out.Matrix = cscMatrixBT709
	case ColorspaceRec2020:
		out.Matrix = cscMatrixBT2020
	default:
		out.Matrix = cscMatrixBT601
	}

	for i := 0; i < 3; i++ {
		out.Matrix[i] = float32(float64(out.Matrix[i]) * yScale)
	}
	for i := 3; i < 9; i++ {
		out.Matrix[i] = float32(float64(out.Matrix[i]) * uvScale)
	}
	return out
}

// ChromaCositingOffsets returns the chroma sample offsets for the frame.
// Dimensions without chroma subsampling are always zero.
func ChromaCositingOffsets(f *Frame) [2]float32 {
	var off [2]float32
	switch f.ChromaLocation {
	case ChromaCenter:
	case ChromaTopLeft:
		off = [2]float32{0.5, 0.5}
	case ChromaTop:
		off = [2]float32{0, 0.5}
	case ChromaBottomLeft:
		off = [2]float32{0.5, -0.5}
	case ChromaBottom:
		off = [2]float32{0, -0.5}
	default:
		off = [2]float32{0.5, 0}
	}

	w, h := f.SWPixelFormat().ChromaShift()
	if w == 0 {
		off[0] = 0
	}
	if h == 0 {
		off[1] = 0
	}
	return off
}

// FormatTracker detects changes in the frame properties that invalidate
// cached render state.
type FormatTracker struct {
	width, height  int
	format         PixelFormat
	rng            FrameRange
	primaries      ColorPrimaries
	transfer       TransferCharacteristic
	matrix         MatrixCoefficients
	chromaLocation ChromaLocation
}

// Changed reports whether f differs from the previous frame and records it.
func (t *FormatTracker) Changed(f *Frame) bool {
	next := FormatTracker{
		width:          f.Width,
		height:         f.Height,
		format:         f.SWPixelFormat(),
		rng:            f.Range,
		primaries:      f.Primaries,
		transfer:       f.Transfer,
		matrix:         f.Matrix,
		chromaLocation: f.ChromaLocation,
	}
	if next == *t {
		return false
	}
	*t = next
	return true
}
