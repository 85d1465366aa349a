package render

import "time"

// Colorspace is the YUV colorspace requested from the host.
type Colorspace int

const (
	ColorspaceRec601  Colorspace = 0
	ColorspaceRec709  Colorspace = 1
	ColorspaceRec2020 Colorspace = 2
)

func (c Colorspace) String() string {
	switch c {
	case ColorspaceRec709:
		return "rec709"
	case ColorspaceRec2020:
		return "rec2020"
	default:
		return "rec601"
	}
}

// ColorRange is the quantization range requested from the host.
type ColorRange int

const (
	ColorRangeLimited ColorRange = 0
	ColorRangeFull    ColorRange = 1
)

func (r ColorRange) String() string {
	if r == ColorRangeFull {
		return "full"
	}
	return "limited"
}

// FrameRange is the quantization range tagged on a decoded frame.
type FrameRange uint8

const (
	RangeUnspecified FrameRange = iota
	RangeMPEG
	RangeJPEG
)

// MatrixCoefficients uses the ISO/IEC 23091-4 code points.
type MatrixCoefficients uint8

const (
	MatrixRGB         MatrixCoefficients = 0
	MatrixBT709       MatrixCoefficients = 1
	MatrixUnspecified MatrixCoefficients = 2
	MatrixBT470BG     MatrixCoefficients = 5
	MatrixSMPTE170M   MatrixCoefficients = 6
	MatrixBT2020NCL   MatrixCoefficients = 9
	MatrixBT2020CL    MatrixCoefficients = 10
)

// ColorPrimaries uses the ISO/IEC 23091-4 code points.
type ColorPrimaries uint8

const (
	PrimariesBT709       ColorPrimaries = 1
	PrimariesUnspecified ColorPrimaries = 2
	PrimariesBT2020      ColorPrimaries = 9
)

// TransferCharacteristic uses the ISO/IEC 23091-4 code points.
type TransferCharacteristic uint8

const (
	TransferBT709       TransferCharacteristic = 1
	TransferUnspecified TransferCharacteristic = 2
	TransferSMPTE2084   TransferCharacteristic = 16
)

// ChromaLocation is the chroma sample siting.
type ChromaLocation uint8

const (
	ChromaUnspecified ChromaLocation = iota
	ChromaLeft
	ChromaCenter
	ChromaTopLeft
	ChromaTop
	ChromaBottomLeft
	ChromaBottom
)

// HDRMetadata is the mastering display and content light level metadata
// attached to HDR frames.
type HDRMetadata struct {
	DisplayPrimaries          [3][2]uint16
	WhitePoint                [2]uint16
	MaxDisplayLuminance       uint16
	MinDisplayLuminance       uint16
	MaxContentLightLevel      uint16
	MaxFrameAverageLightLevel uint16
}

// Frame is a decoded picture.
type Frame struct {
	Format         PixelFormat
	SWFormat       PixelFormat
	Width          int
	Height         int
	Range          FrameRange
	Primaries      ColorPrimaries
	Transfer       TransferCharacteristic
	Matrix         MatrixCoefficients
	ChromaLocation ChromaLocation
	KeyFrame       bool
	FrameNumber    int
	PTS            time.Duration
	Planes         [][]byte
	Surface        any
	HDR            *HDRMetadata

	// Set by the decode loop for stats.
	ReceiveTime time.Time
	DecodeEnd   time.Time
}

// SWPixelFormat returns the underlying memory format of f.
func (f *Frame) SWPixelFormat() PixelFormat {
	if f.Format.IsHWAccel() && f.SWFormat != PixFmtNone {
		return f.SWFormat
	}
	return f.Format
}
