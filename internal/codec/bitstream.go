package codec

import (
	"errors"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/av1"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
)

// ErrUnsupportedFamily is returned for codec families without bitstream support.
var ErrUnsupportedFamily = errors.New("unsupported codec family")

// StreamParams are the parameters carried in a parameter set or sequence header.
type StreamParams struct {
	Width    int
	Height   int
	BitDepth int
	YUV444   bool
}

// Format returns the client format matching the parameters for family v.
func (p StreamParams) Format(v Video) Format {
	tenBit := p.BitDepth > 8
	switch v {
	case VideoH264:
		if p.YUV444 {
			return FormatH264High8444
		}
		return FormatH264
	case VideoH265:
		switch {
		case tenBit && p.YUV444:
			return FormatH265RExt10444
		case tenBit:
			return FormatH265Main10
		case p.YUV444:
			return FormatH265RExt8444
		default:
			return FormatH265
		}
	case VideoAV1:
		switch {
		case tenBit && p.YUV444:
			return FormatAV1High10444
		case tenBit:
			return FormatAV1Main10
		case p.YUV444:
			return FormatAV1High8444
		default:
			return FormatAV1Main8
		}
	default:
		return 0
	}
}

// SplitAccessUnit splits a decode unit into NAL units (H.264/H.265, Annex-B)
// or OBUs (AV1, low-overhead bitstream format).
func SplitAccessUnit(v Video, data []byte) ([][]byte, error) {
	switch v {
	case VideoH264, VideoH265:
		var au h264.AnnexB
		if err := au.Unmarshal(data); err != nil {
			return nil, fmt.Errorf("unmarshal annex-b: %w", err)
		}
		return au, nil
	case VideoAV1:
		var bs av1.Bitstream
		if err := bs.Unmarshal(data); err != nil {
			return nil, fmt.Errorf("unmarshal av1 bitstream: %w", err)
		}
		return bs, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFamily, v)
	}
}

// JoinAccessUnit is the inverse of SplitAccessUnit.
func JoinAccessUnit(v Video, au [][]byte) ([]byte, error) {
	switch v {
	case VideoH264, VideoH265:
		return h264.AnnexB(au).Marshal()
	case VideoAV1:
		return av1.Bitstream(au).Marshal()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFamily, v)
	}
}

// IsKeyFrame reports whether the access unit can start decoding.
func IsKeyFrame(v Video, au [][]byte) bool {
	switch v {
	case VideoH264:
		return h264.IsRandomAccess(au)
	case VideoH265:
		return h265.IsRandomAccess(au)
	case VideoAV1:
		for _, obu := range au {
			if len(obu) > 0 && av1.OBUType((obu[0]>>3)&0x0F) == av1.OBUTypeSequenceHeader {
				return true
			}
		}
	}
	return false
}

// ProbeParams parses the first parameter set in the access unit. It reports
// false if none is present or it cannot be parsed.
func ProbeParams(v Video, au [][]byte) (StreamParams, bool) {
	for _, unit := range au {
		if len(unit) == 0 {
			continue
		}
		switch v {
		case VideoH264:
			if h264.NALUType(unit[0]&0x1F) != h264.NALUTypeSPS {
				continue
			}
			var sps h264.SPS
			if err := sps.Unmarshal(unit); err != nil {
				return StreamParams{}, false
			}
			// High 4:4:4 Predictive
			return StreamParams{
				Width:    sps.Width(),
				Height:   sps.Height(),
				BitDepth: 8,
				YUV444:   sps.ProfileIdc == 244,
			}, true
		case VideoH265:
			if h265.NALUType((unit[0]>>1)&0x3F) != h265.NALUType_SPS_NUT {
				continue
			}
			var sps h265.SPS
			if err := sps.Unmarshal(unit); err != nil {
				return StreamParams{}, false
			}
			return StreamParams{
				Width:    sps.Width(),
				Height:   sps.Height(),
				BitDepth: int(sps.BitDepthLumaMinus8) + 8,
				YUV444:   sps.ChromaFormatIdc == 3,
			}, true
		case VideoAV1:
			if av1.OBUType((unit[0]>>3)&0x0F) != av1.OBUTypeSequenceHeader {
				continue
			}
			var hdr av1.SequenceHeader
			if err := hdr.Unmarshal(unit); err != nil {
				return StreamParams{}, false
			}
			return StreamParams{
				Width:    hdr.Width(),
				Height:   hdr.Height(),
				BitDepth: hdr.ColorConfig.BitDepth,
				YUV444:   hdr.SeqProfile == 1,
			}, true
		}
	}
	return StreamParams{}, false
}
