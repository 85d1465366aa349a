package decoder

import (
	"errors"
	"fmt"

	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/render"
)

// ErrInvalidData is returned by Send for undecodable input.
var ErrInvalidData = errors.New("decoder: invalid data")

var errClosed = errors.New("decoder: closed")

// bitstreamDecoder parses access units and emits one frame per decodable
// unit. Reconstruction happens on the hardware device or in the presenter.
type bitstreamDecoder struct {
	family   codec.Video
	format   render.PixelFormat
	swFormat render.PixelFormat
	width    int
	height   int
	maxDepth int

	// delay is the number of units held before output starts.
	delay int

	configured bool
	frames     int
	pending    []*render.Frame
	closed     bool
}

// openBitstream returns an Open function for family. swFormats are the
// software output formats, offered after the hardware surface format.
func openBitstream(family codec.Video, swFormats []render.PixelFormat, delay int) func(OpenConfig) (Context, error) {
	return func(cfg OpenConfig) (Context, error) {
		var offered []render.PixelFormat
		if cfg.HWConfig != nil {
			if cfg.Decoder.HWDevice == nil {
				return nil, fmt.Errorf("%s: no hardware device attached", family)
			}
			offered = append(offered, cfg.HWConfig.PixelFormat)
		}
		offered = append(offered, swFormats...)
		if len(offered) == 0 {
			return nil, fmt.Errorf("%s: no output formats without a hardware device", family)
		}

		format := offered[0]
		if cfg.GetFormat != nil {
			format = cfg.GetFormat(offered)
		}
		if format == render.PixFmtNone {
			return nil, fmt.Errorf("%s: no usable output format in %v", family, offered)
		}

		d := &bitstreamDecoder{
			family: family,
			format: format,
			width:  cfg.Decoder.Width,
			height: cfg.Decoder.Height,
			delay:  delay,
		}
		if format.IsHWAccel() {
			d.swFormat = render.DefaultPreferredPixelFormat(cfg.Decoder.Format)
			if d.swFormat == render.PixFmtYUV420P {
				d.swFormat = render.PixFmtNV12
			}
			d.maxDepth = 10
		} else {
			d.maxDepth = format.Depth()
		}
		return d, nil
	}
}

func (d *bitstreamDecoder) Send(pkt Packet) error {
	if d.closed {
		return errClosed
	}
	au, err := codec.SplitAccessUnit(d.family, pkt.Data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidData, err)
	}

	key := codec.IsKeyFrame(d.family, au)
	if key {
		if p, ok := codec.ProbeParams(d.family, au); ok {
			if p.BitDepth > d.maxDepth {
				return fmt.Errorf("%w: %d-bit stream into %s", ErrInvalidData, p.BitDepth, d.format)
			}
			d.width, d.height = p.Width, p.Height
		}
		d.configured = true
	}
	if !d.configured {
		// No reference yet. Nothing to output.
		return nil
	}

	d.frames++
	d.pending = append(d.pending, d.frame(key))
	return nil
}

func (d *bitstreamDecoder) frame(key bool) *render.Frame {
	f := &render.Frame{
		Format:         d.format,
		SWFormat:       d.swFormat,
		Width:          d.width,
		Height:         d.height,
		Range:          render.RangeMPEG,
		Primaries:      render.PrimariesBT709,
		Transfer:       render.TransferBT709,
		Matrix:         render.MatrixBT709,
		ChromaLocation: render.ChromaLeft,
		KeyFrame:       key,
		FrameNumber:    d.frames,
	}
	if f.SWPixelFormat().Depth() > 8 {
		f.Primaries = render.PrimariesBT2020
		f.Transfer = render.TransferSMPTE2084
		f.Matrix = render.MatrixBT2020NCL
		f.ChromaLocation = render.ChromaTopLeft
	}
	if d.format.IsHWAccel() {
		f.Surface = d.frames
	}
	return f
}

func (d *bitstreamDecoder) Receive() (*render.Frame, error) {
	if d.closed {
		return nil, errClosed
	}
	if len(d.pending) <= d.delay {
		return nil, ErrAgain
	}
	f := d.pending[0]
	d.pending = d.pending[1:]
	return f, nil
}

func (d *bitstreamDecoder) Close() error {
	d.closed = true
	d.pending = nil
	return nil
}
