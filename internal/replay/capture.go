// Package replay implements a streaming host that plays back an MPEG-TS
// capture. It satisfies session.Connection so a full session can be run
// without a network host.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/platform"
	"github.com/jmylchreest/vidarr/internal/session"
)

var (
	// ErrNoVideoTrack is returned when a capture has no H.264 or H.265 track.
	ErrNoVideoTrack = errors.New("capture has no supported video track")
	// ErrNoParameterSet is returned when no decodable key frame was found.
	ErrNoParameterSet = errors.New("capture has no key frame with parameter sets")
)

// Opener opens the capture. It is called once per playback pass.
type Opener func() (io.ReadCloser, error)

// FileOpener opens the capture at path.
func FileOpener(path string) Opener {
	return func() (io.ReadCloser, error) {
		return os.Open(path)
	}
}

// Info describes a capture.
type Info struct {
	Format        codec.Format
	Width         int
	Height        int
	AudioChannels int
}

// HasAudio reports whether the capture carries an Opus track.
func (i Info) HasAudio() bool { return i.AudioChannels > 0 }

// capture is an initialized reader over one pass of the capture.
type capture struct {
	rc     io.ReadCloser
	reader *mpegts.Reader
	video  *mpegts.Track
	family codec.Video
	audio  *mpegts.Track
	// channels of the Opus track, zero without audio.
	channels int
}

func openCapture(open Opener, logger *slog.Logger) (*capture, error) {
	rc, err := open()
	if err != nil {
		return nil, fmt.Errorf("opening capture: %w", err)
	}

	c := &capture{rc: rc, reader: &mpegts.Reader{R: rc}}
	if err := c.reader.Initialize(); err != nil {
		rc.Close()
		return nil, fmt.Errorf("initializing mpegts reader: %w", err)
	}

	for _, track := range c.reader.Tracks() {
		switch tc := track.Codec.(type) {
		case *mpegts.CodecH264:
			if c.video == nil {
				c.video, c.family = track, codec.VideoH264
			}
		case *mpegts.CodecH265:
			if c.video == nil {
				c.video, c.family = track, codec.VideoH265
			}
		case *mpegts.CodecOpus:
			if c.audio == nil {
				c.audio, c.channels = track, tc.ChannelCount
			}
		default:
			logger.Debug("ignoring capture track", slog.Uint64("pid", uint64(track.PID)))
		}
	}
	if c.video == nil {
		rc.Close()
		return nil, ErrNoVideoTrack
	}

	c.reader.OnDecodeError(func(err error) {
		logger.Debug("MPEG-TS decode error", slog.String("error", err.Error()))
	})
	return c, nil
}

// onVideo registers fn for every video access unit.
func (c *capture) onVideo(fn func(pts int64, au [][]byte) error) {
	cb := func(pts, _ int64, au [][]byte) error { return fn(pts, au) }
	if c.family == codec.VideoH265 {
		c.reader.OnDataH265(c.video, cb)
		return
	}
	c.reader.OnDataH264(c.video, cb)
}

func (c *capture) Close() error { return c.rc.Close() }

// Probe reads the capture up to its first key frame carrying parameter sets.
func Probe(ctx context.Context, open Opener, logger *slog.Logger) (Info, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := openCapture(open, logger)
	if err != nil {
		return Info{}, err
	}
	defer c.Close()

	var (
		params codec.StreamParams
		found  bool
	)
	c.onVideo(func(_ int64, au [][]byte) error {
		if !found && codec.IsKeyFrame(c.family, au) {
			params, found = codec.ProbeParams(c.family, au)
		}
		return nil
	})

	for !found {
		if err := ctx.Err(); err != nil {
			return Info{}, err
		}
		if err := c.reader.Read(); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Info{}, ErrNoParameterSet
			}
			return Info{}, fmt.Errorf("reading capture: %w", err)
		}
	}

	return Info{
		Format:        params.Format(c.family),
		Width:         params.Width,
		Height:        params.Height,
		AudioChannels: c.channels,
	}, nil
}

// hostVersion is reported by the replay host. It is recent enough for every
// launch check.
const hostVersion = "7.1.431.-1"

// HostInfo describes the replay host serving a capture. The host only
// advertises the capture's own codec plus the H.264 fallback every host
// offers.
func HostInfo(name string, info Info) session.HostInfo {
	modes := codec.SCMH264
	switch info.Format {
	case codec.FormatH264High8444:
		modes |= codec.SCMH264High8444
	case codec.FormatH265:
		modes |= codec.SCMHEVC
	case codec.FormatH265Main10:
		modes |= codec.SCMHEVC | codec.SCMHEVCMain10
	case codec.FormatH265RExt8444:
		modes |= codec.SCMHEVC | codec.SCMHEVCRExt8444
	case codec.FormatH265RExt10444:
		modes |= codec.SCMHEVC | codec.SCMHEVCMain10 | codec.SCMHEVCRExt10444
	}

	return session.HostInfo{
		Name:                   name,
		GPU:                    "replay",
		ServerVersion:          hostVersion,
		SupportedServerVersion: true,
		CodecModes:             modes,
		MaxLumaPixelsHEVC:      info.Width * info.Height,
		DisplayModes: []platform.DisplayMode{
			{Width: info.Width, Height: info.Height, RefreshRate: 60},
		},
	}
}
