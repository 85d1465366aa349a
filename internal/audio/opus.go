//go:build darwin || linux

package audio

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"

	"github.com/jmylchreest/vidarr/internal/backend"
)

var (
	opusLibraries = []string{"libopus.so.0", "libopus.so", "libopus.0.dylib", "libopus.dylib"}
	opusSymbols   = []string{
		"opus_multistream_decoder_create",
		"opus_multistream_decode",
		"opus_multistream_decode_float",
		"opus_multistream_decoder_destroy",
		"opus_strerror",
	}
)

type opusLibrary struct {
	create      func(fs, channels, streams, coupled int32, mapping *byte, errp *int32) uintptr
	decode      func(st uintptr, data *byte, length int32, pcm *int16, frameSize, fec int32) int32
	decodeFloat func(st uintptr, data *byte, length int32, pcm *float32, frameSize, fec int32) int32
	destroy     func(st uintptr)
	strerror    func(code int32) string
}

var (
	opusOnce sync.Once
	opusLib  *opusLibrary
	opusErr  error
)

func loadOpus() (*opusLibrary, error) {
	opusOnce.Do(func() {
		lib, err := backend.OpenLibrary(opusLibraries, opusSymbols)
		if err != nil {
			opusErr = fmt.Errorf("%w: %w", ErrOpusUnavailable, err)
			return
		}
		l := &opusLibrary{}
		targets := []any{&l.create, &l.decode, &l.decodeFloat, &l.destroy, &l.strerror}
		for i, name := range opusSymbols {
			addr, err := lib.Symbol(name)
			if err != nil {
				opusErr = err
				return
			}
			purego.RegisterFunc(targets[i], addr)
		}
		// The library stays loaded for the life of the process.
		opusLib = l
	})
	return opusLib, opusErr
}

type opusDecoder struct {
	lib      *opusLibrary
	st       uintptr
	channels int
}

// OpusDecoder creates a libopus multistream decoder.
func OpusDecoder(cfg Config) (Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l, err := loadOpus()
	if err != nil {
		return nil, err
	}

	var code int32
	st := l.create(int32(cfg.SampleRate), int32(cfg.ChannelCount), int32(cfg.Streams),
		int32(cfg.CoupledStreams), &cfg.Mapping[0], &code)
	if st == 0 || code != 0 {
		return nil, fmt.Errorf("create opus decoder: %s", l.strerror(code))
	}
	return &opusDecoder{lib: l, st: st, channels: cfg.ChannelCount}, nil
}

func packetPtr(packet []byte) (*byte, int32) {
	if len(packet) == 0 {
		return nil, 0
	}
	return &packet[0], int32(len(packet))
}

func (d *opusDecoder) DecodeFloat(packet []byte, pcm []float32, frameSize int) (int, error) {
	if len(pcm) < frameSize*d.channels || frameSize == 0 {
		return 0, fmt.Errorf("opus: pcm buffer too small for %d samples", frameSize)
	}
	data, n := packetPtr(packet)
	ret := d.lib.decodeFloat(d.st, data, n, &pcm[0], int32(frameSize), 0)
	runtime.KeepAlive(packet)
	runtime.KeepAlive(pcm)
	if ret < 0 {
		return 0, fmt.Errorf("opus decode: %s", d.lib.strerror(ret))
	}
	return int(ret), nil
}

func (d *opusDecoder) DecodeS16(packet []byte, pcm []int16, frameSize int) (int, error) {
	if len(pcm) < frameSize*d.channels || frameSize == 0 {
		return 0, fmt.Errorf("opus: pcm buffer too small for %d samples", frameSize)
	}
	data, n := packetPtr(packet)
	ret := d.lib.decode(d.st, data, n, &pcm[0], int32(frameSize), 0)
	runtime.KeepAlive(packet)
	runtime.KeepAlive(pcm)
	if ret < 0 {
		return 0, fmt.Errorf("opus decode: %s", d.lib.strerror(ret))
	}
	return int(ret), nil
}

func (d *opusDecoder) Close() error {
	if d.st != 0 {
		d.lib.destroy(d.st)
		d.st = 0
	}
	return nil
}
