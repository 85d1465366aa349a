package audio

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrOpusUnavailable is returned when libopus cannot be loaded.
var ErrOpusUnavailable = errors.New("libopus unavailable")

// Decoder decodes Opus multistream packets into interleaved PCM. An empty
// packet requests packet loss concealment.
type Decoder interface {
	DecodeFloat(packet []byte, pcm []float32, frameSize int) (int, error)
	DecodeS16(packet []byte, pcm []int16, frameSize int) (int, error)
	Close() error
}

// DecoderFactory creates a decoder for cfg.
type DecoderFactory func(cfg Config) (Decoder, error)

// decodeInto decodes packet into buf in the backend's sample format and
// returns the number of bytes written.
func decodeInto(d Decoder, f SampleFormat, channels int, packet, buf []byte) (int, error) {
	frameBytes := channels * f.BytesPerSample()
	frameSize := len(buf) / frameBytes

	if f == SampleFloat32NE {
		pcm := make([]float32, frameSize*channels)
		n, err := d.DecodeFloat(packet, pcm, frameSize)
		if err != nil || n <= 0 {
			return 0, err
		}
		for i, v := range pcm[:n*channels] {
			binary.NativeEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		}
		return n * frameBytes, nil
	}

	pcm := make([]int16, frameSize*channels)
	n, err := d.DecodeS16(packet, pcm, frameSize)
	if err != nil || n <= 0 {
		return 0, err
	}
	for i, v := range pcm[:n*channels] {
		binary.NativeEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return n * frameBytes, nil
}
