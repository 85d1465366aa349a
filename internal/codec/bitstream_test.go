package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	h264IDR    = []byte{0x65, 0x88, 0x84, 0x00, 0x33}
	h264NonIDR = []byte{0x41, 0x9a, 0x02, 0x04}
	h265IDR    = []byte{0x26, 0x01, 0xaf, 0x06}
	h265Trail  = []byte{0x02, 0x01, 0xd0, 0x10}
	av1TD      = []byte{0x12, 0x00}
	av1SeqHdr  = []byte{0x0a, 0x01, 0x00}
	av1Frame   = []byte{0x32, 0x01, 0x10}
)

func TestSplitJoinAccessUnit(t *testing.T) {
	data, err := JoinAccessUnit(VideoH264, [][]byte{h264IDR})
	require.NoError(t, err)
	assert.Equal(t, append([]byte{0, 0, 0, 1}, h264IDR...), data)

	au, err := SplitAccessUnit(VideoH264, data)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{h264IDR}, au)

	_, err = SplitAccessUnit("vp9", data)
	assert.ErrorIs(t, err, ErrUnsupportedFamily)
}

func TestIsKeyFrame(t *testing.T) {
	tests := []struct {
		name     string
		family   Video
		au       [][]byte
		expected bool
	}{
		{"h264 idr", VideoH264, [][]byte{h264IDR}, true},
		{"h264 non-idr", VideoH264, [][]byte{h264NonIDR}, false},
		{"h265 idr", VideoH265, [][]byte{h265IDR}, true},
		{"h265 trail", VideoH265, [][]byte{h265Trail}, false},
		{"av1 sequence header", VideoAV1, [][]byte{av1TD, av1SeqHdr, av1Frame}, true},
		{"av1 inter frame", VideoAV1, [][]byte{av1TD, av1Frame}, false},
		{"unknown family", "vp9", [][]byte{h264IDR}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsKeyFrame(tt.family, tt.au))
		})
	}
}

func TestProbeParams_NoParameterSet(t *testing.T) {
	_, ok := ProbeParams(VideoH264, [][]byte{h264IDR})
	assert.False(t, ok)

	_, ok = ProbeParams(VideoAV1, [][]byte{av1TD, av1Frame})
	assert.False(t, ok)
}

func TestStreamParams_Format(t *testing.T) {
	tests := []struct {
		family   Video
		params   StreamParams
		expected Format
	}{
		{VideoH264, StreamParams{BitDepth: 8}, FormatH264},
		{VideoH264, StreamParams{BitDepth: 8, YUV444: true}, FormatH264High8444},
		{VideoH265, StreamParams{BitDepth: 10}, FormatH265Main10},
		{VideoH265, StreamParams{BitDepth: 10, YUV444: true}, FormatH265RExt10444},
		{VideoH265, StreamParams{BitDepth: 8, YUV444: true}, FormatH265RExt8444},
		{VideoAV1, StreamParams{BitDepth: 8}, FormatAV1Main8},
		{VideoAV1, StreamParams{BitDepth: 10, YUV444: true}, FormatAV1High10444},
	}

	for _, tt := range tests {
		t.Run(tt.expected.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.params.Format(tt.family))
		})
	}
}
