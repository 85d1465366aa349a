package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityList_RemoveByMask(t *testing.T) {
	tests := []struct {
		name     string
		mask     Format
		expected []Format
	}{
		{
			name: "remove 10-bit keeps 8-bit order",
			mask: Mask10Bit,
			expected: []Format{
				FormatAV1High8444, FormatAV1Main8, FormatH265RExt8444,
				FormatH265, FormatH264High8444, FormatH264,
			},
		},
		{
			name:     "keep only h264",
			mask:     ^MaskH264,
			expected: []Format{FormatH264High8444, FormatH264},
		},
		{
			name:     "remove nothing",
			mask:     0,
			expected: DefaultPriorityList().Formats(),
		},
		{
			name:     "remove everything",
			mask:     ^Format(0),
			expected: []Format{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := DefaultPriorityList()
			l.RemoveByMask(tt.mask)
			assert.Equal(t, tt.expected, l.Formats())
		})
	}
}

func TestPriorityList_DeprioritizeByMask_StablePartition(t *testing.T) {
	a, b, c, d := FormatH265Main10, FormatAV1Main8, FormatAV1Main10, FormatH264
	l := NewPriorityList(a, b, c, d)

	l.DeprioritizeByMask(MaskAV1)

	assert.Equal(t, []Format{a, d, b, c}, l.Formats())
}

func TestPriorityList_DeprioritizeByMask(t *testing.T) {
	l := DefaultPriorityList()
	l.DeprioritizeByMask(^Mask10Bit)

	assert.Equal(t, []Format{
		FormatAV1High10444, FormatAV1Main10, FormatH265RExt10444, FormatH265Main10,
		FormatAV1High8444, FormatAV1Main8, FormatH265RExt8444, FormatH265,
		FormatH264High8444, FormatH264,
	}, l.Formats())

	l.DeprioritizeByMask(MaskH265)
	assert.Equal(t, []Format{
		FormatAV1High10444, FormatAV1Main10, FormatAV1High8444, FormatAV1Main8,
		FormatH264High8444, FormatH264,
		FormatH265RExt10444, FormatH265Main10, FormatH265RExt8444, FormatH265,
	}, l.Formats())
	assert.Equal(t, 10, l.Len())
}

func TestPriorityList_MaskByServerCodecModes(t *testing.T) {
	l := NewPriorityList(FormatH265Main10, FormatH265, FormatH264)

	tests := []struct {
		name     string
		modes    ServerCodecMode
		expected Format
	}{
		{"host supports everything", SCMMaskH264 | SCMMaskHEVC | SCMMaskAV1, FormatH265Main10 | FormatH265 | FormatH264},
		{"host h264 only", SCMH264, FormatH264},
		{"av1 absent from list", SCMMaskAV1, 0},
		{"host none", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := l.MaskByServerCodecModes(tt.modes)
			second := l.MaskByServerCodecModes(tt.modes)
			assert.Equal(t, tt.expected, first)
			assert.Equal(t, first, second)
			assert.Zero(t, first&^l.Mask(), "mask must not set bits absent from the list")
		})
	}
}

func TestPriorityList_EmptiedListFallsBackToH264(t *testing.T) {
	l := NewPriorityList(FormatAV1Main10, FormatAV1Main8, FormatH265Main10, FormatH265)

	// Simulated host supporting none of the formats.
	l.RemoveByMask(^l.MaskByServerCodecModes(0))
	require.True(t, l.Empty())

	assert.True(t, l.EnsureFallback())
	assert.Equal(t, []Format{FormatH264}, l.Formats())

	assert.False(t, l.EnsureFallback())
	assert.Equal(t, 1, l.Len())
}

func TestPriorityList_FrontAndRemoveFirst(t *testing.T) {
	l := NewPriorityList(FormatH265, FormatH264)

	f, ok := l.Front()
	require.True(t, ok)
	assert.Equal(t, FormatH265, f)

	l.RemoveFirst()
	f, _ = l.Front()
	assert.Equal(t, FormatH264, f)

	l.RemoveFirst()
	l.RemoveFirst()
	_, ok = l.Front()
	assert.False(t, ok)
}

func TestPriorityList_CloneIsIndependent(t *testing.T) {
	l := DefaultPriorityList()
	c := l.Clone()
	c.RemoveByMask(MaskAV1)

	assert.Equal(t, 10, l.Len())
	assert.Equal(t, 6, c.Len())
	assert.Equal(t, "[hevc, h264]", NewPriorityList(FormatH265, FormatH264).String())
}
