package codec

import (
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type spsOptions struct {
	profile      uint64
	refFrames    uint64
	vui          bool
	restrictions bool
	decBuffering uint64
}

// buildH264SPS encodes a 1920x1080 4:2:0 SPS as an Annex B unit.
func buildH264SPS(o spsOptions) []byte {
	w := &spsRewriter{}
	w.writeBits(o.profile, 8)
	w.writeBits(0, 8)  // constraint flags
	w.writeBits(40, 8) // level_idc
	w.writeUE(0)       // seq_parameter_set_id
	if o.profile == 100 {
		w.writeUE(1)      // chroma_format_idc
		w.writeUE(0)      // bit_depth_luma_minus8
		w.writeUE(0)      // bit_depth_chroma_minus8
		w.writeBits(0, 1) // qpprime_y_zero_transform_bypass_flag
		w.writeBits(0, 1) // seq_scaling_matrix_present_flag
	}
	w.writeUE(0) // log2_max_frame_num_minus4
	w.writeUE(0) // pic_order_cnt_type
	w.writeUE(2) // log2_max_pic_order_cnt_lsb_minus4
	w.writeUE(o.refFrames)
	w.writeBits(0, 1) // gaps_in_frame_num_value_allowed_flag
	w.writeUE(119)    // pic_width_in_mbs_minus1
	w.writeUE(67)     // pic_height_in_map_units_minus1
	w.writeBits(1, 1) // frame_mbs_only_flag
	w.writeBits(1, 1) // direct_8x8_inference_flag
	w.writeBits(1, 1) // frame_cropping_flag
	w.writeUE(0)
	w.writeUE(0)
	w.writeUE(0)
	w.writeUE(4)
	if !o.vui {
		w.writeBits(0, 1)
	} else {
		w.writeBits(1, 1)
		w.writeBits(0, 1) // aspect_ratio_info_present_flag
		w.writeBits(0, 1) // overscan_info_present_flag
		w.writeBits(1, 1) // video_signal_type_present_flag
		w.writeBits(5, 3)
		w.writeBits(0, 1)
		w.writeBits(1, 1)
		w.writeBits(0x010101, 24)
		w.writeBits(0, 1) // chroma_loc_info_present_flag
		w.writeBits(1, 1) // timing_info_present_flag
		w.writeBits(1, 32)
		w.writeBits(120, 32)
		w.writeBits(1, 1)
		w.writeBits(0, 1) // nal_hrd_parameters_present_flag
		w.writeBits(0, 1) // vcl_hrd_parameters_present_flag
		w.writeBits(0, 1) // pic_struct_present_flag
		if !o.restrictions {
			w.writeBits(0, 1)
		} else {
			w.writeBits(1, 1)
			w.writeBits(1, 1)
			w.writeUE(2)
			w.writeUE(1)
			w.writeUE(16)
			w.writeUE(16)
			w.writeUE(0) // max_num_reorder_frames
			w.writeUE(o.decBuffering)
		}
	}
	out := []byte{0, 0, 0, 1, 0x67}
	return append(out, addEmulationPrevention(w.finish())...)
}

func readSPSRefs(t *testing.T, unit []byte) spsRefs {
	t.Helper()
	_, refs, err := rewriteH264SPS(unit, false)
	require.NoError(t, err)
	return refs
}

func TestFixupH264SPS(t *testing.T) {
	tests := []struct {
		name             string
		opts             spsOptions
		wantDecBuffering int
	}{
		{"high with restrictions", spsOptions{profile: 100, refFrames: 4, vui: true, restrictions: true, decBuffering: 4}, 1},
		{"main with restrictions", spsOptions{profile: 77, refFrames: 16, vui: true, restrictions: true, decBuffering: 16}, 1},
		{"vui without restrictions", spsOptions{profile: 100, refFrames: 3, vui: true}, -1},
		{"no vui", spsOptions{profile: 66, refFrames: 2}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := buildH264SPS(tt.opts)
			before := readSPSRefs(t, in)
			assert.Equal(t, int(tt.opts.refFrames), before.refFrames)

			out, err := FixupH264SPS(in)
			require.NoError(t, err)
			assert.Equal(t, in[:5], out[:5])

			after := readSPSRefs(t, out)
			assert.Equal(t, 1, after.refFrames)
			assert.Equal(t, tt.wantDecBuffering, after.decBuffering)

			var sps h264.SPS
			require.NoError(t, sps.Unmarshal(out[4:]))
			assert.Equal(t, 1920, sps.Width())
			assert.Equal(t, 1080, sps.Height())
		})
	}
}

func TestFixupH264SPS_Idempotent(t *testing.T) {
	in := buildH264SPS(spsOptions{profile: 100, refFrames: 1, vui: true, restrictions: true, decBuffering: 1})
	out, err := FixupH264SPS(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestFixupH264SPS_EmulationPrevention(t *testing.T) {
	// num_units_in_tick = 1 puts a run of zero bytes in the RBSP.
	in := buildH264SPS(spsOptions{profile: 100, refFrames: 4, vui: true, restrictions: true, decBuffering: 4})
	out, err := FixupH264SPS(in)
	require.NoError(t, err)

	body := out[4:]
	for i := 2; i < len(body); i++ {
		if body[i-2] == 0 && body[i-1] == 0 {
			assert.GreaterOrEqual(t, body[i], byte(3), "start code emulation at %d", i)
		}
	}
}

func TestFixupH264SPS_Errors(t *testing.T) {
	tests := []struct {
		name string
		unit []byte
		want error
	}{
		{"pps", []byte{0, 0, 0, 1, 0x68, 0xce, 0x3c, 0x80}, ErrNotSPS},
		{"too short", []byte{0, 0, 1, 0x67, 0x64}, ErrNotSPS},
		{"truncated", []byte{0, 0, 0, 1, 0x67, 0x64, 0x00, 0x28, 0x80}, errSPSTruncated},
		{"no stop bit", []byte{0x67, 0x64, 0x00, 0x28, 0x00}, errSPSTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FixupH264SPS(tt.unit)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAddEmulationPrevention(t *testing.T) {
	tests := []struct {
		in, want []byte
	}{
		{[]byte{0, 0, 1}, []byte{0, 0, 3, 1}},
		{[]byte{0, 0, 0, 0}, []byte{0, 0, 3, 0, 0}},
		{[]byte{0, 0, 4}, []byte{0, 0, 4}},
		{[]byte{1, 2, 3}, []byte{1, 2, 3}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, addEmulationPrevention(tt.in))
	}
}
