package decoder

import (
	"fmt"

	"github.com/jmylchreest/vidarr/internal/codec"
)

// Test frames are a single 1280x720 key frame per format.
const (
	TestFrameWidth  = 1280
	TestFrameHeight = 720
)

// bitWriter writes MSB-first bit fields.
type bitWriter struct {
	buf  []byte
	nbit int
}

func (w *bitWriter) u(n int, v uint64) {
	for i := n - 1; i >= 0; i-- {
		if w.nbit%8 == 0 {
			w.buf = append(w.buf, 0)
		}
		if v>>uint(i)&1 != 0 {
			w.buf[len(w.buf)-1] |= 0x80 >> uint(w.nbit%8)
		}
		w.nbit++
	}
}

func (w *bitWriter) flag(b bool) {
	if b {
		w.u(1, 1)
	} else {
		w.u(1, 0)
	}
}

// ue writes an unsigned Exp-Golomb code.
func (w *bitWriter) ue(v uint64) {
	v++
	n := 0
	for t := v; t > 1; t >>= 1 {
		n++
	}
	w.u(n, 0)
	w.u(n+1, v)
}

// se writes a signed Exp-Golomb code.
func (w *bitWriter) se(v int64) {
	if v > 0 {
		w.ue(uint64(2*v - 1))
	} else {
		w.ue(uint64(-2 * v))
	}
}

// trailing writes rbsp_trailing_bits.
func (w *bitWriter) trailing() []byte {
	w.u(1, 1)
	for w.nbit%8 != 0 {
		w.u(1, 0)
	}
	return w.buf
}

// escape inserts emulation prevention bytes into an RBSP.
func escape(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp)+len(rbsp)/64)
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

func nalu(header []byte, rbsp []byte) []byte {
	return append(append([]byte(nil), header...), escape(rbsp)...)
}

func h264TestFrame(yuv444 bool) [][]byte {
	profile := uint64(66)
	if yuv444 {
		profile = 244
	}

	var sps bitWriter
	sps.u(8, profile)
	sps.u(8, 0)  // constraint flags
	sps.u(8, 31) // level 3.1
	sps.ue(0)    // seq_parameter_set_id
	if yuv444 {
		sps.ue(3)       // chroma_format_idc
		sps.flag(false) // separate_colour_plane_flag
		sps.ue(0)       // bit_depth_luma_minus8
		sps.ue(0)       // bit_depth_chroma_minus8
		sps.flag(false) // qpprime_y_zero_transform_bypass_flag
		sps.flag(false) // seq_scaling_matrix_present_flag
	}
	sps.ue(0) // log2_max_frame_num_minus4
	sps.ue(2) // pic_order_cnt_type
	sps.ue(1) // max_num_ref_frames
	sps.flag(false)
	sps.ue(TestFrameWidth/16 - 1)
	sps.ue(TestFrameHeight/16 - 1)
	sps.flag(true)  // frame_mbs_only_flag
	sps.flag(true)  // direct_8x8_inference_flag
	sps.flag(false) // frame_cropping_flag
	sps.flag(false) // vui_parameters_present_flag

	var pps bitWriter
	pps.ue(0) // pic_parameter_set_id
	pps.ue(0) // seq_parameter_set_id
	pps.flag(false)
	pps.flag(false)
	pps.ue(0) // num_slice_groups_minus1
	pps.ue(0)
	pps.ue(0)
	pps.flag(false)
	pps.u(2, 0)
	pps.se(0) // pic_init_qp_minus26
	pps.se(0)
	pps.se(0)
	pps.flag(true) // deblocking_filter_control_present_flag
	pps.flag(false)
	pps.flag(false)

	var idr bitWriter
	idr.ue(0)   // first_mb_in_slice
	idr.ue(7)   // slice_type I
	idr.ue(0)   // pic_parameter_set_id
	idr.u(4, 0) // frame_num
	idr.ue(0)   // idr_pic_id
	idr.flag(false)
	idr.flag(false)
	idr.se(0) // slice_qp_delta
	idr.ue(1) // disable_deblocking_filter_idc

	return [][]byte{
		nalu([]byte{0x67}, sps.trailing()),
		nalu([]byte{0x68}, pps.trailing()),
		nalu([]byte{0x65}, idr.trailing()),
	}
}

func hevcTestFrame(tenBit, yuv444 bool) [][]byte {
	profile := uint64(1)
	switch {
	case yuv444:
		profile = 4
	case tenBit:
		profile = 2
	}
	depth := uint64(0)
	if tenBit {
		depth = 2
	}

	ptl := func(w *bitWriter) {
		w.u(2, 0) // general_profile_space
		w.u(1, 0) // general_tier_flag
		w.u(5, profile)
		w.u(32, 1<<(31-profile))
		w.flag(true)  // progressive_source
		w.flag(false) // interlaced_source
		w.flag(false) // non_packed_constraint
		w.flag(true)  // frame_only_constraint
		w.u(44, 0)
		w.u(8, 93) // level 3.1
	}

	var vps bitWriter
	vps.u(4, 0) // vps_video_parameter_set_id
	vps.flag(true)
	vps.flag(true)
	vps.u(6, 0) // vps_max_layers_minus1
	vps.u(3, 0) // vps_max_sub_layers_minus1
	vps.flag(true)
	vps.u(16, 0xFFFF)
	ptl(&vps)
	vps.flag(true) // vps_sub_layer_ordering_info_present_flag
	vps.ue(1)
	vps.ue(0)
	vps.ue(0)
	vps.u(6, 0) // vps_max_layer_id
	vps.ue(0)   // vps_num_layer_sets_minus1
	vps.flag(false)
	vps.flag(false)

	var sps bitWriter
	sps.u(4, 0) // sps_video_parameter_set_id
	sps.u(3, 0) // sps_max_sub_layers_minus1
	sps.flag(true)
	ptl(&sps)
	sps.ue(0) // sps_seq_parameter_set_id
	if yuv444 {
		sps.ue(3)
		sps.flag(false)
	} else {
		sps.ue(1)
	}
	sps.ue(TestFrameWidth)
	sps.ue(TestFrameHeight)
	sps.flag(false) // conformance_window_flag
	sps.ue(depth)
	sps.ue(depth)
	sps.ue(4)      // log2_max_pic_order_cnt_lsb_minus4
	sps.flag(true) // sps_sub_layer_ordering_info_present_flag
	sps.ue(1)
	sps.ue(0)
	sps.ue(0)
	sps.ue(0) // log2_min_luma_coding_block_size_minus3
	sps.ue(3)
	sps.ue(0)
	sps.ue(3)
	sps.ue(0)
	sps.ue(0)
	sps.flag(false) // scaling_list_enabled_flag
	sps.flag(false) // amp_enabled_flag
	sps.flag(false) // sample_adaptive_offset_enabled_flag
	sps.flag(false) // pcm_enabled_flag
	sps.ue(0)       // num_short_term_ref_pic_sets
	sps.flag(false) // long_term_ref_pics_present_flag
	sps.flag(false)
	sps.flag(false)
	sps.flag(false) // vui_parameters_present_flag
	sps.flag(false) // sps_extension_present_flag

	var pps bitWriter
	pps.ue(0) // pps_pic_parameter_set_id
	pps.ue(0) // pps_seq_parameter_set_id
	pps.flag(false)
	pps.flag(false)
	pps.u(3, 0)
	pps.flag(false)
	pps.flag(false)
	pps.ue(0)
	pps.ue(0)
	pps.se(0) // init_qp_minus26
	pps.flag(false)
	pps.flag(false)
	pps.flag(false) // cu_qp_delta_enabled_flag
	pps.se(0)       // pps_cb_qp_offset
	pps.se(0)
	for range 10 {
		pps.flag(false)
	}
	pps.ue(0)       // log2_parallel_merge_level_minus2
	pps.flag(false) // slice_segment_header_extension_present_flag
	pps.flag(false) // pps_extension_present_flag

	var idr bitWriter
	idr.flag(true)  // first_slice_segment_in_pic_flag
	idr.flag(false) // no_output_of_prior_pics_flag
	idr.ue(0)       // slice_pic_parameter_set_id
	idr.ue(2)       // slice_type I

	return [][]byte{
		nalu([]byte{32 << 1, 0x01}, vps.trailing()),
		nalu([]byte{33 << 1, 0x01}, sps.trailing()),
		nalu([]byte{34 << 1, 0x01}, pps.trailing()),
		nalu([]byte{19 << 1, 0x01}, idr.trailing()),
	}
}

func leb128(v int) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func obu(typ byte, payload []byte) []byte {
	out := []byte{typ<<3 | 0x02}
	out = append(out, leb128(len(payload))...)
	return append(out, payload...)
}

func av1TestFrame(tenBit, yuv444 bool) [][]byte {
	var seq bitWriter
	if yuv444 {
		seq.u(3, 1)
	} else {
		seq.u(3, 0)
	}
	seq.flag(false) // still_picture
	seq.flag(false) // reduced_still_picture_header
	seq.flag(false) // timing_info_present_flag
	seq.flag(false) // initial_display_delay_present_flag
	seq.u(5, 0)     // operating_points_cnt_minus_1
	seq.u(12, 0)    // operating_point_idc
	seq.u(5, 8)     // seq_level_idx 4.0
	seq.flag(false) // seq_tier
	seq.u(4, 10)    // frame_width_bits_minus_1
	seq.u(4, 9)     // frame_height_bits_minus_1
	seq.u(11, TestFrameWidth-1)
	seq.u(10, TestFrameHeight-1)
	seq.flag(false) // frame_id_numbers_present_flag
	seq.flag(false) // use_128x128_superblock
	seq.flag(false)
	seq.flag(false)
	seq.flag(false) // enable_interintra_compound
	seq.flag(false)
	seq.flag(false)
	seq.flag(false)
	seq.flag(false) // enable_order_hint
	seq.flag(true)  // seq_choose_screen_content_tools
	seq.flag(true)  // seq_choose_integer_mv
	seq.flag(false) // enable_superres
	seq.flag(false) // enable_cdef
	seq.flag(false) // enable_restoration
	seq.flag(tenBit)
	if !yuv444 {
		seq.flag(false) // mono_chrome
	}
	seq.flag(false) // color_description_present_flag
	seq.flag(false) // color_range
	if !yuv444 {
		seq.u(2, 0) // chroma_sample_position
	}
	seq.flag(false) // separate_uv_delta_q
	seq.flag(false) // film_grain_params_present

	return [][]byte{
		obu(2, nil),
		obu(1, seq.trailing()),
		obu(6, []byte{0x10, 0x00, 0x80}),
	}
}

// TestFrame returns the test bitstream for format f, framed the way the
// streaming protocol delivers it.
func TestFrame(f codec.Format) ([]byte, error) {
	var au [][]byte
	switch f {
	case codec.FormatH264:
		au = h264TestFrame(false)
	case codec.FormatH264High8444:
		au = h264TestFrame(true)
	case codec.FormatH265:
		au = hevcTestFrame(false, false)
	case codec.FormatH265Main10:
		au = hevcTestFrame(true, false)
	case codec.FormatH265RExt8444:
		au = hevcTestFrame(false, true)
	case codec.FormatH265RExt10444:
		au = hevcTestFrame(true, true)
	case codec.FormatAV1Main8:
		au = av1TestFrame(false, false)
	case codec.FormatAV1Main10:
		au = av1TestFrame(true, false)
	case codec.FormatAV1High8444:
		au = av1TestFrame(false, true)
	case codec.FormatAV1High10444:
		au = av1TestFrame(true, true)
	default:
		return nil, fmt.Errorf("no test frame for format %s", f)
	}
	return codec.JoinAccessUnit(f.Family(), au)
}
