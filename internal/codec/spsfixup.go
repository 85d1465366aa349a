package codec

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

var (
	// ErrNotSPS is returned when the unit handed to FixupH264SPS is not an
	// H.264 sequence parameter set.
	ErrNotSPS = errors.New("not an H.264 SPS")

	errSPSTruncated = errors.New("SPS truncated")
)

// FixupH264SPS rewrites an Annex B H.264 SPS to declare a single reference
// frame and, when the VUI carries bitstream restrictions, a decoded picture
// buffer of one frame. Decoders without reference frame invalidation need
// this to recover from lost frames without a key frame.
func FixupH264SPS(unit []byte) ([]byte, error) {
	out, _, err := rewriteH264SPS(unit, true)
	return out, err
}

// spsRefs are the SPS fields touched by the fixup, as read from the input.
// decBuffering is -1 when the VUI has no bitstream restrictions.
type spsRefs struct {
	refFrames    int
	decBuffering int
}

func rewriteH264SPS(unit []byte, fixup bool) ([]byte, spsRefs, error) {
	prefix := annexBPrefixLen(unit)
	nalu := unit[prefix:]
	if len(nalu) < 4 || h264.NALUType(nalu[0]&0x1F) != h264.NALUTypeSPS {
		return nil, spsRefs{}, ErrNotSPS
	}

	rw := newSPSRewriter(h264.EmulationPreventionRemove(nalu[1:]), fixup)
	rw.sps()
	if rw.err != nil {
		return nil, spsRefs{}, fmt.Errorf("rewriting SPS: %w", rw.err)
	}

	out := make([]byte, 0, len(unit)+8)
	out = append(out, unit[:prefix+1]...)
	out = append(out, addEmulationPrevention(rw.finish())...)
	return out, rw.refs, nil
}

func annexBPrefixLen(unit []byte) int {
	switch {
	case len(unit) >= 4 && unit[0] == 0 && unit[1] == 0 && unit[2] == 0 && unit[3] == 1:
		return 4
	case len(unit) >= 3 && unit[0] == 0 && unit[1] == 0 && unit[2] == 1:
		return 3
	}
	return 0
}

func addEmulationPrevention(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp)+len(rbsp)/64+1)
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

// spsRewriter copies an SPS RBSP bit by bit, replacing selected fields.
// The first error sticks and turns every later read into a no-op.
type spsRewriter struct {
	src   []byte
	pos   int
	end   int
	fixup bool

	dst []byte
	n   int

	refs spsRefs
	err  error
}

func newSPSRewriter(rbsp []byte, fixup bool) *spsRewriter {
	rw := &spsRewriter{src: rbsp, end: -1, fixup: fixup, refs: spsRefs{decBuffering: -1}}
	// The stop bit is the last set bit of the RBSP.
	for i := len(rbsp) - 1; i >= 0; i-- {
		if rbsp[i] != 0 {
			rw.end = i*8 + 7 - bits.TrailingZeros8(rbsp[i])
			break
		}
	}
	if rw.end < 0 {
		rw.err = errSPSTruncated
	}
	return rw
}

func (rw *spsRewriter) readBit() uint64 {
	if rw.err != nil {
		return 0
	}
	if rw.pos >= rw.end {
		rw.err = errSPSTruncated
		return 0
	}
	b := uint64(rw.src[rw.pos/8]>>(7-rw.pos%8)) & 1
	rw.pos++
	return b
}

func (rw *spsRewriter) writeBit(b uint64) {
	if rw.n%8 == 0 {
		rw.dst = append(rw.dst, 0)
	}
	rw.dst[rw.n/8] |= byte(b << (7 - rw.n%8))
	rw.n++
}

func (rw *spsRewriter) writeBits(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		rw.writeBit((v >> i) & 1)
	}
}

func (rw *spsRewriter) readUE() uint64 {
	zeros := 0
	for rw.readBit() == 0 {
		if rw.err != nil {
			return 0
		}
		if zeros++; zeros > 31 {
			rw.err = errors.New("exp-Golomb code too long")
			return 0
		}
	}
	v := uint64(0)
	for range zeros {
		v = v<<1 | rw.readBit()
	}
	return v + (1 << zeros) - 1
}

func (rw *spsRewriter) writeUE(v uint64) {
	n := bits.Len64(v + 1)
	rw.writeBits(0, n-1)
	rw.writeBits(v+1, n)
}

// u copies an n-bit field.
func (rw *spsRewriter) u(n int) uint64 {
	v := uint64(0)
	for range n {
		v = v<<1 | rw.readBit()
	}
	if rw.err == nil {
		rw.writeBits(v, n)
	}
	return v
}

func (rw *spsRewriter) flag() bool { return rw.u(1) == 1 }

// ue copies an unsigned exp-Golomb field.
func (rw *spsRewriter) ue() uint64 {
	v := rw.readUE()
	if rw.err == nil {
		rw.writeUE(v)
	}
	return v
}

// se copies a signed exp-Golomb field.
func (rw *spsRewriter) se() int {
	k := rw.ue()
	if k%2 == 1 {
		return int(k+1) / 2
	}
	return -int(k / 2)
}

// replaceUE reads an unsigned exp-Golomb field and writes v in its place
// when fixing up, returning the value read.
func (rw *spsRewriter) replaceUE(v uint64) int {
	old := rw.readUE()
	if rw.err != nil {
		return 0
	}
	if !rw.fixup {
		v = old
	}
	rw.writeUE(v)
	return int(old)
}

// finish copies the bits after the last parsed field and closes the RBSP.
func (rw *spsRewriter) finish() []byte {
	for rw.pos < rw.end {
		rw.writeBit(rw.readBit())
	}
	rw.writeBit(1)
	for rw.n%8 != 0 {
		rw.writeBit(0)
	}
	return rw.dst
}

func (rw *spsRewriter) sps() {
	profile := rw.u(8)
	rw.u(16) // constraint flags, level_idc
	rw.ue()  // seq_parameter_set_id

	switch profile {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		chroma := rw.ue()
		if chroma == 3 {
			rw.u(1) // separate_colour_plane_flag
		}
		rw.ue() // bit_depth_luma_minus8
		rw.ue() // bit_depth_chroma_minus8
		rw.u(1) // qpprime_y_zero_transform_bypass_flag
		if rw.flag() {
			lists := 8
			if chroma == 3 {
				lists = 12
			}
			for i := range lists {
				if !rw.flag() {
					continue
				}
				size := 16
				if i >= 6 {
					size = 64
				}
				rw.scalingList(size)
			}
		}
	}

	rw.ue() // log2_max_frame_num_minus4
	switch rw.ue() {
	case 0:
		rw.ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		rw.u(1) // delta_pic_order_always_zero_flag
		rw.se() // offset_for_non_ref_pic
		rw.se() // offset_for_top_to_bottom_field
		cycle := rw.ue()
		for i := uint64(0); i < cycle && rw.err == nil; i++ {
			rw.se()
		}
	}

	rw.refs.refFrames = rw.replaceUE(1) // max_num_ref_frames
	rw.u(1)                             // gaps_in_frame_num_value_allowed_flag
	rw.ue()                             // pic_width_in_mbs_minus1
	rw.ue()                             // pic_height_in_map_units_minus1
	if !rw.flag() {
		rw.u(1) // mb_adaptive_frame_field_flag
	}
	rw.u(1) // direct_8x8_inference_flag
	if rw.flag() {
		for range 4 {
			rw.ue()
		}
	}
	if rw.flag() {
		rw.vui()
	}
}

func (rw *spsRewriter) scalingList(size int) {
	last, next := 8, 8
	for range size {
		if next != 0 {
			next = (last + rw.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

func (rw *spsRewriter) vui() {
	if rw.flag() {
		if rw.u(8) == 255 { // Extended_SAR
			rw.u(32)
		}
	}
	if rw.flag() {
		rw.u(1) // overscan_appropriate_flag
	}
	if rw.flag() {
		rw.u(4) // video_format, video_full_range_flag
		if rw.flag() {
			rw.u(24)
		}
	}
	if rw.flag() {
		rw.ue()
		rw.ue()
	}
	if rw.flag() {
		rw.u(32) // num_units_in_tick
		rw.u(32) // time_scale
		rw.u(1)  // fixed_frame_rate_flag
	}
	nal := rw.flag()
	if nal {
		rw.hrd()
	}
	vcl := rw.flag()
	if vcl {
		rw.hrd()
	}
	if nal || vcl {
		rw.u(1) // low_delay_hrd_flag
	}
	rw.u(1) // pic_struct_present_flag
	if rw.flag() {
		rw.u(1) // motion_vectors_over_pic_boundaries_flag
		for range 5 {
			rw.ue()
		}
		rw.refs.decBuffering = rw.replaceUE(1) // max_dec_frame_buffering
	}
}

func (rw *spsRewriter) hrd() {
	cpbs := rw.ue()
	rw.u(8) // bit_rate_scale, cpb_size_scale
	for i := uint64(0); i <= cpbs && rw.err == nil; i++ {
		rw.ue()
		rw.ue()
		rw.u(1)
	}
	rw.u(20)
}
