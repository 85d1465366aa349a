package decoder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/render"
)

type fakeSource struct {
	units chan *DecodeUnit
	hdr   *render.HDRMetadata

	mu          sync.Mutex
	statuses    []int
	idrRequests int
}

func newFakeSource() *fakeSource {
	return &fakeSource{units: make(chan *DecodeUnit, 64)}
}

func (s *fakeSource) WaitForNextDecodeUnit(ctx context.Context) (*DecodeUnit, bool) {
	select {
	case du := <-s.units:
		return du, true
	case <-ctx.Done():
		return nil, false
	}
}

func (s *fakeSource) PollDecodeUnit() (*DecodeUnit, bool) {
	select {
	case du := <-s.units:
		return du, true
	default:
		return nil, false
	}
}

func (s *fakeSource) CompleteDecodeUnit(_ *DecodeUnit, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
}

func (s *fakeSource) RequestIDR() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idrRequests++
}

func (s *fakeSource) HDRMetadata() (render.HDRMetadata, bool) {
	if s.hdr == nil {
		return render.HDRMetadata{}, false
	}
	return *s.hdr, true
}

func (s *fakeSource) idrCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idrRequests
}

func newLiveInstance(dc *fakeContext, clock *fakeClock) (*Instance, *fakeBackend) {
	fe := newFakeBackend(render.TypeSDL)
	inst := &Instance{
		impl:     &Implementation{Name: "h264", Family: codec.VideoH264},
		backend:  fe,
		frontend: fe,
		params:   streamParams(codec.FormatH264),
		ctx:      dc,
		pacer:    immediatePacer{frontend: fe},
		logger:   slog.New(slog.DiscardHandler),
		now:      clock.Now,
		sleep:    func(time.Duration) {},
		stats:    newStatsWindow(time.Second),
	}
	return inst, fe
}

func unit(n int, ft FrameType) *DecodeUnit {
	return &DecodeUnit{
		FrameNumber:  n,
		FrameType:    ft,
		Buffers:      []Buffer{{Type: BufferPicData, Data: []byte{0, 0, 0, 1, 0x65, byte(n)}}},
		RTPTimestamp: uint32(n * rtpClockRate),
	}
}

func TestInstance_SubmitRequiresIDR(t *testing.T) {
	dc := &fakeContext{}
	inst, _ := newLiveInstance(dc, newFakeClock())

	assert.Equal(t, StatusNeedIDR, inst.SubmitDecodeUnit(unit(1, FrameTypeP)))
	assert.Equal(t, StatusOK, inst.SubmitDecodeUnit(unit(2, FrameTypeIDR)))
	assert.Equal(t, StatusOK, inst.SubmitDecodeUnit(unit(3, FrameTypeP)))
	assert.Equal(t, 2, dc.sent)
}

func TestInstance_DecodeLoop(t *testing.T) {
	dc := &fakeContext{}
	inst, fe := newLiveInstance(dc, newFakeClock())
	src := newFakeSource()
	src.hdr = &render.HDRMetadata{MaxContentLightLevel: 1000}

	require.NoError(t, inst.Start(src, nil))
	assert.ErrorIs(t, inst.Start(src, nil), errAlreadyRunning)

	src.units <- unit(1, FrameTypeIDR)
	src.units <- unit(2, FrameTypeP)
	src.units <- unit(3, FrameTypeP)

	require.Eventually(t, func() bool { return len(fe.renderedFrames()) == 3 }, time.Second, time.Millisecond)
	inst.Stop()

	frames := fe.renderedFrames()
	assert.Equal(t, 2, frames[1].FrameNumber)
	assert.Equal(t, 2*time.Second, frames[1].PTS)
	require.NotNil(t, frames[2].HDR)
	assert.Equal(t, uint16(1000), frames[2].HDR.MaxContentLightLevel)

	src.mu.Lock()
	assert.Equal(t, []int{StatusOK, StatusOK, StatusOK}, src.statuses)
	src.mu.Unlock()

	_, total := inst.Stats()
	assert.Equal(t, 3, total.ReceivedFrames)
	assert.Equal(t, 3, total.DecodedFrames)
}

func TestInstance_StatsWindow(t *testing.T) {
	clock := newFakeClock()
	inst, _ := newLiveInstance(&fakeContext{}, clock)

	for _, n := range []int{1, 2, 5} {
		ft := FrameTypeP
		if n == 1 {
			ft = FrameTypeIDR
		}
		du := unit(n, ft)
		du.HostProcessingLatency = n * 10
		assert.Equal(t, StatusOK, inst.SubmitDecodeUnit(du))
	}

	last, total := inst.Stats()
	assert.Zero(t, last.ReceivedFrames, "window not flipped yet")
	assert.Equal(t, 3, total.ReceivedFrames)
	assert.Equal(t, 2, total.NetworkDroppedFrames)
	assert.Equal(t, 5, total.TotalFrames)
	assert.Equal(t, 10, total.MinHostLatency)
	assert.Equal(t, 50, total.MaxHostLatency)

	clock.Advance(1500 * time.Millisecond)
	inst.SubmitDecodeUnit(unit(6, FrameTypeP))

	last, total = inst.Stats()
	assert.Equal(t, 3, last.ReceivedFrames)
	assert.Equal(t, 2, last.NetworkDroppedFrames)
	assert.Equal(t, 4, total.ReceivedFrames)
	assert.Equal(t, 6, total.TotalFrames)
}

func TestInstance_ResetAfterConsecutiveSendFailures(t *testing.T) {
	inst, _ := newLiveInstance(&fakeContext{sendErr: ErrInvalidData}, newFakeClock())
	var resets int
	inst.onReset = func() { resets++ }

	for i := 1; i < FailedDecodesResetThreshold; i++ {
		assert.Equal(t, StatusNeedIDR, inst.SubmitDecodeUnit(unit(i, FrameTypeIDR)))
	}
	assert.Zero(t, resets)
	assert.False(t, inst.quit.Load())

	inst.SubmitDecodeUnit(unit(FailedDecodesResetThreshold, FrameTypeIDR))
	assert.Equal(t, 1, resets)
	assert.True(t, inst.quit.Load())

	inst.SubmitDecodeUnit(unit(FailedDecodesResetThreshold+1, FrameTypeIDR))
	assert.Equal(t, 1, resets)
}

func TestInstance_ReceiveFailuresRequestIDR(t *testing.T) {
	dc := &fakeContext{receiveErr: errors.New("corrupt frame")}
	inst, _ := newLiveInstance(dc, newFakeClock())
	src := newFakeSource()

	var resets atomic.Int32
	require.NoError(t, inst.Start(src, func() { resets.Add(1) }))
	src.units <- unit(1, FrameTypeIDR)

	require.Eventually(t, func() bool { return resets.Load() == 1 }, time.Second, time.Millisecond)
	inst.Stop()
	assert.Equal(t, FailedDecodesResetThreshold, src.idrCount())
}

func TestInstance_TrySubmitDecodeUnit(t *testing.T) {
	inst, _ := newLiveInstance(&fakeContext{}, newFakeClock())

	inst.mu.Lock()
	_, ok := inst.TrySubmitDecodeUnit(unit(1, FrameTypeIDR))
	inst.mu.Unlock()
	assert.False(t, ok)

	status, ok := inst.TrySubmitDecodeUnit(unit(1, FrameTypeIDR))
	assert.True(t, ok)
	assert.Equal(t, StatusOK, status)
}

func TestInstance_Close(t *testing.T) {
	dc := &fakeContext{}
	inst, fe := newLiveInstance(dc, newFakeClock())
	inst.SubmitDecodeUnit(unit(1, FrameTypeIDR))

	inst.Close()
	inst.Close()
	assert.True(t, dc.closed)
	assert.True(t, fe.closed)
	assert.Equal(t, StatusNeedIDR, inst.SubmitDecodeUnit(unit(2, FrameTypeIDR)))
}

func TestDecodeUnit_Bytes(t *testing.T) {
	du := &DecodeUnit{Buffers: []Buffer{
		{Type: BufferSPS, Data: []byte{0, 0, 0, 1, 0x67}},
		{Type: BufferPPS, Data: []byte{0, 0, 0, 1, 0x68}},
		{Type: BufferPicData, Data: []byte{0, 0, 0, 1, 0x65, 0x88}},
	}}
	assert.Equal(t, 16, du.FullLength())
	assert.Equal(t, []byte{0, 0, 0, 1, 0x67, 0, 0, 0, 1, 0x68, 0, 0, 0, 1, 0x65, 0x88}, du.Bytes())
}

// spsUnit encodes an Annex B 1280x720 H.264 SPS with four reference frames
// and a four frame decoded picture buffer.
func spsUnit() []byte {
	var w bitWriter
	w.u(8, 77) // profile_idc main
	w.u(8, 0)  // constraint flags
	w.u(8, 31) // level 3.1
	w.ue(0)    // seq_parameter_set_id
	w.ue(0)    // log2_max_frame_num_minus4
	w.ue(2)    // pic_order_cnt_type
	w.ue(4)    // max_num_ref_frames
	w.flag(false)
	w.ue(TestFrameWidth/16 - 1)
	w.ue(TestFrameHeight/16 - 1)
	w.flag(true)  // frame_mbs_only_flag
	w.flag(true)  // direct_8x8_inference_flag
	w.flag(false) // frame_cropping_flag
	w.flag(true)  // vui_parameters_present_flag
	w.u(8, 0)     // aspect ratio, overscan, signal type, chroma loc, timing, hrd x2, pic_struct
	w.flag(true)  // bitstream_restriction_flag
	w.flag(true)
	w.ue(2)
	w.ue(1)
	w.ue(16)
	w.ue(16)
	w.ue(0) // max_num_reorder_frames
	w.ue(4) // max_dec_frame_buffering
	return append([]byte{0, 0, 0, 1}, nalu([]byte{0x67}, w.trailing())...)
}

func TestInstance_SPSFixup(t *testing.T) {
	sps := spsUnit()
	pps := []byte{0, 0, 0, 1, 0x68, 0xce, 0x3c, 0x80}
	pic := []byte{0, 0, 0, 1, 0x65, 0x88, 0x84}
	idr := func(n int) *DecodeUnit {
		return &DecodeUnit{
			FrameNumber: n,
			FrameType:   FrameTypeIDR,
			Buffers: []Buffer{
				{Type: BufferSPS, Data: sps},
				{Type: BufferPPS, Data: pps},
				{Type: BufferPicData, Data: pic},
			},
		}
	}

	fixed, err := codec.FixupH264SPS(sps)
	require.NoError(t, err)
	require.NotEqual(t, sps, fixed)

	tests := []struct {
		name   string
		fixup  bool
		wantPS []byte
	}{
		{"enabled", true, fixed},
		{"disabled", false, sps},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dc := &fakeContext{}
			inst, _ := newLiveInstance(dc, newFakeClock())
			inst.needsSPSFixup = tt.fixup

			require.Equal(t, StatusOK, inst.SubmitDecodeUnit(idr(1)))
			require.Len(t, dc.packets, 1)

			want := append(append(append([]byte(nil), tt.wantPS...), pps...), pic...)
			assert.Equal(t, want, dc.packets[0])
		})
	}
}

func TestInstance_SPSFixupKeepsUnparsableSPS(t *testing.T) {
	dc := &fakeContext{}
	inst, _ := newLiveInstance(dc, newFakeClock())
	inst.needsSPSFixup = true

	broken := []byte{0, 0, 0, 1, 0x67, 0x4d, 0x00}
	du := &DecodeUnit{
		FrameNumber: 1,
		FrameType:   FrameTypeIDR,
		Buffers:     []Buffer{{Type: BufferSPS, Data: broken}, {Type: BufferPicData, Data: []byte{0, 0, 1, 0x65}}},
	}
	require.Equal(t, StatusOK, inst.SubmitDecodeUnit(du))
	require.Len(t, dc.packets, 1)
	assert.Equal(t, du.Bytes(), dc.packets[0])
}
