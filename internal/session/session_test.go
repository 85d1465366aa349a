package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidarr/internal/audio"
	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/platform"
)

func TestNew_RequiresDependencies(t *testing.T) {
	full := Dependencies{
		Connection: newFakeConnection(),
		Platform:   platform.NewHeadless(),
		Engine:     newTestEngine(softwareOnly, &testFactory{}),
		Audio:      audio.NewSelector(audio.DefaultFactories(nil), ""),
	}

	tests := []struct {
		name   string
		mutate func(*Dependencies)
	}{
		{"connection", func(d *Dependencies) { d.Connection = nil }},
		{"platform", func(d *Dependencies) { d.Platform = nil }},
		{"engine", func(d *Dependencies) { d.Engine = nil }},
		{"audio", func(d *Dependencies) { d.Audio = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			tt.mutate(&deps)
			_, err := New(testHost(), testPreferences(), deps)
			assert.Error(t, err)
		})
	}

	s, err := New(testHost(), testPreferences(), full)
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, s.State())
	assert.Equal(t, RendererNone, s.RendererState())
}

// runSession starts rig's session and waits for the first renderer.
func runSession(t *testing.T, rig *testRig) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- rig.session.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return rig.session.RendererState() == RendererLive
	}, 5*time.Second, 10*time.Millisecond)
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

func TestRun_Lifecycle(t *testing.T) {
	rig := newTestRig(t, testHost(), testPreferences(), softwareOnly)
	rig.conn.onStart = func(cb ConnectionCallbacks) {
		cb.VideoSetup(codec.FormatH264, 1280, 720, 60)
	}

	done := runSession(t, rig)
	assert.Equal(t, StateStreaming, rig.session.State())
	assert.ErrorIs(t, rig.session.Run(context.Background()), ErrSessionActive)

	st := rig.session.Status()
	assert.Equal(t, codec.FormatH264, st.Format)
	assert.Equal(t, "h264", st.Decoder)

	cfgs := rig.conn.startedConfigs()
	require.Len(t, cfgs, 1)
	assert.Equal(t, DistanceLocal, cfgs[0].Distance)
	assert.Equal(t, DefaultPacketSize, cfgs[0].PacketSize)
	assert.Equal(t, codec.FormatH264, cfgs[0].VideoFormat)

	rig.platform.Quit()
	require.NoError(t, waitRun(t, done))

	assert.Equal(t, StateTerminated, rig.session.State())
	assert.Equal(t, RendererNone, rig.session.RendererState())
	assert.Equal(t, int32(1), rig.conn.stops.Load())
	assert.Zero(t, rig.conn.quits.Load())
	assert.Equal(t, []int{0}, rig.listener.finishedResults())
}

func TestRun_QuitAppAfterGracefulExit(t *testing.T) {
	prefs := testPreferences()
	prefs.QuitAppAfter = true
	rig := newTestRig(t, testHost(), prefs, softwareOnly)

	done := runSession(t, rig)
	rig.platform.Quit()
	require.NoError(t, waitRun(t, done))

	assert.Equal(t, int32(1), rig.conn.quits.Load())
	assert.Equal(t, 1, rig.listener.quitting)
	assert.Equal(t, []int{0}, rig.listener.finishedResults())
}

func TestRun_UnexpectedTermination(t *testing.T) {
	prefs := testPreferences()
	prefs.QuitAppAfter = true
	rig := newTestRig(t, testHost(), prefs, softwareOnly)

	done := runSession(t, rig)
	rig.conn.registered().ConnectionTerminated(TerminationNoVideoTraffic, PortTest{Ports: "47998", Result: 4})
	require.NoError(t, waitRun(t, done))

	assert.Zero(t, rig.conn.quits.Load())
	assert.Equal(t, []int{4}, rig.listener.finishedResults())
	assert.Contains(t, rig.listener.errorTexts(), TerminationMessage(TerminationNoVideoTraffic, "47998"))
}

func TestRun_ConnectionStartFails(t *testing.T) {
	rig := newTestRig(t, testHost(), testPreferences(), softwareOnly)
	rig.conn.startErr = errors.New("handshake failed")

	err := rig.session.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake failed")
	assert.Equal(t, StateTerminated, rig.session.State())
	assert.Equal(t, int32(1), rig.conn.stops.Load())
	assert.Equal(t, []int{0}, rig.listener.finishedResults())
}

func TestRun_Cancelled(t *testing.T) {
	rig := newTestRig(t, testHost(), testPreferences(), softwareOnly)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rig.session.Run(ctx) }()

	require.Eventually(t, func() bool {
		return rig.session.RendererState() == RendererLive
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	require.NoError(t, waitRun(t, done))
	assert.Equal(t, StateTerminated, rig.session.State())
}

func TestRun_PacketSizeOverride(t *testing.T) {
	prefs := testPreferences()
	prefs.PacketSize = 1200
	rig := newTestRig(t, testHost(), prefs, softwareOnly)

	done := runSession(t, rig)
	rig.platform.Quit()
	require.NoError(t, waitRun(t, done))

	cfg := rig.conn.startedConfigs()[0]
	assert.Equal(t, DistanceLocal, cfg.Distance)
	assert.Equal(t, 1200, cfg.PacketSize)
}

func TestCallbacks_StatusUpdate(t *testing.T) {
	rig := newTestRig(t, testHost(), testPreferences(), softwareOnly)
	cb := rig.session.callbacks()

	cb.StatusUpdate(ConnectionStatusPoor)
	assert.True(t, rig.session.Status().PoorConnection)
	cb.StatusUpdate(ConnectionStatusOkay)
	assert.False(t, rig.session.Status().PoorConnection)
}

func TestCallbacks_GracefulTermination(t *testing.T) {
	rig := newTestRig(t, testHost(), testPreferences(), softwareOnly)
	rig.session.unexpected.Store(false)

	rig.session.callbacks().ConnectionTerminated(TerminationGraceful, PortTest{})
	assert.False(t, rig.session.unexpected.Load())
	assert.Empty(t, rig.listener.errorTexts())

	ev := <-rig.platform.Events()
	assert.Equal(t, platform.EventQuit, ev.Kind)
}

func TestCallbacks_StageFailed(t *testing.T) {
	rig := newTestRig(t, testHost(), testPreferences(), softwareOnly)
	cb := rig.session.callbacks()

	cb.StageStarting("RTSP handshake")
	cb.StageFailed("RTSP handshake", -1, PortTest{Ports: "48010", Result: 2})
	assert.Equal(t, []string{"RTSP handshake", "RTSP handshake failed"}, rig.listener.stages)
	assert.Equal(t, int64(2), rig.session.portTest.Load())
}

func TestStatus_DecodeStats(t *testing.T) {
	rig := newTestRig(t, testHost(), testPreferences(), softwareOnly)
	rig.startStreaming(t)

	st := rig.session.Status()
	assert.Equal(t, rig.session.ID().String(), st.ID)
	assert.Zero(t, st.Stats.DecodedFrames)
}
