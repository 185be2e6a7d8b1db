package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echo-archery/impact.report/internal/camera"
	"github.com/echo-archery/impact.report/internal/config"
	"github.com/echo-archery/impact.report/internal/db"
	"github.com/echo-archery/impact.report/internal/monitoring"
	"github.com/echo-archery/impact.report/internal/target"
	"github.com/echo-archery/impact.report/internal/vision"
)

func init() {
	monitoring.SetLogger(nil) // quiet pipeline logs in tests
}

// memStore records saved sessions in memory.
type memStore struct {
	mu    sync.Mutex
	saved []*db.Session
}

func (s *memStore) SaveSession(sess *db.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, sess)
	return nil
}

func (s *memStore) sessions() []*db.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*db.Session(nil), s.saved...)
}

func fastTuning() *config.TuningConfig {
	cfg := config.EmptyTuningConfig()
	// Small windows keep the pipeline tests quick.
	three := 3
	two := 2
	cfg.WarmupMinFrames = &three
	cfg.HitsToConfirm = &two
	cfg.CalibrationFrames = &two
	return cfg
}

func newTestManager(t *testing.T) (*Manager, *camera.MockSource, *memStore) {
	t.Helper()
	cam := camera.NewMock(camera.MockConfig{
		Width:         640,
		Height:        480,
		RadiusPx:      150,
		FrameInterval: 2 * time.Millisecond,
	})
	store := &memStore{}
	m := NewManager(cam, store, fastTuning())
	return m, cam, store
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestStartWithoutCalibration(t *testing.T) {
	m, _, store := newTestManager(t)

	_, err := m.Start()
	assert.True(t, errors.Is(err, vision.ErrNotCalibrated), "got %v", err)
	assert.Equal(t, StateIdle, m.Status().State)
	// No session may be created, let alone persisted.
	assert.Empty(t, store.sessions())
}

func TestCalibrateArmsManager(t *testing.T) {
	m, _, _ := newTestManager(t)

	profile, err := m.Calibrate(context.Background(), target.Face122)
	require.NoError(t, err)
	assert.Equal(t, StateArmed, m.Status().State)

	// The mock face is 150 px radius, so 300 px across a 122 cm face.
	want := 300.0 / 122.0
	assert.InDelta(t, want, profile.PixelsPerCM, want*0.05)
	assert.InDelta(t, 320, profile.CenterXPx, 5)
	assert.InDelta(t, 240, profile.CenterYPx, 5)
}

func TestCalibrateRejectsBadFace(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.Calibrate(context.Background(), target.Face("60cm"))
	assert.Error(t, err)
	assert.Equal(t, StateIdle, m.Status().State)
}

func TestDetectionRoundTrip(t *testing.T) {
	m, cam, store := newTestManager(t)

	_, err := m.Calibrate(context.Background(), target.Face122)
	require.NoError(t, err)

	id, err := m.Start()
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, StateDetecting, m.Status().State)

	// Give the background model time to settle, then plant an arrow.
	require.True(t, waitFor(t, 5*time.Second, func() bool {
		return m.Status().State == StateDetecting
	}))
	time.Sleep(50 * time.Millisecond)
	cam.InjectBlob(320, 240, 6, 24)

	require.True(t, waitFor(t, 10*time.Second, func() bool {
		return m.Status().ImpactCount >= 1
	}), "impact never confirmed")

	impacts := m.Impacts(0)
	require.NotEmpty(t, impacts)
	assert.Equal(t, uint64(1), impacts[0].Seq)
	assert.Equal(t, 10, impacts[0].Score, "arrow at centre should score 10")

	require.NoError(t, m.Stop())
	assert.Equal(t, StateArmed, m.Status().State)

	saved := store.sessions()
	require.Len(t, saved, 1)
	assert.Equal(t, id, saved[0].ID)
	assert.Equal(t, OutcomeCompleted, saved[0].Outcome)
	assert.NotEmpty(t, saved[0].Impacts)
}

func TestStopIsIdempotent(t *testing.T) {
	m, _, store := newTestManager(t)

	_, err := m.Calibrate(context.Background(), target.Face122)
	require.NoError(t, err)
	_, err = m.Start()
	require.NoError(t, err)

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	assert.Len(t, store.sessions(), 1, "repeat Stop must not persist twice")
}

func TestStartDuringRunReturnsSameID(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Calibrate(context.Background(), target.Face122)
	require.NoError(t, err)
	id1, err := m.Start()
	require.NoError(t, err)
	id2, err := m.Start()
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	require.NoError(t, m.Stop())
}

func TestResetReturnsToIdle(t *testing.T) {
	m, _, store := newTestManager(t)

	_, err := m.Calibrate(context.Background(), target.Face122)
	require.NoError(t, err)
	_, err = m.Start()
	require.NoError(t, err)

	require.NoError(t, m.Reset())
	st := m.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Nil(t, st.Profile)
	assert.Zero(t, st.ImpactCount)

	// The aborted run is still persisted.
	saved := store.sessions()
	require.Len(t, saved, 1)
	assert.Equal(t, OutcomeAborted, saved[0].Outcome)

	// Idle again: starting requires a fresh calibration.
	_, err = m.Start()
	assert.True(t, errors.Is(err, vision.ErrNotCalibrated))
}

func TestShutdownFinalizesActiveRun(t *testing.T) {
	m, cam, store := newTestManager(t)

	_, err := m.Calibrate(context.Background(), target.Face122)
	require.NoError(t, err)
	id, err := m.Start()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	saved := store.sessions()
	require.Len(t, saved, 1)
	assert.Equal(t, id, saved[0].ID)
	assert.Equal(t, OutcomeCompleted, saved[0].Outcome)

	// The camera is released: further capture fails.
	_, err = cam.NextFrame(context.Background())
	assert.True(t, errors.Is(err, camera.ErrCameraUnavailable))

	// Repeat shutdown is safe and does not double-close.
	require.NoError(t, m.Shutdown(context.Background()))

	// No new work is accepted.
	_, err = m.Calibrate(context.Background(), target.Face122)
	assert.True(t, errors.Is(err, ErrShuttingDown))
	_, err = m.Start()
	assert.True(t, errors.Is(err, ErrShuttingDown))
}

func TestCaptureFailureEndsRunWithError(t *testing.T) {
	m, cam, store := newTestManager(t)

	_, err := m.Calibrate(context.Background(), target.Face122)
	require.NoError(t, err)
	_, err = m.Start()
	require.NoError(t, err)

	// Kill the camera mid-run.
	require.NoError(t, cam.Close())

	require.True(t, waitFor(t, 5*time.Second, func() bool {
		return m.Status().State == StateError
	}), "manager never reached error state")

	st := m.Status()
	assert.NotEmpty(t, st.LastError)
	assert.Nil(t, st.Profile, "a fault must invalidate the calibration")

	saved := store.sessions()
	require.Len(t, saved, 1)
	assert.Equal(t, OutcomeError, saved[0].Outcome)

	// The error state only clears through Reset.
	_, err = m.Start()
	assert.True(t, errors.Is(err, ErrNeedsReset), "got %v", err)
	_, err = m.Calibrate(context.Background(), target.Face122)
	assert.True(t, errors.Is(err, ErrNeedsReset), "got %v", err)

	require.NoError(t, m.Reset())
	assert.Equal(t, StateIdle, m.Status().State)
	assert.Len(t, store.sessions(), 1, "reset after a faulted run must not persist again")
}

func TestImpactsSinceFilter(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.impacts = []vision.Impact{{Seq: 1}, {Seq: 2}, {Seq: 3}}

	assert.Len(t, m.Impacts(0), 3)
	assert.Len(t, m.Impacts(1), 2)
	assert.Len(t, m.Impacts(3), 0)
}

func TestUpdateParams(t *testing.T) {
	m, _, _ := newTestManager(t)

	ten := 10
	merged, err := m.UpdateParams(&config.TuningConfig{HitsToConfirm: &ten})
	require.NoError(t, err)
	assert.Equal(t, 10, merged.GetHitsToConfirm())
	// Untouched values survive the merge.
	assert.Equal(t, 3, merged.GetWarmupMinFrames())

	bad := -5.0
	_, err = m.UpdateParams(&config.TuningConfig{DiffThreshold: &bad})
	assert.Error(t, err)
}
