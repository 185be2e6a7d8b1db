// Package session owns the lifecycle of the detector: calibration,
// arming, the capture/detect pipeline, and persistence of finished
// sessions.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echo-archery/impact.report/internal/camera"
	"github.com/echo-archery/impact.report/internal/config"
	"github.com/echo-archery/impact.report/internal/db"
	"github.com/echo-archery/impact.report/internal/monitoring"
	"github.com/echo-archery/impact.report/internal/target"
	"github.com/echo-archery/impact.report/internal/vision"
)

// State is the manager's lifecycle position.
type State string

const (
	StateIdle        State = "idle"
	StateCalibrating State = "calibrating"
	StateArmed       State = "armed"
	StateDetecting   State = "detecting"
	StateError       State = "error"
)

var (
	// ErrBusy rejects operations that conflict with an active run.
	ErrBusy = errors.New("detection in progress")
	// ErrShuttingDown rejects operations after Shutdown has begun.
	ErrShuttingDown = errors.New("shutting down")
	// ErrNeedsReset rejects operations while in the error state.
	ErrNeedsReset = errors.New("in error state, reset required")
)

// Outcomes recorded on persisted sessions.
const (
	OutcomeCompleted = "completed"
	OutcomeAborted   = "aborted"
	OutcomeError     = "error"
)

// Store persists finished sessions. Implemented by db.DB.
type Store interface {
	SaveSession(*db.Session) error
}

// run is the per-session pipeline state.
type run struct {
	id        string
	startedAt time.Time
	cancel    context.CancelFunc
	box       *mailbox
	wg        sync.WaitGroup
	finished  chan struct{}
	outcome   string
	err       error
}

// Manager is the single writer for all session state. All public
// methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	state    State
	lastErr  error
	shutdown bool

	cam      camera.Source
	camClose sync.Once
	camErr   error

	store  Store
	tuning *config.TuningConfig

	profile  *vision.Profile
	detector *vision.Detector
	impacts  []vision.Impact

	cur *run
}

func NewManager(cam camera.Source, store Store, tuning *config.TuningConfig) *Manager {
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}
	return &Manager{
		state:  StateIdle,
		cam:    cam,
		store:  store,
		tuning: tuning,
	}
}

// Calibrate captures an averaged frame and locates the target face,
// replacing any previous profile. Allowed from any state except an
// active run.
func (m *Manager) Calibrate(ctx context.Context, face target.Face) (*vision.Profile, error) {
	if !face.Valid() {
		return nil, vision.ErrNoTargetFound
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if m.state == StateDetecting || m.state == StateCalibrating {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	if m.state == StateError {
		m.mu.Unlock()
		return nil, ErrNeedsReset
	}
	m.state = StateCalibrating
	frames := m.tuning.GetCalibrationFrames()
	params := calibrationParams(m.tuning)
	m.mu.Unlock()

	frame, err := camera.CaptureAverage(ctx, m.cam, frames)
	var profile *vision.Profile
	if err == nil {
		profile, err = vision.Calibrate(frame, face, params)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		// A failed attempt keeps the previous profile usable.
		if m.profile != nil {
			m.state = StateArmed
		} else {
			m.state = StateIdle
		}
		return nil, err
	}
	m.profile = profile
	m.lastErr = nil
	m.state = StateArmed
	monitoring.Logf("session: calibrated %s face, %.2f px/cm", face, profile.PixelsPerCM)
	return profile, nil
}

// Start begins a detection run. It requires a calibration profile and
// returns the new session id. Calling Start during an active run
// returns the current id.
func (m *Manager) Start() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return "", ErrShuttingDown
	}
	if m.state == StateDetecting {
		return m.cur.id, nil
	}
	if m.state == StateError {
		return "", ErrNeedsReset
	}
	if m.profile == nil {
		return "", vision.ErrNotCalibrated
	}
	if m.state == StateCalibrating {
		return "", ErrBusy
	}

	det := vision.NewDetector(detectorParams(m.tuning))
	if err := det.Arm(m.profile); err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:        uuid.NewString(),
		startedAt: time.Now(),
		cancel:    cancel,
		box:       newMailbox(),
		finished:  make(chan struct{}),
	}
	m.detector = det
	m.impacts = nil
	m.cur = r
	m.state = StateDetecting

	r.wg.Add(2)
	go m.captureLoop(ctx, r)
	go m.detectLoop(r)
	go m.superviseRun(r)

	monitoring.Logf("session: %s started on %s face", r.id, m.profile.Face)
	return r.id, nil
}

func (m *Manager) captureLoop(ctx context.Context, r *run) {
	defer r.wg.Done()
	for {
		frame, err := m.cam.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			monitoring.Logf("session: capture failed: %v", err)
			m.endRun(r, OutcomeError, err)
			return
		}
		r.box.put(frame)
	}
}

func (m *Manager) detectLoop(r *run) {
	defer r.wg.Done()
	for {
		frame, ok := r.box.take()
		if !ok {
			return
		}
		impacts, err := m.detector.Feed(frame)
		if err != nil {
			monitoring.Logf("session: detection failed: %v", err)
			m.endRun(r, OutcomeError, err)
			return
		}
		if len(impacts) > 0 {
			m.mu.Lock()
			m.impacts = append(m.impacts, impacts...)
			m.mu.Unlock()
		}
	}
}

// endRun records the first outcome and tears down the pipeline. Safe to
// call from any goroutine; later calls keep the original outcome.
func (m *Manager) endRun(r *run, outcome string, err error) {
	m.mu.Lock()
	if r.outcome == "" {
		r.outcome = outcome
		r.err = err
	}
	m.mu.Unlock()
	r.cancel()
	r.box.close()
}

// superviseRun waits for both pipeline goroutines, persists the session
// and settles the final state.
func (m *Manager) superviseRun(r *run) {
	r.wg.Wait()

	m.mu.Lock()
	outcome := r.outcome
	if outcome == "" {
		outcome = OutcomeCompleted
	}
	sess := &db.Session{
		ID:          r.id,
		Face:        m.profile.Face,
		StartedAt:   r.startedAt,
		EndedAt:     time.Now(),
		Outcome:     outcome,
		CenterXPx:   m.profile.CenterXPx,
		CenterYPx:   m.profile.CenterYPx,
		RadiusPx:    m.profile.RadiusPx,
		PixelsPerCM: m.profile.PixelsPerCM,
		Impacts:     append([]vision.Impact(nil), m.impacts...),
	}
	if outcome == OutcomeError {
		m.state = StateError
		m.lastErr = r.err
		// A hardware fault invalidates the calibration. Recovery goes
		// through Reset and a fresh Calibrate.
		m.profile = nil
		m.detector = nil
	} else {
		m.state = StateArmed
	}
	m.cur = nil
	store := m.store
	m.mu.Unlock()

	if store != nil {
		if err := store.SaveSession(sess); err != nil {
			monitoring.Logf("session: save %s failed: %v", sess.ID, err)
		}
	}
	monitoring.Logf("session: %s ended (%s), %d impacts", sess.ID, outcome, len(sess.Impacts))
	close(r.finished)
}

// Stop ends the active run and persists it. Stopping when no run is
// active is a no-op.
func (m *Manager) Stop() error {
	m.mu.Lock()
	r := m.cur
	m.mu.Unlock()
	if r == nil {
		return nil
	}
	m.endRun(r, OutcomeCompleted, nil)
	<-r.finished
	return nil
}

// Reset aborts any active run, discards the calibration profile and
// returns the manager to idle. An aborted run is still persisted.
func (m *Manager) Reset() error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return ErrShuttingDown
	}
	r := m.cur
	m.mu.Unlock()
	if r != nil {
		m.endRun(r, OutcomeAborted, nil)
		<-r.finished
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = nil
	m.detector = nil
	m.impacts = nil
	m.lastErr = nil
	m.state = StateIdle
	monitoring.Logf("session: reset to idle")
	return nil
}

// Shutdown finalises any active run and releases the camera. The camera
// is closed exactly once regardless of how often Shutdown is called.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	r := m.cur
	m.mu.Unlock()

	if r != nil {
		m.endRun(r, OutcomeCompleted, nil)
		select {
		case <-r.finished:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.camClose.Do(func() {
		if m.cam != nil {
			m.camErr = m.cam.Close()
		}
	})
	monitoring.Logf("session: shut down")
	return m.camErr
}

// Status is a point-in-time snapshot of the manager.
type Status struct {
	State       State           `json:"state"`
	SessionID   string          `json:"session_id,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	Profile     *vision.Profile `json:"profile,omitempty"`
	ImpactCount int             `json:"impact_count"`
	LastError   string          `json:"last_error,omitempty"`
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		State:       m.state,
		Profile:     m.profile,
		ImpactCount: len(m.impacts),
	}
	if m.cur != nil {
		st.SessionID = m.cur.id
		t := m.cur.startedAt
		st.StartedAt = &t
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// Impacts returns impacts from the current (or most recent) run with a
// sequence number greater than since.
func (m *Manager) Impacts(since uint64) []vision.Impact {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []vision.Impact
	for _, imp := range m.impacts {
		if imp.Seq > since {
			out = append(out, imp)
		}
	}
	return out
}

// Params returns the active tuning configuration.
func (m *Manager) Params() *config.TuningConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.tuning
	return &cp
}

// UpdateParams overlays non-nil fields of patch onto the configuration.
// New values take effect at the next calibration or run.
func (m *Manager) UpdateParams(patch *config.TuningConfig) (*config.TuningConfig, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tuning.Merge(patch)
	if err := m.tuning.Validate(); err != nil {
		return nil, err
	}
	cp := *m.tuning
	return &cp, nil
}

func calibrationParams(t *config.TuningConfig) vision.CalibrationParams {
	return vision.CalibrationParams{
		BlurRadius:      t.GetBlurRadius(),
		EdgeThreshold:   t.GetEdgeThreshold(),
		MinRadiusPx:     t.GetMinRadiusPx(),
		MaxRadiusPx:     t.GetMaxRadiusPx(),
		MinSupport:      t.GetMinSupport(),
		AmbiguityMargin: t.GetAmbiguityMargin(),
		MaxTiltDeg:      t.GetMaxTiltDeg(),
	}
}

func detectorParams(t *config.TuningConfig) vision.DetectorParams {
	return vision.DetectorParams{
		Background: vision.BackgroundParams{
			UpdateFraction:   t.GetUpdateFraction(),
			WarmupMinFrames:  t.GetWarmupMinFrames(),
			DiffThreshold:    t.GetDiffThreshold(),
			SpreadMultiplier: t.GetSpreadMultiplier(),
		},
		MorphRadius:     t.GetMorphRadius(),
		MorphIterations: t.GetMorphIterations(),
		MinAreaPx:       t.GetMinAreaPx(),
		MaxAreaPx:       t.GetMaxAreaPx(),
		MinAspect:       t.GetMinAspect(),
		EdgeSlackPx:     t.GetEdgeSlackPx(),
		HitsToConfirm:   t.GetHitsToConfirm(),
		TrackGateDistPx: t.GetTrackGateDistPx(),
		MissesToDrop:    t.GetMissesToDrop(),
		MinSpacingCM:    t.GetMinSpacingCM(),
		CooldownFrames:  t.GetCooldownFrames(),
	}
}
