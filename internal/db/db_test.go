package db

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echo-archery/impact.report/internal/target"
	"github.com/echo-archery/impact.report/internal/vision"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func sampleSession(impacts int) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		Face:        target.Face122,
		StartedAt:   time.Now().Add(-time.Minute).UTC(),
		EndedAt:     time.Now().UTC(),
		Outcome:     "completed",
		CenterXPx:   320,
		CenterYPx:   240,
		RadiusPx:    300,
		PixelsPerCM: 600.0 / 122.0,
	}
	for i := 0; i < impacts; i++ {
		x := float64(i) * 2
		s.Impacts = append(s.Impacts, vision.Impact{
			Seq:        uint64(i + 1),
			PixelX:     320 + i,
			PixelY:     240,
			XCM:        x,
			YCM:        0,
			RadiusCM:   x,
			AngleDeg:   0,
			Score:      target.Face122.Score(x),
			Confidence: 1,
			DetectedAt: time.Now().UTC(),
		})
	}
	return s
}

func TestMigrationsApply(t *testing.T) {
	database := newTestDB(t)
	version, dirty, err := database.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)
}

func TestSaveAndGetSession(t *testing.T) {
	database := newTestDB(t)

	want := sampleSession(3)
	require.NoError(t, database.SaveSession(want))

	got, err := database.GetSession(want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, target.Face122, got.Face)
	assert.Equal(t, "completed", got.Outcome)
	assert.InDelta(t, want.PixelsPerCM, got.PixelsPerCM, 1e-9)
	require.Len(t, got.Impacts, 3)

	// Impacts come back ordered by sequence.
	for i, imp := range got.Impacts {
		assert.Equal(t, uint64(i+1), imp.Seq)
	}
	assert.Equal(t, 10, got.Impacts[0].Score)
}

func TestGetSessionNotFound(t *testing.T) {
	database := newTestDB(t)
	_, err := database.GetSession("no-such-id")
	assert.True(t, errors.Is(err, ErrSessionNotFound), "got %v", err)
}

func TestListSessions(t *testing.T) {
	database := newTestDB(t)

	first := sampleSession(2)
	first.StartedAt = time.Now().Add(-2 * time.Hour).UTC()
	second := sampleSession(5)
	require.NoError(t, database.SaveSession(first))
	require.NoError(t, database.SaveSession(second))

	list, err := database.ListSessions()
	require.NoError(t, err)
	require.Len(t, list, 2)

	// Newest first.
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, 5, list[0].ImpactCount)
	assert.Equal(t, first.ID, list[1].ID)
	assert.Equal(t, 2, list[1].ImpactCount)
}

func TestSessionProfileReconstruction(t *testing.T) {
	s := sampleSession(0)
	p := s.Profile()
	assert.Equal(t, s.Face, p.Face)
	assert.Equal(t, s.RadiusPx, p.RadiusPx)
	assert.Equal(t, s.PixelsPerCM, p.PixelsPerCM)
}

func TestComputeStats(t *testing.T) {
	s := sampleSession(0)
	s.Impacts = []vision.Impact{
		{Seq: 1, XCM: 0, YCM: 0, RadiusCM: 0, Score: 10},
		{Seq: 2, XCM: 2, YCM: 0, RadiusCM: 2, Score: 10},
		{Seq: 3, XCM: 4, YCM: 0, RadiusCM: 4, Score: 10},
	}
	st := ComputeStats(s)
	assert.Equal(t, 3, st.ImpactCount)
	assert.Equal(t, 30, st.TotalScore)
	assert.Equal(t, 10, st.BestScore)
	assert.InDelta(t, 10.0, st.MeanScore, 1e-9)
	assert.InDelta(t, 2.0, st.MeanRadiusCM, 1e-9)
	assert.InDelta(t, 0.0, st.MinRadiusCM, 1e-9)
	assert.InDelta(t, 4.0, st.MaxRadiusCM, 1e-9)
	assert.InDelta(t, 2.0, st.GroupCenterXCM, 1e-9)
	assert.InDelta(t, 0.0, st.GroupCenterYCM, 1e-9)
	// Distances from the (2, 0) centroid are 2, 0, 2.
	assert.InDelta(t, 4.0/3.0, st.GroupSpreadCM, 1e-9)
}

func TestComputeStatsEmpty(t *testing.T) {
	st := ComputeStats(sampleSession(0))
	assert.Equal(t, 0, st.ImpactCount)
	assert.Equal(t, 0, st.TotalScore)
}

func TestSessionStats(t *testing.T) {
	database := newTestDB(t)
	s := sampleSession(4)
	require.NoError(t, database.SaveSession(s))

	st, err := database.SessionStats(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, st.ImpactCount)

	_, err = database.SessionStats("missing")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}
