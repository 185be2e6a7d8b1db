package db

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarises the scoring and grouping of one session.
type Stats struct {
	ImpactCount    int     `json:"impact_count"`
	TotalScore     int     `json:"total_score"`
	MeanScore      float64 `json:"mean_score"`
	BestScore      int     `json:"best_score"`
	MeanRadiusCM   float64 `json:"mean_radius_cm"`
	StdRadiusCM    float64 `json:"std_radius_cm"`
	MinRadiusCM    float64 `json:"min_radius_cm"` // best impact
	MaxRadiusCM    float64 `json:"max_radius_cm"` // worst impact
	GroupCenterXCM float64 `json:"group_center_x_cm"`
	GroupCenterYCM float64 `json:"group_center_y_cm"`
	GroupSpreadCM  float64 `json:"group_spread_cm"` // mean distance from group centre
}

// SessionStats computes per-session aggregates from the stored impacts.
func (db *DB) SessionStats(id string) (*Stats, error) {
	s, err := db.GetSession(id)
	if err != nil {
		return nil, err
	}
	return ComputeStats(s), nil
}

// ComputeStats derives Stats from an in-memory session.
func ComputeStats(s *Session) *Stats {
	st := &Stats{ImpactCount: len(s.Impacts)}
	if len(s.Impacts) == 0 {
		return st
	}

	xs := make([]float64, len(s.Impacts))
	ys := make([]float64, len(s.Impacts))
	radii := make([]float64, len(s.Impacts))
	scores := make([]float64, len(s.Impacts))
	for i, imp := range s.Impacts {
		xs[i] = imp.XCM
		ys[i] = imp.YCM
		radii[i] = imp.RadiusCM
		scores[i] = float64(imp.Score)
		st.TotalScore += imp.Score
		if imp.Score > st.BestScore {
			st.BestScore = imp.Score
		}
	}

	st.MeanScore = stat.Mean(scores, nil)
	st.MeanRadiusCM = stat.Mean(radii, nil)
	if len(radii) > 1 {
		st.StdRadiusCM = stat.StdDev(radii, nil)
	}
	st.MinRadiusCM = floats.Min(radii)
	st.MaxRadiusCM = floats.Max(radii)

	st.GroupCenterXCM = stat.Mean(xs, nil)
	st.GroupCenterYCM = stat.Mean(ys, nil)
	dists := make([]float64, len(xs))
	for i := range xs {
		dists[i] = math.Hypot(xs[i]-st.GroupCenterXCM, ys[i]-st.GroupCenterYCM)
	}
	st.GroupSpreadCM = stat.Mean(dists, nil)
	return st
}
