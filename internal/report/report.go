// Package report renders an HTML view of a finished session: every
// impact plotted on the target face, coloured by score.
package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/echo-archery/impact.report/internal/db"
)

// Render writes a self-contained HTML scatter of the session's impacts
// in target coordinates. The image Y axis points down, so Y is negated
// to draw the target the way an archer sees it.
func Render(w io.Writer, sess *db.Session) error {
	maxScore := 0
	data := make([]opts.ScatterData, 0, len(sess.Impacts))
	for _, imp := range sess.Impacts {
		if imp.Score > maxScore {
			maxScore = imp.Score
		}
		data = append(data, opts.ScatterData{
			Name:  fmt.Sprintf("#%d score %d", imp.Seq, imp.Score),
			Value: []interface{}{imp.XCM, -imp.YCM, imp.Score},
		})
	}
	if maxScore == 0 {
		maxScore = 10
	}

	// Symmetric axes covering the face plus a little margin.
	pad := sess.Face.DiameterCM() / 2 * 1.1
	if pad == 0 {
		pad = 40.0
	}

	stats := db.ComputeStats(sess)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Session " + sess.ID,
			Width:     "800px",
			Height:    "800px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("Session %s (%s face)", sess.ID, sess.Face),
			Subtitle: fmt.Sprintf("%d impacts, total %d, spread %.1f cm",
				stats.ImpactCount, stats.TotalScore, stats.GroupSpreadCM),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (cm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (cm)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxScore),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#31688e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("impacts", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))

	return scatter.Render(w)
}
