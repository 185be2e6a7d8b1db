package vision

import (
	"fmt"
	"math"
	"sort"

	"github.com/anthonynsimon/bild/blur"
	"gonum.org/v1/gonum/mat"

	"github.com/echo-archery/impact.report/internal/monitoring"
	"github.com/echo-archery/impact.report/internal/target"
)

// CalibrationParams are the tunable knobs of the circle-fitting calibrator.
// Zero values fall back to the defaults below, matching the param handling
// style used throughout the pipeline.
type CalibrationParams struct {
	// BlurRadius is the Gaussian blur radius applied before edge detection.
	BlurRadius float64
	// EdgeThreshold is the minimum gradient magnitude for a pixel to count
	// as an edge.
	EdgeThreshold float64
	// MinRadiusPx / MaxRadiusPx bound the circle radius search.
	MinRadiusPx int
	MaxRadiusPx int
	// MinCenterDistPx is the minimum separation between distinct centre
	// candidates; closer peaks are suppressed into one.
	MinCenterDistPx int
	// MinSupport is the minimum fraction of a circle's circumference that
	// must be covered by edge pixels for the circle to be accepted.
	MinSupport float64
	// AmbiguityMargin: a second centre whose best support is within this
	// fraction of the winner makes the scene ambiguous.
	AmbiguityMargin float64
	// MaxTiltDeg bounds how far off perpendicular the camera may sit. The
	// fitted boundary's minor/major axis ratio must be at least
	// cos(MaxTiltDeg).
	MaxTiltDeg float64
	// RefineBandPx is the half-width of the annulus of edge points used for
	// the least-squares refinement around a Hough candidate.
	RefineBandPx float64
}

const (
	defaultBlurRadius      = 2.0
	defaultEdgeThreshold   = 30.0
	defaultMinRadiusPx     = 50
	defaultMaxRadiusPx     = 800
	defaultMinCenterDistPx = 100
	defaultMinSupport      = 0.5
	defaultAmbiguityMargin = 0.15
	defaultMaxTiltDeg      = 15.0
	defaultRefineBandPx    = 2.5
)

func (p CalibrationParams) withDefaults() CalibrationParams {
	if p.BlurRadius <= 0 {
		p.BlurRadius = defaultBlurRadius
	}
	if p.EdgeThreshold <= 0 {
		p.EdgeThreshold = defaultEdgeThreshold
	}
	if p.MinRadiusPx <= 0 {
		p.MinRadiusPx = defaultMinRadiusPx
	}
	if p.MaxRadiusPx <= 0 {
		p.MaxRadiusPx = defaultMaxRadiusPx
	}
	if p.MinCenterDistPx <= 0 {
		p.MinCenterDistPx = defaultMinCenterDistPx
	}
	if p.MinSupport <= 0 {
		p.MinSupport = defaultMinSupport
	}
	if p.AmbiguityMargin <= 0 {
		p.AmbiguityMargin = defaultAmbiguityMargin
	}
	if p.MaxTiltDeg <= 0 {
		p.MaxTiltDeg = defaultMaxTiltDeg
	}
	if p.RefineBandPx <= 0 {
		p.RefineBandPx = defaultRefineBandPx
	}
	return p
}

// edgePoint is an edge pixel plus its gradient direction.
type edgePoint struct {
	x, y   int
	gx, gy float64
}

// Calibrate locates the outer boundary of the target face in an
// empty-target frame and derives the pixel-to-centimetre mapping.
//
// The approach follows the gradient variant of the Hough circle transform:
// edge pixels vote for centre candidates along their gradient direction over
// the radius search range; centre peaks are then scored by how much of a
// circle's circumference has edge support, the boundary is refined with a
// least-squares circle fit, and the fit's axis ratio gates on camera
// perpendicularity.
func Calibrate(frame *Frame, face target.Face, params CalibrationParams) (*Profile, error) {
	if frame == nil || frame.Gray == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrNoTargetFound)
	}
	if !face.Valid() {
		return nil, fmt.Errorf("unsupported target face %q", face)
	}
	p := params.withDefaults()

	w, h := frame.Width(), frame.Height()
	plane := blurredPlane(frame, p.BlurRadius)
	edges := detectEdges(plane, w, h, p.EdgeThreshold)
	if len(edges) == 0 {
		return nil, fmt.Errorf("%w: no edges above threshold %.0f", ErrNoTargetFound, p.EdgeThreshold)
	}

	maxR := p.MaxRadiusPx
	if lim := maxDim(w, h); maxR > lim {
		maxR = lim
	}

	centres := voteCentres(edges, w, h, p.MinRadiusPx, maxR, p.MinCenterDistPx)
	if len(centres) == 0 {
		return nil, fmt.Errorf("%w: no centre candidates", ErrNoTargetFound)
	}

	// Score each centre candidate by its best-supported radius.
	type scored struct {
		cx, cy  int
		radius  float64
		support float64
	}
	var cands []scored
	for _, c := range centres {
		r, support := bestRadius(edges, c.x, c.y, p.MinRadiusPx, maxR, p.MinSupport)
		if r > 0 {
			cands = append(cands, scored{cx: c.x, cy: c.y, radius: r, support: support})
		}
	}
	if len(cands) == 0 {
		return nil, fmt.Errorf("%w: no circle with >= %.0f%% rim support", ErrNoTargetFound, p.MinSupport*100)
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].support > cands[j].support })

	best := cands[0]
	for _, c := range cands[1:] {
		dx := float64(c.cx - best.cx)
		dy := float64(c.cy - best.cy)
		if math.Hypot(dx, dy) < float64(p.MinCenterDistPx) {
			continue // concentric with the winner, not a rival
		}
		if c.support >= best.support*(1-p.AmbiguityMargin) {
			return nil, fmt.Errorf("%w: rival circle at (%d,%d) support %.2f vs %.2f",
				ErrAmbiguousTarget, c.cx, c.cy, c.support, best.support)
		}
	}

	// Least-squares refinement over the edge annulus around the candidate.
	band := collectBand(edges, float64(best.cx), float64(best.cy), best.radius, p.RefineBandPx)
	if len(band) < 8 {
		return nil, fmt.Errorf("%w: only %d rim points", ErrNoTargetFound, len(band))
	}
	cx, cy, r, err := fitCircle(band)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoTargetFound, err)
	}

	if ratio := axisRatio(band, cx, cy); ratio < math.Cos(p.MaxTiltDeg*math.Pi/180) {
		return nil, fmt.Errorf("%w: axis ratio %.3f implies tilt beyond %.0f degrees",
			ErrPoorGeometry, ratio, p.MaxTiltDeg)
	}

	ppcm := (2 * r) / face.DiameterCM()
	if ppcm <= 0 || math.IsInf(ppcm, 0) || math.IsNaN(ppcm) {
		return nil, fmt.Errorf("%w: degenerate scale %.4f px/cm", ErrPoorGeometry, ppcm)
	}

	monitoring.Logf("[Calibrate] face=%s centre=(%.1f,%.1f) radius=%.1fpx scale=%.3fpx/cm support=%.2f",
		face, cx, cy, r, ppcm, best.support)

	return &Profile{
		Face:        face,
		CenterXPx:   cx,
		CenterYPx:   cy,
		RadiusPx:    r,
		PixelsPerCM: ppcm,
		CapturedAt:  frame.CapturedAt,
	}, nil
}

// blurredPlane returns the blurred luminance plane of the frame as a flat
// row-major slice.
func blurredPlane(frame *Frame, radius float64) []uint8 {
	w, h := frame.Width(), frame.Height()
	blurred := blur.Gaussian(frame.Gray, radius)
	plane := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		row := blurred.Pix[y*blurred.Stride : y*blurred.Stride+w*4]
		for x := 0; x < w; x++ {
			// Channels are equal for a grayscale input; take red.
			plane[y*w+x] = row[x*4]
		}
	}
	return plane
}

// detectEdges computes Sobel-style gradients over the plane and returns the
// pixels whose gradient magnitude exceeds the threshold, together with their
// normalised gradient direction.
func detectEdges(plane []uint8, w, h int, threshold float64) []edgePoint {
	var out []edgePoint
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := float64(plane[y*w+x+1]) - float64(plane[y*w+x-1])
			gy := float64(plane[(y+1)*w+x]) - float64(plane[(y-1)*w+x])
			mag := math.Hypot(gx, gy)
			if mag < threshold {
				continue
			}
			out = append(out, edgePoint{x: x, y: y, gx: gx / mag, gy: gy / mag})
		}
	}
	return out
}

// voteCentres accumulates centre votes along each edge pixel's gradient line
// over the radius range, then extracts vote peaks separated by at least
// minDist pixels.
func voteCentres(edges []edgePoint, w, h, minR, maxR, minDist int) []struct{ x, y int } {
	acc := make([]int32, w*h)
	for _, e := range edges {
		for _, sign := range [2]float64{1, -1} {
			for t := minR; t <= maxR; t++ {
				cx := e.x + int(sign*e.gx*float64(t))
				cy := e.y + int(sign*e.gy*float64(t))
				if cx < 0 || cx >= w || cy < 0 || cy >= h {
					break
				}
				acc[cy*w+cx]++
			}
		}
	}

	// Collect local peaks above a floor proportional to the smallest
	// detectable circle, then greedily keep the strongest with spatial
	// non-maximum suppression.
	floor := int32(minR)
	type peak struct {
		x, y  int
		votes int32
	}
	var peaks []peak
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			v := acc[y*w+x]
			if v < floor {
				continue
			}
			if v >= acc[y*w+x-1] && v >= acc[y*w+x+1] && v >= acc[(y-1)*w+x] && v >= acc[(y+1)*w+x] {
				peaks = append(peaks, peak{x: x, y: y, votes: v})
			}
		}
	}
	sort.Slice(peaks, func(i, j int) bool { return peaks[i].votes > peaks[j].votes })

	var out []struct{ x, y int }
	for _, pk := range peaks {
		keep := true
		for _, o := range out {
			if math.Hypot(float64(pk.x-o.x), float64(pk.y-o.y)) < float64(minDist) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, struct{ x, y int }{pk.x, pk.y})
		}
		if len(out) >= 8 {
			break
		}
	}
	return out
}

// bestRadius histograms edge-pixel distances from the centre and returns the
// largest radius whose circumference support meets minSupport. Preferring
// the largest supported radius selects the outer boundary of a multi-ring
// face rather than an inner scoring ring.
func bestRadius(edges []edgePoint, cx, cy, minR, maxR int, minSupport float64) (float64, float64) {
	hist := make([]int, maxR+2)
	for _, e := range edges {
		d := math.Hypot(float64(e.x-cx), float64(e.y-cy))
		ri := int(d + 0.5)
		if ri >= minR && ri <= maxR {
			hist[ri]++
		}
	}
	bestSupport := 0.0
	for r := maxR; r >= minR; r-- {
		// Sum a 3-bin window to tolerate sub-pixel rim spread.
		count := hist[r]
		if r > 0 {
			count += hist[r-1]
		}
		if r+1 <= maxR {
			count += hist[r+1]
		}
		support := float64(count) / (2 * math.Pi * float64(r))
		if support > 1 {
			support = 1
		}
		if support >= minSupport {
			return float64(r), support
		}
		if support > bestSupport {
			bestSupport = support
		}
	}
	return 0, bestSupport
}

// collectBand returns the edge points within bandPx of the candidate circle.
func collectBand(edges []edgePoint, cx, cy, r, bandPx float64) []edgePoint {
	var out []edgePoint
	for _, e := range edges {
		d := math.Hypot(float64(e.x)-cx, float64(e.y)-cy)
		if math.Abs(d-r) <= bandPx {
			out = append(out, e)
		}
	}
	return out
}

// fitCircle performs an algebraic (Kasa) least-squares circle fit of the
// points: minimise |x^2+y^2 - a*x - b*y - c| which is linear in (a,b,c).
func fitCircle(points []edgePoint) (cx, cy, r float64, err error) {
	n := len(points)
	a := mat.NewDense(n, 3, nil)
	b := mat.NewVecDense(n, nil)
	for i, pt := range points {
		x, y := float64(pt.x), float64(pt.y)
		a.Set(i, 0, x)
		a.Set(i, 1, y)
		a.Set(i, 2, 1)
		b.SetVec(i, x*x+y*y)
	}
	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		return 0, 0, 0, fmt.Errorf("circle fit failed: %w", err)
	}
	cx = sol.AtVec(0) / 2
	cy = sol.AtVec(1) / 2
	rsq := sol.AtVec(2) + cx*cx + cy*cy
	if rsq <= 0 {
		return 0, 0, 0, fmt.Errorf("circle fit produced non-positive radius")
	}
	return cx, cy, math.Sqrt(rsq), nil
}

// axisRatio computes the minor/major axis ratio of the point ring from its
// second moments about the centre. A perfect circle gives 1.0; a circle
// viewed at tilt angle t gives approximately cos(t).
func axisRatio(points []edgePoint, cx, cy float64) float64 {
	var sxx, syy, sxy float64
	for _, pt := range points {
		dx := float64(pt.x) - cx
		dy := float64(pt.y) - cy
		sxx += dx * dx
		syy += dy * dy
		sxy += dx * dy
	}
	n := float64(len(points))
	sxx, syy, sxy = sxx/n, syy/n, sxy/n

	// Eigenvalues of the 2x2 covariance matrix.
	tr := sxx + syy
	det := sxx*syy - sxy*sxy
	disc := math.Sqrt(math.Max(tr*tr/4-det, 0))
	l1 := tr/2 + disc
	l2 := tr/2 - disc
	if l1 <= 0 {
		return 0
	}
	if l2 < 0 {
		l2 = 0
	}
	return math.Sqrt(l2 / l1)
}

func maxDim(w, h int) int {
	if w > h {
		return w
	}
	return h
}
