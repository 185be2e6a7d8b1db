package vision

import (
	"math"
	"time"

	"github.com/echo-archery/impact.report/internal/monitoring"
	"github.com/echo-archery/impact.report/internal/target"
)

// DetectorParams tunes the foreground segmentation and the candidate
// confirmation stage. Zero values take defaults from withDefaults.
type DetectorParams struct {
	Background BackgroundParams

	// MorphRadius and MorphIterations control the open/close cleanup of
	// the raw difference mask.
	MorphRadius     int
	MorphIterations int

	// Component gates. Blobs outside [MinAreaPx, MaxAreaPx] or with a
	// bounding-box elongation below MinAspect are discarded.
	MinAreaPx int
	MaxAreaPx int
	MinAspect float64

	// EdgeSlackPx lets an impact land slightly outside the calibrated
	// face boundary before it is rejected.
	EdgeSlackPx float64

	// Confirmation. A candidate must reappear at a stable position for
	// HitsToConfirm consecutive-ish frames before it becomes an impact.
	// Positions within TrackGateDistPx of an existing candidate update
	// that candidate; MissesToDrop consecutive absences discard it.
	HitsToConfirm   int
	TrackGateDistPx float64
	MissesToDrop    int

	// MinSpacingCM suppresses a confirmed candidate closer than this to
	// an already reported impact.
	MinSpacingCM float64

	// CooldownFrames holds off new candidates for this many frames after
	// each confirmed impact, while the background re-settles.
	CooldownFrames int
}

func (p DetectorParams) withDefaults() DetectorParams {
	if p.MorphRadius == 0 {
		p.MorphRadius = 1
	}
	if p.MorphIterations == 0 {
		p.MorphIterations = 2
	}
	if p.MinAreaPx == 0 {
		p.MinAreaPx = 40
	}
	if p.MaxAreaPx == 0 {
		p.MaxAreaPx = 8000
	}
	if p.MinAspect == 0 {
		p.MinAspect = 1.5
	}
	if p.EdgeSlackPx == 0 {
		p.EdgeSlackPx = 10
	}
	if p.HitsToConfirm == 0 {
		p.HitsToConfirm = 3
	}
	if p.TrackGateDistPx == 0 {
		p.TrackGateDistPx = 25
	}
	if p.MissesToDrop == 0 {
		p.MissesToDrop = 5
	}
	if p.MinSpacingCM == 0 {
		p.MinSpacingCM = 3.0
	}
	if p.CooldownFrames == 0 {
		p.CooldownFrames = 4
	}
	return p
}

// Impact is one confirmed arrow strike, located in both pixel and target
// coordinates.
type Impact struct {
	Seq        uint64    `json:"seq"`
	PixelX     int       `json:"pixel_x"`
	PixelY     int       `json:"pixel_y"`
	XCM        float64   `json:"x_cm"`
	YCM        float64   `json:"y_cm"`
	RadiusCM   float64   `json:"radius_cm"`
	AngleDeg   float64   `json:"angle_deg"`
	Score      int       `json:"score"`
	Confidence float64   `json:"confidence"`
	DetectedAt time.Time `json:"detected_at"`
}

type candidate struct {
	x, y   float64 // tip position, pixels
	hits   int
	misses int
	frames int
	comp   *component
	frame  *Frame // frame the component was last seen in
}

// Detector turns a stream of frames into confirmed impacts. It is not
// safe for concurrent use; the session pipeline feeds it from a single
// goroutine.
type Detector struct {
	params     DetectorParams
	profile    *Profile
	face       target.Face
	bg         *BackgroundModel
	bgW, bgH   int
	candidates []*candidate
	impacts    []Impact
	cooldown   int
	nextSeq    uint64
}

func NewDetector(params DetectorParams) *Detector {
	return &Detector{params: params.withDefaults(), nextSeq: 1}
}

// Arm binds the detector to a calibration profile and resets all state,
// including the background model and previously reported impacts.
func (d *Detector) Arm(profile *Profile) error {
	if profile == nil || profile.PixelsPerCM <= 0 {
		return ErrNotCalibrated
	}
	d.profile = profile
	d.face = profile.Face
	d.bg = nil
	d.candidates = nil
	d.impacts = nil
	d.cooldown = 0
	d.nextSeq = 1
	return nil
}

// Disarm releases the profile. A disarmed detector rejects Feed.
func (d *Detector) Disarm() {
	d.profile = nil
	d.bg = nil
	d.candidates = nil
}

func (d *Detector) Armed() bool { return d.profile != nil }

// Impacts returns the impacts confirmed since Arm, oldest first.
func (d *Detector) Impacts() []Impact {
	out := make([]Impact, len(d.impacts))
	copy(out, d.impacts)
	return out
}

// Feed processes one frame and returns any impacts confirmed by it.
// Frames during background warmup produce no impacts.
func (d *Detector) Feed(frame *Frame) ([]Impact, error) {
	if d.profile == nil {
		return nil, ErrNotCalibrated
	}
	b := frame.Gray.Bounds()
	w, h := b.Dx(), b.Dy()
	if d.bg == nil {
		d.bg = NewBackgroundModel(w, h, d.params.Background)
		d.bgW, d.bgH = w, h
	}
	if d.bgW != w || d.bgH != h {
		return nil, ErrDetectionFault
	}

	mask := d.bg.Apply(frame)
	if !d.bg.Settled() {
		return nil, nil
	}
	if d.cooldown > 0 {
		d.cooldown--
		return nil, nil
	}

	mask = morphClose(mask, w, h, d.params.MorphRadius, d.params.MorphIterations)
	mask = morphOpen(mask, w, h, d.params.MorphRadius, 1)

	comps := d.filterComponents(findComponents(mask, w, h), w)

	confirmed := d.track(comps, w, frame)
	return confirmed, nil
}

// filterComponents drops blobs that cannot be an arrow: too small, too
// large, too round, or landing outside the calibrated face.
func (d *Detector) filterComponents(comps []*component, w int) []*component {
	out := comps[:0]
	for _, c := range comps {
		if c.area() < d.params.MinAreaPx || c.area() > d.params.MaxAreaPx {
			continue
		}
		if c.aspect() < d.params.MinAspect {
			continue
		}
		tx, ty := c.nearestToPoint(d.profile.CenterXPx, d.profile.CenterYPx, w)
		if !d.profile.Contains(float64(tx), float64(ty), d.params.EdgeSlackPx) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (d *Detector) track(comps []*component, w int, frame *Frame) []Impact {
	matched := make([]bool, len(d.candidates))

	for _, c := range comps {
		tx, ty := c.nearestToPoint(d.profile.CenterXPx, d.profile.CenterYPx, w)
		fx, fy := float64(tx), float64(ty)

		best := -1
		bestD := d.params.TrackGateDistPx
		for i, cand := range d.candidates {
			if matched[i] {
				continue
			}
			dist := math.Hypot(cand.x-fx, cand.y-fy)
			if dist <= bestD {
				best = i
				bestD = dist
			}
		}
		if best >= 0 {
			cand := d.candidates[best]
			cand.x, cand.y = fx, fy
			cand.hits++
			cand.misses = 0
			cand.comp = c
			cand.frame = frame
			matched[best] = true
		} else {
			d.candidates = append(d.candidates, &candidate{x: fx, y: fy, hits: 1, comp: c, frame: frame})
			matched = append(matched, true)
		}
	}

	var confirmed []Impact
	keep := d.candidates[:0]
	for i, cand := range d.candidates {
		cand.frames++
		if !matched[i] {
			cand.misses++
			if cand.misses >= d.params.MissesToDrop {
				continue
			}
			keep = append(keep, cand)
			continue
		}
		if cand.hits < d.params.HitsToConfirm {
			keep = append(keep, cand)
			continue
		}
		imp, ok := d.confirm(cand)
		if ok {
			confirmed = append(confirmed, imp)
		}
	}
	d.candidates = keep
	return confirmed
}

// confirm finalises a candidate: dedup against earlier impacts, absorb
// its pixels into the background, and report it. A suppressed duplicate
// is still absorbed so the shaft stops producing foreground.
func (d *Detector) confirm(cand *candidate) (Impact, bool) {
	xCM, yCM := d.profile.ToTarget(cand.x, cand.y)
	d.absorb(cand)

	for _, prev := range d.impacts {
		if math.Hypot(prev.XCM-xCM, prev.YCM-yCM) < d.params.MinSpacingCM {
			monitoring.Logf("detect: suppressed duplicate at (%.1f, %.1f)cm near impact %d", xCM, yCM, prev.Seq)
			return Impact{}, false
		}
	}

	radius := math.Hypot(xCM, yCM)
	angle := math.Atan2(yCM, xCM) * 180 / math.Pi
	if angle < 0 {
		angle += 360
	}
	imp := Impact{
		Seq:        d.nextSeq,
		PixelX:     int(math.Round(cand.x)),
		PixelY:     int(math.Round(cand.y)),
		XCM:        xCM,
		YCM:        yCM,
		RadiusCM:   radius,
		AngleDeg:   angle,
		Score:      d.face.Score(radius),
		Confidence: float64(cand.hits) / float64(cand.frames),
		DetectedAt: cand.frame.CapturedAt,
	}
	d.nextSeq++
	d.impacts = append(d.impacts, imp)
	d.cooldown = d.params.CooldownFrames
	monitoring.Logf("detect: impact %d at (%.1f, %.1f)cm r=%.1fcm score=%d conf=%.2f",
		imp.Seq, imp.XCM, imp.YCM, imp.RadiusCM, imp.Score, imp.Confidence)
	return imp, true
}

func (d *Detector) absorb(cand *candidate) {
	if cand.comp != nil && cand.frame != nil {
		d.bg.Absorb(cand.frame, cand.comp.indices)
	}
}
