package vision

import (
	"math"
	"time"

	"github.com/echo-archery/impact.report/internal/target"
)

// Profile is the pixel-to-physical mapping established by a successful
// calibration run. It is immutable once created; recalibration replaces the
// profile wholesale.
type Profile struct {
	Face        target.Face `json:"target_size"`
	CenterXPx   float64     `json:"center_x_px"`
	CenterYPx   float64     `json:"center_y_px"`
	RadiusPx    float64     `json:"radius_px"`
	PixelsPerCM float64     `json:"pixels_per_cm"`
	CapturedAt  time.Time   `json:"captured_at"`
}

// ToTarget converts a pixel position to centimetre offsets from the target
// centre. Positive X is right, positive Y is down, matching image axes.
func (p *Profile) ToTarget(px, py float64) (xCM, yCM float64) {
	return (px - p.CenterXPx) / p.PixelsPerCM, (py - p.CenterYPx) / p.PixelsPerCM
}

// ToPixel converts centimetre offsets from the target centre back to a pixel
// position. Inverse of ToTarget.
func (p *Profile) ToPixel(xCM, yCM float64) (px, py float64) {
	return p.CenterXPx + xCM*p.PixelsPerCM, p.CenterYPx + yCM*p.PixelsPerCM
}

// RadialCM returns the Euclidean distance in centimetres of a pixel position
// from the calibrated centre.
func (p *Profile) RadialCM(px, py float64) float64 {
	xCM, yCM := p.ToTarget(px, py)
	return math.Hypot(xCM, yCM)
}

// Contains reports whether a pixel position lies within the calibrated
// target face boundary. slackPx widens the boundary by that many pixels
// to admit impacts right on the outer ring edge.
func (p *Profile) Contains(px, py float64, slackPx float64) bool {
	dx := px - p.CenterXPx
	dy := py - p.CenterYPx
	return math.Hypot(dx, dy) <= p.RadiusPx+slackPx
}
