package vision

import "math"

// BackgroundParams configures the per-pixel reference model.
type BackgroundParams struct {
	// UpdateFraction is the EMA alpha applied while a pixel keeps matching
	// the reference.
	UpdateFraction float64
	// WarmupMinFrames is the number of frames the model must absorb before
	// any foreground is reported. During warmup the model seeds and settles
	// and every pixel is treated as background.
	WarmupMinFrames int
	// DiffThreshold is the minimum absolute luminance difference for a pixel
	// to count as foreground.
	DiffThreshold float64
	// SpreadMultiplier scales the per-pixel spread estimate: pixels deviating
	// by more than max(DiffThreshold, SpreadMultiplier*spread) are
	// foreground. Lets noisy pixels (flickering light, fabric) demand a
	// larger deviation than stable ones.
	SpreadMultiplier float64
}

const (
	defaultUpdateFraction   = 0.05
	defaultWarmupMinFrames  = 5
	defaultDiffThreshold    = 25.0
	defaultSpreadMultiplier = 3.0
)

func (p BackgroundParams) withDefaults() BackgroundParams {
	if p.UpdateFraction <= 0 || p.UpdateFraction > 1 {
		p.UpdateFraction = defaultUpdateFraction
	}
	if p.WarmupMinFrames <= 0 {
		p.WarmupMinFrames = defaultWarmupMinFrames
	}
	if p.DiffThreshold <= 0 {
		p.DiffThreshold = defaultDiffThreshold
	}
	if p.SpreadMultiplier <= 0 {
		p.SpreadMultiplier = defaultSpreadMultiplier
	}
	return p
}

// BackgroundModel maintains a per-pixel running reference of the empty
// target: an EMA mean plus an EMA absolute-deviation spread per pixel.
// Pixels that keep matching the reference are folded in; divergent pixels
// are flagged as foreground and left out of the update so a freshly landed
// arrow does not corrupt the reference before it is confirmed.
type BackgroundModel struct {
	w, h   int
	mean   []float64
	spread []float64
	params BackgroundParams

	framesSeen int
	settled    bool
}

// NewBackgroundModel creates an empty model for frames of the given size.
func NewBackgroundModel(w, h int, params BackgroundParams) *BackgroundModel {
	return &BackgroundModel{
		w:      w,
		h:      h,
		mean:   make([]float64, w*h),
		spread: make([]float64, w*h),
		params: params.withDefaults(),
	}
}

// Settled reports whether the warmup gate has opened.
func (m *BackgroundModel) Settled() bool { return m.settled }

// FramesSeen returns how many frames the model has absorbed.
func (m *BackgroundModel) FramesSeen() int { return m.framesSeen }

// Apply classifies the frame against the reference and updates the model.
// It returns a foreground mask (true = foreground) of len w*h, row-major.
// During warmup the returned mask is all background while the model seeds.
func (m *BackgroundModel) Apply(frame *Frame) []bool {
	mask := make([]bool, m.w*m.h)
	alpha := m.params.UpdateFraction

	if m.framesSeen == 0 {
		// Seed from the first observation.
		for y := 0; y < m.h; y++ {
			row := frame.Gray.Pix[y*frame.Gray.Stride : y*frame.Gray.Stride+m.w]
			for x, v := range row {
				m.mean[y*m.w+x] = float64(v)
			}
		}
		m.framesSeen++
		return mask
	}

	warmup := !m.settled
	for y := 0; y < m.h; y++ {
		row := frame.Gray.Pix[y*frame.Gray.Stride : y*frame.Gray.Stride+m.w]
		for x, v := range row {
			i := y*m.w + x
			obs := float64(v)
			diff := math.Abs(obs - m.mean[i])
			threshold := m.params.DiffThreshold
			if t := m.params.SpreadMultiplier * m.spread[i]; t > threshold {
				threshold = t
			}
			if warmup || diff <= threshold {
				m.mean[i] = (1-alpha)*m.mean[i] + alpha*obs
				m.spread[i] = (1-alpha)*m.spread[i] + alpha*diff
			} else {
				mask[i] = true
			}
		}
	}

	m.framesSeen++
	if !m.settled && m.framesSeen >= m.params.WarmupMinFrames {
		m.settled = true
	}
	return mask
}

// Absorb folds the current frame values at the given pixel indices into the
// reference. Called once an impact is confirmed so the arrow becomes part of
// the background and is not re-detected.
func (m *BackgroundModel) Absorb(frame *Frame, indices []int) {
	for _, i := range indices {
		x := i % m.w
		y := i / m.w
		m.mean[i] = float64(frame.Gray.Pix[y*frame.Gray.Stride+x])
		m.spread[i] = 0
	}
}

// Reset discards all accumulated state, including the warmup gate. Called
// when a new calibration invalidates the reference geometry.
func (m *BackgroundModel) Reset() {
	for i := range m.mean {
		m.mean[i] = 0
		m.spread[i] = 0
	}
	m.framesSeen = 0
	m.settled = false
}
