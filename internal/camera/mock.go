package camera

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/echo-archery/impact.report/internal/vision"
)

// MockConfig describes the synthetic scene a MockSource renders: a dark
// filled disc (the target face) on a light backdrop.
type MockConfig struct {
	Width, Height  int
	CenterX        float64
	CenterY        float64
	RadiusPx       float64
	Backdrop       uint8 // background brightness
	FaceShade      uint8 // disc brightness
	FrameInterval  time.Duration
	CaptureTimeout time.Duration
}

func (c MockConfig) withDefaults() MockConfig {
	if c.Width == 0 {
		c.Width = 640
	}
	if c.Height == 0 {
		c.Height = 480
	}
	if c.CenterX == 0 {
		c.CenterX = float64(c.Width) / 2
	}
	if c.CenterY == 0 {
		c.CenterY = float64(c.Height) / 2
	}
	if c.RadiusPx == 0 {
		c.RadiusPx = 150
	}
	if c.Backdrop == 0 {
		c.Backdrop = 200
	}
	if c.FaceShade == 0 {
		c.FaceShade = 60
	}
	if c.FrameInterval == 0 {
		c.FrameInterval = 10 * time.Millisecond
	}
	if c.CaptureTimeout == 0 {
		c.CaptureTimeout = time.Second
	}
	return c
}

// blob is a dark elongated mark painted over the scene, standing in for
// an arrow shaft seen end-on.
type blob struct {
	x, y  float64
	w, h  float64
	shade uint8
}

// MockSource renders synthetic frames for dev mode and tests. Blobs can
// be injected at runtime to simulate arrow strikes.
type MockSource struct {
	cfg MockConfig

	mu     sync.Mutex
	blobs  []blob
	closed bool
	seq    uint64
}

func NewMock(cfg MockConfig) *MockSource {
	return &MockSource{cfg: cfg.withDefaults()}
}

// InjectBlob paints a dark w x h pixel mark centred at (x, y) into every
// subsequent frame.
func (m *MockSource) InjectBlob(x, y, w, h float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs = append(m.blobs, blob{x: x, y: y, w: w, h: h, shade: 10})
}

// ClearBlobs removes all injected marks.
func (m *MockSource) ClearBlobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs = nil
}

func (m *MockSource) NextFrame(ctx context.Context) (*vision.Frame, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrCameraUnavailable
	}
	m.seq++
	seq := m.seq
	blobs := make([]blob, len(m.blobs))
	copy(blobs, m.blobs)
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.cfg.CaptureTimeout):
		return nil, ErrCaptureTimeout
	case <-time.After(m.cfg.FrameInterval):
	}

	return vision.NewGrayFrame(m.render(blobs), time.Now(), seq), nil
}

func (m *MockSource) render(blobs []blob) *image.Gray {
	c := m.cfg
	img := image.NewGray(image.Rect(0, 0, c.Width, c.Height))
	for y := 0; y < c.Height; y++ {
		for x := 0; x < c.Width; x++ {
			shade := c.Backdrop
			dx := float64(x) - c.CenterX
			dy := float64(y) - c.CenterY
			if math.Hypot(dx, dy) <= c.RadiusPx {
				shade = c.FaceShade
			}
			img.SetGray(x, y, color.Gray{Y: shade})
		}
	}
	for _, b := range blobs {
		x0 := int(b.x - b.w/2)
		y0 := int(b.y - b.h/2)
		for y := y0; y < y0+int(b.h); y++ {
			for x := x0; x < x0+int(b.w); x++ {
				if x >= 0 && x < c.Width && y >= 0 && y < c.Height {
					img.SetGray(x, y, color.Gray{Y: b.shade})
				}
			}
		}
	}
	return img
}

func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
