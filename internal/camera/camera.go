// Package camera acquires frames from a video device and hands them to
// the detection pipeline as grayscale vision.Frames. The real source is
// a GStreamer v4l2 pipeline; a synthetic source backs dev mode and tests.
package camera

import (
	"context"
	"errors"
	"time"

	"github.com/echo-archery/impact.report/internal/vision"
)

var (
	// ErrCameraUnavailable means the device could not be opened or the
	// stream has terminated.
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrCaptureTimeout means no frame arrived within the configured
	// capture timeout.
	ErrCaptureTimeout = errors.New("capture timed out")
)

// Config describes the capture device and frame geometry.
type Config struct {
	Device         string        // v4l2 device path, e.g. /dev/video0
	Width          int
	Height         int
	FPS            float64
	Rotation       int           // 0, 90, 180 or 270 degrees clockwise
	CaptureTimeout time.Duration // max wait for one frame
	OpenRetries    int           // attempts before giving up on the device
	RetryDelay     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Device == "" {
		c.Device = "/dev/video0"
	}
	if c.Width == 0 {
		c.Width = 1280
	}
	if c.Height == 0 {
		c.Height = 720
	}
	if c.FPS == 0 {
		c.FPS = 15
	}
	if c.CaptureTimeout == 0 {
		c.CaptureTimeout = 5 * time.Second
	}
	if c.OpenRetries == 0 {
		c.OpenRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2 * time.Second
	}
	return c
}

// Source delivers frames one at a time. NextFrame blocks until a frame
// arrives, the context is cancelled, or the capture timeout elapses.
// Close releases the device; calling it more than once is safe.
type Source interface {
	NextFrame(ctx context.Context) (*vision.Frame, error)
	Close() error
}

// CaptureAverage pulls n consecutive frames and averages them, damping
// sensor noise before calibration.
func CaptureAverage(ctx context.Context, src Source, n int) (*vision.Frame, error) {
	if n < 1 {
		n = 1
	}
	frames := make([]*vision.Frame, 0, n)
	for i := 0; i < n; i++ {
		f, err := src.NextFrame(ctx)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return vision.AverageFrames(frames), nil
}
