package camera

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMockFrameGeometry(t *testing.T) {
	src := NewMock(MockConfig{Width: 320, Height: 240, FrameInterval: time.Millisecond})
	defer src.Close()

	f, err := src.NextFrame(context.Background())
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	if f.Width() != 320 || f.Height() != 240 {
		t.Errorf("frame is %dx%d, want 320x240", f.Width(), f.Height())
	}
	if f.Seq == 0 {
		t.Error("frame sequence should start at 1")
	}
}

func TestMockSequenceAdvances(t *testing.T) {
	src := NewMock(MockConfig{FrameInterval: time.Millisecond})
	defer src.Close()

	a, err := src.NextFrame(context.Background())
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	b, err := src.NextFrame(context.Background())
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	if b.Seq <= a.Seq {
		t.Errorf("sequence did not advance: %d then %d", a.Seq, b.Seq)
	}
}

func TestMockInjectBlobChangesPixels(t *testing.T) {
	src := NewMock(MockConfig{Width: 320, Height: 240, FrameInterval: time.Millisecond})
	defer src.Close()

	before, err := src.NextFrame(context.Background())
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	src.InjectBlob(160, 120, 6, 20)
	after, err := src.NextFrame(context.Background())
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}

	changed := 0
	for i := range after.Gray.Pix {
		if after.Gray.Pix[i] != before.Gray.Pix[i] {
			changed++
		}
	}
	if changed < 6*20/2 {
		t.Errorf("blob changed only %d pixels", changed)
	}

	src.ClearBlobs()
	cleared, err := src.NextFrame(context.Background())
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	for i := range cleared.Gray.Pix {
		if cleared.Gray.Pix[i] != before.Gray.Pix[i] {
			t.Fatal("scene did not return to baseline after ClearBlobs")
		}
	}
}

func TestMockClose(t *testing.T) {
	src := NewMock(MockConfig{FrameInterval: time.Millisecond})
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := src.NextFrame(context.Background()); !errors.Is(err, ErrCameraUnavailable) {
		t.Errorf("NextFrame after Close = %v, want ErrCameraUnavailable", err)
	}
}

func TestMockCaptureTimeout(t *testing.T) {
	src := NewMock(MockConfig{FrameInterval: time.Hour, CaptureTimeout: 20 * time.Millisecond})
	defer src.Close()

	if _, err := src.NextFrame(context.Background()); !errors.Is(err, ErrCaptureTimeout) {
		t.Errorf("NextFrame = %v, want ErrCaptureTimeout", err)
	}
}

func TestMockNextFrameHonoursContext(t *testing.T) {
	src := NewMock(MockConfig{FrameInterval: time.Hour})
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := src.NextFrame(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("NextFrame = %v, want context deadline", err)
	}
}

func TestCaptureAverage(t *testing.T) {
	src := NewMock(MockConfig{Width: 64, Height: 64, FrameInterval: time.Millisecond})
	defer src.Close()

	f, err := CaptureAverage(context.Background(), src, 4)
	if err != nil {
		t.Fatalf("CaptureAverage: %v", err)
	}
	if f.Width() != 64 || f.Height() != 64 {
		t.Errorf("averaged frame is %dx%d, want 64x64", f.Width(), f.Height())
	}
}

func TestCaptureAveragePropagatesError(t *testing.T) {
	src := NewMock(MockConfig{FrameInterval: time.Millisecond})
	src.Close()

	if _, err := CaptureAverage(context.Background(), src, 3); !errors.Is(err, ErrCameraUnavailable) {
		t.Errorf("CaptureAverage = %v, want ErrCameraUnavailable", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	if c.Device != "/dev/video0" {
		t.Errorf("Device = %q", c.Device)
	}
	if c.Width != 1280 || c.Height != 720 {
		t.Errorf("geometry = %dx%d", c.Width, c.Height)
	}
	if c.FPS != 15 {
		t.Errorf("FPS = %v", c.FPS)
	}
	if c.CaptureTimeout != 5*time.Second {
		t.Errorf("CaptureTimeout = %v", c.CaptureTimeout)
	}
}
