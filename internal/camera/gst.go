package camera

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/echo-archery/impact.report/internal/monitoring"
	"github.com/echo-archery/impact.report/internal/vision"
)

// GstSource captures from a v4l2 device through a GStreamer pipeline:
//
//	v4l2src → videoconvert → videoscale → videorate → capsfilter(RGB) → appsink
//
// The appsink keeps only the latest buffer; frames the consumer does not
// pull in time are dropped rather than queued.
type GstSource struct {
	cfg      Config
	pipeline *gst.Pipeline
	sink     *app.Sink

	frames  chan *vision.Frame
	seq     uint64
	dropped uint64

	closeOnce sync.Once
	closeErr  error
}

// OpenGst builds and starts the capture pipeline, retrying the device a
// bounded number of times before reporting ErrCameraUnavailable.
func OpenGst(cfg Config) (*GstSource, error) {
	cfg = cfg.withDefaults()

	var src *GstSource
	var err error
	for attempt := 1; attempt <= cfg.OpenRetries; attempt++ {
		src, err = openGstOnce(cfg)
		if err == nil {
			return src, nil
		}
		monitoring.Logf("camera: open attempt %d/%d failed: %v", attempt, cfg.OpenRetries, err)
		if attempt < cfg.OpenRetries {
			time.Sleep(cfg.RetryDelay)
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
}

func openGstOnce(cfg Config) (*GstSource, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	v4l2src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("create v4l2src: %w", err)
	}
	v4l2src.SetProperty("device", cfg.Device)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("create videoconvert: %w", err)
	}
	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("create videoscale: %w", err)
	}

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(rgbCaps(cfg)))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	pipeline.AddMany(v4l2src, converter, scaler, videorate, capsfilter, sink.Element)
	if err := gst.ElementLinkMany(v4l2src, converter, scaler, videorate, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("link pipeline: %w", err)
	}

	s := &GstSource{
		cfg:      cfg,
		pipeline: pipeline,
		sink:     sink,
		frames:   make(chan *vision.Frame, 1),
	}
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("start pipeline: %w", err)
	}
	monitoring.Logf("camera: capturing %dx%d@%g from %s", cfg.Width, cfg.Height, cfg.FPS, cfg.Device)
	return s, nil
}

func rgbCaps(cfg Config) string {
	num, den := 1, 1
	if cfg.FPS < 1.0 {
		den = int(1.0 / cfg.FPS)
	} else {
		num = int(cfg.FPS)
	}
	return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/%d",
		cfg.Width, cfg.Height, num, den)
}

func (s *GstSource) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) < s.cfg.Width*s.cfg.Height*3 {
		buffer.Unmap()
		return gst.FlowOK
	}

	img := rgbToNRGBA(data, s.cfg.Width, s.cfg.Height)
	buffer.Unmap()

	seq := atomic.AddUint64(&s.seq, 1)
	frame := vision.NewFrameFromImage(img, s.cfg.Rotation, time.Now(), seq)

	// Depth-1 mailbox: replace a stale frame rather than block the
	// streaming thread.
	select {
	case s.frames <- frame:
	default:
		select {
		case <-s.frames:
			atomic.AddUint64(&s.dropped, 1)
		default:
		}
		select {
		case s.frames <- frame:
		default:
		}
	}
	return gst.FlowOK
}

func rgbToNRGBA(data []byte, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		si := y * w * 3
		di := y * img.Stride
		for x := 0; x < w; x++ {
			img.Pix[di+0] = data[si+0]
			img.Pix[di+1] = data[si+1]
			img.Pix[di+2] = data[si+2]
			img.Pix[di+3] = 0xff
			si += 3
			di += 4
		}
	}
	return img
}

func (s *GstSource) NextFrame(ctx context.Context) (*vision.Frame, error) {
	timer := time.NewTimer(s.cfg.CaptureTimeout)
	defer timer.Stop()
	select {
	case f, ok := <-s.frames:
		if !ok {
			return nil, ErrCameraUnavailable
		}
		return f, nil
	case <-timer.C:
		return nil, ErrCaptureTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dropped reports frames discarded because the consumer lagged.
func (s *GstSource) Dropped() uint64 { return atomic.LoadUint64(&s.dropped) }

func (s *GstSource) Close() error {
	s.closeOnce.Do(func() {
		if s.pipeline != nil {
			s.closeErr = s.pipeline.SetState(gst.StateNull)
		}
	})
	return s.closeErr
}
