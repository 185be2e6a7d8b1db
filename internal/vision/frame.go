// Package vision implements the computer-vision core: target-face
// calibration from a still frame, the per-pixel background reference model,
// and the impact detector that turns foreground changes into scored arrow
// impacts in target coordinates.
package vision

import (
	"image"
	"time"

	"github.com/disintegration/imaging"
)

// Frame is a single grayscale raster captured from the camera.
//
// Frames are shared by reference through the pipeline and MUST NOT be
// modified after construction. Ownership passes from the frame source to
// whichever stage is processing the frame, then the frame is discarded.
type Frame struct {
	// Gray holds the 8-bit luminance raster.
	Gray *image.Gray

	// CapturedAt is the source capture time, not processing time.
	CapturedAt time.Time

	// Seq is a monotonically increasing capture sequence number assigned by
	// the frame source. Used for drop accounting and ordering checks.
	Seq uint64
}

// Width returns the raster width in pixels.
func (f *Frame) Width() int { return f.Gray.Bounds().Dx() }

// Height returns the raster height in pixels.
func (f *Frame) Height() int { return f.Gray.Bounds().Dy() }

// NewFrameFromImage converts an arbitrary decoded image into a grayscale
// Frame, applying the configured rotation (0, 90, 180 or 270 degrees,
// counter-clockwise) before conversion.
func NewFrameFromImage(img image.Image, rotation int, capturedAt time.Time, seq uint64) *Frame {
	switch rotation {
	case 90:
		img = imaging.Rotate90(img)
	case 180:
		img = imaging.Rotate180(img)
	case 270:
		img = imaging.Rotate270(img)
	}
	return &Frame{
		Gray:       toGray(imaging.Grayscale(img)),
		CapturedAt: capturedAt,
		Seq:        seq,
	}
}

// NewGrayFrame wraps an existing grayscale raster without copying.
func NewGrayFrame(gray *image.Gray, capturedAt time.Time, seq uint64) *Frame {
	return &Frame{Gray: gray, CapturedAt: capturedAt, Seq: seq}
}

// toGray collapses an NRGBA image whose channels are already equal (the
// output of imaging.Grayscale) into a single-channel raster.
func toGray(src *image.NRGBA) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		srcRow := src.Pix[y*src.Stride : y*src.Stride+b.Dx()*4]
		dstRow := dst.Pix[y*dst.Stride : y*dst.Stride+b.Dx()]
		for x := 0; x < b.Dx(); x++ {
			dstRow[x] = srcRow[x*4]
		}
	}
	return dst
}

// AverageFrames returns the per-pixel mean of the given frames. Used for
// calibration capture where averaging several stills suppresses sensor
// noise before circle fitting. All frames must share dimensions; the result
// carries the capture time and sequence of the last frame.
func AverageFrames(frames []*Frame) *Frame {
	if len(frames) == 0 {
		return nil
	}
	if len(frames) == 1 {
		return frames[0]
	}
	w, h := frames[0].Width(), frames[0].Height()
	sums := make([]uint32, w*h)
	for _, f := range frames {
		for y := 0; y < h; y++ {
			row := f.Gray.Pix[y*f.Gray.Stride : y*f.Gray.Stride+w]
			for x, v := range row {
				sums[y*w+x] += uint32(v)
			}
		}
	}
	out := image.NewGray(image.Rect(0, 0, w, h))
	n := uint32(len(frames))
	for i, s := range sums {
		out.Pix[i] = uint8(s / n)
	}
	last := frames[len(frames)-1]
	return &Frame{Gray: out, CapturedAt: last.CapturedAt, Seq: last.Seq}
}
