// Package capture reads raw frames from X displays and prepares them for
// vision evaluation: JPEG encoding, thumbnail downscaling, and the pixel
// diff gate that decides whether a frame is worth an inference call.
package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// Frame is one raw capture: tightly packed RGB, no padding.
type Frame struct {
	RGB    []byte
	Width  int
	Height int
}

// Shape returns the frame dimensions.
func (f Frame) Shape() (int, int) { return f.Width, f.Height }

func (f Frame) toImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i := 0; i < f.Width*f.Height; i++ {
		img.Pix[i*4+0] = f.RGB[i*3+0]
		img.Pix[i*4+1] = f.RGB[i*3+1]
		img.Pix[i*4+2] = f.RGB[i*3+2]
		img.Pix[i*4+3] = 0xff
	}
	return img
}

// EncodeJPEG encodes the frame as JPEG, downscaling so the longest side is
// at most maxDim (0 disables scaling).
func EncodeJPEG(f Frame, maxDim, quality int) ([]byte, error) {
	if f.Width <= 0 || f.Height <= 0 || len(f.RGB) < f.Width*f.Height*3 {
		return nil, fmt.Errorf("invalid frame: %dx%d with %d bytes", f.Width, f.Height, len(f.RGB))
	}
	src := f.toImage()

	var img image.Image = src
	if maxDim > 0 && (f.Width > maxDim || f.Height > maxDim) {
		w, h := fitWithin(f.Width, f.Height, maxDim)
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

func fitWithin(w, h, maxDim int) (int, int) {
	if w >= h {
		nh := h * maxDim / w
		if nh < 1 {
			nh = 1
		}
		return maxDim, nh
	}
	nw := w * maxDim / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxDim
}
