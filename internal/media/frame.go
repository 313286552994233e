package media

import "image"

// PixelFormatRGBA is the only pixel layout the pipeline carries between stages.
const PixelFormatRGBA = "rgba"

// Frame is one decoded picture. PTS and DTS are independently optional; a nil
// field means the source did not supply it.
type Frame struct {
	Width       int
	Height      int
	PixelFormat string
	Image       *image.RGBA
	PTS         *int64
	DTS         *int64
}

// NewFrame wraps an RGBA image as a frame with no timestamps.
func NewFrame(img *image.RGBA) *Frame {
	bounds := img.Bounds()
	return &Frame{
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		PixelFormat: PixelFormatRGBA,
		Image:       img,
	}
}

// Clone returns a deep copy of the frame, including pixels and timestamps.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	clone := *f
	if f.Image != nil {
		pix := make([]uint8, len(f.Image.Pix))
		copy(pix, f.Image.Pix)
		clone.Image = &image.RGBA{Pix: pix, Stride: f.Image.Stride, Rect: f.Image.Rect}
	}
	clone.PTS = copyTimestamp(f.PTS)
	clone.DTS = copyTimestamp(f.DTS)
	return &clone
}

// Bytes returns the raw rgba payload in row order.
func (f *Frame) Bytes() []byte {
	if f == nil || f.Image == nil {
		return nil
	}
	return f.Image.Pix
}

// Timestamp returns a pointer to a copy of v, for building frames in tests and readers.
func Timestamp(v int64) *int64 {
	return &v
}

func copyTimestamp(ts *int64) *int64 {
	if ts == nil {
		return nil
	}
	v := *ts
	return &v
}
