// Package image normalizes report photos before they are hosted.
package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/apex/log"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrNotImage is returned for uploads that do not decode as an image.
var ErrNotImage = errors.New("file is not a supported image")

// Processor rotates photos upright, bounds their size and re-encodes
// them as JPEG.
type Processor struct {
	MaxDimension int
	Quality      int
}

func NewProcessor(maxDimension, quality int) *Processor {
	if maxDimension <= 0 {
		maxDimension = 1600
	}
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &Processor{MaxDimension: maxDimension, Quality: quality}
}

// Processed is a photo ready for upload.
type Processed struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Orientation reads the EXIF orientation tag, defaulting to 1 (upright).
func Orientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// Upright applies an EXIF orientation so the image displays as shot.
func Upright(img image.Image, orientation int) image.Image {
	if orientation <= 1 || orientation > 8 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	// dest maps a source pixel to its position in the corrected image
	var dest func(x, y int) (int, int)
	dw, dh := w, h
	switch orientation {
	case 2:
		dest = func(x, y int) (int, int) { return w - 1 - x, y }
	case 3:
		dest = func(x, y int) (int, int) { return w - 1 - x, h - 1 - y }
	case 4:
		dest = func(x, y int) (int, int) { return x, h - 1 - y }
	case 5:
		dest = func(x, y int) (int, int) { return y, x }
	case 6:
		dest = func(x, y int) (int, int) { return h - 1 - y, x }
	case 7:
		dest = func(x, y int) (int, int) { return h - 1 - y, w - 1 - x }
	case 8:
		dest = func(x, y int) (int, int) { return y, w - 1 - x }
	}
	if orientation >= 5 {
		dw, dh = h, w
	}

	out := image.NewRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			nx, ny := dest(x, y)
			out.Set(nx, ny, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

// Process decodes data, fixes its orientation and scales it to fit
// MaxDimension. Upright JPEGs already within bounds are passed through.
func (p *Processor) Process(data []byte) (*Processed, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	orientation := 1
	if format == "jpeg" {
		orientation = Orientation(data)
	}
	img = Upright(img, orientation)

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= p.MaxDimension && h <= p.MaxDimension && format == "jpeg" && orientation == 1 {
		return &Processed{Data: data, ContentType: "image/jpeg", Width: w, Height: h}, nil
	}

	scale := 1.0
	if w > p.MaxDimension || h > p.MaxDimension {
		scale = min(float64(p.MaxDimension)/float64(w), float64(p.MaxDimension)/float64(h))
	}
	nw := max(1, min(p.MaxDimension, int(float64(w)*scale)))
	nh := max(1, min(p.MaxDimension, int(float64(h)*scale)))

	scaled := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: p.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	log.Infof("Image processed: %s %dx%d (orientation %d) %d bytes -> %dx%d %d bytes",
		format, w, h, orientation, len(data), nw, nh, buf.Len())
	return &Processed{Data: buf.Bytes(), ContentType: "image/jpeg", Width: nw, Height: nh}, nil
}
