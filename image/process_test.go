package image

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func testImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x + y) % 256),
				G: uint8((x * 2) % 256),
				B: uint8((y * 2) % 256),
				A: 255,
			})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestProcess(t *testing.T) {
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, testImage(300, 200)); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}

	testCases := []struct {
		name       string
		data       []byte
		wantWidth  int
		wantHeight int
		passThru   bool
	}{
		{"large landscape jpeg", encodeJPEG(t, testImage(2000, 1500)), 800, 600, false},
		{"large portrait jpeg", encodeJPEG(t, testImage(1000, 2000)), 400, 800, false},
		{"small jpeg", encodeJPEG(t, testImage(640, 480)), 640, 480, true},
		{"png is re-encoded", pngBuf.Bytes(), 300, 200, false},
	}

	p := NewProcessor(800, 85)
	for _, testCase := range testCases {
		out, err := p.Process(testCase.data)
		if err != nil {
			t.Errorf("%s: unexpected error %v", testCase.name, err)
			continue
		}
		if out.Width != testCase.wantWidth || out.Height != testCase.wantHeight {
			t.Errorf("%s: expected %dx%d, got %dx%d", testCase.name,
				testCase.wantWidth, testCase.wantHeight, out.Width, out.Height)
		}
		if out.ContentType != "image/jpeg" {
			t.Errorf("%s: expected image/jpeg, got %s", testCase.name, out.ContentType)
		}
		if testCase.passThru != bytes.Equal(out.Data, testCase.data) {
			t.Errorf("%s: pass-through expected %v", testCase.name, testCase.passThru)
		}
		img, format, err := image.Decode(bytes.NewReader(out.Data))
		if err != nil || format != "jpeg" {
			t.Errorf("%s: output does not decode as jpeg: %v %s", testCase.name, err, format)
			continue
		}
		if img.Bounds().Dx() != out.Width {
			t.Errorf("%s: reported width %d, actual %d", testCase.name, out.Width, img.Bounds().Dx())
		}
	}
}

func TestProcessRejectsNonImage(t *testing.T) {
	_, err := NewProcessor(0, 0).Process([]byte("definitely not a photo"))
	if !errors.Is(err, ErrNotImage) {
		t.Errorf("expected ErrNotImage, got %v", err)
	}
}

func TestUpright(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	marker := color.RGBA{R: 255, A: 255}
	src.Set(0, 0, marker)

	testCases := []struct {
		orientation int
		w, h        int
		x, y        int
	}{
		{1, 3, 2, 0, 0},
		{2, 3, 2, 2, 0},
		{3, 3, 2, 2, 1},
		{4, 3, 2, 0, 1},
		{5, 2, 3, 0, 0},
		{6, 2, 3, 1, 0},
		{7, 2, 3, 1, 2},
		{8, 2, 3, 0, 2},
	}
	for _, testCase := range testCases {
		out := Upright(src, testCase.orientation)
		b := out.Bounds()
		if b.Dx() != testCase.w || b.Dy() != testCase.h {
			t.Errorf("orientation %d: expected %dx%d, got %dx%d", testCase.orientation, testCase.w, testCase.h, b.Dx(), b.Dy())
			continue
		}
		r, _, _, _ := out.At(testCase.x, testCase.y).RGBA()
		if r>>8 != 255 {
			t.Errorf("orientation %d: expected top-left pixel at (%d,%d)", testCase.orientation, testCase.x, testCase.y)
		}
	}
}

func TestOrientationWithoutExif(t *testing.T) {
	if o := Orientation(encodeJPEG(t, testImage(10, 10))); o != 1 {
		t.Errorf("expected orientation 1, got %d", o)
	}
}
