package browser

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"visualtweets/internal/model"
)

func writeTestPNG(t *testing.T, path string, width, height int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 0, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

// TestCropImageBounds covers testable property 9: percentage coordinates
// truncate toward zero into exact pixel bounds.
func TestCropImageBounds(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	dst := filepath.Join(dir, "dst.png")
	writeTestPNG(t, src, 100, 200)

	coords := model.CropCoordinates{X1Percent: 10, Y1Percent: 25, X2Percent: 90, Y2Percent: 75}
	if err := CropImage(src, dst, coords); err != nil {
		t.Fatalf("CropImage: %v", err)
	}

	f, err := os.Open(dst)
	if err != nil {
		t.Fatalf("open dst: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode dst: %v", err)
	}

	bounds := img.Bounds()
	wantWidth := 100*90/100 - 100*10/100   // 80
	wantHeight := 200*75/100 - 200*25/100 // 100
	if bounds.Dx() != wantWidth {
		t.Errorf("cropped width = %d, want %d", bounds.Dx(), wantWidth)
	}
	if bounds.Dy() != wantHeight {
		t.Errorf("cropped height = %d, want %d", bounds.Dy(), wantHeight)
	}
}

// TestCropImageTruncatesTowardZero exercises a crop whose pixel math
// doesn't divide evenly, to pin down the truncating-division behavior.
func TestCropImageTruncatesTowardZero(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	dst := filepath.Join(dir, "dst.png")
	writeTestPNG(t, src, 99, 33)

	coords := model.CropCoordinates{X1Percent: 0, Y1Percent: 0, X2Percent: 33, Y2Percent: 33}
	if err := CropImage(src, dst, coords); err != nil {
		t.Fatalf("CropImage: %v", err)
	}

	f, err := os.Open(dst)
	if err != nil {
		t.Fatalf("open dst: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode dst: %v", err)
	}

	// 99 * 33 / 100 = 32 (integer division truncates toward zero).
	if got := img.Bounds().Dx(); got != 32 {
		t.Errorf("cropped width = %d, want 32 (truncated)", got)
	}
}

func TestCropImageMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := CropImage(filepath.Join(dir, "missing.png"), filepath.Join(dir, "out.png"), model.CropCoordinates{X2Percent: 100, Y2Percent: 100})
	if err == nil {
		t.Error("expected error for missing source file")
	}
}
