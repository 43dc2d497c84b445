package browser

import (
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"

	"visualtweets/internal/model"
)

// CropImage reads the PNG at srcPath, crops it to the percentage
// rectangle described by coords, and writes the result to dstPath
// (which may equal srcPath). Coordinates are converted to pixels by
// truncating toward zero, matching int(width * pct / 100) in the
// original capture service.
func CropImage(srcPath, dstPath string, coords model.CropCoordinates) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("crop: open %s: %w", srcPath, err)
	}
	src, err := png.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("crop: decode %s: %w", srcPath, err)
	}

	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	left := width * coords.X1Percent / 100
	top := height * coords.Y1Percent / 100
	right := width * coords.X2Percent / 100
	bottom := height * coords.Y2Percent / 100

	rect := image.Rect(left, top, right, bottom)
	dst := image.NewRGBA(rect.Sub(rect.Min))
	draw.Draw(dst, dst.Bounds(), src, rect.Min, draw.Src)

	out, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("crop: create %s: %w", dstPath, err)
	}
	defer out.Close()

	if err := png.Encode(out, dst); err != nil {
		return fmt.Errorf("crop: encode %s: %w", dstPath, err)
	}
	return nil
}
