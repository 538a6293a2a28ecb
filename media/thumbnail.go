package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Limits Telegram puts on thumbnails.
const (
	ThumbMaxSide  = 320
	ThumbMaxBytes = 200 * 1024
)

// ThumbnailFor is the path yt-dlp writes the thumbnail of video to.
func ThumbnailFor(video string) string {
	return strings.TrimSuffix(video, filepath.Ext(video)) + ".jpg"
}

// PreparedThumbnailFor is the path PrepareThumbnail output is written to.
func PreparedThumbnailFor(video string) string {
	return strings.TrimSuffix(video, filepath.Ext(video)) + ".thumb.jpg"
}

// PrepareThumbnail scales the image at src to fit ThumbMaxSide and writes it
// to dst as a JPEG of at most ThumbMaxBytes.
func PrepareThumbnail(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open thumbnail: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("decode thumbnail %s: %w", filepath.Base(src), err)
	}
	img = fit(img, ThumbMaxSide)

	var buf bytes.Buffer
	for quality := 90; quality >= 20; quality -= 10 {
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return fmt.Errorf("encode thumbnail: %w", err)
		}
		if buf.Len() <= ThumbMaxBytes {
			return os.WriteFile(dst, buf.Bytes(), 0o644)
		}
	}
	return fmt.Errorf("thumbnail %s stays above %d bytes", filepath.Base(src), ThumbMaxBytes)
}

// fit scales img down, keeping its aspect ratio, so neither side exceeds max.
func fit(img image.Image, max int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= max && h <= max {
		return img
	}

	nw, nh := max, h*max/w
	if h > w {
		nw, nh = w*max/h, max
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
