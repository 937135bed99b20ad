package media

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

const thumbnailWidth = 320

// processImage applies EXIF orientation and shrinks the image to maxWidth.
// It returns the bytes to store, their content type, and a JPEG thumbnail.
// Animated GIFs are kept as uploaded.
func processImage(data []byte, contentType string, maxWidth int) ([]byte, string, []byte, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to read image: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to decode image: %w", err)
	}

	thumb, err := encode(imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos), imaging.JPEG)
	if err != nil {
		return nil, "", nil, err
	}

	if format == "gif" {
		return data, "image/gif", thumb, nil
	}

	out := img
	if maxWidth > 0 && img.Bounds().Dx() > maxWidth {
		out = imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}

	// PNG keeps transparency; everything else is re-encoded as JPEG.
	if format == "png" {
		body, err := encode(out, imaging.PNG)
		return body, "image/png", thumb, err
	}
	body, err := encode(out, imaging.JPEG)
	return body, "image/jpeg", thumb, err
}

func encode(img image.Image, f imaging.Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, f, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
