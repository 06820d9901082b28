package storage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// MaxImageSide bounds the longer side of stored images.
const MaxImageSide = 2400

var ErrUnsupportedImage = errors.New("unsupported image type")

// NormalizeImage decodes a phone photo (JPEG, PNG or WebP), applies its EXIF orientation,
// downscales it to MaxImageSide and re-encodes it as JPEG.
func NormalizeImage(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUnsupportedImage)
	}
	var (
		img image.Image
		err error
	)
	switch ct := SniffContentType(data); ct {
	case "image/jpeg", "image/png":
		img, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	case "image/webp":
		img, err = webp.Decode(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, ct)
	}
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() > MaxImageSide || b.Dy() > MaxImageSide {
		img = imaging.Fit(img, MaxImageSide, MaxImageSide, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// SniffContentType returns the MIME type detected from the first bytes of data.
func SniffContentType(data []byte) string {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	ct := http.DetectContentType(head)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct
}
