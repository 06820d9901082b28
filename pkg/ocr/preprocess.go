package ocr

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// minOCRHeight is the height below which photos are upscaled before thresholding;
// tesseract misses small handwriting strokes otherwise.
const minOCRHeight = 1400

// prepareForOCR converts a photo into a black-on-white image suited to tesseract.
func prepareForOCR(img image.Image) *image.Gray {
	g := imaging.Grayscale(img)
	g = imaging.AdjustContrast(g, 20)
	if h := g.Bounds().Dy(); h > 0 && h < minOCRHeight {
		g = imaging.Resize(g, 0, minOCRHeight, imaging.Lanczos)
	}
	return adaptiveThreshold(g, 31, 10)
}

// adaptiveThreshold binarizes img against the mean of a window x window neighbourhood,
// lowered by bias. The window is clipped at the image border.
func adaptiveThreshold(img *image.NRGBA, window, bias int) *image.Gray {
	if window < 3 {
		window = 3
	}
	if window%2 == 0 {
		window++
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}
	lum := make([]int, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.NRGBAAt(b.Min.X+x, b.Min.Y+y)
			lum[y*w+x] = (int(c.R) + int(c.G) + int(c.B)) / 3
		}
	}
	// integral image with a zero row and column in front
	stride := w + 1
	sum := make([]int, stride*(h+1))
	for y := 1; y <= h; y++ {
		row := 0
		for x := 1; x <= w; x++ {
			row += lum[(y-1)*w+x-1]
			sum[y*stride+x] = sum[(y-1)*stride+x] + row
		}
	}
	half := window / 2
	for y := 0; y < h; y++ {
		y0, y1 := max(y-half, 0), min(y+half, h-1)
		for x := 0; x < w; x++ {
			x0, x1 := max(x-half, 0), min(x+half, w-1)
			total := sum[(y1+1)*stride+x1+1] - sum[y0*stride+x1+1] - sum[(y1+1)*stride+x0] + sum[y0*stride+x0]
			mean := total / ((x1 - x0 + 1) * (y1 - y0 + 1))
			v := uint8(255)
			if lum[y*w+x] < mean-bias {
				v = 0
			}
			out.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return out
}
