package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// Tesseract transcribes locally with gosseract. It ignores the prompt and cannot emit the
// unclear marker, so it is best used as a fallback.
type Tesseract struct {
	Languages []string
}

func (t Tesseract) Name() string { return "tesseract" }

func (t Tesseract) Transcribe(ctx context.Context, data []byte, _ string, _ string) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, prepareForOCR(img), imaging.PNG); err != nil {
		return "", fmt.Errorf("encode preprocessed image: %w", err)
	}

	type out struct {
		text string
		err  error
	}
	done := make(chan out, 1)
	go func() {
		client := gosseract.NewClient()
		defer client.Close()
		langs := t.Languages
		if len(langs) == 0 {
			langs = []string{"eng"}
		}
		if err := client.SetLanguage(langs...); err != nil {
			done <- out{err: err}
			return
		}
		client.SetPageSegMode(gosseract.PSM_AUTO)
		if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
			done <- out{err: err}
			return
		}
		text, err := client.Text()
		done <- out{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		// the cgo call cannot be interrupted; its result is dropped
		return "", ctx.Err()
	case r := <-done:
		return r.text, r.err
	}
}
