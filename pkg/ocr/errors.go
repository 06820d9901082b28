package ocr

import "errors"

// ErrEmptyText is returned by a transcription attempt that produced no text.
var ErrEmptyText = errors.New("empty transcription")

// ErrNoProvider is returned when an extraction slot has no transcriber configured.
var ErrNoProvider = errors.New("no transcriber configured")
