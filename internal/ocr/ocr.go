// Package ocr extracts text from a captured image. Each engine is an
// implementation of Recognizer.
package ocr

import (
	"context"
	"errors"
)

// ErrRecognition wraps every failure of an OCR engine
var ErrRecognition = errors.New("ocr: recognition failed")

// Progress receives the completed fraction of a recognition, in [0,1]
type Progress func(fraction float64)

// Recognizer defines the interface for OCR engines
type Recognizer interface {
	// Recognize returns the text found in image
	Recognize(ctx context.Context, image []byte, contentType string, progress Progress) (string, error)
	// Close releases the engine's resources
	Close() error
}

// transcriptionPrompt is the shared prompt used by the LLM engines
const transcriptionPrompt = `You are an OCR engine. Transcribe all text visible in this scanned document image.

Rules:
- Preserve the reading order and line breaks of the document
- Keep paragraphs separated by a blank line
- Do not summarise, translate, correct or explain anything
- Do not add any text before or after the transcription
- Do not use markdown code blocks
- If the image contains no text, return an empty response`

// report calls progress with fraction, clamped to [0,1], when progress is set
func report(progress Progress, fraction float64) {
	if progress == nil {
		return
	}
	switch {
	case fraction < 0:
		fraction = 0
	case fraction > 1:
		fraction = 1
	}
	progress(fraction)
}

// format returns the image format suffix an engine expects, e.g. "png"
func format(contentType string) string {
	switch contentType {
	case "image/jpeg", "image/jpg":
		return "jpeg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}
