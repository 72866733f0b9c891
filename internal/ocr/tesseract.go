package ocr

import (
	"context"
	"fmt"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract implements the Recognizer interface using a local Tesseract install
type Tesseract struct {
	mu       sync.Mutex
	client   *gosseract.Client
	language string
}

// NewTesseract creates a new Tesseract Recognizer for language
func NewTesseract(language string) (*Tesseract, error) {
	if language == "" {
		language = "eng"
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(language); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting tesseract language: %w", err)
	}
	// captures are normalised without density metadata
	if err := client.SetVariable(gosseract.SettableVariable("user_defined_dpi"), "300"); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting tesseract dpi: %w", err)
	}

	return &Tesseract{
		client:   client,
		language: language,
	}, nil
}

// Recognize runs Tesseract over image. The client is not safe for
// concurrent use so calls are serialised.
func (t *Tesseract) Recognize(ctx context.Context, image []byte, contentType string, progress Progress) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecognition, err)
	}
	report(progress, 0)

	if err := t.client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("%w: loading image: %v", ErrRecognition, err)
	}
	report(progress, 0.1)

	text, err := t.client.Text()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecognition, err)
	}
	report(progress, 1)

	return cleanTranscript(text), nil
}

// Close closes the Tesseract client
func (t *Tesseract) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Close()
}
