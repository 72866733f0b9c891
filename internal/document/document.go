package document

import (
	"time"

	"github.com/zombor/docscan/internal/plan"
)

// Document is a stored scan. It is immutable once saved.
type Document struct {
	ID            uint64    `json:"id"`
	ImageData     []byte    `json:"image"`
	ContentType   string    `json:"content_type"`
	ExtractedText string    `json:"text,omitempty"`
	CreatedAt     time.Time `json:"date"`
	PlanAtCapture plan.ID   `json:"plan"` // historical tag, not kept in sync with the catalog
}

// Summary is a Document without its image payload
type Summary struct {
	ID            uint64    `json:"id"`
	ContentType   string    `json:"content_type"`
	ExtractedText string    `json:"text,omitempty"`
	CreatedAt     time.Time `json:"date"`
	PlanAtCapture plan.ID   `json:"plan"`
	ImageSize     int       `json:"image_size"`
}

// Summarize drops the image payload for listings
func (d *Document) Summarize() Summary {
	return Summary{
		ID:            d.ID,
		ContentType:   d.ContentType,
		ExtractedText: d.ExtractedText,
		CreatedAt:     d.CreatedAt,
		PlanAtCapture: d.PlanAtCapture,
		ImageSize:     len(d.ImageData),
	}
}

func (d *Document) clone() *Document {
	c := *d
	c.ImageData = append([]byte(nil), d.ImageData...)
	return &c
}
