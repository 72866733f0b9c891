// Package export renders captures into single page A4 PDFs.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
)

// DefaultWatermark is stamped across exports of plans without clean PDFs
const DefaultWatermark = "DocuMind AI"

// page geometry in millimetres
const (
	pageWidth   = 210.0
	pageHeight  = 297.0
	margin      = 10.0
	imageWidth  = pageWidth - 2*margin
	imageHeight = pageHeight - 2*margin
)

var ErrEmptyImage = errors.New("export: no image data")

// Renderer renders PNG images into PDFs
type Renderer struct {
	watermark string
	compress  bool
}

// NewRenderer creates a Renderer that stamps text when a watermark is requested
func NewRenderer(text string) *Renderer {
	return NewRendererWithCompression(text, true)
}

// NewRendererWithCompression creates a Renderer with page stream
// compression switched on or off. Uncompressed output is readable in tests.
func NewRendererWithCompression(text string, compress bool) *Renderer {
	if text == "" {
		text = DefaultWatermark
	}
	return &Renderer{watermark: text, compress: compress}
}

// WatermarkText returns the text stamped on watermarked exports
func (r *Renderer) WatermarkText() string {
	return r.watermark
}

// Render places image on an A4 page, 190mm wide at the top left margin,
// and stamps the watermark over it when watermark is set
func (r *Renderer) Render(image []byte, watermark bool) ([]byte, error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(r.compress)
	pdf.SetCreator("docscan", true)
	pdf.AddPage()

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	info := pdf.RegisterImageOptionsReader("capture", opts, bytes.NewReader(image))
	if pdf.Err() {
		return nil, fmt.Errorf("registering image: %w", pdf.Error())
	}

	w, h := fitImage(info.Width(), info.Height())
	pdf.ImageOptions("capture", margin, margin, w, h, false, opts, 0, "")

	// drawn after the image so it stays visible on top of it
	if watermark {
		r.stamp(pdf)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("writing PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) stamp(pdf *fpdf.Fpdf) {
	cx, cy := pageWidth/2, 148.0

	pdf.SetFont("Helvetica", "", 40)
	pdf.SetTextColor(200, 200, 200)
	pdf.TransformBegin()
	pdf.TransformRotate(45, cx, cy)
	pdf.Text(cx-pdf.GetStringWidth(r.watermark)/2, cy, r.watermark)
	pdf.TransformEnd()
}

// fitImage scales an image to the full content width, keeping the aspect
// ratio, and shrinks it further if it would run off the page
func fitImage(width, height float64) (float64, float64) {
	if width <= 0 || height <= 0 {
		return imageWidth, 0
	}
	w := imageWidth
	h := imageWidth * height / width
	if h > imageHeight {
		h = imageHeight
		w = imageHeight * width / height
	}
	return w, h
}

// DocumentFileName names the export of a stored document
func DocumentFileName(id uint64) string {
	return fmt.Sprintf("document_%d.pdf", id)
}

// CaptureFileName names the export of the current capture
func CaptureFileName(at time.Time) string {
	return fmt.Sprintf("document_%d.pdf", at.UnixMilli())
}
