package model

import (
	"time"
)

// OCRPreviewLen is how many characters of OCR text are echoed in previews.
const OCRPreviewLen = 500

// DefaultPageCount is used when a device sends no usable page count.
const DefaultPageCount = 1

// ScanResult is the artifact attached to a completed request. PDFPath is an
// opaque storage handle and never leaves the server.
type ScanResult struct {
	ID           string     `db:"id" json:"id"`
	RequestID    string     `db:"request_id" json:"request_id"`
	PDFPath      string     `db:"pdf_path" json:"-"`
	PDFSizeBytes int64      `db:"pdf_size_bytes" json:"pdf_size_bytes"`
	OCRText      string     `db:"ocr_text" json:"-"`
	PageCount    int        `db:"page_count" json:"page_count"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	PickedUp     bool       `db:"picked_up" json:"picked_up"`
	PickedUpAt   *time.Time `db:"picked_up_at" json:"picked_up_at"`
	AutoDeleteAt time.Time  `db:"auto_delete_at" json:"auto_delete_at"`
}

// Artifact is what a device uploads on completion.
type Artifact struct {
	PDF       []byte
	OCRText   string
	PageCount int
}

// ResultView is the metadata returned to an issuer for a completed request.
type ResultView struct {
	ID             string     `json:"id"`
	RequestID      string     `json:"request_id"`
	PDFURL         string     `json:"pdf_url"`
	TextURL        string     `json:"text_url"`
	PDFSizeBytes   int64      `json:"pdf_size_bytes"`
	PageCount      int        `json:"page_count"`
	OCRTextPreview string     `json:"ocr_text_preview"`
	CreatedAt      time.Time  `json:"created_at"`
	PickedUp       bool       `json:"picked_up"`
	PickedUpAt     *time.Time `json:"picked_up_at"`
	AutoDeleteAt   time.Time  `json:"auto_delete_at"`
}

// CompletedScan is returned to the device after a successful upload.
type CompletedScan struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"request_id"`
	Status       string    `json:"status"`
	PDFSizeBytes int64     `json:"pdf_size_bytes"`
	PageCount    int       `json:"page_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// OCRPreview returns at most OCRPreviewLen characters of text.
func OCRPreview(text string) string {
	runes := []rune(text)
	if len(runes) <= OCRPreviewLen {
		return text
	}
	return string(runes[:OCRPreviewLen])
}
