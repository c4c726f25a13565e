package upload

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/insightdelivered/statement-viewer/internal/config"
	"github.com/insightdelivered/statement-viewer/internal/models"
)

// PDFContentType is the only content type accepted for upload.
const PDFContentType = "application/pdf"

var (
	ErrNotPDF   = errors.New("only PDF files are supported")
	ErrTooLarge = errors.New("file is too large")
	ErrEmpty    = errors.New("file is empty")
	ErrBusy     = errors.New("an upload is already in progress")
)

// ValidationError is a client-side rejection. No request is sent for it.
type ValidationError struct {
	File string
	Err  error
	msg  string
}

func (e *ValidationError) Error() string { return e.msg }

func (e *ValidationError) Unwrap() error { return e.Err }

// ContentType returns the declared content type of f, or a sniffed one when
// the client did not declare any. Parameters such as charset are dropped.
func ContentType(f models.UploadFile) string {
	ct := strings.TrimSpace(f.ContentType)
	if ct == "" {
		return http.DetectContentType(f.Data)
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return strings.ToLower(ct)
}

// Validate checks type and size of a statement before it is sent.
func Validate(f models.UploadFile) error {
	if ct := ContentType(f); ct != PDFContentType {
		return &ValidationError{
			File: f.Name,
			Err:  ErrNotPDF,
			msg:  fmt.Sprintf("%q is not a PDF (got %s). Please select a PDF statement.", f.Name, ct),
		}
	}
	if f.Size > config.MaxUploadBytes {
		return &ValidationError{
			File: f.Name,
			Err:  ErrTooLarge,
			msg: fmt.Sprintf("%q is %s. The maximum size is %s.",
				f.Name, humanize.IBytes(uint64(f.Size)), humanize.IBytes(config.MaxUploadBytes)),
		}
	}
	if f.Size == 0 {
		return &ValidationError{
			File: f.Name,
			Err:  ErrEmpty,
			msg:  fmt.Sprintf("%q is empty.", f.Name),
		}
	}
	return nil
}
