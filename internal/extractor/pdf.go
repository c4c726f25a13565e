package extractor

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"

	"github.com/insightdelivered/statement-viewer/internal/models"
)

// maxSamplePages bounds how many pages are read for the text-layer probe.
const maxSamplePages = 3

// maxSampleRunes bounds the sample line kept for display.
const maxSampleRunes = 80

// Info is a local preview of a statement PDF, shown before it is sent.
type Info struct {
	Pages     int
	TextLayer bool
	Sample    string
}

// ExpectedMethod guesses which route the parsing service will take.
func (i *Info) ExpectedMethod() models.ParseMethod {
	if i.TextLayer {
		return models.MethodTextBased
	}
	return models.MethodOCR
}

// Inspect opens the PDF bytes, counts pages and probes the first pages for a
// readable text layer. Scanned statements have none and go through OCR.
func Inspect(data []byte) (info *Info, err error) {
	defer func() {
		if r := recover(); r != nil {
			info = nil
			err = fmt.Errorf("PDF library crashed: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	numPages := r.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	pages := extractByRow(r, min(numPages, maxSamplePages))
	info = &Info{
		Pages:     numPages,
		TextLayer: isReadableText(pages),
	}
	if info.TextLayer {
		info.Sample = firstLine(pages)
	}
	return info, nil
}

// textQuality returns the ratio of basic ASCII readable characters to total
// characters, 0.0-1.0. Garbage from identity-encoded fonts scores low.
func textQuality(pages []string) float64 {
	total := 0
	readable := 0
	for _, page := range pages {
		for _, r := range page {
			total++
			if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || unicode.IsPunct(r)) {
				readable++
			} else if r == '$' || r == '£' || r == '€' {
				readable++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(readable) / float64(total)
}

// commonWords appear on virtually every credit-card statement.
var commonWords = []string{
	"balance", "payment", "due", "credit", "limit", "statement",
	"account", "minimum", "available", "purchases", "interest", "card",
}

func containsCommonWords(pages []string) bool {
	combined := strings.ToLower(strings.Join(pages, " "))
	for _, word := range commonWords {
		if strings.Contains(combined, word) {
			return true
		}
	}
	return false
}

// isReadableText requires >50 chars, >60% readable ASCII and at least one
// statement word.
func isReadableText(pages []string) bool {
	if totalTextLen(pages) <= 50 {
		return false
	}
	if textQuality(pages) <= 0.6 {
		return false
	}
	return containsCommonWords(pages)
}

// extractByRow reads the first n pages row by row.
func extractByRow(r *pdf.Reader, n int) []string {
	var pages []string
	for i := 1; i <= n; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}
		var lines []string
		for _, row := range rows {
			var parts []string
			for _, word := range row.Content {
				parts = append(parts, word.S)
			}
			line := strings.TrimSpace(strings.Join(parts, " "))
			if line != "" {
				lines = append(lines, line)
			}
		}
		pages = append(pages, strings.Join(lines, "\n"))
	}
	return pages
}

func firstLine(pages []string) string {
	for _, p := range pages {
		for _, line := range strings.Split(p, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				if runes := []rune(line); len(runes) > maxSampleRunes {
					line = string(runes[:maxSampleRunes])
				}
				return line
			}
		}
	}
	return ""
}

func totalTextLen(pages []string) int {
	n := 0
	for _, p := range pages {
		n += len(strings.TrimSpace(p))
	}
	return n
}
