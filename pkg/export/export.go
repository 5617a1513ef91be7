package export

import (
	"fmt"
	"strings"
)

// Format identifies a supported report encoding.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// Table is the tabular payload handed to a renderer. Rows are keyed by header.
type Table struct {
	Title   string
	Headers []string
	Rows    []map[string]string
}

// Renderer encodes a table into a downloadable document.
type Renderer interface {
	Render(Table) ([]byte, error)
	ContentType() string
	Extension() string
}

// ParseFormat normalises a user-supplied format, defaulting to CSV.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// For returns the renderer for a format.
func For(format Format) Renderer {
	if format == FormatPDF {
		return NewPDFRenderer()
	}
	return NewCSVRenderer()
}

func (t Table) record(row map[string]string) []string {
	out := make([]string, len(t.Headers))
	for i, h := range t.Headers {
		out[i] = row[h]
	}
	return out
}
