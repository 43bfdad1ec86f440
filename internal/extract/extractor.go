// Package extract reads tabular rows from grammar spreadsheets.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sheet is one named table of cell rows. Rows may be ragged.
type Sheet struct {
	Name string
	Rows [][]string
}

// Extractor reads spreadsheets into sheets of rows.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// SupportedExtensions lists the formats Extract understands.
var SupportedExtensions = []string{".xlsx", ".csv", ".tsv"}

// Extract reads the file at path. The format follows its extension.
func (e *Extractor) Extract(path string) ([]Sheet, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	sheets, err := e.ExtractBytes(content, ext)
	if err != nil {
		return nil, err
	}
	// Delimited files have a single unnamed sheet; name it after the file.
	if ext != ".xlsx" && len(sheets) == 1 {
		sheets[0].Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return sheets, nil
}

// ExtractBytes reads content based on the given extension, which should include the leading dot.
func (e *Extractor) ExtractBytes(content []byte, ext string) ([]Sheet, error) {
	switch ext {
	case ".xlsx":
		return extractExcel(content)
	case ".csv":
		return extractDelimited(content, ',')
	case ".tsv":
		return extractDelimited(content, '\t')
	default:
		return nil, fmt.Errorf("unsupported spreadsheet format: %q", ext)
	}
}

// Supported reports whether path has an extension Extract understands.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedExtensions {
		if s == ext {
			return true
		}
	}
	return false
}
