// Package ingest turns grammar spreadsheets into persisted, cohort-assigned configuration files.
package ingest

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/gramaudit/internal/extract"
	"github.com/hyperjump/gramaudit/internal/models"
	"github.com/hyperjump/gramaudit/internal/textnorm"
)

type column int

const (
	colPosition column = iota
	colAttribute
	colCode
	colDescription
	numColumns
)

var headerAliases = map[string]column{
	"position":           colPosition,
	"pos":                colPosition,
	"index":              colPosition,
	"attribute":          colAttribute,
	"label":              colAttribute,
	"attribute label":    colAttribute,
	"code":               colCode,
	"option":             colCode,
	"option code":        colCode,
	"description":        colDescription,
	"option description": colDescription,
}

// maxHeaderScan bounds how many leading rows are searched for a header.
const maxHeaderScan = 10

// header maps columns to cell indexes; -1 means absent.
type header [numColumns]int

func findHeader(rows [][]string) (h header, at int, ok bool) {
	for i := 0; i < len(rows) && i < maxHeaderScan; i++ {
		for c := range h {
			h[c] = -1
		}
		for j, cell := range rows[i] {
			if c, known := headerAliases[textnorm.Fold(cell)]; known && h[c] < 0 {
				h[c] = j
			}
		}
		if h[colPosition] >= 0 && h[colAttribute] >= 0 && h[colCode] >= 0 {
			return h, i, true
		}
	}
	return h, 0, false
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// Parse reads grammar positions from the first sheet that carries a position, attribute, and code header.
// Rows group by position. A blank position or attribute cell continues the previous row's value.
// The result is sorted by index; contiguity is checked later by canonicalization.
func Parse(sheets []extract.Sheet) ([]models.Position, error) {
	for _, sh := range sheets {
		h, at, ok := findHeader(sh.Rows)
		if !ok {
			continue
		}
		positions, err := parseRows(sh.Rows[at+1:], h, at+2)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", sh.Name, err)
		}
		return positions, nil
	}
	return nil, &models.MalformedInputError{Reason: "no sheet has position, attribute, and code columns"}
}

// parseRows groups rows; firstLine is the 1-based sheet line of rows[0], used in errors.
func parseRows(rows [][]string, h header, firstLine int) ([]models.Position, error) {
	byIndex := make(map[int]*models.Position)
	prevIndex, havePrev := 0, false
	prevLabel := ""

	for i, row := range rows {
		line := firstLine + i
		posCell, label, code := cell(row, h[colPosition]), cell(row, h[colAttribute]), cell(row, h[colCode])
		desc := cell(row, h[colDescription])
		if posCell == "" && label == "" && code == "" && desc == "" {
			continue
		}

		var index int
		switch {
		case posCell != "":
			n, err := parseIndex(posCell)
			if err != nil {
				return nil, &models.MalformedInputError{Reason: fmt.Sprintf("line %d: %v", line, err)}
			}
			if !havePrev || n != prevIndex {
				prevLabel = ""
			}
			index = n
		case havePrev:
			index = prevIndex
		default:
			return nil, &models.MalformedInputError{Reason: fmt.Sprintf("line %d: missing position", line)}
		}
		if label == "" {
			label = prevLabel
		}
		prevIndex, havePrev, prevLabel = index, true, label

		p, exists := byIndex[index]
		if !exists {
			p = &models.Position{Index: index, Label: label}
			byIndex[index] = p
		}
		if p.Label == "" {
			p.Label = label
		} else if label != "" && !textnorm.Equal(p.Label, label) {
			return nil, &models.MalformedInputError{
				Reason: fmt.Sprintf("line %d: position %d labelled both %q and %q", line, index, p.Label, label),
			}
		}
		if code == "" {
			continue
		}
		p.OptionCodes = append(p.OptionCodes, code)
		if desc != "" {
			if p.OptionDescriptions == nil {
				p.OptionDescriptions = make(map[string]string)
			}
			p.OptionDescriptions[code] = desc
		}
	}

	out := make([]models.Position, 0, len(byIndex))
	for _, p := range byIndex {
		if p.Label == "" {
			return nil, &models.MalformedInputError{Reason: fmt.Sprintf("position %d has no attribute label", p.Index)}
		}
		label, err := textnorm.NewLabel(p.Label)
		if err != nil {
			return nil, &models.MalformedInputError{Reason: fmt.Sprintf("position %d: %v", p.Index, err)}
		}
		p.Label = label.Display()
		p.NormalizedLabel = label.Normalized()
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// parseIndex accepts integers and spreadsheet-formatted integral floats such as "3.0".
func parseIndex(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("position %q is not an integer", s)
	}
	return int(f), nil
}
