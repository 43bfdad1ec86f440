// Package keyword provides full-text search over grammar labels, option values, and taxonomy entries.
package keyword

import (
	"context"
	"strconv"
)

// Label kinds stored in the index.
const (
	KindAttribute = "attribute"
	KindOption    = "option"
	KindTaxonomy  = "taxonomy"
)

// LabelDoc is one searchable text value.
type LabelDoc struct {
	ID       string
	Kind     string
	Value    string
	Source   string // taxonomy source, empty for grammar labels
	FileID   string // owning grammar file, empty for taxonomy entries
	Position int
}

// AttributeDocID returns the document ID of a position's attribute label.
func AttributeDocID(fileID string, position int) string {
	return fileID + "#" + strconv.Itoa(position)
}

// OptionDocID returns the document ID of one option value within a position.
func OptionDocID(fileID string, position int, code string) string {
	return AttributeDocID(fileID, position) + "/" + code
}

// TaxonomyDocID returns the document ID of a taxonomy entry.
func TaxonomyDocID(source, valueHash string) string {
	return "taxonomy:" + source + "/" + valueHash
}

// SearchOptions narrows a label search. Nil means match any kind and source without fuzziness.
type SearchOptions struct {
	Kind   string
	Source string
	// Fuzziness is the maximum edit distance per term (1 or 2). Zero disables fuzzy matching.
	Fuzziness int
}

// LabelHit is a single search hit.
type LabelHit struct {
	ID       string  `json:"id"`
	Kind     string  `json:"kind"`
	Value    string  `json:"value"`
	Source   string  `json:"source,omitempty"`
	FileID   string  `json:"file_id,omitempty"`
	Position int     `json:"position,omitempty"`
	Score    float64 `json:"score"`
}

// LabelIndex defines label indexing and search.
type LabelIndex interface {
	Index(ctx context.Context, docs []LabelDoc) error
	DeleteFile(ctx context.Context, fileID string) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*LabelHit, error)
	// Terms returns every indexed value term with the number of documents containing it.
	Terms() (map[string]int, error)
	DocCount() (uint64, error)
	Close() error
}
