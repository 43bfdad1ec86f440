// Package models defines core data structures for grammars, cohorts, embeddings, and reconciliation results.
package models

import "time"

// Position is one character position of a SKU grammar.
type Position struct {
	FileID          string   `json:"file_id" db:"file_id"`
	Index           int      `json:"index" db:"position_index"`
	Label           string   `json:"label" db:"attribute_label"`
	NormalizedLabel string   `json:"normalized_label" db:"normalized_label"`
	OptionCodes     []string `json:"option_codes" db:"option_codes"`
	// OptionDescriptions maps an option code to its free-text description, when the sheet has one.
	OptionDescriptions map[string]string `json:"option_descriptions,omitempty" db:"-"`
}

// ConfigurationFile is an ingested grammar spreadsheet.
type ConfigurationFile struct {
	ID         string     `json:"id" db:"id"`
	Path       string     `json:"path" db:"path"`
	Name       string     `json:"name" db:"name"`
	Hash       string     `json:"signature_hash" db:"signature_hash"`
	CohortID   string     `json:"cohort_id" db:"cohort_id"`
	Positions  []Position `json:"positions,omitempty" db:"-"`
	IngestedAt time.Time  `json:"ingested_at" db:"ingested_at"`
	// ContentHash is the SHA-256 of the source bytes, used to skip unchanged files.
	ContentHash string `json:"content_hash,omitempty" db:"content_hash"`
}

// CanonicalPosition is one tuple of a structural signature's canonical form.
type CanonicalPosition struct {
	Label   string   `json:"label"`
	Options []string `json:"options"`
}

// StructuralSignature is the canonical, order-sensitive structure of a grammar.
// It never carries file metadata.
type StructuralSignature struct {
	CanonicalForm []CanonicalPosition `json:"canonical_form"`
	Hash          string              `json:"hash"`
}

// GrammarCohort groups files that share one signature hash.
type GrammarCohort struct {
	ID        string               `json:"id" db:"id"`
	Hash      string               `json:"hash" db:"hash"`
	Signature *StructuralSignature `json:"signature" db:"canonical_form"`
	FileIDs   []string             `json:"file_ids" db:"-"`
	CreatedAt time.Time            `json:"created_at" db:"created_at"`
}
