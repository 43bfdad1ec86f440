package taxonomy

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/gramaudit/internal/models"
	"github.com/hyperjump/gramaudit/internal/textnorm"
)

// ErrNotFound is returned when no file exists for a taxonomy source.
var ErrNotFound = errors.New("taxonomy not found")

var extensions = []string{".yaml", ".yml", ".csv"}

type yamlFile struct {
	Entries []yamlEntry `yaml:"entries"`
}

// yamlEntry is either a bare string or a mapping with value and vector.
type yamlEntry struct {
	Value  string    `yaml:"value"`
	Vector []float32 `yaml:"vector,omitempty"`
}

func (e *yamlEntry) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		e.Value = n.Value
		return nil
	}
	type plain yamlEntry
	return n.Decode((*plain)(e))
}

// LoadDir loads <dir>/<source>.yaml, .yml or .csv for each source, in the order given.
func LoadDir(dir string, sources []string) ([]models.TaxonomySet, error) {
	sets := make([]models.TaxonomySet, 0, len(sources))
	for _, source := range sources {
		set, err := loadSource(dir, source)
		if err != nil {
			return nil, err
		}
		sets = append(sets, *set)
	}
	return sets, nil
}

func loadSource(dir, source string) (*models.TaxonomySet, error) {
	for _, ext := range extensions {
		path := filepath.Join(dir, source+ext)
		set, err := LoadFile(path, source)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return set, err
	}
	return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, source, dir)
}

// LoadFile reads one taxonomy file. The format follows the extension.
func LoadFile(path, source string) (*models.TaxonomySet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var raw []yamlEntry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err = readYAML(f)
	case ".csv":
		raw, err = readCSV(f)
	default:
		return nil, fmt.Errorf("unsupported taxonomy format: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy %s: %w", path, err)
	}
	return buildSet(source, raw), nil
}

func readYAML(r io.Reader) ([]yamlEntry, error) {
	var doc yamlFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return doc.Entries, nil
}

// readCSV takes the first column of every row; a leading "value" header is skipped.
func readCSV(r io.Reader) ([]yamlEntry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	var out []yamlEntry
	first := true
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) == 0 {
			continue
		}
		if first {
			first = false
			switch textnorm.Fold(rec[0]) {
			case "value", "canonical_value", "canonical value":
				continue
			}
		}
		out = append(out, yamlEntry{Value: rec[0]})
	}
	return out, nil
}

// buildSet drops blank values and keeps the first of values that fold to the same text.
func buildSet(source string, raw []yamlEntry) *models.TaxonomySet {
	set := &models.TaxonomySet{Source: source, Entries: make([]models.TaxonomyEntry, 0, len(raw))}
	seen := make(map[string]struct{}, len(raw))
	for _, e := range raw {
		value := textnorm.Normalize(e.Value)
		if value == "" {
			continue
		}
		key := textnorm.Fold(value)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		set.Entries = append(set.Entries, models.TaxonomyEntry{
			CanonicalValue: value,
			Source:         source,
			Vector:         e.Vector,
		})
	}
	return set
}
