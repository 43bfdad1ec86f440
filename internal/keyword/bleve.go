package keyword

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

const (
	fieldValue    = "value"
	fieldKind     = "kind"
	fieldSource   = "source"
	fieldFileID   = "file_id"
	fieldPosition = "position"

	deletePageSize = 1000
)

// BleveIndex implements LabelIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path.
// An existing index is reopened as is; remove the directory after changing the mapping.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}
	index, err := bleve.New(path, labelMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func labelMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	// Standard analyzer: lowercase and tokenize without stemming, so codes like "BT5" survive.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(fieldValue, text)
	for _, f := range []string{fieldKind, fieldSource, fieldFileID} {
		docMapping.AddFieldMappingsAt(f, bleve.NewKeywordFieldMapping())
	}
	docMapping.AddFieldMappingsAt(fieldPosition, bleve.NewNumericFieldMapping())

	im.AddDocumentMapping("label", docMapping)
	im.DefaultType = "label"
	im.DefaultMapping = docMapping
	return im
}

// Index adds or replaces docs in one batch.
func (b *BleveIndex) Index(ctx context.Context, docs []LabelDoc) error {
	if len(docs) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("label document has no ID: %q", d.Value)
		}
		if err := batch.Index(d.ID, map[string]interface{}{
			fieldValue:    d.Value,
			fieldKind:     d.Kind,
			fieldSource:   d.Source,
			fieldFileID:   d.FileID,
			fieldPosition: float64(d.Position),
		}); err != nil {
			return fmt.Errorf("failed to batch label %s: %w", d.ID, err)
		}
	}
	return b.index.Batch(batch)
}

// DeleteFile removes every label owned by fileID.
func (b *BleveIndex) DeleteFile(ctx context.Context, fileID string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		q := bleve.NewTermQuery(fileID)
		q.SetField(fieldFileID)
		req := bleve.NewSearchRequest(q)
		req.Size = deletePageSize
		res, err := b.index.Search(req)
		if err != nil {
			return fmt.Errorf("Bleve search failed: %w", err)
		}
		if len(res.Hits) == 0 {
			return nil
		}
		batch := b.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to delete labels of %s: %w", fileID, err)
		}
	}
}

// Search matches query against label values and returns up to limit hits, best first.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*LabelHit, error) {
	var o SearchOptions
	if opts != nil {
		o = *opts
	}
	var q blevequery.Query
	if o.Fuzziness > 0 {
		q = buildFuzzyQuery(query, o.Fuzziness)
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(fieldValue)
		q = mq
	}
	if filters := termFilters(o); len(filters) > 0 {
		q = bleve.NewConjunctionQuery(append([]blevequery.Query{q}, filters...)...)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{fieldValue, fieldKind, fieldSource, fieldFileID, fieldPosition}
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*LabelHit, len(res.Hits))
	for i, hit := range res.Hits {
		out[i] = &LabelHit{
			ID:     hit.ID,
			Score:  hit.Score,
			Value:  stringField(hit.Fields, fieldValue),
			Kind:   stringField(hit.Fields, fieldKind),
			Source: stringField(hit.Fields, fieldSource),
			FileID: stringField(hit.Fields, fieldFileID),
		}
		if p, ok := hit.Fields[fieldPosition].(float64); ok {
			out[i].Position = int(p)
		}
	}
	return out, nil
}

func termFilters(o SearchOptions) []blevequery.Query {
	var filters []blevequery.Query
	if o.Kind != "" {
		tq := bleve.NewTermQuery(o.Kind)
		tq.SetField(fieldKind)
		filters = append(filters, tq)
	}
	if o.Source != "" {
		tq := bleve.NewTermQuery(o.Source)
		tq.SetField(fieldSource)
		filters = append(filters, tq)
	}
	return filters
}

// buildFuzzyQuery ORs one fuzzy query per term of queryStr.
func buildFuzzyQuery(queryStr string, fuzziness int) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		mq.SetField(fieldValue)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(fieldValue)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

func stringField(fields map[string]interface{}, name string) string {
	s, _ := fields[name].(string)
	return s
}

// Terms returns the value field dictionary.
func (b *BleveIndex) Terms() (map[string]int, error) {
	dict, err := b.index.FieldDict(fieldValue)
	if err != nil {
		return nil, fmt.Errorf("failed to read term dictionary: %w", err)
	}
	defer dict.Close()
	terms := make(map[string]int)
	for {
		entry, err := dict.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return terms, nil
		}
		terms[entry.Term] = int(entry.Count)
	}
}

// DocCount returns the total number of label documents.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
