package keyword

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/kioku/internal/models"
)

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// recordDoc is the indexed form of a record.
type recordDoc struct {
	Content   string `json:"content"`
	Type      string `json:"type"`
	Completed bool   `json:"completed"`
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so short notes match
	// the exact words they were written with.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	typeFieldMapping := bleve.NewTextFieldMapping()
	typeFieldMapping.Analyzer = keywordanalyzer.Name
	docMapping.AddFieldMappingsAt("type", typeFieldMapping)
	docMapping.AddFieldMappingsAt("completed", bleve.NewBooleanFieldMapping())
	im.AddDocumentMapping("record", docMapping)
	im.DefaultType = "record"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path or
// ":memory:" creates an in-memory index.
// If you change the index mapping in code, remove the index directory and run a rebuild.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" || path == ":memory:" {
		index, err := bleve.NewMemOnly(newMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func docID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Index indexes or re-indexes a record by its id.
func (b *BleveIndex) Index(ctx context.Context, rec *models.Record) error {
	return b.index.Index(docID(rec.ID), recordDoc{
		Content:   rec.SearchText(),
		Type:      string(rec.Type),
		Completed: rec.Completed,
	})
}

// Search runs a match query over record content and returns up to limit results.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if limit <= 0 {
		return nil, nil
	}

	var q blevequery.Query
	if opts != nil && opts.FuzzyEnabled {
		fuzziness := opts.Fuzziness
		if fuzziness <= 0 {
			fuzziness = 2
		}
		q = buildFuzzyQuery(query, fuzziness)
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetField("content")
		q = mq
	}
	if opts != nil && opts.Type != "" {
		tq := bleve.NewTermQuery(string(opts.Type))
		tq.SetField("type")
		q = bleve.NewConjunctionQuery(q, tq)
	}

	search := bleve.NewSearchRequest(q)
	search.Size = limit
	results, err := b.index.SearchInContext(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, 0, len(results.Hits))
	for _, hit := range results.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, &KeywordResult{ID: id, Score: hit.Score})
	}
	return out, nil
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries, one per query term.
func buildFuzzyQuery(queryStr string, fuzziness int) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField("content")
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes a record from the index. Deleting an absent id is not an error.
func (b *BleveIndex) Delete(ctx context.Context, id int64) error {
	return b.index.Delete(docID(id))
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the total number of records in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}
