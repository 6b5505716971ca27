// Package keyword provides the Bleve implementation of KeywordIndex.
package keyword

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"

	"github.com/hyperjump/miwake/internal/models"
)

var internalVersionKey = []byte("snapshot_version")

// itemDoc is the indexed projection of a catalog item.
type itemDoc struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path. An existing index is
// opened as-is: snapshot directories are immutable once published, so an
// opened index always carries the mapping its builder wrote.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so a query like
	// "sneakers" matches the exact word DeriveName produced; stemming would
	// fold distinct product words together.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("name", textFieldMapping)
	docMapping.AddFieldMappingsAt("category", textFieldMapping)
	im.AddDocumentMapping("item", docMapping)
	im.DefaultType = "item"
	im.DefaultMapping = docMapping

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// OpenBleveIndexReadOnly opens an existing index for query-time use. The
// read_only flag keeps Bleve from touching published snapshot files.
func OpenBleveIndexReadOnly(path string) (*BleveIndex, error) {
	index, err := bleve.OpenUsing(path, map[string]interface{}{"read_only": true})
	if err != nil {
		return nil, fmt.Errorf("failed to open Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index adds one item.
func (b *BleveIndex) Index(ctx context.Context, item *models.CatalogItem) error {
	return b.index.Index(strconv.FormatInt(item.ID, 10), itemDoc{Name: item.Name, Category: item.Category})
}

// IndexBatch adds items in one batch commit, which is much faster than
// per-item Index calls during a rebuild.
func (b *BleveIndex) IndexBatch(ctx context.Context, items []*models.CatalogItem) error {
	batch := b.index.NewBatch()
	for _, item := range items {
		doc := itemDoc{Name: item.Name, Category: item.Category}
		if err := batch.Index(strconv.FormatInt(item.ID, 10), doc); err != nil {
			return fmt.Errorf("batch index item %d: %w", item.ID, err)
		}
	}
	return b.index.Batch(batch)
}

// Search runs a match query over names and categories and returns up to
// limit results. Name matches are boosted over category matches so "sneaker"
// surfaces sneaker items before everything merely filed under sneakers.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]*Result, error) {
	nameQuery := bleve.NewMatchQuery(query)
	nameQuery.SetField("name")
	nameQuery.SetBoost(2.0)
	categoryQuery := bleve.NewMatchQuery(query)
	categoryQuery.SetField("category")

	search := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(nameQuery, categoryQuery))
	search.Size = limit
	results, err := b.index.Search(search)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*Result, 0, len(results.Hits))
	for _, hit := range results.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, &Result{ID: id, Score: hit.Score})
	}
	return out, nil
}

// SetVersion stamps the index with the snapshot version it belongs to.
func (b *BleveIndex) SetVersion(version string) error {
	return b.index.SetInternal(internalVersionKey, []byte(version))
}

// Version returns the snapshot version the index was stamped with, or an
// empty string for an index that was never stamped.
func (b *BleveIndex) Version() (string, error) {
	val, err := b.index.GetInternal(internalVersionKey)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// DocCount returns the total number of items in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// tokenizeQuery splits query into lowercase terms, filtering out empty strings.
func tokenizeQuery(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w != "" {
			terms = append(terms, w)
		}
	}
	return terms
}

// GetTermDocFrequency returns the number of items containing the given term.
func (b *BleveIndex) GetTermDocFrequency(term string) (int, error) {
	q := bleve.NewMatchQuery(term)
	req := bleve.NewSearchRequest(q)
	req.Size = 0
	results, err := b.index.Search(req)
	if err != nil {
		return 0, fmt.Errorf("failed to search for term frequency: %w", err)
	}
	return int(results.Total), nil
}

// GetAllTerms returns all unique terms from the index dictionary.
// This is used for spell checking to build the term dictionary.
func (b *BleveIndex) GetAllTerms() ([]string, error) {
	terms := make([]string, 0)
	seen := make(map[string]struct{})

	for _, field := range []string{"name", "category"} {
		dict, err := b.index.FieldDict(field)
		if err != nil {
			continue
		}
		for {
			entry, err := dict.Next()
			if err != nil || entry == nil {
				break
			}
			if _, ok := seen[entry.Term]; !ok {
				terms = append(terms, entry.Term)
				seen[entry.Term] = struct{}{}
			}
		}
		_ = dict.Close()
	}

	return terms, nil
}

// ContainsTerm checks if a term exists in the index.
func (b *BleveIndex) ContainsTerm(term string) (bool, error) {
	freq, err := b.GetTermDocFrequency(term)
	if err != nil {
		return false, err
	}
	return freq > 0, nil
}

// GetTermFrequency returns the document frequency for a term.
// This is an alias for GetTermDocFrequency to satisfy the TermDictionary interface.
func (b *BleveIndex) GetTermFrequency(term string) (int, error) {
	return b.GetTermDocFrequency(term)
}
