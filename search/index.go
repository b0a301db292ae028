// Package search maintains a full-text index over report titles and bodies.
package search

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"seraph/models"
)

// Index wraps a Bleve search index over published reports.
type Index struct {
	index bleve.Index
}

// IndexedReport is the shape stored in the search index.
type IndexedReport struct {
	ID       string
	Title    string
	Content  string
	Category string
}

// Result is one search hit.
type Result struct {
	ID        string
	Title     string
	Category  string
	Score     float64
	Fragments map[string][]string
}

// Open opens or creates an index at path. Pass an empty path for an
// in-memory index.
func Open(path string) (*Index, error) {
	var idx bleve.Index
	var err error

	if path == "" {
		idx, err = bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
		return &Index{index: idx}, nil
	}

	idx, err = bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	return &Index{index: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	titleFieldMapping := bleve.NewTextFieldMapping()
	titleFieldMapping.Analyzer = "en"

	categoryFieldMapping := bleve.NewTextFieldMapping()
	categoryFieldMapping.Analyzer = "keyword"

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("ID", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("Title", titleFieldMapping)
	docMapping.AddFieldMappingsAt("Content", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("Category", categoryFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("_default", docMapping)

	return indexMapping
}

// Close closes the index.
func (i *Index) Close() error {
	return i.index.Close()
}

// IndexReport adds or updates a report in the index.
func (i *Index) IndexReport(r models.Report) error {
	return i.index.Index(r.ID, &IndexedReport{
		ID:       r.ID,
		Title:    r.Title,
		Content:  r.Content,
		Category: string(r.Category),
	})
}

// Delete removes a report from the index.
func (i *Index) Delete(id string) error {
	return i.index.Delete(id)
}

// Search runs a query-string search, optionally restricted to one category.
func (i *Index) Search(queryStr string, category models.Category, limit int) ([]*Result, error) {
	textQuery := bleve.NewQueryStringQuery(queryStr)

	var finalQuery = bleve.NewConjunctionQuery(textQuery)
	if category != "" {
		catQuery := bleve.NewTermQuery(string(category))
		catQuery.SetField("Category")
		finalQuery.AddQuery(catQuery)
	}

	req := bleve.NewSearchRequestOptions(finalQuery, limit, 0, false)
	req.Highlight = bleve.NewHighlightWithStyle("html")
	req.Fields = []string{"Title", "Category"}

	results, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var out []*Result
	for _, hit := range results.Hits {
		r := &Result{
			ID:        hit.ID,
			Score:     hit.Score,
			Fragments: hit.Fragments,
		}
		if title, ok := hit.Fields["Title"].(string); ok {
			r.Title = title
		}
		if cat, ok := hit.Fields["Category"].(string); ok {
			r.Category = cat
		}
		out = append(out, r)
	}

	return out, nil
}

// Count returns the number of indexed reports.
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}
