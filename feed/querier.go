// Package feed implements the proximity feed engine: bounding-range index
// scans, great-circle refinement, and the stateful feed controller.
package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/apex/log"

	"seraph/models"
	"seraph/spatial"
	"seraph/store"
)

// Querier turns a FeedQuery into concurrent range scans over the report
// index and merges the raw candidates. All scans of one query must succeed;
// a single failure fails the whole query closed.
type Querier struct {
	store store.DocumentStore
}

// NewQuerier returns a querier bound to a document store.
func NewQuerier(s store.DocumentStore) *Querier {
	return &Querier{store: s}
}

// Query executes the bounding-range decomposition for q and returns every
// candidate report whose stored hash lies in one of the ranges. Candidates
// are not yet distance-filtered; callers run Refine on the result.
func (q *Querier) Query(ctx context.Context, query models.FeedQuery) ([]models.Report, error) {
	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrQueryFailed, err)
	}

	ranges := spatial.CoverRadius(query.Center.Latitude, query.Center.Longitude, query.RadiusMeters)

	// Fan out one scan per range, then wait for all of them. No partial
	// result ever leaves this function.
	results := make([][]store.Document, len(ranges))
	errs := make([]error, len(ranges))
	var wg sync.WaitGroup
	for i, r := range ranges {
		wg.Add(1)
		go func(i int, r spatial.HashRange) {
			defer wg.Done()
			results[i], errs[i] = q.store.RangeScan(ctx, scanForRange(r, query.Category))
		}(i, r)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrQueryFailed, err)
		}
	}

	// Ranges are disjoint by construction; the id set is a safety net in
	// case a stored hash ever sits exactly on a merged boundary.
	seen := make(map[string]bool)
	reports := make([]models.Report, 0)
	for _, docs := range results {
		for _, doc := range docs {
			if seen[doc.ID] {
				continue
			}
			seen[doc.ID] = true

			report, err := store.ReportFromDocument(doc)
			if err != nil {
				log.Warnf("Dropping malformed report document: %v", err)
				continue
			}
			reports = append(reports, report)
		}
	}

	return reports, nil
}

func scanForRange(r spatial.HashRange, category models.Category) store.Scan {
	scan := store.Scan{
		Collection: store.CollectionReports,
		OrderBy: []store.Order{
			{Field: store.FieldLocationHash},
			{Field: store.FieldTimestamp, Desc: true},
		},
		Range: &store.KeyRange{Start: r.Start, End: r.End},
	}
	if category != "" {
		scan.Filter = &store.Filter{Field: store.FieldCategory, Value: string(category)}
	}
	return scan
}
