package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seraph/models"
)

func newTestIndex(t *testing.T) *Index {
	idx, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestSearchFindsByTitleAndContent(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.IndexReport(models.Report{
		ID:       "r1",
		Title:    "Flooded underpass on Main Street",
		Content:  "Water is knee deep, avoid the area",
		Category: models.CategoryHazard,
	}))
	require.NoError(t, idx.IndexReport(models.Report{
		ID:       "r2",
		Title:    "Fender bender near market",
		Content:  "Minor collision, traffic slow",
		Category: models.CategoryAccident,
	}))

	results, err := idx.Search("flooded", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r1", results[0].ID)

	results, err = idx.Search("collision", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r2", results[0].ID)
}

func TestSearchCategoryFilter(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.IndexReport(models.Report{
		ID:       "r1",
		Title:    "Street light out",
		Category: models.CategoryHazard,
	}))
	require.NoError(t, idx.IndexReport(models.Report{
		ID:       "r2",
		Title:    "Street vendor robbed",
		Category: models.CategoryCrime,
	}))

	results, err := idx.Search("street", models.CategoryCrime, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r2", results[0].ID)
	assert.Equal(t, "crime", results[0].Category)
}

func TestSearchDeleteRemovesReport(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.IndexReport(models.Report{
		ID:       "r1",
		Title:    "Pothole on highway",
		Category: models.CategoryHazard,
	}))

	require.NoError(t, idx.Delete("r1"))

	results, err := idx.Search("pothole", "", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}
