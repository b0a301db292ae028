package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seraph/models"
	"seraph/store"
)

func idsOf(entries []models.FeedEntry) map[string]bool {
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		out[e.Report.ID] = true
	}
	return out
}

func TestControllerLifecycle(t *testing.T) {
	s := newFakeStore()
	seedReport(t, s, "r1", 14.001, 121.001, models.CategoryHazard, 1)

	c := NewController(s)
	require.Equal(t, StateIdle, c.Snapshot().State)

	c.SetQuery(context.Background(), models.FeedQuery{Center: testCenter, RadiusMeters: 5000})
	c.WaitQuery()

	snap := c.Snapshot()
	require.Equal(t, StateReady, snap.State)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "r1", snap.Entries[0].Report.ID)
	assert.Greater(t, snap.Entries[0].DistanceMeters, 0.0)
}

func TestControllerFailureRetainsLastGoodResult(t *testing.T) {
	s := newFakeStore()
	seedReport(t, s, "r1", 14.001, 121.001, models.CategoryHazard, 1)

	c := NewController(s)
	c.SetQuery(context.Background(), models.FeedQuery{Center: testCenter, RadiusMeters: 5000})
	c.WaitQuery()
	require.Equal(t, StateReady, c.Snapshot().State)

	s.setScanErr(errors.New("store down"))
	c.SetQuery(context.Background(), models.FeedQuery{Center: testCenter, RadiusMeters: 9000})
	c.WaitQuery()

	snap := c.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.ErrorIs(t, snap.Err, models.ErrQueryFailed)
	// Stale-but-displayed: the previous entries are still there.
	assert.Len(t, snap.Entries, 1)

	// Retry with the same query after the store recovers.
	s.setScanErr(nil)
	c.SetQuery(context.Background(), models.FeedQuery{Center: testCenter, RadiusMeters: 9000})
	c.WaitQuery()
	assert.Equal(t, StateReady, c.Snapshot().State)
}

func TestControllerStaleResultDiscarded(t *testing.T) {
	s := newFakeStore()
	reportA := seedReport(t, s, "near-a", 14.001, 121.001, models.CategoryHazard, 1)
	// Second center far away with its own report.
	centerB := models.Coordinate{Latitude: 40.0, Longitude: -74.0}
	reportB := seedReport(t, s, "near-b", 40.001, -74.001, models.CategoryHazard, 2)

	queryA := models.FeedQuery{Center: testCenter, RadiusMeters: 5000}
	queryB := models.FeedQuery{Center: centerB, RadiusMeters: 5000}

	// Hold every scan belonging to query A until released, so A resolves
	// after B even though it was issued first.
	releaseA := make(chan struct{})
	s.setScanHook(func(scan store.Scan) {
		if scan.Range != nil && scan.Range.Start <= reportA.LocationHash && reportA.LocationHash < scan.Range.End {
			<-releaseA
		}
	})

	published := make(chan Snapshot, 16)
	c := NewController(s)
	c.SetObserver(func(snap Snapshot) { published <- snap })

	c.SetQuery(context.Background(), queryA)
	c.SetQuery(context.Background(), queryB)
	c.WaitQuery() // waits for B, the newest query

	select {
	case snap := <-published:
		require.Equal(t, StateReady, snap.State)
		require.True(t, snap.Query.Equal(queryB))
		require.True(t, idsOf(snap.Entries)[reportB.ID])
	case <-time.After(2 * time.Second):
		t.Fatal("query B never published")
	}

	// Let A's scans finish now; its result must be discarded, not published.
	close(releaseA)

	select {
	case snap := <-published:
		t.Fatalf("superseded query published a result: %+v", snap.Query)
	case <-time.After(200 * time.Millisecond):
	}

	snap := c.Snapshot()
	assert.True(t, snap.Query.Equal(queryB), "controller regressed to the stale query")
	assert.True(t, idsOf(snap.Entries)[reportB.ID])
	assert.False(t, idsOf(snap.Entries)[reportA.ID])
}

func TestControllerIdenticalQueryIsStable(t *testing.T) {
	s := newFakeStore()
	seedReport(t, s, "r1", 14.001, 121.001, models.CategoryHazard, 1)

	c := NewController(s)
	query := models.FeedQuery{Center: testCenter, RadiusMeters: 5000}

	c.SetQuery(context.Background(), query)
	c.WaitQuery()
	first := idsOf(c.Snapshot().Entries)

	c.SetQuery(context.Background(), query)
	c.WaitQuery()
	second := idsOf(c.Snapshot().Entries)

	assert.Equal(t, first, second)
}

func TestControllerVoteOptimisticAndPersisted(t *testing.T) {
	s := newFakeStore()
	seedReport(t, s, "r1", 14.001, 121.001, models.CategoryHazard, 1)

	c := NewController(s)
	c.SetQuery(context.Background(), models.FeedQuery{Center: testCenter, RadiusMeters: 5000})
	c.WaitQuery()

	require.NoError(t, c.Vote(context.Background(), "voter", "r1", VoteUp))

	snap := c.Snapshot()
	assert.Equal(t, []string{"voter"}, snap.Entries[0].Report.Upvotes)

	// Persisted through the store as set membership.
	doc, err := s.Get(context.Background(), store.CollectionReports, "r1")
	require.NoError(t, err)
	report, err := store.ReportFromDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"voter"}, report.Upvotes)

	// Toggle off round-trips back to empty.
	require.NoError(t, c.Vote(context.Background(), "voter", "r1", VoteUp))
	doc, _ = s.Get(context.Background(), store.CollectionReports, "r1")
	report, _ = store.ReportFromDocument(doc)
	assert.Empty(t, report.Upvotes)
	assert.Empty(t, report.Downvotes)
}

func TestControllerVoteUnknownReport(t *testing.T) {
	c := NewController(newFakeStore())
	err := c.Vote(context.Background(), "voter", "ghost", VoteUp)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestControllerDeleteByNonOwnerRejected(t *testing.T) {
	s := newFakeStore()
	seedReport(t, s, "r1", 14.001, 121.001, models.CategoryHazard, 1)

	c := NewController(s)
	c.SetQuery(context.Background(), models.FeedQuery{Center: testCenter, RadiusMeters: 5000})
	c.WaitQuery()

	err := c.Delete(context.Background(), "someone-else", "r1")
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
	// Rejected before any local mutation: the entry is still in the feed.
	assert.Len(t, c.Snapshot().Entries, 1)
}

func TestControllerDeleteOptimisticSplice(t *testing.T) {
	s := newFakeStore()
	seedReport(t, s, "r1", 14.001, 121.001, models.CategoryHazard, 1)

	c := NewController(s)
	c.SetQuery(context.Background(), models.FeedQuery{Center: testCenter, RadiusMeters: 5000})
	c.WaitQuery()

	require.NoError(t, c.Delete(context.Background(), "owner-r1", "r1"))
	assert.Empty(t, c.Snapshot().Entries)

	_, err := s.Get(context.Background(), store.CollectionReports, "r1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

type failingRemover struct{}

func (failingRemover) Remove(context.Context, models.Report) error {
	return errors.New("backend rejected the delete")
}

func TestControllerDeleteFailureKeepsSplice(t *testing.T) {
	// Documented choice: the optimistic splice is not rolled back on a
	// failed backing delete; the error surfaces and the next requery
	// reconciles.
	s := newFakeStore()
	seedReport(t, s, "r1", 14.001, 121.001, models.CategoryHazard, 1)

	c := NewController(s)
	c.SetRemover(failingRemover{})
	c.SetQuery(context.Background(), models.FeedQuery{Center: testCenter, RadiusMeters: 5000})
	c.WaitQuery()

	err := c.Delete(context.Background(), "owner-r1", "r1")
	assert.ErrorIs(t, err, models.ErrMutationFailed)
	assert.Empty(t, c.Snapshot().Entries)

	// The document survived; a reload brings it back.
	c.Reload(context.Background())
	c.WaitQuery()
	assert.Len(t, c.Snapshot().Entries, 1)
}

func TestControllerEditPessimistic(t *testing.T) {
	s := newFakeStore()
	seeded := seedReport(t, s, "r1", 14.001, 121.001, models.CategoryHazard, 1)

	c := NewController(s)
	c.SetQuery(context.Background(), models.FeedQuery{Center: testCenter, RadiusMeters: 5000})
	c.WaitQuery()

	patch := models.ReportPatch{Title: "new title", Content: "new content", Category: models.CategoryCrime}
	require.NoError(t, c.Edit(context.Background(), "owner-r1", "r1", patch))

	snap := c.Snapshot()
	entry := snap.Entries[0]
	assert.Equal(t, "new title", entry.Report.Title)
	assert.Equal(t, models.CategoryCrime, entry.Report.Category)
	// Location, votes and timestamp are untouched by an edit.
	assert.Equal(t, seeded.Location, entry.Report.Location)
	assert.Equal(t, seeded.Timestamp, entry.Report.Timestamp)
	assert.Empty(t, entry.Report.Upvotes)
	assert.Empty(t, entry.Report.Downvotes)

	doc, _ := s.Get(context.Background(), store.CollectionReports, "r1")
	stored, err := store.ReportFromDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, "new title", stored.Title)
	assert.Equal(t, seeded.LocationHash, stored.LocationHash)
}

func TestControllerEditByNonOwnerRejected(t *testing.T) {
	s := newFakeStore()
	seedReport(t, s, "r1", 14.001, 121.001, models.CategoryHazard, 1)

	c := NewController(s)
	c.SetQuery(context.Background(), models.FeedQuery{Center: testCenter, RadiusMeters: 5000})
	c.WaitQuery()

	err := c.Edit(context.Background(), "intruder", "r1", models.ReportPatch{
		Title: "x", Content: "y", Category: models.CategoryHazard,
	})
	assert.ErrorIs(t, err, models.ErrPermissionDenied)

	// Pessimistic: nothing changed locally or in the store.
	assert.Equal(t, "report r1", c.Snapshot().Entries[0].Report.Title)
}

func TestControllerReloadAfterPublish(t *testing.T) {
	s := newFakeStore()
	seedReport(t, s, "r1", 14.001, 121.001, models.CategoryHazard, 1)

	c := NewController(s)
	c.SetQuery(context.Background(), models.FeedQuery{Center: testCenter, RadiusMeters: 5000})
	c.WaitQuery()
	require.Len(t, c.Snapshot().Entries, 1)

	// A new report published nearby appears after a reload, the engine's
	// chosen create path.
	seedReport(t, s, "r2", 14.002, 121.002, models.CategoryCrime, 2)
	c.Reload(context.Background())
	c.WaitQuery()

	assert.Len(t, c.Snapshot().Entries, 2)
}

func TestControllerRadiusChangeRequeries(t *testing.T) {
	s := newFakeStore()
	seedReport(t, s, "near", 14.001, 121.001, models.CategoryHazard, 1)
	lat, lon := destination(testCenter.Latitude, testCenter.Longitude, 90, 8000)
	seedReport(t, s, "far", lat, lon, models.CategoryHazard, 2)

	c := NewController(s)
	c.SetQuery(context.Background(), models.FeedQuery{Center: testCenter, RadiusMeters: 5000})
	c.WaitQuery()
	assert.False(t, idsOf(c.Snapshot().Entries)["far"])

	c.SetQuery(context.Background(), models.FeedQuery{Center: testCenter, RadiusMeters: 10000})
	c.WaitQuery()

	ids := idsOf(c.Snapshot().Entries)
	assert.True(t, ids["near"])
	assert.True(t, ids["far"])
}
