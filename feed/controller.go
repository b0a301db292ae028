package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/apex/log"

	"seraph/models"
	"seraph/store"
)

// State is the feed lifecycle state.
type State int

const (
	// StateIdle means no query has been set yet.
	StateIdle State = iota
	// StateLoading means a query is in flight.
	StateLoading
	// StateReady means Entries holds the result of the active query.
	StateReady
	// StateFailed means the last query failed; the last good Entries are
	// retained for display.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Snapshot is a read-only view of the controller state. The UI layer only
// ever reads snapshots and issues commands.
type Snapshot struct {
	State   State
	Query   models.FeedQuery
	Entries []models.FeedEntry
	Err     error
}

// Remover persists a report deletion, including whatever cascades (media
// objects, comments, search index) the application wires in.
type Remover interface {
	Remove(ctx context.Context, report models.Report) error
}

type storeRemover struct {
	store store.DocumentStore
}

func (r storeRemover) Remove(ctx context.Context, report models.Report) error {
	return r.store.Delete(ctx, store.CollectionReports, report.ID)
}

// Controller owns the authoritative feed for one active FeedQuery. It never
// blocks on the store: queries run on their own goroutines and report back,
// and results of superseded queries are discarded by generation, so a slow
// stale query can never clobber a fresher result.
type Controller struct {
	mu         sync.Mutex
	querier    *Querier
	store      store.DocumentStore
	remover    Remover
	observer   func(Snapshot)
	generation uint64

	state   State
	query   models.FeedQuery
	entries []models.FeedEntry
	err     error

	// queryDone signals test code and live sessions that an in-flight
	// query settled (published or was discarded).
	queryDone chan struct{}
}

// NewController builds a controller over a document store.
func NewController(s store.DocumentStore) *Controller {
	return &Controller{
		querier: NewQuerier(s),
		store:   s,
		remover: storeRemover{store: s},
		state:   StateIdle,
	}
}

// SetRemover replaces the deletion persister; used by the report service to
// cascade media and comments.
func (c *Controller) SetRemover(r Remover) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remover = r
}

// SetObserver registers a callback invoked with a snapshot after every
// published change. The callback runs outside the controller lock.
func (c *Controller) SetObserver(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = fn
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	entries := make([]models.FeedEntry, len(c.entries))
	copy(entries, c.entries)
	return Snapshot{State: c.state, Query: c.query, Entries: entries, Err: c.err}
}

// SetQuery activates a new feed query. A center, radius, or category change
// always requeries; setting the identical query while one is already active
// is a no-op. Last writer wins: only the newest query's result is published.
func (c *Controller) SetQuery(ctx context.Context, query models.FeedQuery) {
	c.mu.Lock()
	if c.state != StateIdle && query.Equal(c.query) && c.state != StateFailed {
		c.mu.Unlock()
		return
	}
	c.startQueryLocked(ctx, query)
	c.mu.Unlock()
}

// Reload re-runs the active query, e.g. after publishing a new report.
// No-op when no query has been set.
func (c *Controller) Reload(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.startQueryLocked(ctx, c.query)
	c.mu.Unlock()
}

func (c *Controller) startQueryLocked(ctx context.Context, query models.FeedQuery) {
	c.generation++
	gen := c.generation
	c.query = query
	c.state = StateLoading
	done := make(chan struct{})
	c.queryDone = done

	go func() {
		reports, err := c.querier.Query(ctx, query)

		c.mu.Lock()
		if gen != c.generation {
			// A newer SetQuery superseded this one while it was in
			// flight; its result must not be published.
			c.mu.Unlock()
			close(done)
			return
		}
		if err != nil {
			c.state = StateFailed
			c.err = err
		} else {
			c.state = StateReady
			c.err = nil
			c.entries = Refine(reports, query.Center, query.RadiusMeters)
		}
		snapshot := c.snapshotLocked()
		observer := c.observer
		c.mu.Unlock()

		if observer != nil {
			observer(snapshot)
		}
		close(done)
	}()
}

// WaitQuery blocks until the most recently started query settles. Intended
// for tests and request-scoped callers; the controller itself never blocks.
func (c *Controller) WaitQuery() {
	c.mu.Lock()
	done := c.queryDone
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Vote toggles the calling user's vote on a report in the current feed and
// persists the membership change as an atomic array add/remove pair. The
// local entry is updated optimistically; a persistence failure surfaces as
// ErrMutationFailed without invalidating the feed.
func (c *Controller) Vote(ctx context.Context, userID, reportID string, direction VoteDirection) error {
	if !direction.Valid() {
		return fmt.Errorf("%w: unknown vote direction %q", models.ErrMutationFailed, direction)
	}

	c.mu.Lock()
	idx := c.indexOfLocked(reportID)
	if idx < 0 {
		c.mu.Unlock()
		return models.ErrNotFound
	}
	report := &c.entries[idx].Report
	newUp, newDown, updates := ToggleVote(report.Upvotes, report.Downvotes, userID, direction)
	report.Upvotes = newUp
	report.Downvotes = newDown
	snapshot := c.snapshotLocked()
	observer := c.observer
	c.mu.Unlock()

	if observer != nil {
		observer(snapshot)
	}

	if err := c.store.Update(ctx, store.CollectionReports, reportID, updates); err != nil {
		log.Errorf("Failed to persist vote on %s: %v", reportID, err)
		return fmt.Errorf("%w: %v", models.ErrMutationFailed, err)
	}
	return nil
}

// Delete removes a report owned by userID. The local entry is spliced out
// optimistically; if the backing delete then fails the splice is kept and
// the error is surfaced, leaving reconciliation to the next requery.
func (c *Controller) Delete(ctx context.Context, userID, reportID string) error {
	c.mu.Lock()
	idx := c.indexOfLocked(reportID)
	if idx < 0 {
		c.mu.Unlock()
		return models.ErrNotFound
	}
	report := c.entries[idx].Report
	if report.OwnerID != userID {
		// Rejected before any local mutation.
		c.mu.Unlock()
		return models.ErrPermissionDenied
	}
	c.entries = append(c.entries[:idx], c.entries[idx+1:]...)
	remover := c.remover
	snapshot := c.snapshotLocked()
	observer := c.observer
	c.mu.Unlock()

	if observer != nil {
		observer(snapshot)
	}

	if err := remover.Remove(ctx, report); err != nil {
		log.Errorf("Failed to delete report %s: %v", reportID, err)
		return fmt.Errorf("%w: %v", models.ErrMutationFailed, err)
	}
	return nil
}

// Edit updates title/content/category of a report owned by userID. The edit
// is pessimistic: the local entry changes only after the store accepted the
// update. Location, votes and timestamp are untouched.
func (c *Controller) Edit(ctx context.Context, userID, reportID string, patch models.ReportPatch) error {
	if !models.ValidCategory(patch.Category) {
		return fmt.Errorf("%w: unknown category %q", models.ErrMutationFailed, patch.Category)
	}

	c.mu.Lock()
	idx := c.indexOfLocked(reportID)
	if idx < 0 {
		c.mu.Unlock()
		return models.ErrNotFound
	}
	if c.entries[idx].Report.OwnerID != userID {
		c.mu.Unlock()
		return models.ErrPermissionDenied
	}
	c.mu.Unlock()

	updates := []store.FieldUpdate{
		{Field: "title", Op: store.OpSet, Value: patch.Title},
		{Field: "content", Op: store.OpSet, Value: patch.Content},
		{Field: store.FieldCategory, Op: store.OpSet, Value: string(patch.Category)},
	}
	if err := c.store.Update(ctx, store.CollectionReports, reportID, updates); err != nil {
		log.Errorf("Failed to persist edit of %s: %v", reportID, err)
		return fmt.Errorf("%w: %v", models.ErrMutationFailed, err)
	}

	c.mu.Lock()
	// Re-resolve the index; the feed may have moved under a concurrent
	// requery while the write was in flight.
	if idx := c.indexOfLocked(reportID); idx >= 0 {
		c.entries[idx].Report.Title = patch.Title
		c.entries[idx].Report.Content = patch.Content
		c.entries[idx].Report.Category = patch.Category
	}
	snapshot := c.snapshotLocked()
	observer := c.observer
	c.mu.Unlock()

	if observer != nil {
		observer(snapshot)
	}
	return nil
}

func (c *Controller) indexOfLocked(reportID string) int {
	for i := range c.entries {
		if c.entries[i].Report.ID == reportID {
			return i
		}
	}
	return -1
}
