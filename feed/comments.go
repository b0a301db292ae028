package feed

import (
	"sync"

	"github.com/apex/log"

	"seraph/models"
	"seraph/store"
)

// CommentStream is the live comment sub-list of one report. It is keyed by a
// fixed report id, so it is independent of the feed query lifecycle and not
// subject to the stale-query discard rule. The owning controller disposes it
// exactly once when the report view closes.
type CommentStream struct {
	mu          sync.Mutex
	postID      string
	comments    []models.Comment
	onAppend    func(models.Comment)
	unsubscribe store.Unsubscribe
	disposed    bool
}

// OpenComments subscribes to the append-only comment stream of a report.
// onAppend fires once per newly appended comment, in ascending timestamp
// order; comments already present at open time are loaded into the snapshot
// without firing it.
func OpenComments(s store.DocumentStore, postID string, onAppend func(models.Comment)) *CommentStream {
	cs := &CommentStream{postID: postID, onAppend: onAppend}

	scan := store.Scan{
		Collection: store.CollectionComments,
		OrderBy:    []store.Order{{Field: store.FieldTimestamp}},
		Filter:     &store.Filter{Field: store.FieldPostID, Value: postID},
	}

	first := true
	cs.unsubscribe = s.Subscribe(scan, func(docs []store.Document) {
		comments := make([]models.Comment, 0, len(docs))
		for _, doc := range docs {
			comment, err := store.CommentFromDocument(doc)
			if err != nil {
				log.Warnf("Dropping malformed comment document: %v", err)
				continue
			}
			comments = append(comments, comment)
		}

		cs.mu.Lock()
		if cs.disposed {
			cs.mu.Unlock()
			return
		}
		known := len(cs.comments)
		appended := make([]models.Comment, 0)
		if !first && len(comments) > known {
			appended = comments[known:]
		}
		first = false
		cs.comments = comments
		fire := cs.onAppend
		cs.mu.Unlock()

		if fire != nil {
			for _, c := range appended {
				fire(c)
			}
		}
	})

	return cs
}

// Comments returns the current ordered snapshot.
func (cs *CommentStream) Comments() []models.Comment {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]models.Comment, len(cs.comments))
	copy(out, cs.comments)
	return out
}

// Dispose tears the subscription down. Idempotent; only the first call has
// effect.
func (cs *CommentStream) Dispose() {
	cs.mu.Lock()
	if cs.disposed {
		cs.mu.Unlock()
		return
	}
	cs.disposed = true
	unsubscribe := cs.unsubscribe
	cs.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}
