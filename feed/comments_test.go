package feed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seraph/models"
	"seraph/store"
)

func putComment(t *testing.T, s store.DocumentStore, id, postID, author, content string, ts int64) {
	t.Helper()
	err := s.Put(context.Background(), store.CollectionComments, id, store.CommentFields(models.Comment{
		PostID:    postID,
		AuthorID:  author,
		Content:   content,
		Timestamp: ts,
	}))
	require.NoError(t, err)
}

func TestCommentStreamAppendsInOrder(t *testing.T) {
	s := store.NewMemoryStore()
	putComment(t, s, "c1", "post-1", "u1", "first", 10)

	var appended []models.Comment
	cs := OpenComments(s, "post-1", func(c models.Comment) {
		appended = append(appended, c)
	})
	defer cs.Dispose()

	// The opening snapshot loads without firing the append callback.
	require.Len(t, cs.Comments(), 1)
	assert.Empty(t, appended)

	putComment(t, s, "c2", "post-1", "u2", "second", 20)
	putComment(t, s, "c3", "post-1", "u1", "third", 30)

	require.Len(t, appended, 2)
	assert.Equal(t, "second", appended[0].Content)
	assert.Equal(t, "third", appended[1].Content)

	snapshot := cs.Comments()
	require.Len(t, snapshot, 3)
	for i := 1; i < len(snapshot); i++ {
		assert.LessOrEqual(t, snapshot[i-1].Timestamp, snapshot[i].Timestamp,
			"comments must stay in ascending timestamp order")
	}
}

func TestCommentStreamIgnoresOtherPosts(t *testing.T) {
	s := store.NewMemoryStore()

	var appended []models.Comment
	cs := OpenComments(s, "post-1", func(c models.Comment) {
		appended = append(appended, c)
	})
	defer cs.Dispose()

	putComment(t, s, "c1", "post-2", "u1", "elsewhere", 10)
	assert.Empty(t, appended)
	assert.Empty(t, cs.Comments())
}

func TestCommentStreamDisposeIdempotent(t *testing.T) {
	s := store.NewMemoryStore()

	var appended []models.Comment
	cs := OpenComments(s, "post-1", func(c models.Comment) {
		appended = append(appended, c)
	})

	cs.Dispose()
	cs.Dispose() // second call is a no-op

	putComment(t, s, "c1", "post-1", "u1", "late", 10)
	assert.Empty(t, appended, "no appends after dispose")
}
