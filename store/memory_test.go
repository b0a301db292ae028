package store

import (
	"context"
	"errors"
	"testing"

	"seraph/models"
)

func reportScan(start, end string, category models.Category) Scan {
	scan := Scan{
		Collection: CollectionReports,
		OrderBy: []Order{
			{Field: FieldLocationHash},
			{Field: FieldTimestamp, Desc: true},
		},
		Range: &KeyRange{Start: start, End: end},
	}
	if category != "" {
		scan.Filter = &Filter{Field: FieldCategory, Value: string(category)}
	}
	return scan
}

func putReport(t *testing.T, s *MemoryStore, id, hash string, ts int64, category models.Category) {
	t.Helper()
	err := s.Put(context.Background(), CollectionReports, id, map[string]any{
		"owner_id":        "owner",
		FieldCategory:     string(category),
		"title":           "t",
		"content":         "c",
		"latitude":        14.0,
		"longitude":       121.0,
		FieldLocationHash: hash,
		FieldTimestamp:    ts,
		"has_media":       false,
		"upvotes":         []string{},
		"downvotes":       []string{},
	})
	if err != nil {
		t.Fatalf("put report %s: %v", id, err)
	}
}

func TestMemoryRangeScanHalfOpen(t *testing.T) {
	s := NewMemoryStore()
	putReport(t, s, "a", "wdqp1", 1, models.CategoryHazard)
	putReport(t, s, "b", "wdqp5", 2, models.CategoryHazard)
	putReport(t, s, "c", "wdqq0", 3, models.CategoryHazard)

	docs, err := s.RangeScan(context.Background(), reportScan("wdqp", "wdqq", ""))
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents in [wdqp, wdqq), got %d", len(docs))
	}
	// End key is exclusive: wdqq0 must not appear.
	for _, d := range docs {
		if d.ID == "c" {
			t.Error("document at the excluded end key was returned")
		}
	}
}

func TestMemoryRangeScanOrdering(t *testing.T) {
	s := NewMemoryStore()
	// Same hash, different timestamps: newest first within the hash.
	putReport(t, s, "old", "wdqp5", 100, models.CategoryCrime)
	putReport(t, s, "new", "wdqp5", 200, models.CategoryCrime)
	putReport(t, s, "early-hash", "wdqp1", 300, models.CategoryCrime)

	docs, err := s.RangeScan(context.Background(), reportScan("wdqp", "wdqp~", ""))
	if err != nil {
		t.Fatal(err)
	}
	got := []string{docs[0].ID, docs[1].ID, docs[2].ID}
	want := []string{"early-hash", "new", "old"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestMemoryCategoryFilter(t *testing.T) {
	s := NewMemoryStore()
	putReport(t, s, "h", "wdqp1", 1, models.CategoryHazard)
	putReport(t, s, "c", "wdqp2", 2, models.CategoryCrime)

	docs, err := s.RangeScan(context.Background(), reportScan("w", "w~", models.CategoryCrime))
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].ID != "c" {
		t.Fatalf("category filter returned %v", docs)
	}
}

func TestMemoryGetNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), CollectionReports, "missing")
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryArrayOps(t *testing.T) {
	s := NewMemoryStore()
	putReport(t, s, "r", "wdqp1", 1, models.CategoryHazard)
	ctx := context.Background()

	up := func(user string) []FieldUpdate {
		return []FieldUpdate{{Field: "upvotes", Op: OpArrayUnion, Value: user}}
	}

	if err := s.Update(ctx, CollectionReports, "r", up("u1")); err != nil {
		t.Fatal(err)
	}
	// Union is idempotent.
	if err := s.Update(ctx, CollectionReports, "r", up("u1")); err != nil {
		t.Fatal(err)
	}
	doc, _ := s.Get(ctx, CollectionReports, "r")
	if got := toStrings(doc.Fields["upvotes"]); len(got) != 1 || got[0] != "u1" {
		t.Fatalf("upvotes = %v, want [u1]", got)
	}

	if err := s.Update(ctx, CollectionReports, "r", []FieldUpdate{
		{Field: "upvotes", Op: OpArrayRemove, Value: "u1"},
	}); err != nil {
		t.Fatal(err)
	}
	doc, _ = s.Get(ctx, CollectionReports, "r")
	if got := toStrings(doc.Fields["upvotes"]); len(got) != 0 {
		t.Fatalf("upvotes = %v, want empty", got)
	}
}

func TestMemorySubscribePushesSnapshots(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	scan := Scan{
		Collection: CollectionComments,
		OrderBy:    []Order{{Field: FieldTimestamp}},
		Filter:     &Filter{Field: FieldPostID, Value: "post-1"},
	}

	var snapshots [][]Document
	unsubscribe := s.Subscribe(scan, func(docs []Document) {
		snapshots = append(snapshots, docs)
	})

	if len(snapshots) != 1 || len(snapshots[0]) != 0 {
		t.Fatalf("expected an initial empty snapshot, got %v", snapshots)
	}

	s.Put(ctx, CollectionComments, "c1", map[string]any{
		FieldPostID: "post-1", "author_id": "u1", "content": "hi", FieldTimestamp: int64(10),
	})
	s.Put(ctx, CollectionComments, "c2", map[string]any{
		FieldPostID: "other-post", "author_id": "u1", "content": "no", FieldTimestamp: int64(11),
	})
	s.Put(ctx, CollectionComments, "c3", map[string]any{
		FieldPostID: "post-1", "author_id": "u2", "content": "later", FieldTimestamp: int64(12),
	})

	last := snapshots[len(snapshots)-1]
	if len(last) != 2 {
		t.Fatalf("expected 2 comments for post-1, got %d", len(last))
	}
	if last[0].ID != "c1" || last[1].ID != "c3" {
		t.Fatalf("comments not in ascending timestamp order: %v", last)
	}

	// After unsubscribe no further snapshots arrive.
	unsubscribe()
	count := len(snapshots)
	s.Put(ctx, CollectionComments, "c4", map[string]any{
		FieldPostID: "post-1", "author_id": "u3", "content": "gone", FieldTimestamp: int64(13),
	})
	if len(snapshots) != count {
		t.Error("snapshot delivered after unsubscribe")
	}
	// A second unsubscribe call is a no-op.
	unsubscribe()
}

func TestReportDocumentRoundTrip(t *testing.T) {
	r := models.Report{
		ID:           "r1",
		OwnerID:      "u1",
		Category:     models.CategoryHazard,
		Title:        "Fallen tree",
		Content:      "Blocking the road",
		Location:     models.Coordinate{Latitude: 14.0, Longitude: 121.0},
		LocationHash: "wdqp9ktebm",
		Timestamp:    1700000000000,
		HasMedia:     true,
		Upvotes:      []string{"u2"},
		Downvotes:    []string{},
	}

	got, err := ReportFromDocument(Document{ID: "r1", Fields: ReportFields(r)})
	if err != nil {
		t.Fatal(err)
	}
	if got.OwnerID != r.OwnerID || got.Category != r.Category ||
		got.LocationHash != r.LocationHash || got.Timestamp != r.Timestamp ||
		!got.HasMedia || len(got.Upvotes) != 1 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestReportFromDocumentRejectsMalformed(t *testing.T) {
	testCases := []struct {
		name   string
		fields map[string]any
	}{
		{"missing owner", map[string]any{
			FieldCategory: "hazard", "latitude": 14.0, "longitude": 121.0,
			FieldLocationHash: "wdqp", FieldTimestamp: int64(1),
		}},
		{"bad category", map[string]any{
			"owner_id": "u", FieldCategory: "gossip", "latitude": 14.0,
			"longitude": 121.0, FieldLocationHash: "wdqp", FieldTimestamp: int64(1),
		}},
		{"latitude out of range", map[string]any{
			"owner_id": "u", FieldCategory: "hazard", "latitude": 94.0,
			"longitude": 121.0, FieldLocationHash: "wdqp", FieldTimestamp: int64(1),
		}},
		{"missing hash", map[string]any{
			"owner_id": "u", FieldCategory: "hazard", "latitude": 14.0,
			"longitude": 121.0, FieldTimestamp: int64(1),
		}},
	}

	for _, tc := range testCases {
		if _, err := ReportFromDocument(Document{ID: "x", Fields: tc.fields}); err == nil {
			t.Errorf("%s: expected an error", tc.name)
		}
	}
}
