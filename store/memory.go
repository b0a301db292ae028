package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"seraph/models"
)

// MemoryStore is an in-process DocumentStore. It backs tests and local
// development (STORE_BACKEND=memory) with the same semantics the MySQL store
// provides: half-open key ranges, atomic array ops, ordered snapshots pushed
// to subscribers on every change.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
	subscribers map[int]*memorySub
	nextSub     int
}

type memorySub struct {
	scan     Scan
	onChange func([]Document)
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]map[string]any),
		subscribers: make(map[int]*memorySub),
	}
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if arr, ok := v.([]string); ok {
			copied := make([]string, len(arr))
			copy(copied, arr)
			out[k] = copied
			continue
		}
		out[k] = v
	}
	return out
}

func (s *MemoryStore) RangeScan(_ context.Context, scan Scan) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanLocked(scan), nil
}

func (s *MemoryStore) scanLocked(scan Scan) []Document {
	docs := make([]Document, 0)
	for id, fields := range s.collections[scan.Collection] {
		if scan.Filter != nil {
			if !valuesEqual(fields[scan.Filter.Field], scan.Filter.Value) {
				continue
			}
		}
		if scan.Range != nil && len(scan.OrderBy) > 0 {
			key, _ := fields[scan.OrderBy[0].Field].(string)
			if key < scan.Range.Start || key >= scan.Range.End {
				continue
			}
		}
		docs = append(docs, Document{ID: id, Fields: cloneFields(fields)})
	}

	sort.SliceStable(docs, func(i, j int) bool {
		for _, ord := range scan.OrderBy {
			c := compareValues(docs[i].Fields[ord.Field], docs[j].Fields[ord.Field])
			if c == 0 {
				continue
			}
			if ord.Desc {
				return c > 0
			}
			return c < 0
		}
		return docs[i].ID < docs[j].ID
	})

	return docs
}

func (s *MemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fields, ok := s.collections[collection][id]
	if !ok {
		return Document{}, models.ErrNotFound
	}
	return Document{ID: id, Fields: cloneFields(fields)}, nil
}

func (s *MemoryStore) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	return id, s.Put(ctx, collection, id, fields)
}

func (s *MemoryStore) Put(_ context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]map[string]any)
	}
	s.collections[collection][id] = cloneFields(fields)
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, collection, id string, updates []FieldUpdate) error {
	s.mu.Lock()
	fields, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return models.ErrNotFound
	}

	for _, u := range updates {
		switch u.Op {
		case OpSet:
			fields[u.Field] = u.Value
		case OpArrayUnion:
			member, _ := u.Value.(string)
			arr := toStrings(fields[u.Field])
			if !contains(arr, member) {
				arr = append(arr, member)
			}
			fields[u.Field] = arr
		case OpArrayRemove:
			member, _ := u.Value.(string)
			arr := toStrings(fields[u.Field])
			kept := arr[:0]
			for _, v := range arr {
				if v != member {
					kept = append(kept, v)
				}
			}
			fields[u.Field] = kept
		}
	}
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	if _, ok := s.collections[collection][id]; !ok {
		s.mu.Unlock()
		return models.ErrNotFound
	}
	delete(s.collections[collection], id)
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *MemoryStore) Subscribe(scan Scan, onChange func([]Document)) Unsubscribe {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = &memorySub{scan: scan, onChange: onChange}
	snapshot := s.scanLocked(scan)
	s.mu.Unlock()

	// Initial snapshot, matching the push-on-subscribe behavior of hosted
	// document stores.
	onChange(snapshot)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

func (s *MemoryStore) notify(collection string) {
	s.mu.RLock()
	type delivery struct {
		fn   func([]Document)
		docs []Document
	}
	deliveries := make([]delivery, 0)
	for _, sub := range s.subscribers {
		if sub.scan.Collection != collection {
			continue
		}
		deliveries = append(deliveries, delivery{fn: sub.onChange, docs: s.scanLocked(sub.scan)})
	}
	s.mu.RUnlock()

	for _, d := range deliveries {
		d.fn(d.docs)
	}
}

func toStrings(v any) []string {
	switch arr := v.(type) {
	case []string:
		return arr
	case []any:
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

func contains(arr []string, v string) bool {
	for _, item := range arr {
		if item == v {
			return true
		}
	}
	return false
}

func valuesEqual(a, b any) bool {
	return compareValues(a, b) == 0
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return -1
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case bool:
		bv, _ := b.(bool)
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	}

	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return 0
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
