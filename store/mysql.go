package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"seraph/models"
)

// MySQLStore implements DocumentStore over a single documents table. Every
// document keeps its body as JSON plus mirrored columns for the fields that
// scans order and filter by, so range scans run against a composite index
// instead of JSON extraction.
type MySQLStore struct {
	db           *sql.DB
	pollInterval time.Duration
}

// Mirrored key columns compare and sort in byte order. Range scans use
// half-open bounds like 'wdw4' <= location_hash < 'wdw4~', which only work
// when '~' sorts above the base32 alphabet; accent- and case-insensitive
// collations such as utf8mb4_0900_ai_ci reorder it below and would make
// every range scan come back empty.
const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
  collection VARCHAR(32) CHARACTER SET ascii COLLATE ascii_bin NOT NULL,
  id VARCHAR(64) CHARACTER SET ascii COLLATE ascii_bin NOT NULL,
  location_hash VARCHAR(12) CHARACTER SET ascii COLLATE ascii_bin NOT NULL DEFAULT '',
  category VARCHAR(16) CHARACTER SET ascii COLLATE ascii_bin NOT NULL DEFAULT '',
  post_id VARCHAR(64) CHARACTER SET ascii COLLATE ascii_bin NOT NULL DEFAULT '',
  ts BIGINT NOT NULL DEFAULT 0,
  fields JSON NOT NULL,
  PRIMARY KEY (collection, id),
  KEY idx_location (collection, location_hash, ts),
  KEY idx_post (collection, post_id, ts)
)`

// NewMySQLStore connects, retries until the database is reachable, applies
// the schema, and returns the store.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	waitInterval := 1 * time.Second
	for {
		if err := db.Ping(); err == nil {
			break
		} else {
			log.Warnf("Database connection failed, retrying in %v: %v", waitInterval, err)
		}
		time.Sleep(waitInterval)
		if waitInterval < 30*time.Second {
			waitInterval *= 2
		}
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec(documentsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info("Document store connection established")
	return &MySQLStore{db: db, pollInterval: 2 * time.Second}, nil
}

// NewMySQLStoreWithDB wraps an existing connection; used by tests.
func NewMySQLStoreWithDB(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, pollInterval: 50 * time.Millisecond}
}

// Close closes the underlying connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// columnFor maps scannable field names onto mirrored columns. Fields outside
// this map live only in the JSON body and cannot be ordered or filtered on.
func columnFor(field string) (string, bool) {
	switch field {
	case FieldLocationHash, FieldDefaultLocationHash:
		return "location_hash", true
	case FieldTimestamp:
		return "ts", true
	case FieldCategory:
		return "category", true
	case FieldPostID:
		return "post_id", true
	}
	return "", false
}

func (s *MySQLStore) RangeScan(ctx context.Context, scan Scan) ([]Document, error) {
	query := "SELECT id, fields FROM documents WHERE collection = ?"
	args := []any{scan.Collection}

	if scan.Filter != nil {
		col, ok := columnFor(scan.Filter.Field)
		if !ok {
			return nil, fmt.Errorf("field %q is not filterable", scan.Filter.Field)
		}
		query += " AND " + col + " = ?"
		args = append(args, scan.Filter.Value)
	}

	if scan.Range != nil {
		if len(scan.OrderBy) == 0 {
			return nil, errors.New("a key range requires an ordering field")
		}
		col, ok := columnFor(scan.OrderBy[0].Field)
		if !ok {
			return nil, fmt.Errorf("field %q is not scannable", scan.OrderBy[0].Field)
		}
		query += " AND " + col + " >= ? AND " + col + " < ?"
		args = append(args, scan.Range.Start, scan.Range.End)
	}

	if len(scan.OrderBy) > 0 {
		terms := make([]string, 0, len(scan.OrderBy))
		for _, ord := range scan.OrderBy {
			col, ok := columnFor(ord.Field)
			if !ok {
				return nil, fmt.Errorf("field %q is not orderable", ord.Field)
			}
			dir := "ASC"
			if ord.Desc {
				dir = "DESC"
			}
			terms = append(terms, col+" "+dir)
		}
		query += " ORDER BY " + strings.Join(terms, ", ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Errorf("Range scan failed: %v", err)
		return nil, err
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var (
			id   string
			body []byte
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		fields := make(map[string]any)
		if err := json.Unmarshal(body, &fields); err != nil {
			log.Errorf("Skipping document %s with malformed body: %v", id, err)
			continue
		}
		docs = append(docs, Document{ID: id, Fields: fields})
	}
	return docs, rows.Err()
}

func (s *MySQLStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT fields FROM documents WHERE collection = ? AND id = ?",
		collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, models.ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}

	fields := make(map[string]any)
	if err := json.Unmarshal(body, &fields); err != nil {
		return Document{}, fmt.Errorf("document %s has malformed body: %w", id, err)
	}
	return Document{ID: id, Fields: fields}, nil
}

func (s *MySQLStore) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	return id, s.Put(ctx, collection, id, fields)
}

func (s *MySQLStore) Put(ctx context.Context, collection, id string, fields map[string]any) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	hash, category, postID, ts := mirrored(fields)
	if _, err := s.db.ExecContext(ctx, `INSERT INTO documents
	  (collection, id, location_hash, category, post_id, ts, fields)
	  VALUES (?, ?, ?, ?, ?, ?, ?)
	  ON DUPLICATE KEY UPDATE location_hash=VALUES(location_hash),
	    category=VALUES(category), post_id=VALUES(post_id),
	    ts=VALUES(ts), fields=VALUES(fields)`,
		collection, id, hash, category, postID, ts, body); err != nil {
		log.Errorf("Failed to write document %s/%s: %v", collection, id, err)
		return err
	}
	return nil
}

func (s *MySQLStore) Update(ctx context.Context, collection, id string, updates []FieldUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Row-locked read-modify-write so concurrent array ops stay atomic.
	var body []byte
	err = tx.QueryRowContext(ctx,
		"SELECT fields FROM documents WHERE collection = ? AND id = ? FOR UPDATE",
		collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return err
	}

	fields := make(map[string]any)
	if err := json.Unmarshal(body, &fields); err != nil {
		return fmt.Errorf("document %s has malformed body: %w", id, err)
	}

	applyUpdates(fields, updates)

	newBody, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	hash, category, postID, ts := mirrored(fields)
	if _, err := tx.ExecContext(ctx, `UPDATE documents
	  SET location_hash = ?, category = ?, post_id = ?, ts = ?, fields = ?
	  WHERE collection = ? AND id = ?`,
		hash, category, postID, ts, newBody, collection, id); err != nil {
		return err
	}

	return tx.Commit()
}

func applyUpdates(fields map[string]any, updates []FieldUpdate) {
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
			kept := make([]string, 0, len(arr))
			for _, v := range arr {
				if v != member {
					kept = append(kept, v)
				}
			}
			fields[u.Field] = kept
		}
	}
}

func (s *MySQLStore) Delete(ctx context.Context, collection, id string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = ? AND id = ?", collection, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Subscribe polls the scan and pushes a fresh snapshot whenever the result
// set changes. Long-poll semantics are enough for the comment stream; the
// interval is short and the scans are index-backed.
func (s *MySQLStore) Subscribe(scan Scan, onChange func([]Document)) Unsubscribe {
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		lastFingerprint := ""
		for {
			docs, err := s.RangeScan(context.Background(), scan)
			if err != nil {
				log.Errorf("Subscription scan failed: %v", err)
			} else if fp := fingerprint(docs); fp != lastFingerprint {
				lastFingerprint = fp
				onChange(docs)
			}

			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		once.Do(func() { close(stop) })
	}
}

func fingerprint(docs []Document) string {
	var b strings.Builder
	for _, d := range docs {
		b.WriteString(d.ID)
		b.WriteByte(';')
	}
	return b.String()
}

func mirrored(fields map[string]any) (hash, category, postID string, ts int64) {
	if v, ok := stringField(fields, FieldLocationHash); ok {
		hash = v
	} else if v, ok := stringField(fields, "default_location_hash"); ok {
		hash = v
	}
	category, _ = stringField(fields, FieldCategory)
	postID, _ = stringField(fields, FieldPostID)
	ts, _ = intField(fields, FieldTimestamp)
	return
}
