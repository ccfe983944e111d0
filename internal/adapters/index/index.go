// Package index is the embedded document index backing scrap listings.
//
// Documents live in one bbolt bucket per category, encoded as JSON.
// The index is authoritative for display fields and the denormalized
// scrap counter; ownership facts live in the repository and the two
// stores are reconciled by the repair pipeline, never by the index.
package index

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/okian/ember/internal/domain/category"
	"github.com/okian/ember/pkg/metrics"
)

const defaultPageSize = 4

// ExamSchedule is one written-exam window on a certification document.
type ExamSchedule struct {
	Period string `json:"period"`
	DDay   string `json:"dday"`
}

// Document is an index entry. ScrapCount is the denormalized save
// counter; SortDate drives chronological ordering and View popularity
// ordering. Test and ExamSchedules are category-specific display
// fields; anything else rides in Fields untouched.
type Document struct {
	ID            string            `json:"id"`
	ScrapCount    int64             `json:"scrapCount"`
	View          int64             `json:"view"`
	SortDate      time.Time         `json:"sortDate"`
	Test          string            `json:"test,omitempty"`
	ExamSchedules []ExamSchedule    `json:"examSchedules,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// CounterOp selects what a CounterCmd does to the scrap counter.
type CounterOp uint8

const (
	// Increment adds one.
	Increment CounterOp = iota
	// Decrement subtracts one, flooring at zero.
	Decrement
	// Set writes an absolute value; the repair path uses this to
	// converge the counter onto the repository's ownership count.
	Set
)

// CounterCmd is a typed counter mutation. Value is only read by Set.
type CounterCmd struct {
	Op       CounterOp
	Category category.Category
	DocID    string
	Value    int64
}

// Store is a bbolt-backed document index.
type Store struct {
	db       *bolt.DB
	pageSize int
}

// Open opens or creates the index file and ensures a bucket per
// category exists.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, c := range category.All() {
			if _, err := tx.CreateBucketIfNotExists([]byte(c.Bucket())); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, pageSize: defaultPageSize}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes a document into its category bucket.
func (s *Store) Put(ctx context.Context, cat category.Category, doc Document) error {
	start := time.Now()
	defer func() {
		metrics.RecordIndexUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc.ID == "" {
		return ErrEmptyDocumentID
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(cat.Bucket())).Put([]byte(doc.ID), raw)
	})
}

// Get loads one document, or ErrDocumentNotFound.
func (s *Store) Get(ctx context.Context, cat category.Category, id string) (*Document, error) {
	start := time.Now()
	defer func() {
		metrics.RecordIndexQueryLatency(float64(time.Since(start).Milliseconds()))
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var doc *Document
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(cat.Bucket())).Get([]byte(id))
		if raw == nil {
			return ErrDocumentNotFound
		}
		doc = &Document{}
		return json.Unmarshal(raw, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Apply runs a counter command. A missing document is a no-op, not an
// error: ownership in the repository may legitimately reference
// documents the index no longer carries, and counter maintenance must
// never fail a toggle over it. Decrements floor at zero.
func (s *Store) Apply(ctx context.Context, cmd CounterCmd) error {
	start := time.Now()
	defer func() {
		metrics.RecordIndexUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(cmd.Category.Bucket()))
		raw := bucket.Get([]byte(cmd.DocID))
		if raw == nil {
			return nil
		}

		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}

		switch cmd.Op {
		case Increment:
			doc.ScrapCount++
		case Decrement:
			if doc.ScrapCount == 0 {
				metrics.RecordCounterFloorHit()
				return nil
			}
			doc.ScrapCount--
		case Set:
			if cmd.Value < 0 {
				cmd.Value = 0
			}
			doc.ScrapCount = cmd.Value
		default:
			return ErrUnknownCounterOp
		}

		out, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(cmd.DocID), out)
	})
}

// Search resolves the owned ids against the index, sorts them by the
// category's rule, and returns the requested page. Pages are fixed
// size and 1-indexed; page < 1 reads as page 1. Ids absent from the
// index are skipped.
func (s *Store) Search(ctx context.Context, cat category.Category, ids []string, page int) ([]Document, error) {
	docs, err := s.fetch(ctx, cat, ids)
	if err != nil {
		return nil, err
	}

	switch cat.Sort() {
	case category.SortChronological:
		sort.SliceStable(docs, func(i, j int) bool {
			if docs[i].SortDate.Equal(docs[j].SortDate) {
				return docs[i].ID < docs[j].ID
			}
			return docs[i].SortDate.Before(docs[j].SortDate)
		})
	default:
		sort.SliceStable(docs, func(i, j int) bool {
			if docs[i].View == docs[j].View {
				return docs[i].ID < docs[j].ID
			}
			return docs[i].View > docs[j].View
		})
	}

	if page < 1 {
		page = 1
	}
	from := (page - 1) * s.pageSize
	if from >= len(docs) {
		return []Document{}, nil
	}
	to := from + s.pageSize
	if to > len(docs) {
		to = len(docs)
	}
	return docs[from:to], nil
}

// Count reports how many of the owned ids exist in the index. The
// index, not the ownership table, is the source of truth for what is
// displayable.
func (s *Store) Count(ctx context.Context, cat category.Category, ids []string) (int, error) {
	docs, err := s.fetch(ctx, cat, ids)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

func (s *Store) fetch(ctx context.Context, cat category.Category, ids []string) ([]Document, error) {
	start := time.Now()
	defer func() {
		metrics.RecordIndexQueryLatency(float64(time.Since(start).Milliseconds()))
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(ids))
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(cat.Bucket()))
		for _, id := range ids {
			raw := bucket.Get([]byte(id))
			if raw == nil {
				continue
			}
			var doc Document
			if err := json.Unmarshal(raw, &doc); err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}
