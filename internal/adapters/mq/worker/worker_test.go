package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/ember/internal/adapters/index"
	"github.com/okian/ember/internal/adapters/mq/queue"
	"github.com/okian/ember/internal/domain/category"
	"github.com/okian/ember/internal/domain/repair"
)

type stubCounter struct {
	counts map[string]int64
	err    error
}

func (s *stubCounter) CountOwners(_ context.Context, cat category.Category, documentID string) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.counts[cat.String()+"/"+documentID], nil
}

type recordingReleaser struct {
	mu       sync.Mutex
	released []string
}

func (r *recordingReleaser) Release(_ context.Context, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, key)
}

func (r *recordingReleaser) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.released))
	copy(out, r.released)
	return out
}

func openTestIndex(t *testing.T) *index.Store {
	t.Helper()
	s, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPoolConvergesCounter(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)
	q := queue.NewInMemoryQueue()
	releaser := &recordingReleaser{}

	if err := idx.Put(ctx, category.Outside, index.Document{ID: "doc-1", ScrapCount: 9}); err != nil {
		t.Fatalf("put: %v", err)
	}

	counter := &stubCounter{counts: map[string]int64{"outside/doc-1": 3}}
	pool := NewPool(2, q, counter, idx, WithReleaser(releaser))
	pool.Start(ctx)

	task := repair.Task{Category: category.Outside, DocumentID: "doc-1"}
	if !q.Enqueue(ctx, task) {
		t.Fatal("enqueue failed")
	}

	waitFor(t, func() bool {
		doc, err := idx.Get(ctx, category.Outside, "doc-1")
		return err == nil && doc.ScrapCount == 3
	})
	waitFor(t, func() bool { return len(releaser.keys()) == 1 })
	if releaser.keys()[0] != task.Key() {
		t.Fatalf("unexpected released key %q", releaser.keys()[0])
	}

	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestPoolMissingDocumentIsNoop(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)
	q := queue.NewInMemoryQueue()
	releaser := &recordingReleaser{}

	counter := &stubCounter{counts: map[string]int64{"intern/ghost": 5}}
	pool := NewPool(1, q, counter, idx, WithReleaser(releaser))
	pool.Start(ctx)

	q.Enqueue(ctx, repair.Task{Category: category.Intern, DocumentID: "ghost"})
	waitFor(t, func() bool { return len(releaser.keys()) == 1 })

	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestPoolReleasesOnError(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)
	q := queue.NewInMemoryQueue()
	releaser := &recordingReleaser{}

	counter := &stubCounter{err: errors.New("connection refused")}
	pool := NewPool(1, q, counter, idx, WithReleaser(releaser))
	pool.Start(ctx)

	q.Enqueue(ctx, repair.Task{Category: category.Language, DocumentID: "doc-1"})
	// A failed repair must release its slot so it can be retried.
	waitFor(t, func() bool { return len(releaser.keys()) == 1 })

	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestPoolShutdownDrainsQueue(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)
	q := queue.NewInMemoryQueue()

	for _, id := range []string{"a", "b", "c"} {
		if err := idx.Put(ctx, category.Competition, index.Document{ID: id, ScrapCount: 99}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	counter := &stubCounter{counts: map[string]int64{
		"competition/a": 1, "competition/b": 2, "competition/c": 3,
	}}

	pool := NewPool(1, q, counter, idx)
	pool.Start(ctx)
	for _, id := range []string{"a", "b", "c"} {
		q.Enqueue(ctx, repair.Task{Category: category.Competition, DocumentID: id})
	}

	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	doc, err := idx.Get(ctx, category.Competition, "c")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.ScrapCount != 3 {
		t.Fatalf("expected drained repair to land, got %d", doc.ScrapCount)
	}
}
