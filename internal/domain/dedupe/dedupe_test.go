package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/okian/ember/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestCoalescerBasics(t *testing.T) {
	Convey("Given a fresh coalescer", t, func() {
		ctx := context.Background()
		c := dedupe.NewInMemoryCoalescer()

		Convey("When acquiring a new key", func() {
			ok := c.TryAcquire(ctx, "competition/doc-1")

			Convey("Then the caller owns it", func() {
				So(ok, ShouldBeTrue)
				So(c.Size(), ShouldEqual, 1)
			})

			Convey("And a second acquire of the same key is refused", func() {
				So(c.TryAcquire(ctx, "competition/doc-1"), ShouldBeFalse)
				So(c.Size(), ShouldEqual, 1)
			})

			Convey("And after release the key can be acquired again", func() {
				c.Release(ctx, "competition/doc-1")
				So(c.Size(), ShouldEqual, 0)
				So(c.TryAcquire(ctx, "competition/doc-1"), ShouldBeTrue)
			})
		})

		Convey("When releasing an unknown key", func() {
			c.Release(ctx, "language/none")

			Convey("Then nothing changes", func() {
				So(c.Size(), ShouldEqual, 0)
			})
		})
	})
}

func TestCoalescerEviction(t *testing.T) {
	Convey("Given a coalescer bounded at 3", t, func() {
		ctx := context.Background()
		c := dedupe.NewInMemoryCoalescer(dedupe.WithMaxSize(3))

		for i := 0; i < 3; i++ {
			So(c.TryAcquire(ctx, fmt.Sprintf("outside/doc-%d", i)), ShouldBeTrue)
		}

		Convey("When a fourth key arrives", func() {
			So(c.TryAcquire(ctx, "outside/doc-3"), ShouldBeTrue)

			Convey("Then the oldest key was evicted and can re-acquire", func() {
				So(c.Size(), ShouldEqual, 3)
				So(c.TryAcquire(ctx, "outside/doc-0"), ShouldBeTrue)
			})
		})
	})
}

func TestCoalescerConcurrency(t *testing.T) {
	ctx := context.Background()
	c := dedupe.NewInMemoryCoalescer(dedupe.WithMaxSize(1000))

	const goroutines = 50
	var owners int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.TryAcquire(ctx, "qnet/hot-doc") {
				mu.Lock()
				owners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if owners != 1 {
		t.Fatalf("expected exactly one owner, got %d", owners)
	}
	if c.Size() != 1 {
		t.Fatalf("expected size 1, got %d", c.Size())
	}
}
