// Package rank keeps per-cohort percentile standings in memory.
//
// Each cohort is a size-augmented treap ordered by thermometer score
// descending, then user id ascending, so an in-order traversal walks
// the cohort from best to worst and a single descent answers a rank
// query. Updates are O(log n) expected; a cohort-wide percentile
// recompute is one traversal.
package rank

import (
	"bytes"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/ember/pkg/metrics"
)

// scoreScale controls fixed-point scaling from float64. Thermometer
// scores are small and capped, but comparisons stay exact this way.
const scoreScale = 1_000_000_000

type scoreFP int64

func toFixedPoint(x float64) scoreFP {
	if math.IsNaN(x) {
		return 0
	}
	if math.IsInf(x, 1) {
		return scoreFP(math.MaxInt64)
	}
	if math.IsInf(x, -1) {
		return scoreFP(math.MinInt64)
	}
	scaled := x * scoreScale
	if scaled > float64(math.MaxInt64) {
		return scoreFP(math.MaxInt64)
	}
	if scaled < float64(math.MinInt64) {
		return scoreFP(math.MinInt64)
	}
	return scoreFP(math.Round(scaled))
}

// Score is a seed entry for Load.
type Score struct {
	UserID uuid.UUID
	Value  float64
}

// Standing is one member's computed position.
type Standing struct {
	UserID     uuid.UUID
	Percentile float64
}

type node struct {
	id    uuid.UUID
	score scoreFP
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less reports whether (aScore, aID) ranks earlier than (bScore, bID).
// Higher score ranks earlier; ties break on id ascending.
func less(aScore scoreFP, aID uuid.UUID, bScore scoreFP, bID uuid.UUID) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return bytes.Compare(aID[:], bID[:]) < 0
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

// Priorities are random so the expected depth stays logarithmic
// regardless of score distribution.
func insert(n *node, id uuid.UUID, score scoreFP) *node {
	if n == nil {
		return &node{id: id, score: score, prio: rand.Uint64(), size: 1}
	}
	if less(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id uuid.UUID, score scoreFP) *node {
	if n == nil {
		return nil
	}
	if score == n.score && id == n.id {
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, score)
		}
	} else if less(score, id, n.score, n.id) {
		n.left = deleteNode(n.left, id, score)
	} else {
		n.right = deleteNode(n.right, id, score)
	}
	fix(n)
	return n
}

// rankOf returns the 1-based position of (id, score), or 0 when the
// node is absent.
func rankOf(n *node, id uuid.UUID, score scoreFP) int {
	rank := 0
	for n != nil {
		if score == n.score && id == n.id {
			return rank + nsize(n.left) + 1
		}
		if less(score, id, n.score, n.id) {
			n = n.left
		} else {
			rank += nsize(n.left) + 1
			n = n.right
		}
	}
	return 0
}

func inOrder(n *node, visit func(id uuid.UUID)) {
	if n == nil {
		return
	}
	inOrder(n.left, visit)
	visit(n.id)
	inOrder(n.right, visit)
}

type cohort struct {
	root *node
	byID map[uuid.UUID]scoreFP
}

// Board holds one treap per cohort.
type Board struct {
	mu      sync.RWMutex
	cohorts map[uuid.UUID]*cohort
}

// NewBoard constructs an empty board.
func NewBoard() *Board {
	return &Board{cohorts: make(map[uuid.UUID]*cohort)}
}

func (b *Board) cohortLocked(cohortID uuid.UUID) *cohort {
	c, ok := b.cohorts[cohortID]
	if !ok {
		c = &cohort{byID: make(map[uuid.UUID]scoreFP)}
		b.cohorts[cohortID] = c
	}
	return c
}

// Update inserts or moves a member. Unlike a best-score leaderboard,
// scores here move both directions.
func (b *Board) Update(cohortID, userID uuid.UUID, score float64) {
	start := time.Now()
	defer func() {
		metrics.RecordRankUpdate()
		metrics.RecordRankRecomputeDuration(float64(time.Since(start).Milliseconds()))
	}()

	ns := toFixedPoint(score)

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.cohortLocked(cohortID)
	if old, ok := c.byID[userID]; ok {
		if old == ns {
			return
		}
		c.root = deleteNode(c.root, userID, old)
	}
	c.byID[userID] = ns
	c.root = insert(c.root, userID, ns)
}

// Remove drops a member; absent members are a no-op.
func (b *Board) Remove(cohortID, userID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.cohorts[cohortID]
	if !ok {
		return
	}
	old, ok := c.byID[userID]
	if !ok {
		return
	}
	c.root = deleteNode(c.root, userID, old)
	delete(c.byID, userID)
}

// Percentile returns the member's cohort percentile: 1-based rank over
// cohort size, times 100, always in (0, 100].
func (b *Board) Percentile(cohortID, userID uuid.UUID) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, ok := b.cohorts[cohortID]
	if !ok {
		metrics.RecordErrorByComponent("rank", "not_ranked")
		return 0, ErrNotRanked
	}
	score, ok := c.byID[userID]
	if !ok {
		metrics.RecordErrorByComponent("rank", "not_ranked")
		return 0, ErrNotRanked
	}
	rank := rankOf(c.root, userID, score)
	return float64(rank) / float64(nsize(c.root)) * 100, nil
}

// Percentiles walks the cohort once, best to worst, and returns every
// member's percentile. Callers batch-persist the result so the stored
// standings stay consistent with each other.
func (b *Board) Percentiles(cohortID uuid.UUID) ([]Standing, error) {
	start := time.Now()
	defer func() {
		metrics.RecordCohortRecompute()
		metrics.RecordRankRecomputeDuration(float64(time.Since(start).Milliseconds()))
	}()

	b.mu.RLock()
	defer b.mu.RUnlock()

	c, ok := b.cohorts[cohortID]
	if !ok || nsize(c.root) == 0 {
		return nil, ErrNotRanked
	}

	size := nsize(c.root)
	out := make([]Standing, 0, size)
	pos := 0
	inOrder(c.root, func(id uuid.UUID) {
		pos++
		out = append(out, Standing{
			UserID:     id,
			Percentile: float64(pos) / float64(size) * 100,
		})
	})
	return out, nil
}

// Load seeds a cohort from repository state, replacing whatever the
// board held for it.
func (b *Board) Load(cohortID uuid.UUID, scores []Score) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := &cohort{byID: make(map[uuid.UUID]scoreFP, len(scores))}
	for _, s := range scores {
		ns := toFixedPoint(s.Value)
		if _, ok := c.byID[s.UserID]; ok {
			continue
		}
		c.byID[s.UserID] = ns
		c.root = insert(c.root, s.UserID, ns)
	}
	b.cohorts[cohortID] = c
}

// Size reports a cohort's member count.
func (b *Board) Size(cohortID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, ok := b.cohorts[cohortID]
	if !ok {
		return 0
	}
	return nsize(c.root)
}
