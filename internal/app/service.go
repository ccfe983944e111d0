// Package app coordinates the relational store, the document index and
// the rank boards behind one service facade.
//
// The repository is authoritative for ownership and cohort membership,
// the index for display fields and the denormalized scrap counter, the
// boards for standings. The facade owns the write ordering between
// them and the policy for partial failures: a toggle never fails over
// the index half, an activity cascade reports false once the first
// write landed.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/okian/ember/internal/adapters/index"
	"github.com/okian/ember/internal/adapters/rank"
	"github.com/okian/ember/internal/adapters/repository"
	"github.com/okian/ember/internal/domain/category"
	"github.com/okian/ember/internal/domain/dedupe"
	"github.com/okian/ember/internal/domain/model"
	"github.com/okian/ember/internal/domain/repair"
	"github.com/okian/ember/internal/domain/thermometer"
	"github.com/okian/ember/pkg/logger"
	"github.com/okian/ember/pkg/metrics"
)

// languageEnterprise is fixed for every language listing: the feed
// only carries one provider's exams.
const languageEnterprise = "YBM"

// languageTitles maps exam codes stored on index documents to display
// titles. Unknown codes fall through as-is.
var languageTitles = map[string]string{
	"toeic":         "TOEIC",
	"toeicspeaking": "TOEIC Speaking",
	"toeicwriting":  "TOEIC Writing",
	"tsc":           "TSC",
	"jpt":           "JPT",
}

// Index is the subset of the document index the service drives.
type Index interface {
	Apply(ctx context.Context, cmd index.CounterCmd) error
	Search(ctx context.Context, cat category.Category, ids []string, page int) ([]index.Document, error)
	Count(ctx context.Context, cat category.Category, ids []string) (int, error)
}

// RepairQueue accepts counter repair tasks.
type RepairQueue interface {
	Enqueue(ctx context.Context, t repair.Task) bool
}

// Service is the engagement engine facade.
type Service struct {
	repo      repository.Store
	idx       Index
	board     *rank.Board
	meter     *thermometer.Meter
	queue     RepairQueue
	coalescer dedupe.Coalescer
	qnetImage string
	logger    logger.Logger
}

// NewService wires the stores together. The repair queue and coalescer
// are optional; without them index divergence waits for the next
// toggle to self-correct.
func NewService(repo repository.Store, idx Index, board *rank.Board, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		idx:    idx,
		board:  board,
		meter:  thermometer.New(),
		logger: logger.Get().Named("app"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ToggleScrap flips the user's saved state for a document and returns
// the new state. The relational write decides; the index counter
// follows and its failure is absorbed: logged, counted and queued for
// repair, never surfaced to the caller.
func (s *Service) ToggleScrap(ctx context.Context, userID uuid.UUID, cat category.Category, documentID string) (bool, error) {
	start := time.Now()
	defer func() {
		metrics.RecordToggleLatency(float64(time.Since(start).Milliseconds()))
	}()

	if !cat.Valid() {
		return false, category.ErrUnknownCategory
	}
	if err := s.repo.UserExists(ctx, userID); err != nil {
		return false, err
	}

	scrapped, err := s.repo.ToggleScrap(ctx, userID, cat, documentID)
	if err != nil {
		return false, err
	}

	op := index.Decrement
	direction := "remove"
	if scrapped {
		op = index.Increment
		direction = "add"
	}
	metrics.RecordScrapToggle(cat.String(), direction)

	cmd := index.CounterCmd{Op: op, Category: cat, DocID: documentID}
	if err := s.idx.Apply(ctx, cmd); err != nil {
		metrics.RecordIndexPartialFailure()
		s.logger.Error(ctx, "index counter write failed",
			logger.String("category", cat.String()),
			logger.String("document_id", documentID),
			logger.Bool("scrapped", scrapped),
			logger.Error(err),
		)
		s.enqueueRepair(ctx, repair.Task{Category: cat, DocumentID: documentID})
	}

	return scrapped, nil
}

// enqueueRepair hands a divergent document to the repair pipeline. The
// coalescer keeps a hot document from flooding the queue; its slot is
// released by the worker once the repair ran.
func (s *Service) enqueueRepair(ctx context.Context, task repair.Task) {
	if s.queue == nil {
		return
	}
	if s.coalescer != nil && !s.coalescer.TryAcquire(ctx, task.Key()) {
		metrics.RecordRepairCoalesced()
		return
	}
	if !s.queue.Enqueue(ctx, task) {
		if s.coalescer != nil {
			s.coalescer.Release(ctx, task.Key())
		}
		s.logger.Warn(ctx, "repair queue rejected task",
			logger.String("key", task.Key()),
		)
	}
}

// ListScraps resolves the user's saved documents in a category. With
// countOnly it returns the index-resident total; otherwise one shaped
// page. No ownership, and a page query with no index hits, both yield
// an Empty result.
func (s *Service) ListScraps(ctx context.Context, userID uuid.UUID, cat category.Category, page int, countOnly bool) (ScrapResult, error) {
	if !cat.Valid() {
		return ScrapResult{}, category.ErrUnknownCategory
	}
	if err := s.repo.UserExists(ctx, userID); err != nil {
		return ScrapResult{}, err
	}

	ids, err := s.repo.ScrapIDs(ctx, userID, cat)
	if err != nil {
		return ScrapResult{}, err
	}
	if len(ids) == 0 {
		metrics.RecordListQuery(cat.String(), "empty")
		return ScrapResult{Kind: KindEmpty}, nil
	}

	if countOnly {
		total, err := s.idx.Count(ctx, cat, ids)
		if err != nil {
			return ScrapResult{}, err
		}
		metrics.RecordListQuery(cat.String(), "count")
		return ScrapResult{Kind: KindCount, Total: total}, nil
	}

	docs, err := s.idx.Search(ctx, cat, ids, page)
	if err != nil {
		return ScrapResult{}, err
	}
	if len(docs) == 0 {
		// Owned ids with no index hits, or a page past the end. Same
		// null result as owning nothing.
		metrics.RecordListQuery(cat.String(), "empty")
		return ScrapResult{Kind: KindEmpty}, nil
	}
	metrics.RecordListQuery(cat.String(), "page")
	return ScrapResult{Kind: KindPage, Items: s.shape(cat, docs)}, nil
}

// shape turns index documents into listing items with the category's
// display rules applied.
func (s *Service) shape(cat category.Category, docs []index.Document) []Item {
	items := make([]Item, 0, len(docs))
	for i := range docs {
		doc := &docs[i]
		item := Item{
			ID:         doc.ID,
			ScrapCount: doc.ScrapCount,
			View:       doc.View,
			SortDate:   doc.SortDate,
			Fields:     doc.Fields,
		}
		switch cat {
		case category.Language:
			item.Enterprise = languageEnterprise
			item.Title = languageTitle(doc.Test)
		case category.Certification:
			item.MainImage = s.qnetImage
			if len(doc.ExamSchedules) > 0 {
				item.Period = doc.ExamSchedules[0].Period
				item.ExamDate = doc.ExamSchedules[0].DDay
			}
		}
		items = append(items, item)
	}
	return items
}

func languageTitle(test string) string {
	if title, ok := languageTitles[test]; ok {
		return title
	}
	return test
}

// CreateActivity records an activity and runs the score cascade. Once
// the activity row landed, cascade failures report false with the row
// kept; committed substeps stay committed.
func (s *Service) CreateActivity(ctx context.Context, userID uuid.UUID, cat category.Category, title, content string) (bool, error) {
	if !cat.Valid() {
		return false, category.ErrUnknownCategory
	}
	if err := s.repo.UserExists(ctx, userID); err != nil {
		return false, err
	}

	if _, err := s.repo.AddActivity(ctx, userID, cat, title, content); err != nil {
		return false, err
	}
	metrics.RecordActivityMutation(cat.String(), "create")

	if err := s.rankCascade(ctx, userID); err != nil {
		metrics.RecordActivityMutationFailure()
		s.logger.Error(ctx, "score cascade failed after activity create",
			logger.String("user_id", userID.String()),
			logger.String("category", cat.String()),
			logger.Error(err),
		)
		return false, nil
	}
	return true, nil
}

// DeleteActivity removes an activity and runs the score cascade with
// the same failure policy as CreateActivity.
func (s *Service) DeleteActivity(ctx context.Context, userID uuid.UUID, cat category.Category, recordID uuid.UUID) (bool, error) {
	if !cat.Valid() {
		return false, category.ErrUnknownCategory
	}
	if err := s.repo.UserExists(ctx, userID); err != nil {
		return false, err
	}

	if err := s.repo.RemoveActivity(ctx, userID, cat, recordID); err != nil {
		return false, err
	}
	metrics.RecordActivityMutation(cat.String(), "delete")

	if err := s.rankCascade(ctx, userID); err != nil {
		metrics.RecordActivityMutationFailure()
		s.logger.Error(ctx, "score cascade failed after activity delete",
			logger.String("user_id", userID.String()),
			logger.String("category", cat.String()),
			logger.Error(err),
		)
		return false, nil
	}
	return true, nil
}

// rankCascade recomputes the user's thermometer, re-ranks the cohort
// and persists every member's standing in one batch.
func (s *Service) rankCascade(ctx context.Context, userID uuid.UUID) error {
	counts, err := s.repo.CountActivities(ctx, userID)
	if err != nil {
		return err
	}
	reading := s.meter.Score(counts)
	if err := s.repo.SetThermometer(ctx, userID, reading.Sum); err != nil {
		return err
	}

	cohortID, err := s.repo.CohortOf(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.ensureCohort(ctx, cohortID); err != nil {
		return err
	}
	s.board.Update(cohortID, userID, reading.Sum)

	top, err := s.board.Percentile(cohortID, userID)
	if err != nil {
		return err
	}
	if err := s.repo.SetTop(ctx, userID, top); err != nil {
		return err
	}

	standings, err := s.board.Percentiles(cohortID)
	if err != nil {
		return err
	}
	tops := make(map[uuid.UUID]float64, len(standings))
	for _, st := range standings {
		tops[st.UserID] = st.Percentile
	}
	return s.repo.SetTops(ctx, tops)
}

// ensureCohort seeds an unseen cohort's board from repository state.
func (s *Service) ensureCohort(ctx context.Context, cohortID uuid.UUID) error {
	if s.board.Size(cohortID) > 0 {
		return nil
	}
	scores, err := s.repo.CohortScores(ctx, cohortID)
	if err != nil {
		return err
	}
	seed := make([]rank.Score, 0, len(scores))
	for _, sc := range scores {
		seed = append(seed, rank.Score{UserID: sc.UserID, Value: sc.Score})
	}
	s.board.Load(cohortID, seed)
	return nil
}

// ActivityCounts returns the per-category activity counts and the
// weighted sum behind the user's thermometer.
func (s *Service) ActivityCounts(ctx context.Context, userID uuid.UUID) (thermometer.Reading, error) {
	if err := s.repo.UserExists(ctx, userID); err != nil {
		return thermometer.Reading{}, err
	}
	counts, err := s.repo.CountActivities(ctx, userID)
	if err != nil {
		return thermometer.Reading{}, err
	}
	return s.meter.Score(counts), nil
}

// Percentile recomputes the user's cohort percentile, persists it and
// returns it.
func (s *Service) Percentile(ctx context.Context, userID uuid.UUID) (float64, error) {
	cohortID, err := s.repo.CohortOf(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := s.ensureCohort(ctx, cohortID); err != nil {
		return 0, err
	}
	top, err := s.board.Percentile(cohortID, userID)
	if err != nil {
		return 0, err
	}
	if err := s.repo.SetTop(ctx, userID, top); err != nil {
		return 0, err
	}
	return top, nil
}

// CreateUser creates the profile and ranks the new member at score
// zero in their cohort.
func (s *Service) CreateUser(ctx context.Context, in repository.NewUser) (uuid.UUID, error) {
	userID, err := s.repo.CreateUser(ctx, in)
	if err != nil {
		return uuid.Nil, err
	}

	cohortID, err := s.repo.CohortOf(ctx, userID)
	if err != nil {
		return userID, err
	}
	if err := s.ensureCohort(ctx, cohortID); err != nil {
		return userID, err
	}
	s.board.Update(cohortID, userID, 0)
	return userID, nil
}

// DeleteUser removes the profile and drops the member from their
// cohort board. The cohort shrinks, so every remaining member's
// percentile is recomputed and repersisted. Counters on documents the
// user had scrapped are left to the repair pipeline to re-derive.
func (s *Service) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	if err := s.repo.UserExists(ctx, userID); err != nil {
		return err
	}
	cohortID, err := s.repo.CohortOf(ctx, userID)
	if err != nil {
		return err
	}

	owned := make(map[category.Category][]string, len(category.All()))
	for _, cat := range category.All() {
		ids, err := s.repo.ScrapIDs(ctx, userID, cat)
		if err != nil {
			return err
		}
		owned[cat] = ids
	}

	if err := s.repo.DeleteUser(ctx, userID); err != nil {
		return err
	}

	for cat, ids := range owned {
		for _, id := range ids {
			s.enqueueRepair(ctx, repair.Task{Category: cat, DocumentID: id})
		}
	}

	if err := s.ensureCohort(ctx, cohortID); err != nil {
		return err
	}
	s.board.Remove(cohortID, userID)

	standings, err := s.board.Percentiles(cohortID)
	if errors.Is(err, rank.ErrNotRanked) {
		// The user was the cohort's last member.
		return nil
	}
	if err != nil {
		return err
	}
	tops := make(map[uuid.UUID]float64, len(standings))
	for _, st := range standings {
		tops[st.UserID] = st.Percentile
	}
	return s.repo.SetTops(ctx, tops)
}

// UpdateProfile applies a partial profile mutation.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, in repository.ProfileUpdate) (*model.User, error) {
	return s.repo.UpdateProfile(ctx, userID, in)
}

// UserProfile loads a profile with cohort and interests.
func (s *Service) UserProfile(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	return s.repo.GetUser(ctx, userID)
}

// Hydrate seeds every cohort board from the repository. Run once at
// startup so point queries never pay a cold load.
func (s *Service) Hydrate(ctx context.Context) error {
	scores, err := s.repo.AllScores(ctx)
	if err != nil {
		return err
	}

	byCohort := make(map[uuid.UUID][]rank.Score)
	for _, sc := range scores {
		byCohort[sc.MainMajorID] = append(byCohort[sc.MainMajorID], rank.Score{UserID: sc.UserID, Value: sc.Score})
	}
	for cohortID, seed := range byCohort {
		s.board.Load(cohortID, seed)
	}
	metrics.UpdateTotalUsers(len(scores))

	s.logger.Info(ctx, "rank boards hydrated",
		logger.Int("cohorts", len(byCohort)),
		logger.Int("users", len(scores)),
	)
	return nil
}
