package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/okian/ember/internal/domain/category"
	"github.com/okian/ember/internal/domain/model"
	"github.com/okian/ember/pkg/metrics"
)

// GormStore implements Store on a gorm connection. Postgres in
// production, sqlite in tests; nothing here is dialect-specific beyond
// relying on gorm's duplicate-key translation.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// New constructs a GormStore. The connection should be opened with
// TranslateError enabled so unique-constraint violations surface as
// gorm.ErrDuplicatedKey.
func New(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// UserExists returns ErrUserNotFound when id is unknown.
func (s *GormStore) UserExists(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	var count int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		metrics.RecordErrorByComponent("repository", "user_not_found")
		return ErrUserNotFound
	}
	return nil
}

// GetUser loads a user with cohort and interests preloaded.
func (s *GormStore) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	var user model.User
	err := s.db.WithContext(ctx).
		Preload("SubMajor.MainMajor").
		Preload("Interests.Interest").
		Preload("Interests.Keyword").
		First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser creates the user, its cohort chain, and nested interests
// in one transaction.
func (s *GormStore) CreateUser(ctx context.Context, in NewUser) (uuid.UUID, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	var userID uuid.UUID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := nicknameFree(tx, in.Nickname, uuid.Nil); err != nil {
			return err
		}

		var main model.MainMajor
		if err := tx.Where(model.MainMajor{Name: in.MainMajor}).FirstOrCreate(&main).Error; err != nil {
			return err
		}

		var sub model.SubMajor
		if err := tx.Where(model.SubMajor{Name: in.SubMajor, MainMajorID: main.ID}).FirstOrCreate(&sub).Error; err != nil {
			return err
		}

		user := model.User{
			Email:        in.Email,
			Nickname:     in.Nickname,
			Name:         in.Name,
			Phone:        in.Phone,
			ProfileImage: in.ProfileImage,
			SubMajorID:   sub.ID,
		}
		if err := tx.Create(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrNicknameTaken
			}
			return err
		}
		userID = user.ID

		return saveInterests(tx, user.ID, in.Interests)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return userID, nil
}

// UpdateProfile applies a partial profile mutation. A non-nil interest
// set replaces the existing one (delete then recreate, the same
// transaction).
func (s *GormStore) UpdateProfile(ctx context.Context, id uuid.UUID, in ProfileUpdate) (*model.User, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user model.User
		if err := tx.First(&user, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		updates := map[string]interface{}{}
		if in.Nickname != nil {
			if err := nicknameFree(tx, *in.Nickname, id); err != nil {
				return err
			}
			updates["nickname"] = *in.Nickname
		}
		if in.ProfileImage != nil {
			updates["profile_image"] = *in.ProfileImage
		}
		if len(updates) > 0 {
			if err := tx.Model(&user).Updates(updates).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return ErrNicknameTaken
				}
				return err
			}
		}

		if in.Interests != nil {
			if err := tx.Where("user_id = ?", id).Delete(&model.UserInterest{}).Error; err != nil {
				return err
			}
			if err := saveInterests(tx, id, in.Interests); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// DeleteUser removes the user and every row hanging off it in one
// transaction.
func (s *GormStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&model.User{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		if err := tx.Where("user_id = ?", id).Delete(&model.ScrapOwnership{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&model.ActivityRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", id).Delete(&model.UserInterest{}).Error
	})
}

// ToggleScrap flips the ownership fact and returns the new state. The
// delete-if-exists-else-create runs in one transaction; the composite
// unique index arbitrates concurrent togglers, so a lost double-create
// is read as "already scrapped" rather than an error.
func (s *GormStore) ToggleScrap(ctx context.Context, userID uuid.UUID, cat category.Category, documentID string) (bool, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	var scrapped bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND category = ? AND document_id = ?", userID, cat.String(), documentID).
			Delete(&model.ScrapOwnership{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			scrapped = false
			return nil
		}

		row := model.ScrapOwnership{UserID: userID, Category: cat.String(), DocumentID: documentID}
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Lost the race to another add; the row exists.
				scrapped = true
				return nil
			}
			return err
		}
		scrapped = true
		return nil
	})
	return scrapped, err
}

// ScrapIDs lists the document ids the user owns in a category.
func (s *GormStore) ScrapIDs(ctx context.Context, userID uuid.UUID, cat category.Category) ([]string, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	var ids []string
	err := s.db.WithContext(ctx).
		Model(&model.ScrapOwnership{}).
		Where("user_id = ? AND category = ?", userID, cat.String()).
		Order("created_at ASC").
		Pluck("document_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// CountOwners counts ownership rows referencing a document.
func (s *GormStore) CountOwners(ctx context.Context, cat category.Category, documentID string) (int64, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.ScrapOwnership{}).
		Where("category = ? AND document_id = ?", cat.String(), documentID).
		Count(&count).Error
	return count, err
}

// AddActivity inserts one activity row.
func (s *GormStore) AddActivity(ctx context.Context, userID uuid.UUID, cat category.Category, title, content string) (uuid.UUID, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	row := model.ActivityRecord{UserID: userID, Category: cat.String(), Title: title, Content: content}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return uuid.Nil, err
	}
	return row.ID, nil
}

// RemoveActivity deletes one activity row owned by the user. The row
// must match the claimed category, so a caller cannot delete under a
// mislabeled one.
func (s *GormStore) RemoveActivity(ctx context.Context, userID uuid.UUID, cat category.Category, recordID uuid.UUID) error {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND category = ?", recordID, userID, cat.String()).
		Delete(&model.ActivityRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		metrics.RecordErrorByComponent("repository", "activity_not_found")
		return ErrActivityNotFound
	}
	return nil
}

// CountActivities counts the user's rows per category. Categories with
// no rows are present with a zero count.
func (s *GormStore) CountActivities(ctx context.Context, userID uuid.UUID) (map[category.Category]int, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	type row struct {
		Category string
		N        int
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&model.ActivityRecord{}).
		Select("category, count(*) as n").
		Where("user_id = ?", userID).
		Group("category").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[category.Category]int, len(category.All()))
	for _, c := range category.All() {
		counts[c] = 0
	}
	for _, r := range rows {
		c, err := category.Parse(r.Category)
		if err != nil {
			// Unknown category rows are ignored rather than poisoning
			// the score; they cannot be created through this store.
			continue
		}
		counts[c] = r.N
	}
	return counts, nil
}

// SetThermometer persists the cached engagement score.
func (s *GormStore) SetThermometer(ctx context.Context, userID uuid.UUID, score float64) error {
	return s.setUserField(ctx, userID, "thermometer", score)
}

// SetTop persists the cached percentile.
func (s *GormStore) SetTop(ctx context.Context, userID uuid.UUID, top float64) error {
	return s.setUserField(ctx, userID, "top", top)
}

// SetTops persists percentiles for many users in one transaction. The
// transaction boundary is per repository call: a failure partway leaves
// earlier rows updated, matching the documented recompute contract.
func (s *GormStore) SetTops(ctx context.Context, tops map[uuid.UUID]float64) error {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, top := range tops {
			if err := tx.Model(&model.User{}).Where("id = ?", id).Update("top", top).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// CohortOf resolves the user's main-major cohort id.
func (s *GormStore) CohortOf(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	var user model.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, ErrUserNotFound
		}
		return uuid.Nil, err
	}

	var sub model.SubMajor
	if err := s.db.WithContext(ctx).First(&sub, "id = ?", user.SubMajorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.RecordErrorByComponent("repository", "cohort_not_found")
			return uuid.Nil, ErrCohortNotFound
		}
		return uuid.Nil, err
	}
	return sub.MainMajorID, nil
}

// CohortScores lists a cohort's members ordered by thermometer
// descending, user id ascending (the deterministic ranking order).
func (s *GormStore) CohortScores(ctx context.Context, mainMajorID uuid.UUID) ([]UserScore, error) {
	return s.scores(ctx, &mainMajorID)
}

// AllScores lists every user's score with cohort.
func (s *GormStore) AllScores(ctx context.Context) ([]UserScore, error) {
	return s.scores(ctx, nil)
}

func (s *GormStore) scores(ctx context.Context, mainMajorID *uuid.UUID) ([]UserScore, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	q := s.db.WithContext(ctx).
		Table("users").
		Select("users.id as user_id, sub_majors.main_major_id as main_major_id, users.thermometer as score").
		Joins("JOIN sub_majors ON sub_majors.id = users.sub_major_id").
		Order("users.thermometer DESC").
		Order("users.id ASC")
	if mainMajorID != nil {
		q = q.Where("sub_majors.main_major_id = ?", *mainMajorID)
	}

	var out []UserScore
	if err := q.Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) setUserField(ctx context.Context, userID uuid.UUID, field string, value float64) error {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Update(field, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// nicknameFree returns ErrNicknameTaken when another user holds the
// nickname. Empty nicknames are not reserved.
func nicknameFree(tx *gorm.DB, nickname string, self uuid.UUID) error {
	if nickname == "" {
		return nil
	}
	var count int64
	q := tx.Model(&model.User{}).Where("nickname = ?", nickname)
	if self != uuid.Nil {
		q = q.Where("id <> ?", self)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrNicknameTaken
	}
	return nil
}

// saveInterests upserts the interest/keyword labels and joins them to
// the user. Expected to run inside the caller's transaction.
func saveInterests(tx *gorm.DB, userID uuid.UUID, interests map[string][]string) error {
	for name, keywords := range interests {
		var interest model.Interest
		if err := tx.Where(model.Interest{Name: name}).FirstOrCreate(&interest).Error; err != nil {
			return err
		}
		for _, kw := range keywords {
			var keyword model.Keyword
			if err := tx.Where(model.Keyword{Name: kw}).FirstOrCreate(&keyword).Error; err != nil {
				return err
			}
			join := model.UserInterest{UserID: userID, InterestID: interest.ID, KeywordID: keyword.ID}
			if err := tx.Create(&join).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
