// Package model contains the persistent entities of the engagement engine.
//
// The relational store is authoritative for ownership facts and cohort
// membership; Thermometer and Top on User are cached derivations owned
// by the score/ranking pipeline.
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a profile row. Thermometer is the cached activity score and
// Top the cached cohort percentile; both are rewritten by the ranking
// cascade, never by callers.
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email        string    `gorm:"uniqueIndex;size:128"`
	Nickname     string    `gorm:"uniqueIndex;size:64"`
	Name         string    `gorm:"size:64"`
	Phone        string    `gorm:"size:32"`
	ProfileImage string    `gorm:"size:256"`
	Thermometer  float64   `gorm:"not null;default:0"`
	Top          float64   `gorm:"not null;default:0"`
	SubMajorID   uuid.UUID `gorm:"type:uuid;index"`
	SubMajor     *SubMajor
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Interests []UserInterest
}

// MainMajor is the cohort key: ranking is always computed among users
// sharing a MainMajor.
type MainMajor struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"uniqueIndex;size:64"`
	CreatedAt time.Time
}

// SubMajor refines a MainMajor; users reference their cohort through it.
type SubMajor struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name        string    `gorm:"size:64;uniqueIndex:idx_submajor_name_main"`
	MainMajorID uuid.UUID `gorm:"type:uuid;index;uniqueIndex:idx_submajor_name_main"`
	MainMajor   *MainMajor
	CreatedAt   time.Time
}

// ScrapOwnership records that a user saved a document in a category.
// The composite unique index is the arbiter for concurrent toggles:
// whichever toggle loses a double-create hits the uniqueness error and
// observes the row as already present.
type ScrapOwnership struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID `gorm:"type:uuid;index;uniqueIndex:idx_scrap_owner"`
	Category   string    `gorm:"size:16;uniqueIndex:idx_scrap_owner"`
	DocumentID string    `gorm:"size:64;uniqueIndex:idx_scrap_owner"`
	CreatedAt  time.Time
}

// ActivityRecord is one activity row in one of the five fixed
// categories. Row existence per category feeds the thermometer score.
type ActivityRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;index:idx_activity_user_cat"`
	Category  string    `gorm:"size:16;index:idx_activity_user_cat"`
	Title     string    `gorm:"size:128"`
	Content   string    `gorm:"size:1024"`
	CreatedAt time.Time
}

// Interest is a normalized interest label shared across users.
type Interest struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"uniqueIndex;size:64"`
	CreatedAt time.Time
}

// Keyword is a normalized keyword label shared across users.
type Keyword struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"uniqueIndex;size:64"`
	CreatedAt time.Time
}

// UserInterest joins a user to an (interest, keyword) pair.
type UserInterest struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID `gorm:"type:uuid;index"`
	InterestID uuid.UUID `gorm:"type:uuid;index"`
	KeywordID  uuid.UUID `gorm:"type:uuid;index"`
	Interest   *Interest
	Keyword    *Keyword
	CreatedAt  time.Time
}

// BeforeCreate assigns ids where callers did not.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

func (m *MainMajor) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

func (s *SubMajor) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (s *ScrapOwnership) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (a *ActivityRecord) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (i *Interest) BeforeCreate(_ *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

func (k *Keyword) BeforeCreate(_ *gorm.DB) error {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	return nil
}

func (u *UserInterest) BeforeCreate(_ *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// AutoMigrate creates or updates the schema for every entity.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&MainMajor{},
		&SubMajor{},
		&User{},
		&ScrapOwnership{},
		&ActivityRecord{},
		&Interest{},
		&Keyword{},
		&UserInterest{},
	)
}
