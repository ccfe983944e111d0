// Package repository implements the relational store: the authoritative
// home of users, cohort membership, ownership facts, and activity rows.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/okian/ember/internal/domain/category"
	"github.com/okian/ember/internal/domain/model"
)

// UserScore pairs a user with the cohort and cached score used for ranking.
type UserScore struct {
	UserID      uuid.UUID
	MainMajorID uuid.UUID
	Score       float64
}

// NewUser carries the fields needed to create a profile with its cohort
// and nested interests in one transaction.
type NewUser struct {
	Email        string
	Nickname     string
	Name         string
	Phone        string
	ProfileImage string
	MainMajor    string
	SubMajor     string
	Interests    map[string][]string // interest name -> keywords
}

// ProfileUpdate carries optional profile mutations. Nil fields are left
// untouched; a non-nil Interests replaces the whole interest set.
type ProfileUpdate struct {
	Nickname     *string
	ProfileImage *string
	Interests    map[string][]string
}

// Store provides read/write access to the relational state.
type Store interface {
	// UserExists returns ErrUserNotFound when id is unknown.
	UserExists(ctx context.Context, id uuid.UUID) error

	// GetUser loads a user with cohort and interests preloaded.
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)

	// CreateUser creates the user, its cohort chain, and nested
	// interests in one transaction. Returns ErrNicknameTaken on a
	// nickname collision.
	CreateUser(ctx context.Context, in NewUser) (uuid.UUID, error)

	// UpdateProfile applies a partial profile mutation.
	UpdateProfile(ctx context.Context, id uuid.UUID, in ProfileUpdate) (*model.User, error)

	// DeleteUser removes the user together with its ownership facts,
	// activity rows and interests in one transaction. Returns
	// ErrUserNotFound when id is unknown.
	DeleteUser(ctx context.Context, id uuid.UUID) error

	// ToggleScrap flips the ownership fact for (user, category, document)
	// and returns the new state: true when the row now exists.
	ToggleScrap(ctx context.Context, userID uuid.UUID, cat category.Category, documentID string) (bool, error)

	// ScrapIDs lists the document ids the user owns in a category.
	ScrapIDs(ctx context.Context, userID uuid.UUID, cat category.Category) ([]string, error)

	// CountOwners counts ownership rows referencing a document. This is
	// the source of truth the repair pipeline re-derives counters from.
	CountOwners(ctx context.Context, cat category.Category, documentID string) (int64, error)

	// AddActivity inserts one activity row.
	AddActivity(ctx context.Context, userID uuid.UUID, cat category.Category, title, content string) (uuid.UUID, error)

	// RemoveActivity deletes one activity row owned by the user in the
	// given category. Returns ErrActivityNotFound when no such row
	// exists, wrong category included.
	RemoveActivity(ctx context.Context, userID uuid.UUID, cat category.Category, recordID uuid.UUID) error

	// CountActivities counts the user's rows per category.
	CountActivities(ctx context.Context, userID uuid.UUID) (map[category.Category]int, error)

	// SetThermometer persists the cached engagement score.
	SetThermometer(ctx context.Context, userID uuid.UUID, score float64) error

	// SetTop persists the cached percentile.
	SetTop(ctx context.Context, userID uuid.UUID, top float64) error

	// SetTops persists percentiles for many users in one transaction.
	SetTops(ctx context.Context, tops map[uuid.UUID]float64) error

	// CohortOf resolves the user's main-major cohort id.
	CohortOf(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)

	// CohortScores lists a cohort's members ordered by thermometer
	// descending, user id ascending.
	CohortScores(ctx context.Context, mainMajorID uuid.UUID) ([]UserScore, error)

	// AllScores lists every user's score with cohort, for rank board
	// hydration at startup.
	AllScores(ctx context.Context) ([]UserScore, error)
}
