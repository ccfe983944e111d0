package repository

import "errors"

// Sentinel kinds for relational store errors.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrActivityNotFound = errors.New("activity record not found")
	ErrNicknameTaken    = errors.New("nickname already in use")
	ErrCohortNotFound   = errors.New("cohort not found")
)
