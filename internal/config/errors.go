package config

import "errors"

var (
	// ErrEmptyAddr indicates a configuration without a listen address.
	ErrEmptyAddr = errors.New("addr must not be empty")

	// ErrInvalidPageSize indicates a non-positive listing page size.
	ErrInvalidPageSize = errors.New("page_size must be positive")
)
