package domain

import "errors"

var (
	// ErrPostNotFound is returned when no automation settings exist for a post.
	ErrPostNotFound = errors.New("post not found")

	// ErrAccountNotFound is returned when a post references a missing account.
	ErrAccountNotFound = errors.New("account not found")
)
