package domain

import "errors"

var (
	// Fetch-layer errors surfaced to consumers.
	ErrNetwork = errors.New("backend unreachable")
	ErrAuth    = errors.New("init data rejected")

	ErrNotFound        = errors.New("entity not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNoSession       = errors.New("no active session")
	ErrHostUnavailable = errors.New("web app host unavailable")
)
