package kv

import "github.com/pkg/errors"

// Errors returned by store operations when a data-model invariant would
// be violated.
var (
	ErrNotFound               = errors.New("not found in database")
	ErrEpochExists            = errors.New("epoch number already used by another tournament")
	ErrActiveTournamentExists = errors.New("another tournament is in a non-terminal status")
	ErrInvalidTransition      = errors.New("illegal tournament status transition")
	ErrSubmissionExists       = errors.New("submission already exists for participant")
	ErrRunExists              = errors.New("evaluation run already exists for submission and epoch")
	ErrCountsInvariant        = errors.New("synthetic_found exceeds synthetic_expected")
)
