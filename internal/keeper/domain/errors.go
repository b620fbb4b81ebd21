package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("evidence job not found")

	// ErrProofNotFound is returned both for unknown jobs and for jobs whose
	// batch has not anchored yet; callers cannot distinguish the two cases.
	ErrProofNotFound = errors.New("merkle proof not available")
)
