package domain

import "errors"

var (
	// ErrDimensionMismatch is returned when a vector's length differs from the index dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrEmptyCorpus is returned when a build produces no chunks.
	ErrEmptyCorpus = errors.New("empty corpus: no chunks produced")

	// ErrIndexNotBuilt is returned when querying before any successful build or load.
	ErrIndexNotBuilt = errors.New("index not built")

	// ErrCorruptState is returned when persisted index and chunks disagree.
	ErrCorruptState = errors.New("corrupt index state")

	// ErrNoSnapshot is returned when the persisted pair is missing or incomplete.
	ErrNoSnapshot = errors.New("no persisted index")

	ErrInvalidArgument = errors.New("invalid argument")
)
