package job

import "errors"

var (
	ErrNotFound      = errors.New("job not found")
	ErrAlreadyExists = errors.New("job already exists")

	// ErrMultipleActive indicates the single-active-job invariant was
	// violated in the stored data. It is a consistency failure, never
	// resolved silently.
	ErrMultipleActive = errors.New("more than one active job in store")
)
