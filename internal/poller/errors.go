package poller

import "errors"

var (
	// ErrFetch wraps a failed content read. The read degrades to empty.
	ErrFetch = errors.New("fetch failed")
	// ErrPresent wraps a surface that rejected an alert. Only that item is skipped.
	ErrPresent = errors.New("presentation failed")

	ErrInvalidInterval = errors.New("poll interval must be positive")
)
