package errors

import "errors"

// Engine boundary errors. A failed fetch is the only error class that
// crosses the engine boundary: the collection is left untouched and the
// failure surfaces to the caller. Staleness and probe failures are
// absorbed internally as state changes.
var (
	ErrSourceUnavailable = errors.New("record source unavailable")
	ErrLibraryNotFound   = errors.New("library directory not found")
)
