package schema

import (
	"errors"
	"fmt"
)

// ErrCollectionNotFound is matched by every CollectionNotFoundError.
var ErrCollectionNotFound = errors.New("collection not found")

// CollectionNotFoundError reports a table name that was never registered.
// It signals a programming error and is never converted into an offline fallback.
type CollectionNotFoundError struct {
	Name string
}

func (e *CollectionNotFoundError) Error() string {
	return fmt.Sprintf("collection %q not found", e.Name)
}

func (e *CollectionNotFoundError) Is(target error) bool {
	return target == ErrCollectionNotFound
}

// ValidationError reports a record that does not match its collection schema.
type ValidationError struct {
	Collection string
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Collection, e.Field, e.Reason)
}
