package accessor

import (
	"fmt"

	"github.com/erauner12/garagesync/internal/store"
)

// NotFoundError is returned by Get and Update when the record exists
// neither on the server nor locally.
type NotFoundError struct {
	Table string
	ID    int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s/%d not found", e.Table, e.ID)
}

// Is lets errors.Is(err, store.ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == store.ErrNotFound
}
