package storage

import (
	"errors"
	"fmt"
)

// ErrShortRead is returned when a ReadAt request extends past the end of
// the file.
var ErrShortRead = errors.New("storage: short read")

// NotFoundError is returned when an operation targets a FileID that has
// never been created.
type NotFoundError struct {
	ID FileID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("storage: file not found: %s", e.ID.Name())
}
