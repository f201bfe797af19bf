package storage

import (
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// ErrConcurrentOverwrite indicates that a write lost a compare-and-swap
// against a newer version of the same row. The caller is expected to
// refetch the board and retry from fresh state.
var ErrConcurrentOverwrite error = &concurrentOverwriteError{}

type concurrentOverwriteError struct{}

func (*concurrentOverwriteError) Error() string { return "concurrent overwrite" }

// ConcurrentOverwrite marks the error for callers matching by interface.
func (*concurrentOverwriteError) ConcurrentOverwrite() {}

// NotFoundError indicates the referenced entity no longer exists, e.g. it
// was deleted mid-drag.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// NotFound marks the error for callers matching by interface.
func (e *NotFoundError) NotFound() {}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func hasStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

// mapEntityError converts storage responses into the domain error taxonomy.
func mapEntityError(err error, kind, id string) error {
	switch {
	case err == nil:
		return nil
	case hasStatus(err, 404):
		return &NotFoundError{Kind: kind, ID: id}
	case hasStatus(err, 412), hasStatus(err, 409):
		return fmt.Errorf("%s %s: %w", kind, id, ErrConcurrentOverwrite)
	default:
		return err
	}
}
