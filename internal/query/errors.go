package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotInitialized      = errors.New("database not initialized")
	ErrQueryAlreadyRunning = errors.New("a query is already running")
	ErrQueryCancelled      = errors.New("query was canceled")
)

// ExecutionError carries an engine-reported SQL or runtime failure. Message
// is shown to users verbatim.
type ExecutionError struct {
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	return e.Message
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func newExecutionError(err error) error {
	return &ExecutionError{Message: err.Error(), Err: err}
}

// ViewRegistrationError reports views that could not be registered. Views in
// the same batch that are not listed here were registered.
type ViewRegistrationError struct {
	Failed map[string]error
}

func (e *ViewRegistrationError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for name := range e.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Failed[name]))
	}
	return fmt.Sprintf("failed to register %d view(s): %s", len(names), strings.Join(parts, "; "))
}

// IsCancelled reports whether err is the expected outcome of a user-initiated
// cancellation and must not be surfaced as a failure.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrQueryCancelled) || errors.Is(err, ErrInterrupted)
}
