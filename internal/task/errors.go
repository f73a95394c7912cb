package task

import "errors"

// Submission and lookup errors.
var (
	ErrInvalidState      = errors.New("task is not in pending state")
	ErrStoreUnavailable  = errors.New("task store unavailable")
	ErrShuttingDown      = errors.New("engine is shutting down")
	ErrNotFound          = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// FetchError is returned by media fetchers for network, not-found or invalid
// source conditions. Reason is what users see.
type FetchError struct {
	Reason string
	Err    error
}

func (e *FetchError) Error() string { return e.Reason }

func (e *FetchError) Unwrap() error { return e.Err }

// TranscribeError is returned by transcribers for model-unavailable,
// unsupported-format or engine failures.
type TranscribeError struct {
	Reason string
	Err    error
}

func (e *TranscribeError) Error() string { return e.Reason }

func (e *TranscribeError) Unwrap() error { return e.Err }

// ErrorMessage extracts the user-facing explanation for a stage failure.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	var te *TranscribeError
	if errors.As(err, &te) {
		return te.Reason
	}
	return err.Error()
}
