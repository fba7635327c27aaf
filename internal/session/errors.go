package session

import (
	"context"
	"errors"
)

// selectionRequiredError signals that the chat has no usable model. It is a
// normal branch, not a failure: the UI answers it by opening the model picker.
type selectionRequiredError struct{ reason string }

func (e selectionRequiredError) Error() string { return "model selection required: " + e.reason }

// ErrSelectionRequired constructs a selectionRequiredError.
func ErrSelectionRequired(reason string) error { return selectionRequiredError{reason: reason} }

// IsSelectionRequired reports whether err asks the user to pick a model.
func IsSelectionRequired(err error) bool {
	var e selectionRequiredError
	return errors.As(err, &e)
}

// backendLoadError wraps failures of backend create or system-prompt injection.
type backendLoadError struct {
	modelPath string
	err       error
}

func (e backendLoadError) Error() string {
	return "load model " + e.modelPath + ": " + e.err.Error()
}

func (e backendLoadError) Unwrap() error { return e.err }

// ErrBackendLoad constructs a backendLoadError.
func ErrBackendLoad(modelPath string, err error) error {
	return backendLoadError{modelPath: modelPath, err: err}
}

// IsBackendLoad reports whether err came from loading the backend.
func IsBackendLoad(err error) bool {
	var e backendLoadError
	return errors.As(err, &e)
}

// retrievalUnavailableError signals that retrieval assets are not loaded yet
// (or failed to load). Generation cannot start without them.
type retrievalUnavailableError struct{ msg string }

func (e retrievalUnavailableError) Error() string { return "retrieval unavailable: " + e.msg }

// ErrRetrievalUnavailable constructs a retrievalUnavailableError.
func ErrRetrievalUnavailable(msg string) error { return retrievalUnavailableError{msg: msg} }

// IsRetrievalUnavailable reports whether err indicates retrieval is not ready.
func IsRetrievalUnavailable(err error) bool {
	var e retrievalUnavailableError
	return errors.As(err, &e)
}

// generationError is any non-cancellation failure while building the prompt
// or streaming tokens.
type generationError struct{ err error }

func (e generationError) Error() string { return "generation failed: " + e.err.Error() }

func (e generationError) Unwrap() error { return e.err }

// ErrGeneration constructs a generationError. Cancellation is never wrapped.
func ErrGeneration(err error) error {
	if err == nil || IsCancelled(err) {
		return err
	}
	return generationError{err: err}
}

// IsGeneration reports whether err is a generation failure.
func IsGeneration(err error) bool {
	var e generationError
	return errors.As(err, &e)
}

// IsCancelled reports whether err is the result of cooperative cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// dependencyUnavailableError signals a missing runtime dependency (e.g., a
// binary built without llama support).
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

// chatNotFoundError is returned when an operation names an unknown chat.
type chatNotFoundError struct{ id int64 }

func (e chatNotFoundError) Error() string { return "chat not found" }

// ErrChatNotFound constructs a chatNotFoundError.
func ErrChatNotFound(id int64) error { return chatNotFoundError{id: id} }

// IsChatNotFound reports whether err indicates a missing chat.
func IsChatNotFound(err error) bool {
	var e chatNotFoundError
	return errors.As(err, &e)
}
