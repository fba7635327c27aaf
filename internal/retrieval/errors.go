package retrieval

import "errors"

// notReadyError is returned by GetPrompt before assets finished loading or
// after they failed to load.
type notReadyError struct {
	state ReadyState
	cause error
}

func (e notReadyError) Error() string {
	if e.cause != nil {
		return "retrieval " + string(e.state) + ": " + e.cause.Error()
	}
	return "retrieval " + string(e.state)
}

func (e notReadyError) Unwrap() error { return e.cause }

// ErrNotReady constructs a notReadyError.
func ErrNotReady(state ReadyState, cause error) error {
	return notReadyError{state: state, cause: cause}
}

// IsNotReady reports whether err means the service cannot answer yet.
func IsNotReady(err error) bool {
	var e notReadyError
	return errors.As(err, &e)
}

// assetError reports a missing or unreadable asset file.
type assetError struct {
	name string
	path string
	err  error
}

func (e assetError) Error() string { return e.name + " " + e.path + ": " + e.err.Error() }

func (e assetError) Unwrap() error { return e.err }

// IsAsset reports whether err came from an asset file.
func IsAsset(err error) bool {
	var e assetError
	return errors.As(err, &e)
}
