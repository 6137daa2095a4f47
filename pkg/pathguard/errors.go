package pathguard

import "errors"

// ErrPath matches every *PathError via errors.Is.
var ErrPath = errors.New("pathguard: invalid path")

// PathError is returned for any path that fails normalization or containment,
// and for misconfigured roots. Error returns Reason unchanged so callers and
// tests can match on it; the path is kept for logging, never for responses.
type PathError struct {
	Path   string
	Reason string
	Err    error
}

func newPathError(path, reason string, err error) *PathError {
	return &PathError{Path: path, Reason: reason, Err: err}
}

// Wrap turns err into a *PathError for p, keeping err's message as the reason.
func Wrap(p string, err error) *PathError {
	return newPathError(p, err.Error(), err)
}

func (e *PathError) Error() string {
	return e.Reason
}

func (e *PathError) Unwrap() error {
	return e.Err
}

func (e *PathError) Is(target error) bool {
	return target == ErrPath
}
