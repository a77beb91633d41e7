package fs_errors

import "errors"

// Error kinds shared by every layer of the file system. Package level errors
// wrap one of these so callers can classify failures with errors.Is.
var (
	ErrInvalidPath     = errors.New("invalid path")
	ErrNotFound        = errors.New("not found")
	ErrNotADirectory   = errors.New("not a directory")
	ErrTableFull       = errors.New("table full")
	ErrInvalidHandle   = errors.New("invalid handle")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotInitialized  = errors.New("file system not initialized")
)

// Kind returns the error kind wrapped by err, or nil when err carries none.
func Kind(err error) error {
	for _, kind := range []error{
		ErrInvalidPath,
		ErrNotFound,
		ErrNotADirectory,
		ErrTableFull,
		ErrInvalidHandle,
		ErrAlreadyExists,
		ErrInvalidArgument,
		ErrNotInitialized,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
