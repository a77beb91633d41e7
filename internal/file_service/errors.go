package file_service

import (
	"fmt"
	"strings"

	fserr "github.com/AnishMulay/tfs/internal/fs_errors"
)

var (
	ErrAlreadyInitialized = fmt.Errorf("file system already initialized: %w", fserr.ErrInvalidArgument)
	ErrNotInitialized     = fserr.ErrNotInitialized
	ErrShuttingDown       = fmt.Errorf("file system shutting down: %w", fserr.ErrNotInitialized)
	ErrBadPath            = fmt.Errorf("path must be /name: %w", fserr.ErrInvalidPath)
	ErrBadWhence          = fmt.Errorf("bad whence: %w", fserr.ErrInvalidArgument)
	ErrSeekRange          = fmt.Errorf("seek outside file bounds: %w", fserr.ErrInvalidArgument)
	ErrBadOptions         = fmt.Errorf("bad file system options: %w", fserr.ErrInvalidArgument)
)

// SplitPath returns the entry name of an absolute single-segment path.
func SplitPath(path string) (string, error) {
	name, ok := strings.CutPrefix(path, "/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrBadPath, path)
	}
	return name, nil
}
