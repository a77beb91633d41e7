package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/AnishMulay/tfs/internal/communication"
	fserr "github.com/AnishMulay/tfs/internal/fs_errors"
)

var (
	// Session errors
	ErrUnknownSession   = fmt.Errorf("unknown session: %w", fserr.ErrInvalidHandle)
	ErrTooManySessions  = fmt.Errorf("too many sessions: %w", fserr.ErrTableFull)
	ErrHandleNotOwned   = fmt.Errorf("handle not opened by this session: %w", fserr.ErrInvalidHandle)
	ErrServerBusy       = fmt.Errorf("server busy: %w", fserr.ErrNotInitialized)
	ErrInvalidPayload   = fmt.Errorf("invalid payload type for message: %w", fserr.ErrInvalidArgument)
	ErrUnknownOperation = fmt.Errorf("no handler registered for message type: %w", fserr.ErrInvalidArgument)
	ErrExportDisabled   = fmt.Errorf("export directory not configured: %w", fserr.ErrInvalidArgument)

	// ErrRemote marks an error reported by the server rather than the transport.
	ErrRemote = errors.New("remote error")
)

// CodeFor maps an error onto the wire code a client sees.
func CodeFor(err error) communication.SandCode {
	if err == nil {
		return communication.CodeOK
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return communication.CodeUnavailable
	}
	switch fserr.Kind(err) {
	case fserr.ErrInvalidPath, fserr.ErrInvalidArgument:
		return communication.CodeBadRequest
	case fserr.ErrNotFound:
		return communication.CodeNotFound
	case fserr.ErrNotADirectory:
		return communication.CodeNotADirectory
	case fserr.ErrTableFull:
		return communication.CodeTableFull
	case fserr.ErrInvalidHandle:
		return communication.CodeInvalidHandle
	case fserr.ErrAlreadyExists:
		return communication.CodeAlreadyExists
	case fserr.ErrNotInitialized:
		return communication.CodeUnavailable
	default:
		return communication.CodeInternal
	}
}

// ErrorFor rebuilds an error from a non-OK response so callers can match the
// same kinds the server matched.
func ErrorFor(resp *communication.Response) error {
	if resp == nil || resp.Code == communication.CodeOK {
		return nil
	}

	var kind error
	switch resp.Code {
	case communication.CodeBadRequest:
		kind = fserr.ErrInvalidArgument
	case communication.CodeNotFound:
		kind = fserr.ErrNotFound
	case communication.CodeNotADirectory:
		kind = fserr.ErrNotADirectory
	case communication.CodeTableFull:
		kind = fserr.ErrTableFull
	case communication.CodeInvalidHandle:
		kind = fserr.ErrInvalidHandle
	case communication.CodeAlreadyExists:
		kind = fserr.ErrAlreadyExists
	case communication.CodeUnavailable:
		kind = fserr.ErrNotInitialized
	default:
		return fmt.Errorf("%w: %s: %s", ErrRemote, resp.Code, resp.Body)
	}
	return fmt.Errorf("%w: %w: %s", ErrRemote, kind, resp.Body)
}
