package backend

import (
	"errors"
	"fmt"
)

// Sentinel kinds for backend errors.
var (
	ErrUnauthorized = errors.New("backend rejected credentials")
	ErrServerError  = errors.New("backend server error")
	ErrClientError  = errors.New("backend rejected request")
	ErrTimeout      = errors.New("backend timed out")
	ErrNetwork      = errors.New("backend unreachable")
	ErrProtocol     = errors.New("backend response malformed")

	ErrIncompleteRegistration = errors.New("registration requires every field")
	ErrNoCredentials          = errors.New("no account credentials configured")
)

// Operations reported in SyncError.Op.
const (
	OpUpload   = "upload"
	OpRegister = "register"
	OpLogin    = "login"
)

// Kind classifies a failed upload.
type Kind int

const (
	KindNetwork Kind = iota
	KindTimeout
	KindUnauthorized
	KindClientError
	KindServerError
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindUnauthorized:
		return "unauthorized"
	case KindClientError:
		return "client_error"
	case KindServerError:
		return "server_error"
	case KindProtocol:
		return "protocol"
	default:
		return "network"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindTimeout:
		return ErrTimeout
	case KindUnauthorized:
		return ErrUnauthorized
	case KindClientError:
		return ErrClientError
	case KindServerError:
		return ErrServerError
	case KindProtocol:
		return ErrProtocol
	default:
		return ErrNetwork
	}
}

// SyncError describes a failed backend call after all attempts.
type SyncError struct {
	// Op is the failed operation; empty means OpUpload.
	Op   string
	Kind Kind
	// Code is the HTTP status of the last response, 0 if none arrived.
	Code     int
	Attempts int
	Err      error
}

func (e *SyncError) Error() string {
	op := e.Op
	if op == "" {
		op = OpUpload
	}
	msg := fmt.Sprintf("%s failed (%s", op, e.Kind)
	if e.Code != 0 {
		msg += fmt.Sprintf(", status %d", e.Code)
	}
	msg += fmt.Sprintf(", %d attempt(s))", e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SyncError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *SyncError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Retryable reports whether another attempt could succeed.
func (e *SyncError) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindServerError || e.Kind == KindNetwork
}
