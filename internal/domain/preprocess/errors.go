package preprocess

import "errors"

// Sentinel kinds for preprocessing errors.
var (
	ErrPreprocess        = errors.New("preprocess failed")
	ErrUnsupportedFormat = errors.New("unsupported sample format")
)

// kindError tags a cause with both the stage kind and a specific reason so
// callers can match either with errors.Is.
type kindError struct {
	reason error
	cause  error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return ErrPreprocess.Error() + ": " + e.reason.Error()
	}
	return ErrPreprocess.Error() + ": " + e.reason.Error() + ": " + e.cause.Error()
}

func (e *kindError) Is(target error) bool {
	return target == ErrPreprocess || target == e.reason
}

func (e *kindError) Unwrap() error { return e.cause }

func unsupported(cause error) error {
	return &kindError{reason: ErrUnsupportedFormat, cause: cause}
}
