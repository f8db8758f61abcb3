package runtime

import "errors"

// Sentinel kinds for runtime errors.
var (
	ErrModelLoad     = errors.New("model load failed")
	ErrShapeMismatch = errors.New("tensor shape does not match the model contract")
	ErrInference     = errors.New("inference failed")
	ErrClosed        = errors.New("runtime closed")
)

// stageError tags a cause with the stage kind (load or inference) and an
// optional reason so callers can match either with errors.Is.
type stageError struct {
	stage  error
	reason error
	cause  error
}

func (e *stageError) Error() string {
	msg := e.stage.Error()
	if e.reason != nil {
		msg += ": " + e.reason.Error()
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *stageError) Is(target error) bool {
	return target == e.stage || (e.reason != nil && target == e.reason)
}

func (e *stageError) Unwrap() error { return e.cause }

func loadError(reason, cause error) error {
	return &stageError{stage: ErrModelLoad, reason: reason, cause: cause}
}

func inferenceError(reason, cause error) error {
	return &stageError{stage: ErrInference, reason: reason, cause: cause}
}
