package models

import (
	"errors"
	"fmt"
)

var (
	ErrDecode                = errors.New("decode error")
	ErrPredictionUnavailable = errors.New("prediction unavailable")
	ErrSinkWrite             = errors.New("sink write error")
	ErrStateFault            = errors.New("state fault")
)

// DecodeError reports a payload that is not well-formed or misses a required field.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// PredictionUnavailableError reports that the forecaster could not produce a value.
type PredictionUnavailableError struct {
	Key    string
	Reason string
	Err    error
}

func (e *PredictionUnavailableError) Error() string {
	msg := fmt.Sprintf("prediction unavailable for %s: %s", e.Key, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PredictionUnavailableError) Unwrap() error { return e.Err }

func (e *PredictionUnavailableError) Is(target error) bool {
	return target == ErrPredictionUnavailable
}

// SinkWriteError reports a failed append to a sink backend.
type SinkWriteError struct {
	Backend string
	Err     error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("%s sink write: %v", e.Backend, e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }

func (e *SinkWriteError) Is(target error) bool { return target == ErrSinkWrite }

// StateFault is an internal invariant violation of the window engine. It is
// never recovered.
type StateFault struct {
	Reason string
}

func (e *StateFault) Error() string { return "state fault: " + e.Reason }

func (e *StateFault) Is(target error) bool { return target == ErrStateFault }
