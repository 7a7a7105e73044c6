package capture

import (
	"errors"
	"fmt"
)

// ErrEmptyAnswer signals that a stop-and-submit found no transcript.
// Callers resume listening rather than aborting the session.
var ErrEmptyAnswer = errors.New("no answer captured")

// MicAccessError reports a microphone that could not be acquired.
// Fatal to the current capture attempt; never retried automatically.
type MicAccessError struct {
	Err error
}

func (e *MicAccessError) Error() string {
	return fmt.Sprintf("microphone unavailable: %v", e.Err)
}

func (e *MicAccessError) Unwrap() error { return e.Err }

// TranscriptionError reports a streaming connection failure. The
// pipeline schedules one delayed restart when it sees one.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription stream: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }
