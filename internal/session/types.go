package session

import (
	"context"
	"fmt"

	"github.com/parley-ai/parley/internal/exchange"
	"github.com/parley-ai/parley/internal/interview"
)

// Phase is the session lifecycle phase. Transitions are centralized in
// Controller.transition; no other code mutates the phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePlayingAudio
	PhaseCapturing
	PhaseSubmitting
	PhaseCompleting
	PhaseErrored
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePlayingAudio:
		return "playing_audio"
	case PhaseCapturing:
		return "capturing"
	case PhaseSubmitting:
		return "submitting"
	case PhaseCompleting:
		return "completing"
	case PhaseErrored:
		return "errored"
	case PhaseTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Sequencer plays question audio. PlaySequence must invoke onComplete
// exactly once, including on error.
type Sequencer interface {
	PlaySequence(ctx context.Context, texts []string, onComplete func()) error
	Stop()
}

// Capture runs one answer capture at a time.
type Capture interface {
	Start(ctx context.Context) error
	Stop(submit bool) error
	Teardown()
	OnAnswer(func(answer string))
	OnNoAnswer(func())
	OnError(func(error))
}

// Exchange is the backend API surface the session drives.
type Exchange interface {
	StartInterview(ctx context.Context, req exchange.StartRequest) (exchange.StartResult, error)
	GetInterview(ctx context.Context, id string) (*interview.Interview, error)
	SubmitAnswer(ctx context.Context, id, question, answer, jobTitle string) (exchange.RespondResult, error)
	PersistTranscriptEntry(ctx context.Context, id, question, answer string) error
	CompleteInterview(ctx context.Context, req exchange.CompleteRequest) (exchange.CompleteResult, error)
}
