// Package session runs one interview end to end: question playback,
// answer capture, submission, and completion, as a guarded phase
// machine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/parley-ai/parley/internal/capture"
	"github.com/parley-ai/parley/internal/exchange"
	"github.com/parley-ai/parley/internal/interview"
)

// Job describes the interview being run.
type Job struct {
	InterviewID    string
	Title          string
	Description    string
	Difficulty     string
	CandidateLabel string // spoken in the greeting, optional
}

// Controller owns the session lifecycle. One controller per interview;
// not reusable after Terminated.
type Controller struct {
	job       Job
	sequencer Sequencer
	cap       Capture
	client    Exchange

	retryDelay time.Duration
	opTimeout  time.Duration

	logf  func(format string, args ...any)
	sleep func(time.Duration)

	onStatus  func(string)
	onPhase   func(Phase)
	onCaption func(string)

	ctx context.Context

	mu              sync.Mutex
	phase           Phase
	currentQuestion string
	turns           []interview.Turn
	feedback        *interview.Feedback
	terminated      bool
	done            chan struct{}
}

func NewController(job Job, seq Sequencer, cap Capture, client Exchange) *Controller {
	c := &Controller{
		job:        job,
		sequencer:  seq,
		cap:        cap,
		client:     client,
		retryDelay: 2 * time.Second,
		opTimeout:  60 * time.Second,
		logf:       log.Printf,
		sleep:      time.Sleep,
		ctx:        context.Background(),
		done:       make(chan struct{}),
	}
	cap.OnAnswer(c.handleAnswer)
	cap.OnNoAnswer(c.handleNoAnswer)
	cap.OnError(c.handleCaptureError)
	return c
}

// OnStatus installs an observer for user-facing status lines.
func (c *Controller) OnStatus(fn func(string)) { c.onStatus = fn }

// OnPhase installs an observer invoked after every phase change.
func (c *Controller) OnPhase(fn func(Phase)) { c.onPhase = fn }

// OnCaption installs an observer receiving each question's text.
func (c *Controller) OnCaption(fn func(string)) { c.onCaption = fn }

// Phase reports the current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Turns returns a copy of the recorded question/answer exchanges.
func (c *Controller) Turns() []interview.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]interview.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Done is closed when the session reaches Terminated.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Feedback returns the scored report, or nil when the interview ended
// without one.
func (c *Controller) Feedback() *interview.Feedback {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feedback
}

// transition moves the session to a new phase. Callers hold c.mu.
func (c *Controller) transition(to Phase) error {
	if c.phase == PhaseTerminated {
		return fmt.Errorf("session already terminated")
	}
	valid := false
	switch to {
	case PhasePlayingAudio:
		valid = c.phase == PhaseIdle || c.phase == PhaseSubmitting
	case PhaseCapturing:
		valid = c.phase == PhasePlayingAudio || c.phase == PhaseSubmitting
	case PhaseSubmitting:
		valid = c.phase == PhaseCapturing
	case PhaseCompleting:
		valid = c.phase != PhaseCompleting && c.phase != PhaseErrored
	case PhaseErrored, PhaseTerminated:
		valid = true
	}
	if !valid {
		return fmt.Errorf("invalid session transition %s -> %s", c.phase, to)
	}
	c.phase = to
	if c.onPhase != nil {
		fn := c.onPhase
		go fn(to)
	}
	return nil
}

// Begin starts the interview and plays the greeting and first question.
// When the start request fails for a persisted interview, the current
// question is recovered with a plain fetch before giving up, since the
// start may have taken effect server-side.
func (c *Controller) Begin(ctx context.Context) error {
	c.ctx = ctx
	c.status("Starting your interview...")

	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	res, err := c.client.StartInterview(opCtx, exchange.StartRequest{
		InterviewID:    c.job.InterviewID,
		JobTitle:       c.job.Title,
		JobDescription: c.job.Description,
		Difficulty:     c.job.Difficulty,
	})
	cancel()
	question := res.Question
	if err != nil {
		if interview.IsEphemeral(c.job.InterviewID) {
			return c.fail(fmt.Errorf("start interview: %w", err))
		}
		c.logf("session: start failed, trying recovery fetch: %v", err)
		opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
		iv, gerr := c.client.GetInterview(opCtx, c.job.InterviewID)
		cancel()
		if gerr != nil || iv.CurrentQuestion == "" {
			return c.fail(fmt.Errorf("start interview: %w", err))
		}
		question = iv.CurrentQuestion
	}
	if question == "" {
		return c.fail(fmt.Errorf("start interview: backend returned no question"))
	}

	c.mu.Lock()
	c.currentQuestion = question
	c.mu.Unlock()

	greeting := fmt.Sprintf("Hello! Welcome to your %s interview. Let's begin.", c.job.Title)
	if c.job.CandidateLabel != "" {
		greeting = fmt.Sprintf("Hello %s! Welcome to your %s interview. Let's begin.", c.job.CandidateLabel, c.job.Title)
	}
	c.playQuestion(greeting, question)
	return nil
}

// playQuestion plays the given utterances in order and opens capture
// from the sequencer's completion callback. Playback failure is not
// fatal; the session listens for the answer regardless.
func (c *Controller) playQuestion(texts ...string) {
	c.mu.Lock()
	if err := c.transition(PhasePlayingAudio); err != nil {
		c.logf("session: %v", err)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.caption(texts[len(texts)-1])
	go func() {
		if err := c.sequencer.PlaySequence(c.ctx, texts, c.beginCapture); err != nil {
			c.logf("session: question playback: %v", err)
			c.status("Audio playback failed. Listening for your answer.")
		}
	}()
}

// beginCapture opens the answer capture. The phase check doubles as
// the guard against a second invocation opening two captures.
func (c *Controller) beginCapture() {
	c.mu.Lock()
	if c.phase != PhasePlayingAudio {
		c.logf("session: capture not opened from %s", c.phase)
		c.mu.Unlock()
		return
	}
	if err := c.transition(PhaseCapturing); err != nil {
		c.logf("session: %v", err)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.status("Listening...")
	c.startCapture()
}

func (c *Controller) startCapture() {
	err := c.cap.Start(c.ctx)
	if err == nil {
		return
	}
	var micErr *capture.MicAccessError
	if errors.As(err, &micErr) {
		c.fail(err)
		return
	}
	c.logf("session: capture start: %v", err)
	c.status("Transcription unavailable, retrying...")
	time.AfterFunc(c.retryDelay, func() {
		if c.Phase() == PhaseCapturing {
			c.startCapture()
		}
	})
}

// handleAnswer submits a captured answer and plays the follow-up. A
// failed submission keeps the turn unrecorded and reopens capture
// after a short delay so the candidate can try again.
func (c *Controller) handleAnswer(answer string) {
	c.mu.Lock()
	if c.phase != PhaseCapturing {
		c.logf("session: answer dropped in %s", c.phase)
		c.mu.Unlock()
		return
	}
	if err := c.transition(PhaseSubmitting); err != nil {
		c.logf("session: %v", err)
		c.mu.Unlock()
		return
	}
	question := c.currentQuestion
	c.mu.Unlock()

	c.status("Thinking...")
	opCtx, cancel := context.WithTimeout(c.ctx, c.opTimeout)
	res, err := c.client.SubmitAnswer(opCtx, c.job.InterviewID, question, answer, c.job.Title)
	cancel()
	if err != nil {
		c.logf("session: submit answer: %v", err)
		c.status("Couldn't reach the interviewer. Let's try that answer again.")
		c.mu.Lock()
		if terr := c.transition(PhaseCapturing); terr != nil {
			c.logf("session: %v", terr)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.sleep(c.retryDelay)
		// The session may have completed or torn down during the delay.
		if c.Phase() == PhaseCapturing {
			c.startCapture()
		}
		return
	}

	c.mu.Lock()
	c.turns = append(c.turns, interview.Turn{Question: question, Answer: answer})
	c.currentQuestion = res.NextQuestion
	c.mu.Unlock()

	if !interview.IsEphemeral(c.job.InterviewID) {
		go c.persistTurn(question, answer)
	}

	if res.NextQuestion == "" {
		// The interviewer has no follow-up; wrap up.
		go func() {
			if _, err := c.Complete(c.ctx); err != nil {
				c.logf("session: complete: %v", err)
			}
		}()
		return
	}
	c.playQuestion(res.NextQuestion)
}

// persistTurn records a turn in the backend transcript. Best-effort; a
// failure is logged and the session moves on.
func (c *Controller) persistTurn(question, answer string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.client.PersistTranscriptEntry(ctx, c.job.InterviewID, question, answer); err != nil {
		c.logf("session: persist transcript: %v", err)
	}
}

// handleNoAnswer reopens capture when a turn ended with no speech.
func (c *Controller) handleNoAnswer() {
	if c.Phase() != PhaseCapturing {
		return
	}
	c.status("No answer captured. Listening again...")
	c.startCapture()
}

func (c *Controller) handleCaptureError(err error) {
	c.logf("session: capture: %v", err)
	c.status("Transcription hiccup, reconnecting...")
}

// Complete ends the interview: capture is stopped without submitting,
// the backend scores the transcript, and the session terminates. A
// feedback failure still completes the interview, just without a
// report. Safe to call more than once; only the first call acts.
func (c *Controller) Complete(ctx context.Context) (*interview.Feedback, error) {
	c.mu.Lock()
	if c.phase == PhaseCompleting || c.phase == PhaseTerminated {
		c.mu.Unlock()
		return nil, nil
	}
	if err := c.transition(PhaseCompleting); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	turns := make([]interview.Turn, len(c.turns))
	copy(turns, c.turns)
	c.mu.Unlock()

	c.sequencer.Stop()
	if err := c.cap.Stop(false); err != nil {
		c.logf("session: capture stop: %v", err)
	}

	c.status("Generating your feedback...")
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	res, err := c.client.CompleteInterview(opCtx, exchange.CompleteRequest{
		InterviewID:    c.job.InterviewID,
		JobTitle:       c.job.Title,
		JobDescription: c.job.Description,
		Difficulty:     c.job.Difficulty,
		Turns:          turns,
	})
	cancel()
	defer c.terminate()
	if err != nil {
		c.logf("session: complete interview: %v", err)
		c.status("Interview complete. Feedback is unavailable right now.")
		return nil, err
	}
	if res.Degraded || res.Feedback == nil {
		c.status("Interview complete. Feedback is unavailable right now.")
		return nil, nil
	}
	c.mu.Lock()
	c.feedback = res.Feedback
	c.mu.Unlock()
	c.status("Interview complete.")
	return res.Feedback, nil
}

// Teardown releases everything without completing the interview.
// Errors are swallowed; it never blocks on network calls.
func (c *Controller) Teardown() {
	c.sequencer.Stop()
	c.cap.Teardown()
	c.terminate()
}

// fail moves the session to Errored and returns err.
func (c *Controller) fail(err error) error {
	c.mu.Lock()
	if terr := c.transition(PhaseErrored); terr != nil {
		c.logf("session: %v", terr)
	}
	c.mu.Unlock()
	c.status("Something went wrong starting the interview.")
	return err
}

// terminate moves to Terminated exactly once and closes Done.
func (c *Controller) terminate() {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return
	}
	c.terminated = true
	if err := c.transition(PhaseTerminated); err != nil {
		c.phase = PhaseTerminated
	}
	close(c.done)
	c.mu.Unlock()
}

func (c *Controller) status(msg string) {
	if c.onStatus != nil {
		c.onStatus(msg)
	}
}

func (c *Controller) caption(text string) {
	if c.onCaption != nil {
		c.onCaption(text)
	}
}
