package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parley-ai/parley/internal/exchange"
	"github.com/parley-ai/parley/internal/interview"
)

type fakeSequencer struct {
	mu        sync.Mutex
	sequences [][]string
	stops     int
	err       error
}

func (f *fakeSequencer) PlaySequence(_ context.Context, texts []string, onComplete func()) error {
	f.mu.Lock()
	f.sequences = append(f.sequences, append([]string(nil), texts...))
	f.mu.Unlock()
	if onComplete != nil {
		onComplete()
	}
	return f.err
}

func (f *fakeSequencer) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeSequencer) Sequences() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.sequences))
	copy(out, f.sequences)
	return out
}

type fakeCapture struct {
	mu        sync.Mutex
	starts    int
	stops     []bool
	teardowns int
	startErr  error

	started chan struct{}

	onAnswer   func(string)
	onNoAnswer func()
	onError    func(error)
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{started: make(chan struct{}, 8)}
}

func (f *fakeCapture) Start(context.Context) error {
	f.mu.Lock()
	f.starts++
	err := f.startErr
	f.mu.Unlock()
	select {
	case f.started <- struct{}{}:
	default:
	}
	return err
}

func (f *fakeCapture) Stop(submit bool) error {
	f.mu.Lock()
	f.stops = append(f.stops, submit)
	f.mu.Unlock()
	return nil
}

func (f *fakeCapture) Teardown() {
	f.mu.Lock()
	f.teardowns++
	f.mu.Unlock()
}

func (f *fakeCapture) OnAnswer(fn func(string)) { f.onAnswer = fn }
func (f *fakeCapture) OnNoAnswer(fn func())    { f.onNoAnswer = fn }
func (f *fakeCapture) OnError(fn func(error))  { f.onError = fn }

func (f *fakeCapture) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

type fakeExchange struct {
	mu sync.Mutex

	startRes exchange.StartResult
	startErr error
	startReq exchange.StartRequest

	getRes   *interview.Interview
	getErr   error
	getCalls int

	nextQuestion string
	submitErrs   []error
	submitCalls  int

	persistCalls int
	persisted    chan struct{}

	completeRes   exchange.CompleteResult
	completeErr   error
	completeCalls int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{persisted: make(chan struct{}, 8)}
}

func (f *fakeExchange) StartInterview(_ context.Context, req exchange.StartRequest) (exchange.StartResult, error) {
	f.mu.Lock()
	f.startReq = req
	f.mu.Unlock()
	return f.startRes, f.startErr
}

func (f *fakeExchange) StartReq() exchange.StartRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startReq
}

func (f *fakeExchange) GetInterview(context.Context, string) (*interview.Interview, error) {
	f.mu.Lock()
	f.getCalls++
	f.mu.Unlock()
	return f.getRes, f.getErr
}

func (f *fakeExchange) SubmitAnswer(context.Context, string, string, string, string) (exchange.RespondResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		if err != nil {
			return exchange.RespondResult{}, err
		}
	}
	return exchange.RespondResult{NextQuestion: f.nextQuestion}, nil
}

func (f *fakeExchange) PersistTranscriptEntry(context.Context, string, string, string) error {
	f.mu.Lock()
	f.persistCalls++
	f.mu.Unlock()
	select {
	case f.persisted <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeExchange) CompleteInterview(context.Context, exchange.CompleteRequest) (exchange.CompleteResult, error) {
	f.mu.Lock()
	f.completeCalls++
	f.mu.Unlock()
	return f.completeRes, f.completeErr
}

func (f *fakeExchange) PersistCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.persistCalls
}

func (f *fakeExchange) CompleteCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completeCalls
}

func newTestController(id string, seq *fakeSequencer, cap *fakeCapture, ex *fakeExchange) *Controller {
	c := NewController(Job{
		InterviewID: id,
		Title:       "Platform Engineer",
		Difficulty:  interview.DifficultyMedium,
	}, seq, cap, ex)
	c.logf = func(string, ...any) {}
	c.sleep = func(time.Duration) {}
	c.retryDelay = time.Millisecond
	return c
}

func waitSignal(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal(msg)
	}
}

func waitPhase(t *testing.T, c *Controller, want Phase) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.Phase() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("expected phase %s, got %s", want, c.Phase())
}

func TestBeginPlaysGreetingThenOpensCapture(t *testing.T) {
	seq := &fakeSequencer{}
	cap := newFakeCapture()
	ex := newFakeExchange()
	ex.startRes = exchange.StartResult{Question: "Tell me about your background."}

	c := newTestController("iv_1", seq, cap, ex)
	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}

	waitSignal(t, cap.started, "expected capture to open after playback")
	waitPhase(t, c, PhaseCapturing)

	sequences := seq.Sequences()
	if len(sequences) != 1 || len(sequences[0]) != 2 {
		t.Fatalf("expected greeting plus question, got %v", sequences)
	}
	if sequences[0][1] != "Tell me about your background." {
		t.Fatalf("question played last, got %v", sequences[0])
	}
}

func TestBeginSendsJobContext(t *testing.T) {
	seq := &fakeSequencer{}
	cap := newFakeCapture()
	ex := newFakeExchange()
	ex.startRes = exchange.StartResult{Question: "Why Go?"}

	c := newTestController("demo_7", seq, cap, ex)
	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	waitSignal(t, cap.started, "expected capture to open")

	req := ex.StartReq()
	if req.InterviewID != "demo_7" {
		t.Fatalf("wrong interview id: %q", req.InterviewID)
	}
	if req.JobTitle != "Platform Engineer" {
		t.Fatalf("job title must reach the start call, got %q", req.JobTitle)
	}
	if req.Difficulty != interview.DifficultyMedium {
		t.Fatalf("wrong difficulty: %q", req.Difficulty)
	}
}

func TestBeginRecoversCurrentQuestionAfterStartFailure(t *testing.T) {
	seq := &fakeSequencer{}
	cap := newFakeCapture()
	ex := newFakeExchange()
	ex.startErr = errors.New("gateway timeout")
	ex.getRes = &interview.Interview{ID: "iv_1", CurrentQuestion: "Recovered question?"}

	c := newTestController("iv_1", seq, cap, ex)
	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}

	waitSignal(t, cap.started, "expected capture after recovered question")
	sequences := seq.Sequences()
	if len(sequences) != 1 || sequences[0][len(sequences[0])-1] != "Recovered question?" {
		t.Fatalf("expected recovered question played, got %v", sequences)
	}
}

func TestBeginDemoFailureSkipsRecovery(t *testing.T) {
	seq := &fakeSequencer{}
	cap := newFakeCapture()
	ex := newFakeExchange()
	ex.startErr = errors.New("gateway timeout")

	c := newTestController("demo_abc", seq, cap, ex)
	if err := c.Begin(context.Background()); err == nil {
		t.Fatal("expected begin to fail")
	}
	if c.Phase() != PhaseErrored {
		t.Fatalf("expected errored, got %s", c.Phase())
	}
	if ex.getCalls != 0 {
		t.Fatalf("demo sessions have no record to recover, got %d fetches", ex.getCalls)
	}
}

func TestAnswerSubmissionRecordsTurnAndPlaysFollowUp(t *testing.T) {
	seq := &fakeSequencer{}
	cap := newFakeCapture()
	ex := newFakeExchange()
	ex.startRes = exchange.StartResult{Question: "Q1"}
	ex.nextQuestion = "Q2"

	c := newTestController("iv_1", seq, cap, ex)
	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	waitSignal(t, cap.started, "expected first capture")

	cap.onAnswer("I spent four years on the infra team.")

	waitSignal(t, cap.started, "expected capture reopened for the follow-up")
	waitSignal(t, ex.persisted, "expected transcript persisted")

	turns := c.Turns()
	if len(turns) != 1 || turns[0].Question != "Q1" || turns[0].Answer != "I spent four years on the infra team." {
		t.Fatalf("wrong turns: %+v", turns)
	}

	sequences := seq.Sequences()
	if len(sequences) != 2 || sequences[1][len(sequences[1])-1] != "Q2" {
		t.Fatalf("expected follow-up played, got %v", sequences)
	}
}

func TestSubmitFailureReopensCaptureWithoutRecordingTurn(t *testing.T) {
	seq := &fakeSequencer{}
	cap := newFakeCapture()
	ex := newFakeExchange()
	ex.startRes = exchange.StartResult{Question: "Q1"}
	ex.submitErrs = []error{errors.New("backend down")}

	c := newTestController("iv_1", seq, cap, ex)
	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	waitSignal(t, cap.started, "expected first capture")

	cap.onAnswer("lost answer")

	waitSignal(t, cap.started, "expected capture retried after submit failure")
	if got := c.Turns(); len(got) != 0 {
		t.Fatalf("failed submission must not record a turn, got %+v", got)
	}
	if c.Phase() != PhaseCapturing {
		t.Fatalf("expected capturing, got %s", c.Phase())
	}
}

func TestCompleteDuringSubmitRetryLeavesCaptureClosed(t *testing.T) {
	seq := &fakeSequencer{}
	cap := newFakeCapture()
	ex := newFakeExchange()
	ex.startRes = exchange.StartResult{Question: "Q1"}
	ex.submitErrs = []error{errors.New("backend down")}

	c := newTestController("iv_1", seq, cap, ex)
	sleeping := make(chan struct{})
	release := make(chan struct{})
	c.sleep = func(time.Duration) {
		close(sleeping)
		<-release
	}

	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	waitSignal(t, cap.started, "expected first capture")

	handled := make(chan struct{})
	go func() {
		cap.onAnswer("half an answer")
		close(handled)
	}()
	waitSignal(t, sleeping, "expected retry delay after submit failure")

	if _, err := c.Complete(context.Background()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	close(release)
	waitSignal(t, handled, "expected answer handler to return")

	if got := cap.Starts(); got != 1 {
		t.Fatalf("capture must stay closed after completion, got %d starts", got)
	}
	if c.Phase() != PhaseTerminated {
		t.Fatalf("expected terminated, got %s", c.Phase())
	}
}

func TestEphemeralSessionNeverPersists(t *testing.T) {
	seq := &fakeSequencer{}
	cap := newFakeCapture()
	ex := newFakeExchange()
	ex.startRes = exchange.StartResult{Question: "Q1"}
	ex.nextQuestion = "Q2"
	ex.completeRes = exchange.CompleteResult{Feedback: &interview.Feedback{OverallScore: 70}}

	c := newTestController("demo_run", seq, cap, ex)
	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	waitSignal(t, cap.started, "expected first capture")

	cap.onAnswer("demo answer")
	waitSignal(t, cap.started, "expected follow-up capture")

	if _, err := c.Complete(context.Background()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := ex.PersistCalls(); got != 0 {
		t.Fatalf("ephemeral session persisted %d times", got)
	}
	if got := ex.CompleteCalls(); got != 1 {
		t.Fatalf("expected completion scored once, got %d", got)
	}
}

func TestEmptyAnswerResumesListening(t *testing.T) {
	seq := &fakeSequencer{}
	cap := newFakeCapture()
	ex := newFakeExchange()
	ex.startRes = exchange.StartResult{Question: "Q1"}

	c := newTestController("iv_1", seq, cap, ex)
	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	waitSignal(t, cap.started, "expected first capture")

	cap.onNoAnswer()

	waitSignal(t, cap.started, "expected capture reopened after empty answer")
	if c.Phase() != PhaseCapturing {
		t.Fatalf("expected capturing, got %s", c.Phase())
	}
	if got := ex.submitCalls; got != 0 {
		t.Fatalf("blank answers must never submit, got %d", got)
	}
}

func TestCompleteTerminatesExactlyOnce(t *testing.T) {
	seq := &fakeSequencer{}
	cap := newFakeCapture()
	ex := newFakeExchange()
	ex.startRes = exchange.StartResult{Question: "Q1"}
	ex.completeRes = exchange.CompleteResult{Feedback: &interview.Feedback{OverallScore: 82}}

	c := newTestController("iv_1", seq, cap, ex)
	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	waitSignal(t, cap.started, "expected capture")

	fb, err := c.Complete(context.Background())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if fb == nil || fb.OverallScore != 82 {
		t.Fatalf("wrong feedback: %+v", fb)
	}
	if c.Phase() != PhaseTerminated {
		t.Fatalf("expected terminated, got %s", c.Phase())
	}

	select {
	case <-c.Done():
	default:
		t.Fatal("expected Done closed")
	}

	// Second call is a no-op.
	if _, err := c.Complete(context.Background()); err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if got := ex.CompleteCalls(); got != 1 {
		t.Fatalf("expected 1 completion call, got %d", got)
	}

	// Capture was stopped without submitting.
	if len(cap.stops) != 1 || cap.stops[0] {
		t.Fatalf("expected one stop without submit, got %v", cap.stops)
	}
}

func TestCompleteDegradedStillTerminates(t *testing.T) {
	seq := &fakeSequencer{}
	cap := newFakeCapture()
	ex := newFakeExchange()
	ex.startRes = exchange.StartResult{Question: "Q1"}
	ex.completeErr = errors.New("scoring unavailable")

	c := newTestController("iv_1", seq, cap, ex)
	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	waitSignal(t, cap.started, "expected capture")

	if _, err := c.Complete(context.Background()); err == nil {
		t.Fatal("expected completion error surfaced")
	}
	if c.Phase() != PhaseTerminated {
		t.Fatalf("feedback failure must still terminate, got %s", c.Phase())
	}
}

func TestNoFollowUpCompletesSession(t *testing.T) {
	seq := &fakeSequencer{}
	cap := newFakeCapture()
	ex := newFakeExchange()
	ex.startRes = exchange.StartResult{Question: "Q1"}
	ex.nextQuestion = ""
	ex.completeRes = exchange.CompleteResult{Feedback: &interview.Feedback{OverallScore: 60}}

	c := newTestController("iv_1", seq, cap, ex)
	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	waitSignal(t, cap.started, "expected capture")

	cap.onAnswer("final answer")

	waitSignal(t, c.Done(), "expected session to finish itself")
	if got := ex.CompleteCalls(); got != 1 {
		t.Fatalf("expected completion, got %d calls", got)
	}
	if fb := c.Feedback(); fb == nil || fb.OverallScore != 60 {
		t.Fatalf("wrong feedback: %+v", fb)
	}
}

func TestTeardownReleasesEverything(t *testing.T) {
	seq := &fakeSequencer{}
	cap := newFakeCapture()
	ex := newFakeExchange()
	ex.startRes = exchange.StartResult{Question: "Q1"}

	c := newTestController("iv_1", seq, cap, ex)
	if err := c.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	waitSignal(t, cap.started, "expected capture")

	c.Teardown()

	if c.Phase() != PhaseTerminated {
		t.Fatalf("expected terminated, got %s", c.Phase())
	}
	if cap.teardowns != 1 {
		t.Fatalf("expected capture teardown, got %d", cap.teardowns)
	}
	seq.mu.Lock()
	stops := seq.stops
	seq.mu.Unlock()
	if stops == 0 {
		t.Fatal("expected audio stopped")
	}
}
