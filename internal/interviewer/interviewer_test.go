package interviewer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/parley-ai/parley/internal/llm"
)

type fakeClient struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeClient) Complete(_ context.Context, messages []llm.Message) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, messages[len(messages)-1].Content)
	idx := f.calls - 1
	if idx < len(f.errs) && f.errs[idx] != nil {
		return "", f.errs[idx]
	}
	if idx < len(f.responses) {
		return f.responses[idx], nil
	}
	return "", errors.New("no response configured")
}

func newTestInterviewer(client llm.Client) *Interviewer {
	iv := New(client)
	iv.sleep = func(time.Duration) {}
	return iv
}

func TestFirstQuestion(t *testing.T) {
	client := &fakeClient{responses: []string{"  What is a goroutine?  \n"}}
	iv := newTestInterviewer(client)

	question, err := iv.FirstQuestion(context.Background(), "Go Developer", "Build services", "hard")
	if err != nil {
		t.Fatalf("first question: %v", err)
	}
	if question != "What is a goroutine?" {
		t.Fatalf("expected trimmed question, got %q", question)
	}
	if !strings.Contains(client.prompts[0], "Go Developer") {
		t.Fatal("prompt missing job title")
	}
	if !strings.Contains(client.prompts[0], "hard") {
		t.Fatal("prompt missing difficulty")
	}
}

func TestFirstQuestionNormalizesDifficulty(t *testing.T) {
	client := &fakeClient{responses: []string{"Q"}}
	iv := newTestInterviewer(client)

	if _, err := iv.FirstQuestion(context.Background(), "SRE", "", "brutal"); err != nil {
		t.Fatalf("first question: %v", err)
	}
	if !strings.Contains(client.prompts[0], "medium") {
		t.Fatal("expected unknown difficulty to fall back to medium")
	}
}

func TestFollowUpIncludesExchange(t *testing.T) {
	client := &fakeClient{responses: []string{"How would you debug it?"}}
	iv := newTestInterviewer(client)

	question, err := iv.FollowUp(context.Background(), "What is a deadlock?", "Two goroutines waiting on each other.", "Go Developer")
	if err != nil {
		t.Fatalf("follow-up: %v", err)
	}
	if question != "How would you debug it?" {
		t.Fatalf("unexpected question: %q", question)
	}
	if !strings.Contains(client.prompts[0], "Two goroutines waiting on each other.") {
		t.Fatal("prompt missing candidate answer")
	}
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	client := &fakeClient{
		errs:      []error{errors.New("rate limited"), errors.New("rate limited")},
		responses: []string{"", "", "Tell me about yourself."},
	}
	iv := newTestInterviewer(client)

	question, err := iv.FirstQuestion(context.Background(), "SRE", "", "easy")
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if question != "Tell me about yourself." {
		t.Fatalf("unexpected question: %q", question)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", client.calls)
	}
}

func TestCompleteGivesUpAfterRetries(t *testing.T) {
	boom := errors.New("provider down")
	client := &fakeClient{errs: []error{boom, boom, boom}}
	iv := newTestInterviewer(client)

	_, err := iv.FirstQuestion(context.Background(), "SRE", "", "easy")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", client.calls)
	}
}

func TestCompleteStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{errs: []error{context.Canceled}}
	iv := newTestInterviewer(client)
	cancel()

	if _, err := iv.FirstQuestion(ctx, "SRE", "", "easy"); err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if client.calls != 1 {
		t.Fatalf("expected no retries after cancellation, got %d calls", client.calls)
	}
}

func TestFeedbackParsesReport(t *testing.T) {
	client := &fakeClient{responses: []string{`{
		"overallScore": 82,
		"strengths": ["clear communication"],
		"weaknesses": ["little production experience"],
		"recommendations": ["practice system design"],
		"detailedAnalysis": "Solid fundamentals."
	}`}}
	iv := newTestInterviewer(client)

	fb, err := iv.Feedback(context.Background(), FeedbackParams{
		JobTitle:   "Go Developer",
		Difficulty: "medium",
		Questions:  []string{"Q1", "Q2"},
		Transcript: []string{"A1", "A2"},
	})
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if fb.OverallScore != 82 {
		t.Fatalf("wrong score: %d", fb.OverallScore)
	}
	if len(fb.Strengths) != 1 || fb.Strengths[0] != "clear communication" {
		t.Fatalf("wrong strengths: %v", fb.Strengths)
	}
	if fb.GeneratedAt.IsZero() {
		t.Fatal("expected GeneratedAt set")
	}
	if !strings.Contains(client.prompts[0], "1. Q1") {
		t.Fatal("prompt missing numbered questions")
	}
}

func TestParseFeedbackToleratesFencesAndProse(t *testing.T) {
	raw := "Here is the evaluation:\n```json\n{\"overallScore\": 55, \"detailedAnalysis\": \"ok\"}\n```\nGood luck!"

	fb, err := ParseFeedback(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fb.OverallScore != 55 || fb.DetailedAnalysis != "ok" {
		t.Fatalf("wrong feedback: %+v", fb)
	}
}

func TestParseFeedbackClampsScore(t *testing.T) {
	fb, err := ParseFeedback(`{"overallScore": 140}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fb.OverallScore != 100 {
		t.Fatalf("expected clamp to 100, got %d", fb.OverallScore)
	}

	fb, err = ParseFeedback(`{"overallScore": -3}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fb.OverallScore != 0 {
		t.Fatalf("expected clamp to 0, got %d", fb.OverallScore)
	}
}

func TestParseFeedbackRejectsNonJSON(t *testing.T) {
	if _, err := ParseFeedback("sorry, I cannot help with that"); err == nil {
		t.Fatal("expected error for response without JSON")
	}
}
