// Package exchange is the HTTP client the interview session uses to
// talk to the backend: start, answer submission, transcript persistence
// and completion.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/parley-ai/parley/internal/interview"
)

// Error is a non-2xx response from the backend, carrying the
// server-provided message when one was decodable.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("exchange: %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("exchange: unexpected status %d", e.Status)
}

// Client talks JSON to a parleyd backend. Methods return *Error for
// non-2xx responses; they never retry, callers own retry policy.
type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartRequest identifies the interview to start. The job fields ride
// along for ephemeral interviews, which the backend holds no record of
// and needs the context to generate the first question.
type StartRequest struct {
	InterviewID    string `json:"interviewId"`
	JobTitle       string `json:"jobTitle,omitempty"`
	JobDescription string `json:"jobDescription,omitempty"`
	Difficulty     string `json:"difficulty,omitempty"`
}

// StartResult is the backend's reply to a start request.
type StartResult struct {
	Question         string `json:"question"`
	Status           string `json:"status"`
	TranscriptionKey string `json:"transcriptionKey,omitempty"`
}

// StartInterview moves the interview to in_progress and returns its
// first question. Starting an interview already in progress is not an
// error; the backend replies with the current question.
func (c *Client) StartInterview(ctx context.Context, req StartRequest) (StartResult, error) {
	var out StartResult
	err := c.post(ctx, "/api/interview/start", req, &out)
	return out, err
}

// GetInterview fetches the interview record. Used as the recovery path
// when a start request fails but may have taken effect.
func (c *Client) GetInterview(ctx context.Context, id string) (*interview.Interview, error) {
	var out interview.Interview
	if err := c.get(ctx, "/api/interview/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RespondResult is the backend's reply to a submitted answer.
type RespondResult struct {
	NextQuestion string `json:"nextQuestion"`
}

// SubmitAnswer records an answer and returns the follow-up question.
// jobTitle travels with the request so ephemeral interviews, which the
// backend holds no record of, still get relevant follow-ups.
func (c *Client) SubmitAnswer(ctx context.Context, id, question, answer, jobTitle string) (RespondResult, error) {
	var out RespondResult
	err := c.post(ctx, "/api/interview/respond", map[string]string{
		"interviewId": id,
		"question":    question,
		"answer":      answer,
		"jobTitle":    jobTitle,
	}, &out)
	return out, err
}

// PersistTranscriptEntry appends one turn to the stored transcript.
// Callers treat this as fire-and-forget; a failure never interrupts
// the session.
func (c *Client) PersistTranscriptEntry(ctx context.Context, id, question, answer string) error {
	return c.post(ctx, "/api/interview/update-transcript", map[string]string{
		"interviewId": id,
		"question":    question,
		"answer":      answer,
	}, nil)
}

// CompleteRequest carries everything the backend needs to score an
// interview, including the job context for ephemeral sessions.
type CompleteRequest struct {
	InterviewID    string           `json:"interviewId"`
	JobTitle       string           `json:"jobTitle,omitempty"`
	JobDescription string           `json:"jobDescription,omitempty"`
	Difficulty     string           `json:"difficulty,omitempty"`
	Turns          []interview.Turn `json:"turns"`
}

// CompleteResult is the backend's reply to a completion request.
// Degraded marks a completion whose feedback generation failed; the
// interview is still closed.
type CompleteResult struct {
	Feedback *interview.Feedback `json:"feedback,omitempty"`
	Degraded bool                `json:"degraded,omitempty"`
}

// CompleteInterview closes the interview and requests scored feedback.
func (c *Client) CompleteInterview(ctx context.Context, req CompleteRequest) (CompleteResult, error) {
	var out CompleteResult
	err := c.post(ctx, "/api/interview/complete", req, &out)
	return out, err
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Status: resp.StatusCode, Message: decodeErrorMessage(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeErrorMessage(r io.Reader) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&body); err != nil {
		return ""
	}
	return body.Error
}
