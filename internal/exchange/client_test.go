package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parley-ai/parley/internal/interview"
)

func TestStartInterview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/interview/start" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["interviewId"] != "iv_1" {
			t.Fatalf("wrong interview id: %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"question":         "Walk me through your resume.",
			"status":           "in_progress",
			"transcriptionKey": "dg_key",
		})
	}))
	defer srv.Close()

	client := New(srv.URL)
	res, err := client.StartInterview(context.Background(), StartRequest{InterviewID: "iv_1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Question != "Walk me through your resume." || res.TranscriptionKey != "dg_key" {
		t.Fatalf("wrong result: %+v", res)
	}
}

func TestStartInterviewCarriesJobContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["interviewId"] != "demo_7" || body["jobTitle"] != "SRE" {
			t.Fatalf("wrong body: %v", body)
		}
		if body["jobDescription"] != "Run the pager." || body["difficulty"] != "hard" {
			t.Fatalf("wrong job context: %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"question": "What does an error budget buy you?",
			"status":   "in_progress",
		})
	}))
	defer srv.Close()

	client := New(srv.URL)
	res, err := client.StartInterview(context.Background(), StartRequest{
		InterviewID:    "demo_7",
		JobTitle:       "SRE",
		JobDescription: "Run the pager.",
		Difficulty:     "hard",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Question != "What does an error budget buy you?" {
		t.Fatalf("wrong result: %+v", res)
	}
}

func TestGetInterview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/interview/iv_9" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(interview.Interview{
			ID:              "iv_9",
			CurrentQuestion: "Why this role?",
		})
	}))
	defer srv.Close()

	client := New(srv.URL)
	iv, err := client.GetInterview(context.Background(), "iv_9")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if iv.CurrentQuestion != "Why this role?" {
		t.Fatalf("wrong interview: %+v", iv)
	}
}

func TestSubmitAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["answer"] != "Because I like hard problems." || body["jobTitle"] != "SRE" {
			t.Fatalf("wrong body: %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"nextQuestion": "Describe an incident you ran."})
	}))
	defer srv.Close()

	client := New(srv.URL)
	res, err := client.SubmitAnswer(context.Background(), "demo_1", "Why this role?", "Because I like hard problems.", "SRE")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.NextQuestion != "Describe an incident you ran." {
		t.Fatalf("wrong result: %+v", res)
	}
}

func TestCompleteInterview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req CompleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(req.Turns) != 1 || req.Turns[0].Question != "Q1" {
			t.Fatalf("wrong turns: %+v", req.Turns)
		}
		_ = json.NewEncoder(w).Encode(CompleteResult{
			Feedback: &interview.Feedback{OverallScore: 77},
		})
	}))
	defer srv.Close()

	client := New(srv.URL)
	res, err := client.CompleteInterview(context.Background(), CompleteRequest{
		InterviewID: "iv_1",
		Turns:       []interview.Turn{{Question: "Q1", Answer: "A1"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Feedback == nil || res.Feedback.OverallScore != 77 {
		t.Fatalf("wrong result: %+v", res)
	}
}

func TestErrorCarriesServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "interview already completed"})
	}))
	defer srv.Close()

	client := New(srv.URL)
	_, err := client.StartInterview(context.Background(), StartRequest{InterviewID: "iv_1"})

	var exErr *Error
	if !errors.As(err, &exErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if exErr.Status != http.StatusConflict || exErr.Message != "interview already completed" {
		t.Fatalf("wrong error: %+v", exErr)
	}
}

func TestPersistTranscriptEntryNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/interview/update-transcript" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := New(srv.URL)
	if err := client.PersistTranscriptEntry(context.Background(), "iv_1", "Q1", "A1"); err != nil {
		t.Fatalf("persist: %v", err)
	}
}
