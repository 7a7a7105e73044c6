package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/parley-ai/parley/internal/interview"
	"github.com/parley-ai/parley/internal/interviewer"
	"github.com/parley-ai/parley/internal/storage"
	"github.com/parley-ai/parley/internal/synth"
)

var interviewIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// InterviewStore is the persistence surface the API needs. Ephemeral
// interviews (demo_ ids) never reach it.
type InterviewStore interface {
	CreateInterview(iv interview.Interview) error
	GetInterview(id string) (interview.Interview, error)
	UpdateInterview(id string, upd storage.InterviewUpdate) error
	ListInterviews(filter storage.ListFilter) ([]interview.Interview, error)
	CountInterviews(filter storage.ListFilter) (int, error)
	UpsertProfile(p storage.Profile) error
	GetProfile(userID string) (storage.Profile, error)
	AddFeedbackEntry(entry storage.FeedbackEntry) error
	ListFeedbackEntries(userID string) ([]storage.FeedbackEntry, error)
	GetFeedbackEntry(userID string, id int64) (storage.FeedbackEntry, error)
}

// QuestionGenerator produces questions and scored feedback.
type QuestionGenerator interface {
	FirstQuestion(ctx context.Context, jobTitle, jobDescription, difficulty string) (string, error)
	FollowUp(ctx context.Context, prevQuestion, answer, jobTitle string) (string, error)
	Feedback(ctx context.Context, params interviewer.FeedbackParams) (interview.Feedback, error)
}

// Synthesizer turns question text into playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (synth.Clip, error)
}

func registerAPIRoutes(mux *http.ServeMux, store InterviewStore, gen QuestionGenerator, tts Synthesizer, hub *Hub, cfg Config) {
	mux.HandleFunc("POST /api/interview/create", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID         string `json:"userId"`
			JobTitle       string `json:"jobTitle"`
			JobDescription string `json:"jobDescription"`
			Difficulty     string `json:"difficulty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.JobTitle == "" {
			writeJSONError(w, http.StatusBadRequest, "jobTitle is required")
			return
		}
		if req.Difficulty == "" {
			req.Difficulty = interview.DifficultyMedium
		}
		if !interview.ValidDifficulty(req.Difficulty) {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unsupported difficulty %q", req.Difficulty))
			return
		}

		now := time.Now().UTC()
		iv := interview.Interview{
			ID:             newInterviewID(),
			UserID:         req.UserID,
			JobTitle:       req.JobTitle,
			JobDescription: req.JobDescription,
			Difficulty:     req.Difficulty,
			Status:         interview.StatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := store.CreateInterview(iv); err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("create interview: %v", err))
			return
		}
		writeJSON(w, http.StatusCreated, iv)
	})

	mux.HandleFunc("GET /api/interview/list", func(w http.ResponseWriter, r *http.Request) {
		filter := storage.ListFilter{
			UserID: r.URL.Query().Get("userId"),
			Status: r.URL.Query().Get("status"),
			Limit:  queryInt(r, "limit", 50),
			Offset: queryInt(r, "offset", 0),
		}
		interviews, err := store.ListInterviews(filter)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list interviews: %v", err))
			return
		}
		total, err := store.CountInterviews(filter)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("count interviews: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"interviews": interviews,
			"total":      total,
		})
	})

	mux.HandleFunc("GET /api/interview/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !validInterviewID(id) {
			writeJSONError(w, http.StatusForbidden, "invalid interview id")
			return
		}
		if interview.IsEphemeral(id) {
			writeJSONError(w, http.StatusNotFound, "ephemeral interviews have no stored record")
			return
		}
		iv, err := store.GetInterview(id)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, storage.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get interview: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, iv)
	})

	mux.HandleFunc("POST /api/interview/start", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			InterviewID    string `json:"interviewId"`
			JobTitle       string `json:"jobTitle"`
			JobDescription string `json:"jobDescription"`
			Difficulty     string `json:"difficulty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InterviewID == "" {
			writeJSONError(w, http.StatusBadRequest, "interviewId is required")
			return
		}
		if !validInterviewID(req.InterviewID) {
			writeJSONError(w, http.StatusForbidden, "invalid interview id")
			return
		}

		if interview.IsEphemeral(req.InterviewID) {
			if req.JobTitle == "" {
				writeJSONError(w, http.StatusBadRequest, "jobTitle is required for demo interviews")
				return
			}
			if req.Difficulty == "" {
				req.Difficulty = interview.DifficultyMedium
			}
			question, err := gen.FirstQuestion(r.Context(), req.JobTitle, req.JobDescription, req.Difficulty)
			if err != nil {
				writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("generate question: %v", err))
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"question":         question,
				"status":           interview.StatusInProgress,
				"transcriptionKey": cfg.TranscriptionKey,
			})
			return
		}

		iv, err := store.GetInterview(req.InterviewID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, storage.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get interview: %v", err))
			return
		}

		switch iv.Status {
		case interview.StatusCompleted:
			writeJSONError(w, http.StatusConflict, "interview already completed")
			return
		case interview.StatusInProgress:
			// A retried start is not an error; hand back the question
			// the interview is currently waiting on.
			writeJSON(w, http.StatusOK, map[string]any{
				"question":         iv.CurrentQuestion,
				"status":           iv.Status,
				"transcriptionKey": cfg.TranscriptionKey,
			})
			return
		}

		question, err := gen.FirstQuestion(r.Context(), iv.JobTitle, iv.JobDescription, iv.Difficulty)
		if err != nil {
			writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("generate question: %v", err))
			return
		}

		now := time.Now().UTC()
		status := interview.StatusInProgress
		if err := store.UpdateInterview(iv.ID, storage.InterviewUpdate{
			Status:          &status,
			CurrentQuestion: &question,
			Questions:       []string{question},
			StartedAt:       &now,
		}); err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("update interview: %v", err))
			return
		}
		hub.BroadcastInterviewStarted(iv.ID, iv.JobTitle)

		writeJSON(w, http.StatusOK, map[string]any{
			"question":         question,
			"status":           status,
			"transcriptionKey": cfg.TranscriptionKey,
		})
	})

	mux.HandleFunc("POST /api/interview/respond", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			InterviewID string `json:"interviewId"`
			Question    string `json:"question"`
			Answer      string `json:"answer"`
			JobTitle    string `json:"jobTitle"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InterviewID == "" {
			writeJSONError(w, http.StatusBadRequest, "interviewId is required")
			return
		}
		if req.Answer == "" {
			writeJSONError(w, http.StatusBadRequest, "answer is required")
			return
		}

		jobTitle := req.JobTitle
		var iv interview.Interview
		haveRecord := false
		if !interview.IsEphemeral(req.InterviewID) {
			var err error
			iv, err = store.GetInterview(req.InterviewID)
			if err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, storage.ErrNotFound) {
					status = http.StatusNotFound
				}
				writeJSONError(w, status, fmt.Sprintf("get interview: %v", err))
				return
			}
			haveRecord = true
			if jobTitle == "" {
				jobTitle = iv.JobTitle
			}
		}

		next, err := gen.FollowUp(r.Context(), req.Question, req.Answer, jobTitle)
		if err != nil {
			writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("generate follow-up: %v", err))
			return
		}

		if haveRecord {
			if err := store.UpdateInterview(iv.ID, storage.InterviewUpdate{
				CurrentQuestion: &next,
				Questions:       append(iv.Questions, next),
			}); err != nil {
				writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("update interview: %v", err))
				return
			}
		}

		writeJSON(w, http.StatusOK, map[string]string{"nextQuestion": next})
	})

	mux.HandleFunc("POST /api/interview/update-transcript", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			InterviewID string `json:"interviewId"`
			Question    string `json:"question"`
			Answer      string `json:"answer"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InterviewID == "" {
			writeJSONError(w, http.StatusBadRequest, "interviewId is required")
			return
		}
		if interview.IsEphemeral(req.InterviewID) {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		iv, err := store.GetInterview(req.InterviewID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, storage.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get interview: %v", err))
			return
		}

		if err := store.UpdateInterview(iv.ID, storage.InterviewUpdate{
			Transcript: append(iv.Transcript, req.Answer),
		}); err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("update transcript: %v", err))
			return
		}
		hub.BroadcastTurnRecorded(iv.ID, req.Question, req.Answer)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/interview/complete", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			InterviewID    string           `json:"interviewId"`
			JobTitle       string           `json:"jobTitle"`
			JobDescription string           `json:"jobDescription"`
			Difficulty     string           `json:"difficulty"`
			Turns          []interview.Turn `json:"turns"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InterviewID == "" {
			writeJSONError(w, http.StatusBadRequest, "interviewId is required")
			return
		}

		params := interviewer.FeedbackParams{
			JobTitle:       req.JobTitle,
			JobDescription: req.JobDescription,
			Difficulty:     req.Difficulty,
		}
		for _, turn := range req.Turns {
			params.Questions = append(params.Questions, turn.Question)
			params.Transcript = append(params.Transcript, turn.Answer)
		}

		var iv interview.Interview
		haveRecord := false
		if !interview.IsEphemeral(req.InterviewID) {
			var err error
			iv, err = store.GetInterview(req.InterviewID)
			if err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, storage.ErrNotFound) {
					status = http.StatusNotFound
				}
				writeJSONError(w, status, fmt.Sprintf("get interview: %v", err))
				return
			}
			haveRecord = true
			// Completing twice hands back the feedback already scored.
			if iv.Status == interview.StatusCompleted && iv.Feedback != nil {
				writeJSON(w, http.StatusOK, map[string]any{"feedback": iv.Feedback})
				return
			}
			if params.JobTitle == "" {
				params.JobTitle = iv.JobTitle
			}
			if params.JobDescription == "" {
				params.JobDescription = iv.JobDescription
			}
			if params.Difficulty == "" {
				params.Difficulty = iv.Difficulty
			}
			if len(params.Questions) == 0 {
				params.Questions = iv.Questions
				params.Transcript = iv.Transcript
			}
		}

		now := time.Now().UTC()
		completed := interview.StatusCompleted

		fb, err := gen.Feedback(r.Context(), params)
		if err != nil {
			// The interview still closes; only the report is missing.
			log.Printf("feedback generation failed for %s: %v", req.InterviewID, err)
			if haveRecord {
				if uerr := store.UpdateInterview(iv.ID, storage.InterviewUpdate{
					Status:      &completed,
					CompletedAt: &now,
				}); uerr != nil {
					log.Printf("mark interview %s completed: %v", iv.ID, uerr)
				}
			}
			hub.BroadcastInterviewCompleted(req.InterviewID, true)
			writeJSON(w, http.StatusOK, map[string]any{"degraded": true})
			return
		}
		fb.GeneratedAt = now

		if haveRecord {
			if err := store.UpdateInterview(iv.ID, storage.InterviewUpdate{
				Status:      &completed,
				Feedback:    &fb,
				CompletedAt: &now,
			}); err != nil {
				writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("update interview: %v", err))
				return
			}
			if iv.UserID != "" {
				if err := store.AddFeedbackEntry(storage.FeedbackEntry{
					UserID:      iv.UserID,
					InterviewID: iv.ID,
					JobTitle:    params.JobTitle,
					Difficulty:  params.Difficulty,
					CompletedAt: now,
					Feedback:    fb,
				}); err != nil {
					log.Printf("save feedback entry for %s: %v", iv.ID, err)
				}
			}
			hub.BroadcastFeedbackReady(iv.ID, iv.UserID, fb.OverallScore)
		}
		hub.BroadcastInterviewCompleted(req.InterviewID, false)

		writeJSON(w, http.StatusOK, map[string]any{"feedback": fb})
	})

	mux.HandleFunc("GET /api/user/feedback", func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		if userID == "" {
			writeJSONError(w, http.StatusBadRequest, "userId is required")
			return
		}
		entries, err := store.ListFeedbackEntries(userID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list feedback: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})

	mux.HandleFunc("GET /api/user/feedback/{id}", func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		if userID == "" {
			writeJSONError(w, http.StatusBadRequest, "userId is required")
			return
		}
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid feedback id")
			return
		}
		entry, err := store.GetFeedbackEntry(userID, id)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, storage.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get feedback: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, entry)
	})

	mux.HandleFunc("GET /api/user/profile", func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		if userID == "" {
			writeJSONError(w, http.StatusBadRequest, "userId is required")
			return
		}
		profile, err := store.GetProfile(userID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, storage.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get profile: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, profile)
	})

	mux.HandleFunc("PUT /api/user/profile", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID      string `json:"userId"`
			DisplayName string `json:"displayName"`
			Email       string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			writeJSONError(w, http.StatusBadRequest, "userId is required")
			return
		}
		now := time.Now().UTC()
		profile := storage.Profile{
			UserID:      req.UserID,
			DisplayName: req.DisplayName,
			Email:       req.Email,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := store.UpsertProfile(profile); err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("save profile: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, profile)
	})

	mux.HandleFunc("POST /api/audio/question", func(w http.ResponseWriter, r *http.Request) {
		if tts == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "speech synthesis not configured")
			return
		}
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
			writeJSONError(w, http.StatusBadRequest, "text is required")
			return
		}
		clip, err := tts.Synthesize(r.Context(), req.Text)
		if err != nil {
			writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("synthesize: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"audioUrl": clip.DataURL(),
			"mimeType": clip.MIME,
		})
	})
}

func validInterviewID(id string) bool {
	return interviewIDPattern.MatchString(id)
}

func newInterviewID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("iv_%d", time.Now().UnixNano())
	}
	return "iv_" + hex.EncodeToString(buf)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
