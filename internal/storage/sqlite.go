package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/parley-ai/parley/internal/interview"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// FeedbackEntry is a feedback report attached to a user profile.
type FeedbackEntry struct {
	ID          int64              `json:"id"`
	UserID      string             `json:"userId"`
	InterviewID string             `json:"interviewId"`
	JobTitle    string             `json:"jobTitle"`
	Difficulty  string             `json:"difficulty"`
	CompletedAt time.Time          `json:"completedAt"`
	Feedback    interview.Feedback `json:"feedback"`
}

// Profile is a user profile record.
type Profile struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ListFilter narrows ListInterviews and CountInterviews.
type ListFilter struct {
	UserID string
	Status string
	Limit  int
	Offset int
}

// InterviewUpdate holds the fields UpdateInterview may change. Nil fields
// are left untouched.
type InterviewUpdate struct {
	Status          *string
	CurrentQuestion *string
	Questions       []string
	Transcript      []string
	AudioURL        *string
	Feedback        *interview.Feedback
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "parley.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS interviews (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			job_title TEXT NOT NULL,
			job_description TEXT NOT NULL DEFAULT '',
			difficulty TEXT NOT NULL DEFAULT 'medium',
			status TEXT NOT NULL DEFAULT 'pending',
			current_question TEXT NOT NULL DEFAULT '',
			questions TEXT NOT NULL DEFAULT '[]',
			transcript TEXT NOT NULL DEFAULT '[]',
			audio_url TEXT NOT NULL DEFAULT '',
			feedback TEXT,
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			updated_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create interviews table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS profiles (
			user_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create profiles table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS feedback_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			interview_id TEXT NOT NULL,
			job_title TEXT NOT NULL DEFAULT '',
			difficulty TEXT NOT NULL DEFAULT '',
			completed_at TEXT NOT NULL,
			feedback TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create feedback_entries table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_interviews_user ON interviews(user_id, created_at)"); err != nil {
		return fmt.Errorf("create interviews index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_feedback_user ON feedback_entries(user_id, completed_at)"); err != nil {
		return fmt.Errorf("create feedback index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateInterview(iv interview.Interview) error {
	if strings.TrimSpace(iv.ID) == "" {
		return errors.New("interview id is required")
	}
	if interview.IsEphemeral(iv.ID) {
		return fmt.Errorf("refusing to persist ephemeral interview %s", iv.ID)
	}

	now := time.Now().UTC()
	if iv.CreatedAt.IsZero() {
		iv.CreatedAt = now
	}
	if iv.Status == "" {
		iv.Status = interview.StatusPending
	}

	questions, err := marshalStrings(iv.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	transcript, err := marshalStrings(iv.Transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO interviews(id, user_id, job_title, job_description, difficulty, status,
			current_question, questions, transcript, audio_url, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		iv.ID, iv.UserID, iv.JobTitle, iv.JobDescription, iv.Difficulty, iv.Status,
		iv.CurrentQuestion, questions, transcript, iv.AudioURL,
		iv.CreatedAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create interview %s: %w", iv.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetInterview(id string) (interview.Interview, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, job_title, job_description, difficulty, status, current_question,
			questions, transcript, audio_url, feedback, created_at, started_at, completed_at, updated_at
		 FROM interviews WHERE id = ?`,
		id,
	)
	iv, err := scanInterview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return interview.Interview{}, ErrNotFound
	}
	if err != nil {
		return interview.Interview{}, fmt.Errorf("query interview %s: %w", id, err)
	}
	return iv, nil
}

func (s *SQLiteStore) UpdateInterview(id string, upd InterviewUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(time.RFC3339Nano)}

	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *upd.Status)
	}
	if upd.CurrentQuestion != nil {
		sets = append(sets, "current_question = ?")
		args = append(args, *upd.CurrentQuestion)
	}
	if upd.Questions != nil {
		questions, err := marshalStrings(upd.Questions)
		if err != nil {
			return fmt.Errorf("marshal questions: %w", err)
		}
		sets = append(sets, "questions = ?")
		args = append(args, questions)
	}
	if upd.Transcript != nil {
		transcript, err := marshalStrings(upd.Transcript)
		if err != nil {
			return fmt.Errorf("marshal transcript: %w", err)
		}
		sets = append(sets, "transcript = ?")
		args = append(args, transcript)
	}
	if upd.AudioURL != nil {
		sets = append(sets, "audio_url = ?")
		args = append(args, *upd.AudioURL)
	}
	if upd.Feedback != nil {
		payload, err := json.Marshal(upd.Feedback)
		if err != nil {
			return fmt.Errorf("marshal feedback: %w", err)
		}
		sets = append(sets, "feedback = ?")
		args = append(args, string(payload))
	}
	if upd.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, upd.StartedAt.UTC().Format(time.RFC3339Nano))
	}
	if upd.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, upd.CompletedAt.UTC().Format(time.RFC3339Nano))
	}

	args = append(args, id)
	res, err := s.db.Exec("UPDATE interviews SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update interview %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update interview rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteInterview(id string) error {
	res, err := s.db.Exec(`DELETE FROM interviews WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete interview %s: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete interview rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListInterviews(filter ListFilter) ([]interview.Interview, error) {
	where, args := filterClause(filter)

	query := `SELECT id, user_id, job_title, job_description, difficulty, status, current_question,
			questions, transcript, audio_url, feedback, created_at, started_at, completed_at, updated_at
		 FROM interviews` + where + ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list interviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var interviews []interview.Interview
	for rows.Next() {
		iv, err := scanInterview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan interview: %w", err)
		}
		interviews = append(interviews, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interview rows: %w", err)
	}
	return interviews, nil
}

func (s *SQLiteStore) CountInterviews(filter ListFilter) (int, error) {
	where, args := filterClause(filter)

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM interviews`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count interviews: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) UpsertProfile(p Profile) error {
	if strings.TrimSpace(p.UserID) == "" {
		return errors.New("user id is required")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(
		`INSERT INTO profiles(user_id, display_name, email, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET display_name = excluded.display_name,
			email = excluded.email, updated_at = excluded.updated_at`,
		p.UserID, p.DisplayName, p.Email, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.UserID, err)
	}
	return nil
}

func (s *SQLiteStore) GetProfile(userID string) (Profile, error) {
	row := s.db.QueryRow(
		`SELECT user_id, display_name, email, created_at, updated_at FROM profiles WHERE user_id = ?`,
		userID,
	)

	var p Profile
	var createdAt, updatedAt string
	if err := row.Scan(&p.UserID, &p.DisplayName, &p.Email, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("query profile %s: %w", userID, err)
	}

	var err error
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Profile{}, fmt.Errorf("parse profile %s created_at: %w", userID, err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Profile{}, fmt.Errorf("parse profile %s updated_at: %w", userID, err)
	}
	return p, nil
}

func (s *SQLiteStore) AddFeedbackEntry(entry FeedbackEntry) error {
	payload, err := json.Marshal(entry.Feedback)
	if err != nil {
		return fmt.Errorf("marshal feedback entry: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO feedback_entries(user_id, interview_id, job_title, difficulty, completed_at, feedback)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		entry.UserID, entry.InterviewID, entry.JobTitle, entry.Difficulty,
		entry.CompletedAt.UTC().Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return fmt.Errorf("add feedback entry for %s: %w", entry.UserID, err)
	}
	return nil
}

func (s *SQLiteStore) ListFeedbackEntries(userID string) ([]FeedbackEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, interview_id, job_title, difficulty, completed_at, feedback
		 FROM feedback_entries WHERE user_id = ? ORDER BY completed_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list feedback entries for %s: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []FeedbackEntry
	for rows.Next() {
		entry, err := scanFeedbackEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback rows: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) GetFeedbackEntry(userID string, id int64) (FeedbackEntry, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, interview_id, job_title, difficulty, completed_at, feedback
		 FROM feedback_entries WHERE user_id = ? AND id = ?`,
		userID, id,
	)
	entry, err := scanFeedbackEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return FeedbackEntry{}, ErrNotFound
	}
	if err != nil {
		return FeedbackEntry{}, err
	}
	return entry, nil
}

func filterClause(filter ListFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInterview(row rowScanner) (interview.Interview, error) {
	var iv interview.Interview
	var questions, transcript string
	var feedback, startedAt, completedAt sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&iv.ID, &iv.UserID, &iv.JobTitle, &iv.JobDescription, &iv.Difficulty,
		&iv.Status, &iv.CurrentQuestion, &questions, &transcript, &iv.AudioURL,
		&feedback, &createdAt, &startedAt, &completedAt, &updatedAt); err != nil {
		return interview.Interview{}, err
	}

	if err := json.Unmarshal([]byte(questions), &iv.Questions); err != nil {
		return interview.Interview{}, fmt.Errorf("parse interview %s questions: %w", iv.ID, err)
	}
	if err := json.Unmarshal([]byte(transcript), &iv.Transcript); err != nil {
		return interview.Interview{}, fmt.Errorf("parse interview %s transcript: %w", iv.ID, err)
	}
	if feedback.Valid && feedback.String != "" {
		var fb interview.Feedback
		if err := json.Unmarshal([]byte(feedback.String), &fb); err != nil {
			return interview.Interview{}, fmt.Errorf("parse interview %s feedback: %w", iv.ID, err)
		}
		iv.Feedback = &fb
	}

	var err error
	if iv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return interview.Interview{}, fmt.Errorf("parse interview %s created_at: %w", iv.ID, err)
	}
	if iv.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return interview.Interview{}, fmt.Errorf("parse interview %s updated_at: %w", iv.ID, err)
	}
	if startedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, startedAt.String)
		if err != nil {
			return interview.Interview{}, fmt.Errorf("parse interview %s started_at: %w", iv.ID, err)
		}
		iv.StartedAt = &t
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return interview.Interview{}, fmt.Errorf("parse interview %s completed_at: %w", iv.ID, err)
		}
		iv.CompletedAt = &t
	}

	return iv, nil
}

func scanFeedbackEntry(row rowScanner) (FeedbackEntry, error) {
	var entry FeedbackEntry
	var completedAt, payload string
	if err := row.Scan(&entry.ID, &entry.UserID, &entry.InterviewID, &entry.JobTitle,
		&entry.Difficulty, &completedAt, &payload); err != nil {
		return FeedbackEntry{}, err
	}

	var err error
	if entry.CompletedAt, err = time.Parse(time.RFC3339Nano, completedAt); err != nil {
		return FeedbackEntry{}, fmt.Errorf("parse feedback entry completed_at: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &entry.Feedback); err != nil {
		return FeedbackEntry{}, fmt.Errorf("parse feedback entry payload: %w", err)
	}
	return entry, nil
}

func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	payload, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
