package interview

import (
	"strings"
	"time"
)

// Interview statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Difficulty levels accepted by the question generator.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// EphemeralPrefix marks interview ids that must never reach the store.
// Demo sessions behave exactly like persisted ones otherwise.
const EphemeralPrefix = "demo_"

// IsEphemeral reports whether the interview id names a demo session.
func IsEphemeral(id string) bool {
	return strings.HasPrefix(id, EphemeralPrefix)
}

// Turn is one question/answer exchange. Immutable once recorded.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Feedback is the scored report produced when an interview completes.
type Feedback struct {
	OverallScore     int       `json:"overallScore"`
	Strengths        []string  `json:"strengths"`
	Weaknesses       []string  `json:"weaknesses"`
	Recommendations  []string  `json:"recommendations"`
	DetailedAnalysis string    `json:"detailedAnalysis"`
	GeneratedAt      time.Time `json:"generatedAt"`
}

// Interview is the persisted record of one interview attempt.
type Interview struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId,omitempty"`
	JobTitle        string     `json:"jobTitle"`
	JobDescription  string     `json:"jobDescription"`
	Difficulty      string     `json:"difficulty"`
	Status          string     `json:"status"`
	CurrentQuestion string     `json:"currentQuestion"`
	Questions       []string   `json:"questions"`
	Transcript      []string   `json:"transcript"`
	AudioURL        string     `json:"audioUrl,omitempty"`
	Feedback        *Feedback  `json:"feedback,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Turns pairs the recorded questions with their answers. Extra questions
// without a matching answer (the one still awaiting a reply) are skipped.
func (iv *Interview) Turns() []Turn {
	n := len(iv.Questions)
	if len(iv.Transcript) < n {
		n = len(iv.Transcript)
	}
	turns := make([]Turn, 0, n)
	for i := 0; i < n; i++ {
		turns = append(turns, Turn{Question: iv.Questions[i], Answer: iv.Transcript[i]})
	}
	return turns
}

// ValidDifficulty reports whether d is a supported difficulty level.
func ValidDifficulty(d string) bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}
