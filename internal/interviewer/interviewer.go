// Package interviewer generates interview questions and scored feedback
// reports through a configurable LLM provider.
package interviewer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/parley-ai/parley/internal/interview"
	"github.com/parley-ai/parley/internal/llm"
)

// FeedbackParams carries everything the evaluator prompt needs.
type FeedbackParams struct {
	JobTitle       string
	JobDescription string
	Difficulty     string
	Questions      []string
	Transcript     []string
}

type Interviewer struct {
	client llm.Client
	sleep  func(time.Duration)
}

func New(client llm.Client) *Interviewer {
	return &Interviewer{client: client, sleep: time.Sleep}
}

// FirstQuestion generates the opening question for a role.
func (iv *Interviewer) FirstQuestion(ctx context.Context, jobTitle, jobDescription, difficulty string) (string, error) {
	if !interview.ValidDifficulty(difficulty) {
		difficulty = interview.DifficultyMedium
	}

	prompt := fmt.Sprintf(`You are an expert interviewer. Generate a single, clear interview question for a %s position.

Job Description: %s
Difficulty Level: %s

Generate a question that:
1. Is relevant to the job role
2. Matches the difficulty level (%s)
3. Is clear and concise
4. Allows the candidate to demonstrate their skills

Return only the question, no additional text.`, jobTitle, jobDescription, difficulty, difficulty)

	question, err := iv.complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate first question: %w", err)
	}
	return question, nil
}

// FollowUp generates the next question from the previous exchange.
func (iv *Interviewer) FollowUp(ctx context.Context, prevQuestion, answer, jobTitle string) (string, error) {
	prompt := fmt.Sprintf(`Based on the following interview exchange, generate a relevant follow-up question.

Previous Question: %s
Candidate's Answer: %s
Job Title: %s

Generate a follow-up question that:
1. Builds on the candidate's answer
2. Goes deeper into the topic
3. Is relevant to the role

Return only the question, no additional text.`, prevQuestion, answer, jobTitle)

	question, err := iv.complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate follow-up question: %w", err)
	}
	return question, nil
}

// Feedback scores a finished interview.
func (iv *Interviewer) Feedback(ctx context.Context, params FeedbackParams) (interview.Feedback, error) {
	var questions strings.Builder
	for i, q := range params.Questions {
		fmt.Fprintf(&questions, "%d. %s\n", i+1, q)
	}

	prompt := fmt.Sprintf(`You are an expert interview evaluator. Analyze the following interview and provide comprehensive feedback.

Job Title: %s
Job Description: %s
Difficulty Level: %s

Questions Asked:
%s
Interview Transcript:
%s

Provide feedback in the following JSON format:
{
  "overallScore": <number 0-100>,
  "strengths": [<array of strengths>],
  "weaknesses": [<array of areas for improvement>],
  "recommendations": [<array of recommendations>],
  "detailedAnalysis": "<detailed text analysis>"
}

Return only valid JSON, no additional text.`,
		params.JobTitle, params.JobDescription, params.Difficulty,
		questions.String(), strings.Join(params.Transcript, "\n"))

	raw, err := iv.complete(ctx, prompt)
	if err != nil {
		return interview.Feedback{}, fmt.Errorf("generate feedback: %w", err)
	}

	feedback, err := ParseFeedback(raw)
	if err != nil {
		return interview.Feedback{}, err
	}
	feedback.GeneratedAt = time.Now().UTC()
	return feedback, nil
}

// ParseFeedback extracts the feedback object from model output, tolerating
// markdown code fences and surrounding prose.
func ParseFeedback(raw string) (interview.Feedback, error) {
	payload := strings.TrimSpace(raw)

	// Providers wrap JSON in ```json fences or prose despite instructions.
	start := strings.Index(payload, "{")
	end := strings.LastIndex(payload, "}")
	if start == -1 || end == -1 || end < start {
		return interview.Feedback{}, fmt.Errorf("feedback response contains no JSON object")
	}

	var feedback interview.Feedback
	if err := json.Unmarshal([]byte(payload[start:end+1]), &feedback); err != nil {
		return interview.Feedback{}, fmt.Errorf("parse feedback JSON: %w", err)
	}

	if feedback.OverallScore < 0 {
		feedback.OverallScore = 0
	}
	if feedback.OverallScore > 100 {
		feedback.OverallScore = 100
	}
	return feedback, nil
}

func (iv *Interviewer) complete(ctx context.Context, prompt string) (string, error) {
	messages := []llm.Message{{Role: "user", Content: prompt}}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second}
	var lastErr error
	for attempt := 0; attempt <= len(backoff); attempt++ {
		result, err := iv.client.Complete(ctx, messages)
		if err == nil {
			return strings.TrimSpace(result), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < len(backoff) {
			iv.sleep(backoff[attempt])
		}
	}
	return "", fmt.Errorf("completion failed after retries: %w", lastErr)
}
