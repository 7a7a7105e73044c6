package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type InterviewStartedEvent struct {
	Event
	InterviewID string `json:"interviewId"`
	JobTitle    string `json:"jobTitle"`
}

type TurnRecordedEvent struct {
	Event
	InterviewID string `json:"interviewId"`
	Question    string `json:"question"`
	Answer      string `json:"answer"`
}

type InterviewCompletedEvent struct {
	Event
	InterviewID string `json:"interviewId"`
	Degraded    bool   `json:"degraded"`
}

type FeedbackReadyEvent struct {
	Event
	InterviewID  string `json:"interviewId"`
	UserID       string `json:"userId"`
	OverallScore int    `json:"overallScore"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
