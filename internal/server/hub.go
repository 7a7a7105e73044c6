package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Hub fans interview lifecycle events out to websocket dashboards.
// Slow subscribers drop messages rather than blocking the broadcast.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastInterviewStarted(interviewID, jobTitle string) {
	h.broadcastEvent(InterviewStartedEvent{
		Event:       newEvent("interview_started", time.Now().UTC()),
		InterviewID: interviewID,
		JobTitle:    jobTitle,
	})
}

func (h *Hub) BroadcastTurnRecorded(interviewID, question, answer string) {
	h.broadcastEvent(TurnRecordedEvent{
		Event:       newEvent("turn_recorded", time.Now().UTC()),
		InterviewID: interviewID,
		Question:    question,
		Answer:      answer,
	})
}

func (h *Hub) BroadcastInterviewCompleted(interviewID string, degraded bool) {
	h.broadcastEvent(InterviewCompletedEvent{
		Event:       newEvent("interview_completed", time.Now().UTC()),
		InterviewID: interviewID,
		Degraded:    degraded,
	})
}

func (h *Hub) BroadcastFeedbackReady(interviewID, userID string, overallScore int) {
	h.broadcastEvent(FeedbackReadyEvent{
		Event:        newEvent("feedback_ready", time.Now().UTC()),
		InterviewID:  interviewID,
		UserID:       userID,
		OverallScore: overallScore,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	h.Broadcast(payload)
}
