package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// registerWSRoute streams hub events to dashboard clients. An optional
// interviewId query parameter narrows the stream to one interview;
// connection events always pass through.
func registerWSRoute(mux *http.ServeMux, hub *Hub) {
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade error: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		filterID := r.URL.Query().Get("interviewId")

		connectionEvent := ConnectionEvent{
			Event:     newEvent("connection", time.Now().UTC()),
			Connected: true,
		}
		if payload, err := json.Marshal(connectionEvent); err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, payload)
		}

		// Drain client frames so peer close is noticed even when the
		// hub is quiet.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ch := hub.Subscribe()
		defer hub.Unsubscribe(ch)

		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if !eventMatches(msg, filterID) {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	})
}

func eventMatches(payload []byte, filterID string) bool {
	if filterID == "" {
		return true
	}
	var envelope struct {
		InterviewID string `json:"interviewId"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return true
	}
	return envelope.InterviewID == "" || envelope.InterviewID == filterID
}
