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

// matchesCall reports whether a hub payload concerns the given call. Events
// without a call_id pass through to every observer.
func matchesCall(payload []byte, callID string) bool {
	var probe struct {
		CallID string `json:"call_id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return false
	}
	return probe.CallID == "" || probe.CallID == callID
}

// registerWSRoute serves the observer stream. Without a call_id query
// parameter the socket carries every call's events; with one it carries a
// single call.
func registerWSRoute(mux *http.ServeMux, hub *Hub) {
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		watch := r.URL.Query().Get("call_id")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade error: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		connectionEvent := ConnectionEvent{
			Event:     newEvent("connection", time.Now().UTC()),
			Connected: true,
		}
		if payload, err := json.Marshal(connectionEvent); err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, payload)
		}

		// Drain reads so close frames from the observer are noticed even
		// when no call is producing events.
		done := make(chan struct{})
		go func() {
			defer close(done)
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
				if watch != "" && !matchesCall(msg, watch) {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})
}
