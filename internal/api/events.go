package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"riderdispatch/internal/model"
)

// eventFilter keeps the event types named in a comma-separated list; an
// empty list keeps everything.
type eventFilter map[string]bool

func parseFilter(raw string) eventFilter {
	f := eventFilter{}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			f[t] = true
		}
	}
	return f
}

func (f eventFilter) keep(evt model.Event) bool { return len(f) == 0 || f[evt.Type] }

// EventStreamHandler handles GET /v1/events/stream (SSE).
func (s *Server) EventStreamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	filter := parseFilter(r.URL.Query().Get("types"))
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.Broker.Subscribe()
	defer s.Broker.Unsubscribe(ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"ts\":\"%s\"}\n\n", time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if !filter.keep(evt) {
				continue
			}
			b, _ := json.Marshal(evt)
			fmt.Fprintf(w, "id: %s\n", evt.ID)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// wsMessage is the envelope in both directions. Clients may send
// {"type":"subscribe","types":[...]} to narrow the stream and "ping".
type wsMessage struct {
	Type  string       `json:"type"`
	Types []string     `json:"types,omitempty"`
	Event *model.Event `json:"event,omitempty"`
}

// EventWSHandler handles GET /v1/events/ws
func (s *Server) EventWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.Broker.Subscribe()
	defer s.Broker.Unsubscribe(ch)

	// Writes come from this goroutine only; the reader hands it
	// subscription changes and pongs.
	replies := make(chan wsMessage, 4)
	done := make(chan struct{})
	stop := make(chan struct{})
	defer close(stop)
	reply := func(m wsMessage) bool {
		select {
		case replies <- m:
			return true
		case <-stop:
			return false
		}
	}

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	go func() {
		defer close(done)
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			switch msg.Type {
			case "subscribe":
				if !reply(wsMessage{Type: "subscribed", Types: msg.Types}) {
					return
				}
			case "ping":
				if !reply(wsMessage{Type: "pong"}) {
					return
				}
			}
		}
	}()

	filter := parseFilter(r.URL.Query().Get("types"))
	if err := conn.WriteJSON(wsMessage{Type: "connection_ack"}); err != nil {
		return
	}
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case m := <-replies:
			if m.Type == "subscribed" {
				filter = parseFilter(strings.Join(m.Types, ","))
			}
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if !filter.keep(evt) {
				continue
			}
			if err := conn.WriteJSON(wsMessage{Type: "event", Event: &evt}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
