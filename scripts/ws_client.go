// Package main tails dispatch events over WebSocket. It creates one demo
// order so there is something to see.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type  string          `json:"type"`
	Types []string        `json:"types,omitempty"`
	Event json.RawMessage `json:"event,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	token := flag.String("token", "demo:dispatcher", "bearer token")
	types := flag.String("types", "", "comma-separated event types to follow (default all)")
	wait := flag.Duration("wait", 5*time.Second, "how long to tail")
	demo := flag.Bool("demo", true, "create a demo order after connecting")
	flag.Parse()

	base := fmt.Sprintf("http://localhost:%s", port)
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/events/ws", RawQuery: "access_token=" + url.QueryEscape(*token)}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if *types != "" {
		if err := c.WriteJSON(wsMessage{Type: "subscribe", Types: strings.Split(*types, ",")}); err != nil {
			log.Fatal(err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Event))
		}
	}()

	if *demo {
		time.Sleep(300 * time.Millisecond)
		body, _ := json.Marshal(map[string]any{
			"externalOrderId": fmt.Sprintf("DEMO-%d", time.Now().Unix()),
			"orderTime":       time.Now().Format(time.RFC3339),
			"zone":            "A",
		})
		req, _ := http.NewRequest(http.MethodPost, base+"/v1/orders", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+*token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Printf("create demo order: %v", err)
		} else {
			log.Printf("created demo order: %s", resp.Status)
			_ = resp.Body.Close()
		}
	}

	select {
	case <-time.After(*wait):
	case <-done:
	}
}
