// Package main runs a demo WebSocket client for run events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type string          `json:"type"`
	Run  json.RawMessage `json:"run,omitempty"`
}

// A small instance with enough customers that the exhaustive search takes a
// moment, so the client sees run.snapshot before run.completed.
func demoInstance(n int) map[string]any {
	places := []map[string]int{}
	roads := []map[string]int{}
	for p := 1; p <= n; p++ {
		places = append(places, map[string]int{"id": p, "demand": 1 + p%4})
	}
	for a := 0; a <= n; a++ {
		for b := 0; b <= n; b++ {
			if a != b {
				roads = append(roads, map[string]int{"source": a, "destination": b, "cost": 1 + (a*5+b*3)%13})
			}
		}
	}
	return map[string]any{"places": places, "roads": roads, "vehicleCapacity": 8, "maxPlacesPerRoute": 3}
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Start an async run
	body, _ := json.Marshal(map[string]any{"instance": demoInstance(8), "engine": "global-parallel", "async": true})
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/solve", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if tok := os.Getenv("CVRP_TOKEN"); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var run struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		log.Fatal(err)
	}
	if run.ID == "" {
		log.Fatalf("no run id (status %d)", resp.StatusCode)
	}
	log.Printf("Run ID: %s", run.ID)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/runs/" + run.ID + "/ws"}
	hdr := http.Header{}
	hdr.Set("Authorization", req.Header.Get("Authorization"))
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("read: %v", err)
				}
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Run))
		}
	}()

	select {
	case <-time.After(30 * time.Second):
		log.Printf("timed out waiting for run %s", run.ID)
	case <-done:
	}
}
