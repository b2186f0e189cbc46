package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"cvrp/internal/model"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 20 * time.Second
	wsWriteWait  = 5 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// wsMessage is one frame sent to WebSocket clients.
type wsMessage struct {
	Type string     `json:"type"`
	Run  *model.Run `json:"run,omitempty"`
}

// RunEventsWSHandler streams a run's events over a WebSocket. The first
// frame is a run.snapshot; the socket closes after the terminal event.
func (s *Server) RunEventsWSHandler(w http.ResponseWriter, r *http.Request, run model.Run) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.Broker.Subscribe(run.ID)
	defer s.Broker.Unsubscribe(run.ID, ch)

	// Reader: only control frames are expected; any error ends the stream.
	gone := make(chan struct{})
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsPongWait)) })
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(msg wsMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(msg)
	}
	closeNormal := func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"), time.Now().Add(wsWriteWait))
	}

	if cur, err := s.Store.GetRun(r.Context(), run.ID); err == nil {
		run = cur
	}
	if err := write(wsMessage{Type: "run.snapshot", Run: &run}); err != nil {
		return
	}
	if terminal(run.Status) {
		closeNormal()
		return
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := write(wsMessage{Type: evt.Type, Run: &evt.Run}); err != nil {
				return
			}
			if terminal(evt.Run.Status) {
				closeNormal()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
