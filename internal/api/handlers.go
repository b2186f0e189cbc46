package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cvrp/internal/auth"
	"cvrp/internal/instance"
	"cvrp/internal/model"
	"cvrp/internal/opt"
	"cvrp/internal/store"
)

// SolveHandler handles POST /v1/solve.
func (s *Server) SolveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "", r.URL.Path)
		return
	}
	pr, ok := s.authorize(w, r, auth.Principal.CanSolve)
	if !ok {
		return
	}
	var req model.SolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateSolveRequest(&req, s.Cfg.Solve); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error(), r.URL.Path)
		return
	}
	in, err := instance.FromRequest(req.Instance)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid instance", err.Error(), r.URL.Path)
		return
	}
	if err := checkInstanceSize(req.Engine, in, s.Cfg.Solve); err != nil {
		writeProblem(w, http.StatusBadRequest, "Instance too large", err.Error(), r.URL.Path)
		return
	}

	run := newRun(pr, req.Engine, in)
	if err := s.Store.CreateRun(r.Context(), run); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
		return
	}
	w.Header().Set("Location", "/v1/runs/"+run.ID)

	if req.Async {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_, _ = s.execute(s.runCtx, run, in, req)
		}()
		writeJSON(w, http.StatusAccepted, run)
		return
	}

	final, err := s.execute(r.Context(), run, in, req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, final)
	case errors.Is(err, opt.ErrCandidateLimit):
		writeProblem(w, http.StatusUnprocessableEntity, "Instance too large",
			fmt.Sprintf("run %s: %v; use engine %q", run.ID, err, opt.EngineLocal), r.URL.Path)
	case errors.Is(err, context.DeadlineExceeded):
		writeProblem(w, http.StatusGatewayTimeout, "Solve timed out",
			fmt.Sprintf("run %s exceeded %s", run.ID, s.solveTimeout(req)), r.URL.Path)
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		writeProblem(w, http.StatusInternalServerError, "Solve failed", err.Error(), r.URL.Path)
	}
}

// RunsIndexHandler handles GET /v1/runs?cursor=&limit=.
func (s *Server) RunsIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "", r.URL.Path)
		return
	}
	pr, ok := s.authorize(w, r, nil)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", v, r.URL.Path)
			return
		}
		limit = n
	}
	items, next, err := s.Store.ListRuns(r.Context(), ownerFilter(pr), q.Get("cursor"), limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, model.RunList{Items: items, NextCursor: next})
}

// RunByIDHandler handles /v1/runs/{id} and its sub-resources:
// /events/stream (SSE), /ws (WebSocket) and /callbacks.
func (s *Server) RunByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/runs/")
	if rest == path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "", path)
		return
	}
	pr, ok := s.authorize(w, r, nil)
	if !ok {
		return
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	run, err := s.Store.GetRun(r.Context(), parts[0])
	if errors.Is(err, store.ErrNotFound) || (err == nil && !canRead(pr, run.Owner)) {
		writeProblem(w, http.StatusNotFound, "Run not found", parts[0], path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), path)
		return
	}

	switch {
	case len(parts) == 1:
		writeJSON(w, http.StatusOK, run)
	case len(parts) == 3 && parts[1] == "events" && parts[2] == "stream":
		s.streamRunEvents(w, r, run)
	case len(parts) == 2 && parts[1] == "ws":
		s.RunEventsWSHandler(w, r, run)
	case len(parts) == 2 && parts[1] == "callbacks":
		s.listCallbacks(w, r, run)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", path)
	}
}

// streamRunEvents sends run events as server-sent events until the run
// reaches a terminal state or the client disconnects.
func (s *Server) streamRunEvents(w http.ResponseWriter, r *http.Request, run model.Run) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	ch := s.Broker.Subscribe(run.ID)
	defer s.Broker.Unsubscribe(run.ID, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(typ string, v any) {
		b, _ := json.Marshal(v)
		fmt.Fprintf(w, "event: %s\n", typ)
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}

	// Re-read after subscribing so a run finishing in between is not missed.
	if cur, err := s.Store.GetRun(r.Context(), run.ID); err == nil {
		run = cur
	}
	if terminal(run.Status) {
		send(terminalEvent(run.Status), run)
		return
	}
	send("heartbeat", map[string]string{"runId": run.ID, "ts": time.Now().UTC().Format(time.RFC3339)})

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			send(evt.Type, evt.Run)
			if terminal(evt.Run.Status) {
				return
			}
		case <-ticker.C:
			send("heartbeat", map[string]string{"runId": run.ID, "ts": time.Now().UTC().Format(time.RFC3339)})
		}
	}
}

func terminalEvent(status string) string {
	if status == model.RunFailed {
		return model.EventRunFailed
	}
	return model.EventRunCompleted
}

type callbackOut struct {
	ID           string `json:"id"`
	EventType    string `json:"eventType"`
	URL          string `json:"url"`
	Status       string `json:"status"`
	Attempts     int    `json:"attempts"`
	LastError    string `json:"lastError,omitempty"`
	ResponseCode int    `json:"responseCode,omitempty"`
}

func (s *Server) listCallbacks(w http.ResponseWriter, r *http.Request, run model.Run) {
	items, err := s.Store.ListCallbacks(r.Context(), run.ID)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
		return
	}
	out := make([]callbackOut, len(items))
	for i, d := range items {
		out[i] = callbackOut{ID: d.ID, EventType: d.EventType, URL: d.URL, Status: d.Status,
			Attempts: d.Attempts, LastError: d.LastError, ResponseCode: d.ResponseCode}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// StatsHandler handles GET /v1/stats?digest=: the latest search statistics
// per engine for one instance.
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, nil); !ok {
		return
	}
	digest := r.URL.Query().Get("digest")
	if digest == "" {
		writeProblem(w, http.StatusBadRequest, "Missing digest", "", r.URL.Path)
		return
	}
	out := map[string]model.RunStats{}
	for engine, st := range opt.GetStats(digest) {
		out[engine] = *toRunStats(opt.Result{Stats: st})
	}
	writeJSON(w, http.StatusOK, map[string]any{"digest": digest, "engines": out})
}

// EnginesHandler lists the available engines and the server defaults.
func (s *Server) EnginesHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, nil); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"engines":             opt.Engines(),
		"default":             s.Cfg.Solve.Engine,
		"maxExhaustivePlaces": s.Cfg.Solve.MaxExhaustivePlaces,
		"maxCandidates":       s.Cfg.Solve.MaxCandidates,
		"defaultTrials":       opt.DefaultTrials,
		"exploreProbability":  opt.DefaultExploreProbability,
	})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check connectivity of the Postgres store and Redis broker when in use
	type pinger interface {
		Ping(ctx context.Context) error
	}
	for name, dep := range map[string]any{"store": s.Store, "broker": s.Broker} {
		p, ok := dep.(pinger)
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		err := p.Ping(ctx)
		cancel()
		if err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", name+": "+err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
