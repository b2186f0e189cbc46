package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"cvrp/internal/auth"
	"cvrp/internal/config"
	"cvrp/internal/model"
	"cvrp/internal/store"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.RateRPS = 0
	if mutate != nil {
		mutate(&cfg)
	}
	s := NewServerWith(cfg, store.NewMemory(), NewBroker())
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

// scenarioInstance has three customers and a best route of cost 13.
func scenarioInstance() model.InstanceIn {
	in := model.InstanceIn{
		Places:            []model.PlaceIn{{ID: 1, Demand: 5}, {ID: 2, Demand: 7}, {ID: 3, Demand: 4}},
		VehicleCapacity:   12,
		MaxPlacesPerRoute: 2,
	}
	for _, e := range [][3]int{{0, 1, 2}, {0, 2, 4}, {0, 3, 3}, {1, 2, 5}, {1, 3, 6}, {2, 3, 2}} {
		in.Roads = append(in.Roads,
			model.RoadIn{Source: e[0], Destination: e[1], Cost: e[2]},
			model.RoadIn{Source: e[1], Destination: e[0], Cost: e[2]})
	}
	return in
}

// completeInstance has n customers, unit demands and every edge present.
func completeInstance(n int) model.InstanceIn {
	in := model.InstanceIn{VehicleCapacity: n, MaxPlacesPerRoute: n}
	for p := 1; p <= n; p++ {
		in.Places = append(in.Places, model.PlaceIn{ID: p, Demand: 1})
	}
	for a := 0; a <= n; a++ {
		for b := 0; b <= n; b++ {
			if a != b {
				in.Roads = append(in.Roads, model.RoadIn{Source: a, Destination: b, Cost: 1 + (a*7+b*3)%11})
			}
		}
	}
	return in
}

func do(t *testing.T, h http.Handler, method, path string, body any, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeRun(t *testing.T, rr *httptest.ResponseRecorder) model.Run {
	t.Helper()
	var run model.Run
	if err := json.Unmarshal(rr.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode run: %v: %s", err, rr.Body.String())
	}
	return run
}

func TestHealthReady(t *testing.T) {
	h := newTestServer(t, nil).Routes()
	if rr := do(t, h, http.MethodGet, "/healthz", nil); rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/readyz", nil); rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/metrics", nil); rr.Code != 200 {
		t.Fatalf("metrics: got %d", rr.Code)
	}
}

func TestSolveEngines(t *testing.T) {
	h := newTestServer(t, nil).Routes()
	for _, engine := range []string{"global", "global-parallel", "local"} {
		req := model.SolveRequest{Instance: scenarioInstance(), Engine: engine, Trials: 200, Seed: 7}
		rr := do(t, h, http.MethodPost, "/v1/solve", req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: got %d: %s", engine, rr.Code, rr.Body.String())
		}
		run := decodeRun(t, rr)
		if run.Status != model.RunCompleted || !run.Feasible || run.Engine != engine {
			t.Fatalf("%s: unexpected run %+v", engine, run)
		}
		// the randomized engine is only guaranteed an upper bound
		if engine != "local" && run.Cost != 13 || run.Cost < 13 {
			t.Fatalf("%s: cost %d", engine, run.Cost)
		}
		if len(run.Trips) == 0 || run.Stats == nil {
			t.Fatalf("%s: missing trips or stats: %+v", engine, run)
		}
		if rr.Header().Get("Location") != "/v1/runs/"+run.ID {
			t.Fatalf("%s: bad Location %q", engine, rr.Header().Get("Location"))
		}
	}
}

func TestSolveInfeasible(t *testing.T) {
	h := newTestServer(t, nil).Routes()
	in := scenarioInstance()
	in.Places[1].Demand = 50
	rr := do(t, h, http.MethodPost, "/v1/solve", model.SolveRequest{Instance: in})
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	run := decodeRun(t, rr)
	if run.Feasible || run.Cost != math.MaxInt || run.Route == nil || len(run.Route) != 0 {
		t.Fatalf("want infeasible sentinel, got %+v", run)
	}
	if !strings.Contains(rr.Body.String(), `"route":[]`) {
		t.Fatalf("route should encode as []: %s", rr.Body.String())
	}
}

func TestSolveRejectsBadInput(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) { c.Solve.MaxExhaustivePlaces = 2 }).Routes()
	neg := scenarioInstance()
	neg.Places[0].Demand = -1
	unknown := scenarioInstance()
	unknown.Roads = append(unknown.Roads, model.RoadIn{Source: 0, Destination: 42, Cost: 1})

	cases := []struct {
		name string
		body any
	}{
		{"malformed json", `{"instance":`},
		{"unknown field", `{"instance":{},"bogus":1}`},
		{"negative demand", model.SolveRequest{Instance: neg}},
		{"unknown endpoint", model.SolveRequest{Instance: unknown}},
		{"unknown engine", model.SolveRequest{Instance: scenarioInstance(), Engine: "annealing"}},
		{"too large for exhaustive", model.SolveRequest{Instance: scenarioInstance(), Engine: "global"}},
		{"bad callback", model.SolveRequest{Instance: scenarioInstance(), Engine: "local", CallbackURL: "ftp://x"}},
		{"bad probability", model.SolveRequest{Instance: scenarioInstance(), Engine: "local", ExploreProbability: 1.5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/v1/solve", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
			}
			var p Problem
			if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil || p.Status != 400 {
				t.Fatalf("want problem body, got %s", rr.Body.String())
			}
		})
	}
	if rr := do(t, h, http.MethodGet, "/v1/solve", nil); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /v1/solve: got %d", rr.Code)
	}
}

func TestSolveTimeout(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Solve.MaxExhaustivePlaces = 11 })
	h := s.Routes()
	rr := do(t, h, http.MethodPost, "/v1/solve", model.SolveRequest{Instance: completeInstance(11), TimeoutMs: 1})
	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	runs, _, _ := s.Store.ListRuns(t.Context(), "", "", 10)
	if len(runs) != 1 || runs[0].Status != model.RunFailed {
		t.Fatalf("timed out run not recorded as failed: %+v", runs)
	}
}

func TestSolveRefusesOversizedExhaustive(t *testing.T) {
	h := newTestServer(t, nil).Routes()
	for _, engine := range []string{"global", "global-parallel"} {
		rr := do(t, h, http.MethodPost, "/v1/solve", model.SolveRequest{Instance: completeInstance(11), Engine: engine})
		if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "Instance too large") {
			t.Fatalf("%s: got %d: %s", engine, rr.Code, rr.Body.String())
		}
	}
	rr := do(t, h, http.MethodPost, "/v1/solve", model.SolveRequest{Instance: completeInstance(11), Engine: "local", Trials: 100})
	if rr.Code != http.StatusOK {
		t.Fatalf("local: got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestSolveCandidateLimit(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.Solve.MaxExhaustivePlaces = 11
		c.Solve.MaxCandidates = 1000
	})
	h := s.Routes()
	for _, engine := range []string{"global", "global-parallel"} {
		rr := do(t, h, http.MethodPost, "/v1/solve", model.SolveRequest{Instance: completeInstance(11), Engine: engine})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%s: got %d: %s", engine, rr.Code, rr.Body.String())
		}
	}
	runs, _, _ := s.Store.ListRuns(t.Context(), "", "", 10)
	if len(runs) != 2 {
		t.Fatalf("want 2 runs, got %d", len(runs))
	}
	for _, run := range runs {
		if run.Status != model.RunFailed || run.Stats == nil || run.Stats.Candidates > 1000 {
			t.Fatalf("limited run not recorded as failed: %+v", run)
		}
	}
	// the scenario fits well under the limit
	rr := do(t, h, http.MethodPost, "/v1/solve", model.SolveRequest{Instance: scenarioInstance()})
	if rr.Code != http.StatusOK {
		t.Fatalf("scenario: got %d", rr.Code)
	}
}

func TestAsyncSolveAndEvents(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	raw, _ := json.Marshal(model.SolveRequest{Instance: scenarioInstance(), Async: true})
	resp, err := http.Post(srv.URL+"/v1/solve", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var run model.Run
	_ = json.NewDecoder(resp.Body).Decode(&run)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted || run.ID == "" {
		t.Fatalf("async: got %d %+v", resp.StatusCode, run)
	}

	// The stream ends with the terminal event whether the run finished
	// before or after we subscribed.
	resp, err = http.Get(srv.URL + "/v1/runs/" + run.ID + "/events/stream")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	var last string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if ev, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			last = ev
		}
	}
	if last != model.EventRunCompleted {
		t.Fatalf("last event %q", last)
	}

	rr := do(t, s.Routes(), http.MethodGet, "/v1/runs/"+run.ID, nil)
	if got := decodeRun(t, rr); got.Status != model.RunCompleted || got.Cost != 13 {
		t.Fatalf("stored run %+v", got)
	}
}

func TestRunWebSocket(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	run := decodeRun(t, do(t, s.Routes(), http.MethodPost, "/v1/solve", model.SolveRequest{Instance: scenarioInstance()}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/runs/" + run.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "run.snapshot" || msg.Run == nil || msg.Run.Cost != 13 {
		t.Fatalf("unexpected frame %+v", msg)
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("want normal close, got %v", err)
	}
}

func TestRunsListAndLookup(t *testing.T) {
	h := newTestServer(t, nil).Routes()
	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, decodeRun(t, do(t, h, http.MethodPost, "/v1/solve", model.SolveRequest{Instance: scenarioInstance()})).ID)
	}
	rr := do(t, h, http.MethodGet, "/v1/runs?limit=2", nil)
	var page model.RunList
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil || len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("page 1: %s", rr.Body.String())
	}
	rr = do(t, h, http.MethodGet, "/v1/runs?limit=2&cursor="+page.NextCursor, nil)
	page = model.RunList{}
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil || len(page.Items) != 1 || page.Items[0].ID != ids[2] {
		t.Fatalf("page 2: %s", rr.Body.String())
	}
	if rr := do(t, h, http.MethodGet, "/v1/runs?limit=x", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/v1/runs/nope", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown run: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/v1/runs/"+ids[0]+"/bogus", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown sub-resource: %d", rr.Code)
	}
}

func TestStatsAndEngines(t *testing.T) {
	h := newTestServer(t, nil).Routes()
	run := decodeRun(t, do(t, h, http.MethodPost, "/v1/solve", model.SolveRequest{Instance: scenarioInstance(), Engine: "global"}))
	rr := do(t, h, http.MethodGet, "/v1/stats?digest="+run.Digest, nil)
	var body struct {
		Engines map[string]model.RunStats `json:"engines"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st, ok := body.Engines["global"]; !ok || st.Candidates == 0 {
		t.Fatalf("missing global stats: %s", rr.Body.String())
	}
	if rr := do(t, h, http.MethodGet, "/v1/stats", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("stats without digest: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/v1/engines", nil); !strings.Contains(rr.Body.String(), "global-parallel") {
		t.Fatalf("engines: %s", rr.Body.String())
	}
}

func TestCallbackQueued(t *testing.T) {
	h := newTestServer(t, nil).Routes()
	run := decodeRun(t, do(t, h, http.MethodPost, "/v1/solve", model.SolveRequest{
		Instance: scenarioInstance(), CallbackURL: "http://example.invalid/hook", CallbackSecret: "k",
	}))
	rr := do(t, h, http.MethodGet, "/v1/runs/"+run.ID+"/callbacks", nil)
	var body struct {
		Items []callbackOut `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || len(body.Items) != 1 {
		t.Fatalf("callbacks: %s", rr.Body.String())
	}
	if body.Items[0].EventType != model.EventRunCompleted || body.Items[0].Status != store.DeliveryPending {
		t.Fatalf("unexpected delivery %+v", body.Items[0])
	}
}

func TestAuthHMAC(t *testing.T) {
	secret := "s3cret"
	h := newTestServer(t, func(c *config.Config) {
		c.Auth = config.AuthConfig{Mode: auth.ModeHMAC, HMACSecret: secret}
	}).Routes()
	bearer := func(sub, role string) string {
		return "Bearer " + auth.SignHS256([]byte(secret), sub, role, time.Hour)
	}
	req := model.SolveRequest{Instance: scenarioInstance()}

	if rr := do(t, h, http.MethodPost, "/v1/solve", req); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/v1/solve", req, "Authorization", bearer("v", auth.RoleViewer)); rr.Code != http.StatusForbidden {
		t.Fatalf("viewer: %d", rr.Code)
	}
	rr := do(t, h, http.MethodPost, "/v1/solve", req, "Authorization", bearer("alice", auth.RoleSolver))
	if rr.Code != http.StatusOK {
		t.Fatalf("solver: %d %s", rr.Code, rr.Body.String())
	}
	run := decodeRun(t, rr)
	if run.Owner != "alice" {
		t.Fatalf("owner %q", run.Owner)
	}
	if rr := do(t, h, http.MethodGet, "/v1/runs/"+run.ID, nil, "Authorization", bearer("bob", auth.RoleViewer)); rr.Code != http.StatusNotFound {
		t.Fatalf("other user's run: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/v1/runs/"+run.ID, nil, "Authorization", bearer("root", auth.RoleAdmin)); rr.Code != http.StatusOK {
		t.Fatalf("admin: %d", rr.Code)
	}
	for _, path := range []string{"/v1/stats?digest=" + run.Digest, "/v1/engines"} {
		if rr := do(t, h, http.MethodGet, path, nil); rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s without token: %d", path, rr.Code)
		}
		if rr := do(t, h, http.MethodGet, path, nil, "Authorization", bearer("bob", auth.RoleViewer)); rr.Code != http.StatusOK {
			t.Fatalf("%s as viewer: %d", path, rr.Code)
		}
	}
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) { c.RateRPS, c.RateBurst = 0.001, 1 }).Routes()
	if rr := do(t, h, http.MethodGet, "/v1/runs", nil); rr.Code != http.StatusOK {
		t.Fatalf("first: %d", rr.Code)
	}
	rr := do(t, h, http.MethodGet, "/v1/runs", nil)
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("second: %d", rr.Code)
	}
	// health is never limited
	if rr := do(t, h, http.MethodGet, "/healthz", nil); rr.Code != http.StatusOK {
		t.Fatalf("health: %d", rr.Code)
	}
}

func TestDocsAndDebug(t *testing.T) {
	h := newTestServer(t, nil).Routes()
	rr := do(t, h, http.MethodGet, "/openapi.json", nil)
	var doc map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil || doc["openapi"] != "3.0.3" {
		t.Fatalf("openapi.json: %d %v", rr.Code, err)
	}
	for _, p := range []string{"/openapi.yaml", "/docs", "/debug/vars"} {
		if rr := do(t, h, http.MethodGet, p, nil); rr.Code != http.StatusOK {
			t.Fatalf("%s: %d", p, rr.Code)
		}
	}
}

func TestShutdownWaitsForAsyncRuns(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Solve.MaxExhaustivePlaces = 11 })
	h := s.Routes()
	rr := do(t, h, http.MethodPost, "/v1/solve", model.SolveRequest{Instance: completeInstance(11), Async: true})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("async: %d", rr.Code)
	}
	run := decodeRun(t, rr)
	if err := s.Shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	got, err := s.Store.GetRun(t.Context(), run.ID)
	if err != nil || got.Status != model.RunFailed {
		t.Fatalf("cancelled run: %+v %v", got, err)
	}
}
