package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cvrp/internal/model"
	"cvrp/internal/store"
)

func TestWorkerDeliversSignedCallback(t *testing.T) {
	var (
		mu      sync.Mutex
		gotSig  string
		gotType string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotSig = r.Header.Get(SignatureHeader)
		gotType = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx := context.Background()
	st := store.NewMemory()
	pub := NewPublisher(st)
	pub.Emit(ctx, srv.URL, "secret", model.RunEvent{ID: "evt_1", Type: model.EventRunCompleted, Run: model.Run{ID: "run1", Cost: 13}})

	w := NewWorker(st, 3)
	w.HTTP = srv.Client()
	w.processOnce(ctx)

	mu.Lock()
	defer mu.Unlock()
	if gotType != model.EventRunCompleted {
		t.Fatalf("event type header = %q", gotType)
	}
	if !VerifyHMAC("secret", gotBody, gotSig) {
		t.Fatalf("signature %q does not verify", gotSig)
	}
	var evt model.RunEvent
	if err := json.Unmarshal(gotBody, &evt); err != nil || evt.Run.Cost != 13 || evt.TS == "" {
		t.Fatalf("bad body %s: %v", gotBody, err)
	}
	list, _ := st.ListCallbacks(ctx, "run1")
	if len(list) != 1 || list[0].Status != store.DeliveryDelivered {
		t.Fatalf("delivery not marked: %+v", list)
	}
}

func TestWorkerRetriesThenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }))
	defer srv.Close()

	ctx := context.Background()
	st := store.NewMemory()
	id, err := st.EnqueueCallback(ctx, "run1", model.EventRunFailed, srv.URL, "", []byte(`{"id":"evt_2"}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	w := NewWorker(st, 2)
	w.HTTP = srv.Client()

	w.processOnce(ctx)
	list, _ := st.ListCallbacks(ctx, "run1")
	if list[0].Status != store.DeliveryRetry || list[0].ResponseCode != 500 {
		t.Fatalf("want retry after first failure, got %+v", list[0])
	}

	// Make the retry due immediately.
	now := time.Now().Add(-time.Second)
	if err := st.MarkCallback(ctx, id, false, &now, "forced", 500, 0); err != nil {
		t.Fatalf("mark: %v", err)
	}
	w.processOnce(ctx)
	list, _ = st.ListCallbacks(ctx, "run1")
	if list[0].Status != store.DeliveryFailed {
		t.Fatalf("want failed after max attempts, got %+v", list[0])
	}
}

func TestSignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := SignHMAC("k", body)
	if !VerifyHMAC("k", body, sig) {
		t.Fatal("own signature rejected")
	}
	if VerifyHMAC("other", body, sig) || VerifyHMAC("k", body, "zz") {
		t.Fatal("bad signature accepted")
	}
}

func TestNextBackoff(t *testing.T) {
	if nextBackoff(-1) != time.Second || nextBackoff(3) != 8*time.Second || nextBackoff(50) != 1024*time.Second {
		t.Fatal("unexpected backoff schedule")
	}
}
