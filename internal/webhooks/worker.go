package webhooks

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"time"

	"cvrp/internal/metrics"
	"cvrp/internal/store"
)

// Worker polls the store for due callback deliveries and POSTs them.
type Worker struct {
	Store       store.Store
	HTTP        *http.Client
	MaxAttempts int
	Interval    time.Duration
}

func NewWorker(s store.Store, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Worker{Store: s, HTTP: &http.Client{Timeout: 5 * time.Second}, MaxAttempts: maxAttempts, Interval: time.Second}
}

// Run processes deliveries until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processOnce(ctx)
		}
	}
}

func (w *Worker) processOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueCallbacks(ctx, 50)
	if err != nil {
		log.Printf("callback fetch err=%v", err)
		return
	}
	for _, it := range items {
		w.deliver(ctx, it)
	}
}

func (w *Worker) deliver(ctx context.Context, it store.CallbackDelivery) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err != nil {
		_ = w.Store.FailCallback(ctx, it.ID, err.Error(), 0, 0)
		metrics.CallbackDeliveries.WithLabelValues(store.DeliveryFailed).Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", it.EventType)
	if it.Secret != "" {
		req.Header.Set(SignatureHeader, SignHMAC(it.Secret, it.Payload))
	}

	start := time.Now()
	resp, err := w.HTTP.Do(req)
	latency := int(time.Since(start).Milliseconds())
	code := 0
	lastErr := ""
	if err != nil {
		lastErr = err.Error()
	} else {
		code = resp.StatusCode
		_ = resp.Body.Close()
		if code < 200 || code >= 300 {
			lastErr = http.StatusText(code)
		}
	}
	success := lastErr == ""

	switch {
	case success:
		_ = w.Store.MarkCallback(ctx, it.ID, true, nil, "", code, latency)
		metrics.CallbackDeliveries.WithLabelValues(store.DeliveryDelivered).Inc()
	case it.Attempts+1 >= w.MaxAttempts:
		_ = w.Store.FailCallback(ctx, it.ID, lastErr, code, latency)
		metrics.CallbackDeliveries.WithLabelValues(store.DeliveryFailed).Inc()
		log.Printf("callback failed run=%s url=%s attempts=%d err=%s", it.RunID, it.URL, it.Attempts+1, lastErr)
	default:
		next := time.Now().Add(nextBackoff(it.Attempts))
		_ = w.Store.MarkCallback(ctx, it.ID, false, &next, lastErr, code, latency)
		metrics.CallbackDeliveries.WithLabelValues(store.DeliveryRetry).Inc()
	}
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
