package webhooks

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"cvrp/internal/model"
	"cvrp/internal/store"
)

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit queues a callback delivery of evt to url. Deliveries are
// deduplicated by event id, so emitting the same event twice is harmless.
func (p *Publisher) Emit(ctx context.Context, url, secret string, evt model.RunEvent) {
	if url == "" {
		return
	}
	if evt.TS == "" {
		evt.TS = time.Now().UTC().Format(time.RFC3339)
	}
	body, err := json.Marshal(evt)
	if err != nil {
		log.Printf("callback encode run=%s err=%v", evt.Run.ID, err)
		return
	}
	if _, err := p.Store.EnqueueCallback(ctx, evt.Run.ID, evt.Type, url, secret, body); err != nil {
		log.Printf("callback enqueue run=%s err=%v", evt.Run.ID, err)
	}
}
