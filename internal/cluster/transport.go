// Package cluster splits a search across ranks that share no memory and
// combines their results by message passing.
package cluster

import (
	"context"
	"fmt"
	"sync"

	"cvrp/internal/metrics"
)

// Transport delivers integer buffers between ranks. Messages between one
// (src, dst, tag) triple arrive in send order.
type Transport interface {
	Rank() int
	Size() int
	Send(ctx context.Context, dst, tag int, payload []int) error
	Recv(ctx context.Context, src, tag int) ([]int, error)
	Close() error
}

type mailbox struct{ src, dst, tag int }

// localWorld is an in-process set of ranks connected by channels.
type localWorld struct {
	size  int
	mu    sync.Mutex
	boxes map[mailbox]chan []int
}

func (w *localWorld) box(k mailbox) chan []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.boxes[k]
	if !ok {
		ch = make(chan []int, 16)
		w.boxes[k] = ch
	}
	return ch
}

// NewLocalWorld returns size connected in-process transports, one per rank.
func NewLocalWorld(size int) []Transport {
	if size <= 0 {
		size = 1
	}
	w := &localWorld{size: size, boxes: map[mailbox]chan []int{}}
	out := make([]Transport, size)
	for r := range out {
		out[r] = &localTransport{world: w, rank: r}
	}
	return out
}

type localTransport struct {
	world *localWorld
	rank  int
}

func (t *localTransport) Rank() int { return t.rank }
func (t *localTransport) Size() int { return t.world.size }

func (t *localTransport) Send(ctx context.Context, dst, tag int, payload []int) error {
	if dst < 0 || dst >= t.world.size {
		return fmt.Errorf("send: rank %d out of range [0,%d)", dst, t.world.size)
	}
	msg := append([]int(nil), payload...)
	select {
	case t.world.box(mailbox{t.rank, dst, tag}) <- msg:
		metrics.ClusterMessages.WithLabelValues("local", "sent").Inc()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send to rank %d tag %d: %w", dst, tag, ctx.Err())
	}
}

func (t *localTransport) Recv(ctx context.Context, src, tag int) ([]int, error) {
	if src < 0 || src >= t.world.size {
		return nil, fmt.Errorf("recv: rank %d out of range [0,%d)", src, t.world.size)
	}
	select {
	case msg := <-t.world.box(mailbox{src, t.rank, tag}):
		metrics.ClusterMessages.WithLabelValues("local", "received").Inc()
		return msg, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("recv from rank %d tag %d: %w", src, tag, ctx.Err())
	}
}

func (t *localTransport) Close() error { return nil }
