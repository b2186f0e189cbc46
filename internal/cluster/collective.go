package cluster

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Message tags. Collectives are matched by call order, so every rank must
// issue the same collectives in the same sequence.
const (
	tagBroadcast = iota + 1
	tagReduce
	tagGather
	tagRoute
)

// Root is the rank that receives reductions and reports results.
const Root = 0

// Broadcast sends payload from root to every other rank and returns what
// each rank ends up holding.
func Broadcast(ctx context.Context, t Transport, root int, payload []int) ([]int, error) {
	if t.Rank() != root {
		msg, err := t.Recv(ctx, root, tagBroadcast)
		if err != nil {
			return nil, fmt.Errorf("broadcast: %w", err)
		}
		return msg, nil
	}
	for r := 0; r < t.Size(); r++ {
		if r == root {
			continue
		}
		if err := t.Send(ctx, r, tagBroadcast, payload); err != nil {
			return nil, fmt.Errorf("broadcast: %w", err)
		}
	}
	return payload, nil
}

// Gather collects one buffer per non-root rank at Root, receiving from all
// ranks concurrently; the result is indexed by rank. The root's own slot is nil. Non-root ranks get a nil result.
func Gather(ctx context.Context, t Transport, payload []int) ([][]int, error) {
	if t.Rank() != Root {
		if err := t.Send(ctx, Root, tagGather, payload); err != nil {
			return nil, fmt.Errorf("gather: %w", err)
		}
		return nil, nil
	}
	out := make([][]int, t.Size())
	g, gctx := errgroup.WithContext(ctx)
	for r := 0; r < t.Size(); r++ {
		if r == Root {
			continue
		}
		g.Go(func() error {
			msg, err := t.Recv(gctx, r, tagGather)
			if err != nil {
				return fmt.Errorf("gather from rank %d: %w", r, err)
			}
			out[r] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("gather: %w", err)
	}
	return out, nil
}

// AllReduceMinLoc returns the minimum of value over all ranks and the lowest
// rank holding it, on every rank.
func AllReduceMinLoc(ctx context.Context, t Transport, value int) (int, int, error) {
	minVal, minRank := value, t.Rank()
	if t.Rank() != Root {
		if err := t.Send(ctx, Root, tagReduce, []int{value}); err != nil {
			return 0, 0, fmt.Errorf("reduce: %w", err)
		}
	} else {
		for r := 0; r < t.Size(); r++ {
			if r == Root {
				continue
			}
			msg, err := t.Recv(ctx, r, tagReduce)
			if err != nil {
				return 0, 0, fmt.Errorf("reduce: %w", err)
			}
			if len(msg) != 1 {
				return 0, 0, fmt.Errorf("reduce: %w: rank %d sent %d values", ErrMalformedBuffer, r, len(msg))
			}
			if msg[0] < minVal || (msg[0] == minVal && r < minRank) {
				minVal, minRank = msg[0], r
			}
		}
	}
	res, err := Broadcast(ctx, t, Root, []int{minVal, minRank})
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("reduce: %w: broadcast of %d values", ErrMalformedBuffer, len(res))
	}
	return res[0], res[1], nil
}

// AllReduceMin returns the minimum of value over all ranks, on every rank.
func AllReduceMin(ctx context.Context, t Transport, value int) (int, error) {
	v, _, err := AllReduceMinLoc(ctx, t, value)
	return v, err
}
