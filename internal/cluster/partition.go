package cluster

import "cvrp/internal/opt"

// FirstHops returns the first-hop places owned by rank: the customers with a
// road from the depot, ascending, dealt round-robin over size ranks. Every
// feasible route has exactly one first hop, so the ranks' branches are a
// complete, non-overlapping cover of the search space for any size. A rank
// with no hop gets an empty, non-nil slice.
func FirstHops(in *opt.Instance, rank, size int) []opt.Place {
	out := []opt.Place{}
	i := 0
	for _, p := range in.Customers() {
		if _, ok := in.Cost(opt.Depot, p); !ok {
			continue
		}
		if i%size == rank {
			out = append(out, p)
		}
		i++
	}
	return out
}

// TrialRange splits total trials into contiguous blocks, one per rank, with
// sizes differing by at most one. Lower ranks own lower trial indices.
func TrialRange(total, rank, size int) (from, to int) {
	return rank * total / size, (rank + 1) * total / size
}
