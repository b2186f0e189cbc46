package opt

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultForkDepth bounds how deep in the recursion frames are still offered
// to the worker pool. Deeper frames always run inline.
const DefaultForkDepth = 3

// ctxCheckEvery is how many expanded frames pass between context checks.
const ctxCheckEvery = 1024

// ErrCandidateLimit stops a search that recorded more than MaxCandidates
// complete routes.
var ErrCandidateLimit = errors.New("candidate limit exceeded")

// Exhaustive enumerates every feasible route depth-first and returns the
// cheapest. It prunes on feasibility only, never on partial cost, so it is
// exponential in the number of places.
type Exhaustive struct {
	// Parallel forks recursion frames onto a bounded goroutine pool.
	Parallel bool
	// Workers caps concurrently running tasks; <= 0 means GOMAXPROCS.
	Workers int
	// ForkDepth is the deepest frame that may be forked; <= 0 means DefaultForkDepth.
	ForkDepth int
	// FirstHops, when non-nil, restricts the search to routes whose first
	// move away from the depot lands on one of these places.
	FirstHops []Place
	// MaxCandidates bounds the number of recorded routes; 0 means no limit.
	MaxCandidates int
}

func (e *Exhaustive) Name() string {
	if e.Parallel {
		return EngineGlobalParallel
	}
	return EngineGlobal
}

// Solve enumerates all feasible routes and returns the minimum-cost one, or
// the infeasible sentinel when none exists.
func (e *Exhaustive) Solve(ctx context.Context, in *Instance) (Result, error) {
	start := time.Now()
	cands, stats, err := e.Enumerate(ctx, in)
	if err != nil {
		return Result{Engine: e.Name(), Solution: Infeasible(), Stats: stats}, err
	}
	stats.Duration = time.Since(start)
	return Result{Engine: e.Name(), Solution: Best(cands), Stats: stats}, nil
}

// Enumerate returns every feasible complete route reachable under the
// configured first-hop restriction. With Parallel set the order of the
// returned candidates is unspecified.
func (e *Exhaustive) Enumerate(ctx context.Context, in *Instance) ([]Solution, Stats, error) {
	s := &searcher{in: in, ctx: ctx, sink: &candidateSink{limit: e.MaxCandidates}}
	if e.FirstHops != nil {
		s.allowed = make([]bool, len(in.places))
		for _, p := range e.FirstHops {
			if i, ok := in.index[p]; ok && i != 0 {
				s.allowed[i] = true
			}
		}
	}

	var err error
	if e.Parallel {
		workers := e.Workers
		if workers <= 0 {
			workers = runtime.GOMAXPROCS(0)
		}
		s.forkDepth = e.ForkDepth
		if s.forkDepth <= 0 {
			s.forkDepth = DefaultForkDepth
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		s.ctx = gctx
		s.group = g
		root := newSearchState(in)
		g.Go(func() error { return s.expand(root, 0) })
		err = g.Wait()
	} else {
		err = s.expand(newSearchState(in), 0)
	}

	stats := Stats{Frames: s.frames.Load(), Forks: s.forks.Load(), Candidates: s.sink.len()}
	if err != nil {
		return nil, stats, fmt.Errorf("exhaustive search: %w", err)
	}
	return s.sink.items, stats, nil
}

type searcher struct {
	in        *Instance
	ctx       context.Context
	allowed   []bool
	sink      *candidateSink
	group     *errgroup.Group
	forkDepth int
	frames    atomic.Int64
	forks     atomic.Int64
}

func (s *searcher) expand(st *searchState, depth int) error {
	if s.frames.Add(1)%ctxCheckEvery == 0 {
		if err := s.ctx.Err(); err != nil {
			return err
		}
	}
	in := s.in
	for next := range in.places {
		if in.check(st, next) != accepted {
			continue
		}
		if s.allowed != nil && len(st.route) == 1 && !s.allowed[next] {
			continue
		}

		cur, load, stops, cost, n := st.cur, st.load, st.stops, st.cost, len(st.route)
		in.extend(st, next)

		if in.complete(st) {
			if !s.sink.add(Solution{Route: append([]Place(nil), st.route...), Cost: st.cost}) {
				return fmt.Errorf("%w: more than %d routes", ErrCandidateLimit, s.sink.limit)
			}
		} else if !s.fork(st, depth+1) {
			if err := s.expand(st, depth+1); err != nil {
				return err
			}
		}

		if next != 0 {
			st.visited[next] = false
			st.nVisited--
		}
		st.cur, st.load, st.stops, st.cost, st.route = cur, load, stops, cost, st.route[:n]
	}
	return nil
}

// fork offers a copy of st to the pool. It returns false when forking is off,
// too deep, or every worker slot is busy; the caller then continues inline.
func (s *searcher) fork(st *searchState, depth int) bool {
	if s.group == nil || depth > s.forkDepth {
		return false
	}
	child := st.clone()
	ok := s.group.TryGo(func() error { return s.expand(child, depth) })
	if ok {
		s.forks.Add(1)
	}
	return ok
}

// candidateSink is the only object written concurrently during a search.
type candidateSink struct {
	mu    sync.Mutex
	items []Solution
	limit int
}

// add records s and reports false once the sink is full.
func (c *candidateSink) add(s Solution) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limit > 0 && len(c.items) >= c.limit {
		return false
	}
	c.items = append(c.items, s)
	return true
}

func (c *candidateSink) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
