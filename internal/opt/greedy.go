package opt

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTrials is the number of randomized greedy walks when unset.
	DefaultTrials = 10000
	// DefaultExploreProbability is the chance a step ignores the greedy choice.
	DefaultExploreProbability = 0.5
)

// Greedy builds routes by randomized nearest-feasible-neighbour walks and
// keeps the cheapest of Trials independent walks. It is not guaranteed optimal.
type Greedy struct {
	Trials int
	// ExploreProbability is the chance of replacing the greedy step with a
	// uniformly random neighbour. 0 means DefaultExploreProbability; a
	// negative value disables exploration.
	ExploreProbability float64
	// MaxSteps bounds one walk; 0 means 4 x number of places.
	MaxSteps int
	Seed     int64
	// Workers caps concurrent trials; <= 0 means GOMAXPROCS.
	Workers int
}

func (g *Greedy) Name() string { return EngineLocal }

func (g *Greedy) trials() int {
	if g.Trials <= 0 {
		return DefaultTrials
	}
	return g.Trials
}

func (g *Greedy) probability() float64 {
	switch {
	case g.ExploreProbability == 0:
		return DefaultExploreProbability
	case g.ExploreProbability < 0:
		return 0
	case g.ExploreProbability > 1:
		return 1
	}
	return g.ExploreProbability
}

// Solve runs every trial and returns the best feasible route found.
func (g *Greedy) Solve(ctx context.Context, in *Instance) (Result, error) {
	start := time.Now()
	res, err := g.RunTrials(ctx, in, 0, g.trials())
	res.Stats.Duration = time.Since(start)
	return res, err
}

// RunTrials runs trials with indices in [from, to). Trial i always uses the
// same random stream for a given seed, so splitting a range across callers
// and keeping the minimum by (cost, trial index) matches a single run.
func (g *Greedy) RunTrials(ctx context.Context, in *Instance, from, to int) (Result, error) {
	res := Result{Engine: g.Name(), Solution: Infeasible(), BestTrial: -1}
	if to <= from {
		return res, nil
	}
	workers := g.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if n := to - from; workers > n {
		workers = n
	}
	maxSteps := g.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 4 * len(in.places)
	}
	p := g.probability()

	var mu sync.Mutex
	eg, ectx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		eg.Go(func() error {
			local := Result{Solution: Infeasible(), BestTrial: -1}
			for i := from + w; i < to; i += workers {
				if err := ectx.Err(); err != nil {
					return err
				}
				local.Stats.Trials++
				sol, ok := in.walk(trialRNG(g.Seed, i), p, maxSteps)
				if !ok {
					local.Stats.FailedTrials++
					continue
				}
				if better(sol.Cost, i, local.Cost, local.BestTrial) {
					local.Solution, local.BestTrial = sol, i
				}
			}
			mu.Lock()
			res.Stats.Trials += local.Stats.Trials
			res.Stats.FailedTrials += local.Stats.FailedTrials
			if local.BestTrial >= 0 && better(local.Cost, local.BestTrial, res.Cost, res.BestTrial) {
				res.Solution, res.BestTrial = local.Solution, local.BestTrial
			}
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return res, fmt.Errorf("randomized greedy: %w", err)
	}
	return res, nil
}

// better orders trial results by cost, then by lower trial index.
func better(cost Cost, trial int, bestCost Cost, bestTrial int) bool {
	if bestTrial < 0 {
		return true
	}
	if cost != bestCost {
		return cost < bestCost
	}
	return trial < bestTrial
}

// walk generates one route. It returns false when the walk dead-ends or
// exceeds maxSteps.
func (in *Instance) walk(rng *rand.Rand, p float64, maxSteps int) (Solution, bool) {
	st := newSearchState(in)
	customers := len(in.places) - 1
	for steps := 0; st.nVisited < customers; steps++ {
		if steps >= maxSteps {
			return Solution{}, false
		}
		greedy := in.cheapestFeasible(st)
		next := greedy
		if rng.Float64() < p {
			if r := in.randomNeighbour(st, rng); r >= 0 {
				next = r
			}
		}
		if next >= 0 && !in.loadFits(st, next) {
			// The trip is full for this choice: close it, unless we are
			// already at the depot, where the greedy choice still fits.
			if st.cur != 0 {
				next = 0
			} else {
				next = greedy
			}
		}
		if next < 0 && st.cur != 0 {
			next = 0
		}
		if next < 0 || !in.has[st.cur][next] {
			return Solution{}, false
		}
		in.extend(st, next)
	}
	if st.cur != 0 {
		if !in.has[st.cur][0] {
			return Solution{}, false
		}
		in.extend(st, 0)
	}
	return Solution{Route: st.route, Cost: st.cost}, true
}

// cheapestFeasible returns the index of the cheapest place that passes every
// feasibility filter, lowest id on ties, or -1.
func (in *Instance) cheapestFeasible(st *searchState) int {
	best, bestCost := -1, MaxCost
	for j := range in.places {
		if in.check(st, j) != accepted {
			continue
		}
		if c := in.cost[st.cur][j]; c < bestCost {
			best, bestCost = j, c
		}
	}
	return best
}

// randomNeighbour picks uniformly among all edges out of the current place
// and keeps the pick only when it is unvisited or the depot and not the
// current place. It returns -1 otherwise.
func (in *Instance) randomNeighbour(st *searchState, rng *rand.Rand) int {
	row := in.has[st.cur]
	n := 0
	for _, ok := range row {
		if ok {
			n++
		}
	}
	if n == 0 {
		return -1
	}
	k := rng.Intn(n)
	for j, ok := range row {
		if !ok {
			continue
		}
		if k == 0 {
			if j == st.cur || (j != 0 && st.visited[j]) {
				return -1
			}
			return j
		}
		k--
	}
	return -1
}
