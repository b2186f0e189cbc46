package cluster

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"cvrp/internal/opt"
)

type Strategy string

const (
	StrategyExhaustive Strategy = "exhaustive"
	StrategyGreedy     Strategy = "greedy"
)

type Reduction string

const (
	// ReduceCost reduces local best costs and ships only the winning route.
	ReduceCost Reduction = "cost"
	// ReduceGather ships every local candidate to the root.
	ReduceGather Reduction = "gather"
)

var ErrBadJob = errors.New("invalid cluster job")

// Job is what every rank of one run executes. All ranks must be given the
// same job.
type Job struct {
	Instance  *opt.Instance
	Strategy  Strategy
	Reduction Reduction
	// Parallel, Workers and ForkDepth configure each rank's exhaustive search.
	Parallel  bool
	Workers   int
	ForkDepth int
	// MaxCandidates bounds each rank's recorded routes; 0 means no limit.
	MaxCandidates int
	// Greedy configures the randomized strategy. Its Trials are the total
	// across ranks.
	Greedy opt.Greedy
}

// Outcome is one rank's view of a finished run. Only the root's Outcome has
// Global set and carries the answer for the whole cluster.
type Outcome struct {
	opt.Result
	Rank   int
	Global bool
}

// Run executes this rank's share of job over t and takes part in the
// reduction. Every rank must call Run with the same job.
func Run(ctx context.Context, t Transport, job Job) (Outcome, error) {
	if job.Instance == nil {
		return Outcome{}, fmt.Errorf("%w: no instance", ErrBadJob)
	}
	if job.Strategy == "" {
		job.Strategy = StrategyExhaustive
	}
	if job.Reduction == "" {
		job.Reduction = ReduceCost
	}
	if job.Reduction != ReduceCost && job.Reduction != ReduceGather {
		return Outcome{}, fmt.Errorf("%w: reduction %q", ErrBadJob, job.Reduction)
	}

	start := time.Now()
	rank, size := t.Rank(), t.Size()
	var (
		local opt.Result
		cands []opt.Solution
		err   error
	)
	switch job.Strategy {
	case StrategyExhaustive:
		e := &opt.Exhaustive{
			Parallel:      job.Parallel,
			Workers:       job.Workers,
			ForkDepth:     job.ForkDepth,
			FirstHops:     FirstHops(job.Instance, rank, size),
			MaxCandidates: job.MaxCandidates,
		}
		var stats opt.Stats
		cands, stats, err = e.Enumerate(ctx, job.Instance)
		local = opt.Result{Engine: e.Name(), Solution: opt.Best(cands), BestTrial: -1, Stats: stats}
	case StrategyGreedy:
		g := job.Greedy
		total := g.Trials
		if total <= 0 {
			total = opt.DefaultTrials
		}
		from, to := TrialRange(total, rank, size)
		local, err = g.RunTrials(ctx, job.Instance, from, to)
		if local.Feasible() {
			cands = []opt.Solution{local.Solution}
		}
	default:
		return Outcome{}, fmt.Errorf("%w: strategy %q", ErrBadJob, job.Strategy)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("rank %d: %w", rank, err)
	}
	log.Printf("cluster rank=%d/%d strategy=%s local_cost=%d candidates=%d dur=%s",
		rank, size, job.Strategy, local.Cost, local.Stats.Candidates, time.Since(start))

	var best opt.Solution
	var bestRank int
	switch job.Reduction {
	case ReduceCost:
		best, bestRank, err = reduceCost(ctx, t, local.Solution)
	case ReduceGather:
		best, bestRank, err = reduceGather(ctx, t, cands)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("rank %d: %w", rank, err)
	}

	out := Outcome{Result: local, Rank: rank}
	if rank == Root {
		out.Global = true
		out.Solution = best
		if job.Strategy == StrategyGreedy && bestRank != rank {
			// The winning trial index lives on another rank.
			out.BestTrial = -1
		}
		if !best.Feasible() {
			out.BestTrial = -1
		}
		out.Stats.Duration = time.Since(start)
	}
	return out, nil
}

// reduceCost finds the cheapest local best with a min-loc all-reduce; the
// owning rank then sends its route to the root. Equal costs go to the lowest
// rank.
func reduceCost(ctx context.Context, t Transport, local opt.Solution) (opt.Solution, int, error) {
	cost, owner, err := AllReduceMinLoc(ctx, t, local.Cost)
	if err != nil {
		return opt.Solution{}, 0, err
	}
	if cost == opt.MaxCost {
		return opt.Infeasible(), owner, nil
	}
	switch {
	case owner == Root && t.Rank() == Root:
		return local, owner, nil
	case t.Rank() == owner:
		if err := t.Send(ctx, Root, tagRoute, Flatten([]opt.Solution{local})); err != nil {
			return opt.Solution{}, 0, fmt.Errorf("route transfer: %w", err)
		}
		return local, owner, nil
	case t.Rank() == Root:
		buf, err := t.Recv(ctx, owner, tagRoute)
		if err != nil {
			return opt.Solution{}, 0, fmt.Errorf("route transfer: %w", err)
		}
		sols, err := Unflatten(buf)
		if err != nil {
			return opt.Solution{}, 0, fmt.Errorf("route transfer from rank %d: %w", owner, err)
		}
		if len(sols) != 1 || sols[0].Cost != cost {
			return opt.Solution{}, 0, fmt.Errorf("route transfer from rank %d: %w: want one route of cost %d", owner, ErrMalformedBuffer, cost)
		}
		return sols[0], owner, nil
	}
	return local, owner, nil
}

// reduceGather ships every candidate to the root, which merges them in rank
// order and scans for the minimum.
func reduceGather(ctx context.Context, t Transport, cands []opt.Solution) (opt.Solution, int, error) {
	bufs, err := Gather(ctx, t, Flatten(cands))
	if err != nil {
		return opt.Solution{}, 0, err
	}
	if t.Rank() != Root {
		return opt.Best(cands), t.Rank(), nil
	}
	best, bestRank := opt.Best(cands), Root
	for r, buf := range bufs {
		if r == Root {
			continue
		}
		sols, err := Unflatten(buf)
		if err != nil {
			return opt.Solution{}, 0, fmt.Errorf("gather from rank %d: %w", r, err)
		}
		if b := opt.Best(sols); b.Cost < best.Cost {
			best, bestRank = b, r
		}
	}
	return best, bestRank, nil
}
