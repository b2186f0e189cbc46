package opt

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Engine names accepted by NewSolver.
const (
	EngineGlobal         = "global"
	EngineGlobalParallel = "global-parallel"
	EngineLocal          = "local"
)

var ErrUnknownSolver = errors.New("unknown solver")

// Solver produces a best route for an instance.
type Solver interface {
	Name() string
	Solve(ctx context.Context, in *Instance) (Result, error)
}

// Result is a solver outcome. Solution is the infeasible sentinel when no
// route was found.
type Result struct {
	Solution
	Engine string
	// BestTrial is the index of the winning randomized trial, -1 if none.
	// Unused by the exhaustive engines.
	BestTrial int
	Stats     Stats
}

// Stats describes the work a solver did.
type Stats struct {
	Frames       int64
	Forks        int64
	Candidates   int
	Trials       int
	FailedTrials int
	Duration     time.Duration
}

// Options configures NewSolver. Zero values select engine defaults.
type Options struct {
	Workers            int
	ForkDepth          int
	Trials             int
	Seed               int64
	ExploreProbability float64
	MaxSteps           int
	// MaxCandidates bounds the exhaustive engines' recorded routes.
	MaxCandidates int
}

// NewSolver returns the engine registered under name.
func NewSolver(name string, o Options) (Solver, error) {
	switch name {
	case EngineGlobal, "":
		return &Exhaustive{MaxCandidates: o.MaxCandidates}, nil
	case EngineGlobalParallel:
		return &Exhaustive{Parallel: true, Workers: o.Workers, ForkDepth: o.ForkDepth, MaxCandidates: o.MaxCandidates}, nil
	case EngineLocal:
		return &Greedy{
			Trials:             o.Trials,
			ExploreProbability: o.ExploreProbability,
			MaxSteps:           o.MaxSteps,
			Seed:               o.Seed,
			Workers:            o.Workers,
		}, nil
	}
	return nil, fmt.Errorf("%w: %q (allowed: %s, %s, %s)", ErrUnknownSolver, name, EngineGlobal, EngineGlobalParallel, EngineLocal)
}

// Engines lists the registered engine names.
func Engines() []string {
	return []string{EngineGlobal, EngineGlobalParallel, EngineLocal}
}
