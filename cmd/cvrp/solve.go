package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"cvrp/internal/cluster"
	"cvrp/internal/instance"
	"cvrp/internal/opt"
)

type solveOptions struct {
	instanceFlags
	engine    string
	trials    int
	seed      int64
	p         float64
	workers   int
	ranks     int
	reduction string
	timeout   time.Duration
	json      bool
}

func newSolveCmd() *cobra.Command {
	o := &solveOptions{}
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Solve an instance in this process",
		Long: `Solve reads an instance file and prints the best route and its cost.

With --ranks greater than one the search is split across that many
in-process ranks exactly as a distributed run would split it.

  $ cvrp solve -f g.txt --capacity 30 --max-stops 4 --engine global-parallel
  $ cvrp solve -f g.txt --capacity 30 --max-stops 4 --engine local --trials 50000 --seed 7
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}
	o.register(cmd)
	cmd.Flags().StringVarP(&o.engine, "engine", "e", opt.EngineGlobal, "engine: global, global-parallel or local")
	cmd.Flags().IntVar(&o.trials, "trials", opt.DefaultTrials, "randomized trials (local engine)")
	cmd.Flags().Int64Var(&o.seed, "seed", 1, "base seed (local engine)")
	cmd.Flags().Float64Var(&o.p, "p", opt.DefaultExploreProbability, "exploration probability, negative disables (local engine)")
	cmd.Flags().IntVar(&o.workers, "workers", 0, "concurrent tasks; 0 means GOMAXPROCS")
	cmd.Flags().IntVar(&o.ranks, "ranks", 1, "in-process ranks")
	cmd.Flags().StringVar(&o.reduction, "reduction", string(cluster.ReduceCost), "cluster reduction: cost or gather")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 0, "abort the search after this long; 0 means no limit")
	cmd.Flags().BoolVar(&o.json, "json", false, "print the result as JSON")
	return cmd
}

func (o *solveOptions) run(cmd *cobra.Command) error {
	in, err := instance.ParseFile(o.file, o.capacity, o.maxStops)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	log.Printf("solve file=%s places=%d engine=%s ranks=%d", o.file, in.NumPlaces(), o.engine, o.ranks)

	var res opt.Result
	if o.ranks <= 1 {
		solver, err := opt.NewSolver(o.engine, opt.Options{
			Workers:            o.workers,
			Trials:             o.trials,
			Seed:               o.seed,
			ExploreProbability: o.p,
		})
		if err != nil {
			return err
		}
		if res, err = solver.Solve(ctx, in); err != nil {
			return err
		}
	} else {
		job, err := jobFor(in, o.engine, o.reduction, o.workers)
		if err != nil {
			return err
		}
		job.Greedy = opt.Greedy{Trials: o.trials, Seed: o.seed, ExploreProbability: o.p, Workers: o.workers}
		if res, err = runLocalWorld(ctx, o.ranks, job); err != nil {
			return err
		}
		res.Engine = o.engine
	}
	log.Printf("solve engine=%s cost=%d dur=%s", res.Engine, res.Cost, res.Stats.Duration)
	return printResult(cmd.OutOrStdout(), res, o.json)
}

// jobFor maps an engine name onto a cluster job.
func jobFor(in *opt.Instance, engine, reduction string, workers int) (cluster.Job, error) {
	job := cluster.Job{Instance: in, Reduction: cluster.Reduction(reduction), Workers: workers}
	switch engine {
	case opt.EngineGlobal:
		job.Strategy = cluster.StrategyExhaustive
	case opt.EngineGlobalParallel:
		job.Strategy = cluster.StrategyExhaustive
		job.Parallel = true
	case opt.EngineLocal:
		job.Strategy = cluster.StrategyGreedy
	default:
		return cluster.Job{}, fmt.Errorf("%w: %q", opt.ErrUnknownSolver, engine)
	}
	return job, nil
}

// runLocalWorld runs every rank of job over in-process transports and
// returns the root's result.
func runLocalWorld(ctx context.Context, size int, job cluster.Job) (opt.Result, error) {
	world := cluster.NewLocalWorld(size)
	outs := make([]cluster.Outcome, size)
	g, gctx := errgroup.WithContext(ctx)
	for r, t := range world {
		g.Go(func() error {
			defer t.Close()
			out, err := cluster.Run(gctx, t, job)
			outs[r] = out
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return opt.Result{}, err
	}
	return outs[cluster.Root].Result, nil
}
