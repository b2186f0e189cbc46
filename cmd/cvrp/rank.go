package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"cvrp/internal/cluster"
	"cvrp/internal/instance"
	"cvrp/internal/opt"
)

type rankOptions struct {
	instanceFlags
	rank      int
	size      int
	job       string
	redisURL  string
	engine    string
	reduction string
	trials    int
	seed      int64
	p         float64
	workers   int
	timeout   time.Duration
	json      bool
}

func newRankCmd() *cobra.Command {
	o := &rankOptions{}
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Run one rank of a distributed solve over Redis",
		Long: `Rank runs one member of a distributed solve. Start one process per rank
with the same --job, --size and instance flags; rank 0 prints the result.

  $ cvrp rank --job j1 --rank 0 --size 3 -f g.txt --capacity 30 --max-stops 4 &
  $ cvrp rank --job j1 --rank 1 --size 3 -f g.txt --capacity 30 --max-stops 4 &
  $ cvrp rank --job j1 --rank 2 --size 3 -f g.txt --capacity 30 --max-stops 4
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}
	o.register(cmd)
	cmd.Flags().IntVar(&o.rank, "rank", 0, "this process's rank")
	cmd.Flags().IntVar(&o.size, "size", 1, "number of ranks")
	cmd.Flags().StringVar(&o.job, "job", "", "job id shared by all ranks")
	cmd.Flags().StringVar(&o.redisURL, "redis", envOr("REDIS_URL", "redis://localhost:6379/0"), "Redis URL")
	cmd.Flags().StringVarP(&o.engine, "engine", "e", opt.EngineGlobal, "engine: global, global-parallel or local")
	cmd.Flags().StringVar(&o.reduction, "reduction", string(cluster.ReduceCost), "reduction: cost or gather")
	cmd.Flags().IntVar(&o.trials, "trials", opt.DefaultTrials, "randomized trials across all ranks (local engine)")
	cmd.Flags().Int64Var(&o.seed, "seed", 1, "base seed (local engine)")
	cmd.Flags().Float64Var(&o.p, "p", opt.DefaultExploreProbability, "exploration probability (local engine)")
	cmd.Flags().IntVar(&o.workers, "workers", 0, "concurrent tasks per rank; 0 means GOMAXPROCS")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 0, "abort after this long; 0 means no limit")
	cmd.Flags().BoolVar(&o.json, "json", false, "print the result as JSON")
	if err := cmd.MarkFlagRequired("job"); err != nil {
		log.Fatalf("mark job required: %v", err)
	}
	return cmd
}

func (o *rankOptions) run(cmd *cobra.Command) error {
	in, err := instance.ParseFile(o.file, o.capacity, o.maxStops)
	if err != nil {
		return err
	}
	job, err := jobFor(in, o.engine, o.reduction, o.workers)
	if err != nil {
		return err
	}
	job.Greedy = opt.Greedy{Trials: o.trials, Seed: o.seed, ExploreProbability: o.p, Workers: o.workers}

	t, err := cluster.DialRedisTransport(o.redisURL, o.job, o.rank, o.size)
	if err != nil {
		return err
	}
	defer t.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	out, err := cluster.Run(ctx, t, job)
	if err != nil {
		return fmt.Errorf("job %s: %w", o.job, err)
	}
	if !out.Global {
		log.Printf("rank=%d job=%s done local_cost=%d", o.rank, o.job, out.Cost)
		return nil
	}
	out.Engine = o.engine
	return printResult(cmd.OutOrStdout(), out.Result, o.json)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
