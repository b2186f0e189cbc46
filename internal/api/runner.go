package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"cvrp/internal/auth"
	"cvrp/internal/metrics"
	"cvrp/internal/model"
	"cvrp/internal/obs"
	"cvrp/internal/opt"
	"cvrp/internal/store"
)

func newRun(pr auth.Principal, engine string, in *opt.Instance) model.Run {
	return model.Run{
		ID:        store.NewRunID(),
		Owner:     pr.Subject,
		Engine:    engine,
		Status:    model.RunRunning,
		Digest:    in.Digest(),
		Places:    in.NumPlaces(),
		Route:     []int{},
		Cost:      opt.MaxCost,
		CreatedAt: time.Now().UTC(),
	}
}

func (s *Server) solveTimeout(req model.SolveRequest) time.Duration {
	timeout := s.Cfg.Solve.Timeout
	if d := time.Duration(req.TimeoutMs) * time.Millisecond; d > 0 && d < timeout {
		timeout = d
	}
	return timeout
}

// execute solves in for run, records the outcome, and publishes events and
// callbacks. The returned run is the stored final state.
func (s *Server) execute(ctx context.Context, run model.Run, in *opt.Instance, req model.SolveRequest) (model.Run, error) {
	workers := req.Workers
	if workers == 0 {
		workers = s.Cfg.Solve.Workers
	}
	solver, err := opt.NewSolver(run.Engine, opt.Options{
		Workers:            workers,
		Trials:             req.Trials,
		Seed:               req.Seed,
		ExploreProbability: req.ExploreProbability,
		MaxCandidates:      s.Cfg.Solve.MaxCandidates,
	})
	if err != nil {
		return s.finish(run, req, opt.Result{}, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.solveTimeout(req))
	defer cancel()
	s.publish(run, model.EventRunStarted)

	done := obs.Time(ctx, "solve."+run.Engine)
	res, err := solver.Solve(ctx, in)
	if err == nil && res.Feasible() {
		if _, verr := in.Validate(res.Route); verr != nil {
			err = fmt.Errorf("solver returned an invalid route: %w", verr)
		}
	}
	done(&err)
	return s.finish(run, req, res, err)
}

func (s *Server) finish(run model.Run, req model.SolveRequest, res opt.Result, solveErr error) (model.Run, error) {
	now := time.Now().UTC()
	run.CompletedAt = &now
	outcome := "infeasible"
	evtType := model.EventRunCompleted
	switch {
	case solveErr != nil:
		run.Status = model.RunFailed
		run.Error = solveErr.Error()
		evtType = model.EventRunFailed
		outcome = "error"
		switch {
		case errors.Is(solveErr, context.DeadlineExceeded):
			outcome = "timeout"
			run.Error = "solve timed out"
		case errors.Is(solveErr, opt.ErrCandidateLimit):
			outcome = "limit"
		}
	default:
		run.Status = model.RunCompleted
		run.Feasible = res.Feasible()
		run.Cost = res.Cost
		run.Route = append([]int{}, res.Route...)
		run.Trips = res.Trips()
		if run.Feasible {
			outcome = "feasible"
		}
		opt.RecordStats(run.Digest, run.Engine, res.Stats)
		metrics.Candidates.WithLabelValues(run.Engine).Add(float64(res.Stats.Candidates))
		metrics.SolveDuration.WithLabelValues(run.Engine).Observe(res.Stats.Duration.Seconds())
	}
	run.Stats = toRunStats(res)
	metrics.SolveRuns.WithLabelValues(run.Engine, outcome).Inc()

	// The solve context may already be done; persist regardless.
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Store.UpdateRun(sctx, run); err != nil {
		log.Printf("run=%s update err=%v", run.ID, err)
	}
	evt := s.publish(run, evtType)
	s.Pub.Emit(sctx, req.CallbackURL, req.CallbackSecret, evt)
	log.Printf("run=%s engine=%s status=%s cost=%d outcome=%s", run.ID, run.Engine, run.Status, run.Cost, outcome)
	return run, solveErr
}

func (s *Server) publish(run model.Run, typ string) model.RunEvent {
	evt := model.RunEvent{
		ID:   fmt.Sprintf("evt_%s_%s", run.ID, typ),
		Type: typ,
		TS:   time.Now().UTC().Format(time.RFC3339),
		Run:  run,
	}
	s.Broker.Publish(run.ID, evt)
	return evt
}

func toRunStats(res opt.Result) *model.RunStats {
	st := res.Stats
	return &model.RunStats{
		Frames:       st.Frames,
		Forks:        st.Forks,
		Candidates:   st.Candidates,
		Trials:       st.Trials,
		FailedTrials: st.FailedTrials,
		BestTrial:    res.BestTrial,
		DurationMs:   st.Duration.Milliseconds(),
	}
}

func terminal(status string) bool {
	return status == model.RunCompleted || status == model.RunFailed
}
