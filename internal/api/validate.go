package api

import (
	"fmt"
	"net/url"

	"cvrp/internal/config"
	"cvrp/internal/model"
	"cvrp/internal/opt"
)

// validateSolveRequest checks request options and fills the default engine.
// The instance itself is validated when it is built.
func validateSolveRequest(req *model.SolveRequest, cfg config.SolveConfig) error {
	if req.Engine == "" {
		req.Engine = cfg.Engine
	}
	known := false
	for _, e := range opt.Engines() {
		known = known || e == req.Engine
	}
	if !known {
		return fmt.Errorf("invalid engine: %s (allowed: %v)", req.Engine, opt.Engines())
	}
	if req.Trials < 0 {
		return fmt.Errorf("trials must be >= 0")
	}
	if cfg.MaxTrials > 0 && req.Trials > cfg.MaxTrials {
		return fmt.Errorf("trials must be <= %d", cfg.MaxTrials)
	}
	if req.ExploreProbability > 1 {
		return fmt.Errorf("exploreProbability must be <= 1")
	}
	if req.Workers < 0 {
		return fmt.Errorf("workers must be >= 0")
	}
	if req.TimeoutMs < 0 {
		return fmt.Errorf("timeoutMs must be >= 0")
	}
	if req.CallbackURL != "" {
		u, err := url.Parse(req.CallbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("callbackUrl must be an absolute http(s) URL")
		}
	}
	if req.CallbackSecret != "" && req.CallbackURL == "" {
		return fmt.Errorf("callbackSecret requires callbackUrl")
	}
	return nil
}

// checkInstanceSize rejects exhaustive runs on instances too large to finish.
func checkInstanceSize(engine string, in *opt.Instance, cfg config.SolveConfig) error {
	if engine == opt.EngineLocal || cfg.MaxExhaustivePlaces <= 0 {
		return nil
	}
	if n := len(in.Customers()); n > cfg.MaxExhaustivePlaces {
		return fmt.Errorf("%d customers exceed the exhaustive limit of %d; use engine %q", n, cfg.MaxExhaustivePlaces, opt.EngineLocal)
	}
	return nil
}
