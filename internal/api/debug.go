package api

import (
	"net/http"
	"time"

	"cvrp/internal/buildinfo"
)

// DebugJSON reports build metadata and the effective, non-secret config.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	c := s.Cfg
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":                c.Port,
			"authMode":            c.Auth.Mode,
			"rateRps":             c.RateRPS,
			"rateBurst":           c.RateBurst,
			"solveEngine":         c.Solve.Engine,
			"solveTimeout":        c.Solve.Timeout.String(),
			"solveWorkers":        c.Solve.Workers,
			"maxExhaustivePlaces": c.Solve.MaxExhaustivePlaces,
			"maxCandidates":       c.Solve.MaxCandidates,
			"callbackMaxAttempts": c.CallbackMaxAttempts,
			"hasDatabaseUrl":      c.DatabaseURL != "",
			"hasRedisUrl":         c.RedisURL != "",
		},
	})
}
