package model

import "time"

// Wire types of the HTTP API.

type PlaceIn struct {
	ID     int `json:"id"`
	Demand int `json:"demand"`
}

type RoadIn struct {
	Source      int `json:"source"`
	Destination int `json:"destination"`
	Cost        int `json:"cost"`
}

// InstanceIn is a problem instance as submitted by clients. The depot (place
// 0) may be omitted from Places.
type InstanceIn struct {
	Places            []PlaceIn `json:"places"`
	Roads             []RoadIn  `json:"roads"`
	VehicleCapacity   int       `json:"vehicleCapacity"`
	MaxPlacesPerRoute int       `json:"maxPlacesPerRoute"`
}

type SolveRequest struct {
	Instance           InstanceIn `json:"instance"`
	Engine             string     `json:"engine,omitempty"`
	Trials             int        `json:"trials,omitempty"`
	Seed               int64      `json:"seed,omitempty"`
	ExploreProbability float64    `json:"exploreProbability,omitempty"`
	Workers            int        `json:"workers,omitempty"`
	TimeoutMs          int        `json:"timeoutMs,omitempty"`
	Async              bool       `json:"async,omitempty"`
	// CallbackURL receives a signed POST when the run finishes.
	CallbackURL    string `json:"callbackUrl,omitempty"`
	CallbackSecret string `json:"callbackSecret,omitempty"`
}

// Run statuses.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run event types published on the broker and delivered to callbacks.
const (
	EventRunStarted   = "run.started"
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
)

type RunStats struct {
	Frames       int64 `json:"frames,omitempty"`
	Forks        int64 `json:"forks,omitempty"`
	Candidates   int   `json:"candidates,omitempty"`
	Trials       int   `json:"trials,omitempty"`
	FailedTrials int   `json:"failedTrials,omitempty"`
	BestTrial    int   `json:"bestTrial,omitempty"`
	DurationMs   int64 `json:"durationMs"`
}

// Run is one solve request and, once finished, its result. Cost is the
// maximum int when the instance has no feasible route.
type Run struct {
	ID          string     `json:"id"`
	Owner       string     `json:"owner,omitempty"`
	Engine      string     `json:"engine"`
	Status      string     `json:"status"`
	Digest      string     `json:"digest"`
	Places      int        `json:"places"`
	Feasible    bool       `json:"feasible"`
	Route       []int      `json:"route"`
	Trips       [][]int    `json:"trips,omitempty"`
	Cost        int        `json:"cost"`
	Stats       *RunStats  `json:"stats,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// RunEvent is the payload of run.* events.
type RunEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	TS   string `json:"ts"`
	Run  Run    `json:"run"`
}

type RunList struct {
	Items      []Run  `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
}
