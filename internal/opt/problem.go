package opt

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

type (
	Place = int
	Load  = int
	Cost  = int
)

// Depot is the place every trip starts and ends at.
const Depot Place = 0

// MaxCost is the cost reported when no feasible route exists.
const MaxCost Cost = math.MaxInt

var ErrInvalidInstance = errors.New("invalid instance")

// Road is a directed edge of the road graph.
type Road struct {
	Source      Place
	Destination Place
	Cost        Cost
}

// Instance is an immutable CVRP problem. Places are stored densely by index
// in ascending id order; index 0 is always the depot.
type Instance struct {
	places   []Place
	index    map[Place]int
	demand   []Load
	cost     [][]Cost
	has      [][]bool
	capacity Load
	maxStops int
}

// NewInstance validates its inputs and builds an Instance. The depot is added
// to demands when missing.
func NewInstance(demands map[Place]Load, roads []Road, capacity Load, maxPlacesPerRoute int) (*Instance, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: vehicle capacity must be > 0, got %d", ErrInvalidInstance, capacity)
	}
	if maxPlacesPerRoute <= 0 {
		return nil, fmt.Errorf("%w: max places per route must be > 0, got %d", ErrInvalidInstance, maxPlacesPerRoute)
	}
	places := []Place{Depot}
	for p, d := range demands {
		if p < 0 {
			return nil, fmt.Errorf("%w: negative place id %d", ErrInvalidInstance, p)
		}
		if d < 0 {
			return nil, fmt.Errorf("%w: place %d has negative demand %d", ErrInvalidInstance, p, d)
		}
		if p == Depot {
			if d != 0 {
				return nil, fmt.Errorf("%w: depot demand must be 0, got %d", ErrInvalidInstance, d)
			}
			continue
		}
		places = append(places, p)
	}
	if len(places) == 1 {
		return nil, fmt.Errorf("%w: no customer places", ErrInvalidInstance)
	}
	sort.Ints(places)

	n := len(places)
	inst := &Instance{
		places:   places,
		index:    make(map[Place]int, n),
		demand:   make([]Load, n),
		cost:     make([][]Cost, n),
		has:      make([][]bool, n),
		capacity: capacity,
		maxStops: maxPlacesPerRoute,
	}
	for i, p := range places {
		inst.index[p] = i
		inst.demand[i] = demands[p]
		inst.cost[i] = make([]Cost, n)
		inst.has[i] = make([]bool, n)
	}
	for _, r := range roads {
		if r.Cost < 0 {
			return nil, fmt.Errorf("%w: road %d->%d has negative cost %d", ErrInvalidInstance, r.Source, r.Destination, r.Cost)
		}
		src, ok := inst.index[r.Source]
		if !ok {
			return nil, fmt.Errorf("%w: road source %d is not a known place", ErrInvalidInstance, r.Source)
		}
		dst, ok := inst.index[r.Destination]
		if !ok {
			return nil, fmt.Errorf("%w: road destination %d is not a known place", ErrInvalidInstance, r.Destination)
		}
		inst.cost[src][dst] = r.Cost
		inst.has[src][dst] = true
	}
	return inst, nil
}

// NumPlaces counts the depot and every customer.
func (in *Instance) NumPlaces() int { return len(in.places) }

func (in *Instance) Capacity() Load { return in.capacity }

func (in *Instance) MaxPlacesPerRoute() int { return in.maxStops }

// Places returns all place ids in ascending order, depot first.
func (in *Instance) Places() []Place { return append([]Place(nil), in.places...) }

// Customers returns the non-depot places in ascending order.
func (in *Instance) Customers() []Place { return append([]Place(nil), in.places[1:]...) }

// Demand returns the load of p, or 0 for unknown places.
func (in *Instance) Demand(p Place) Load {
	i, ok := in.index[p]
	if !ok {
		return 0
	}
	return in.demand[i]
}

// Cost returns the cost of the directed edge a->b and whether it exists.
func (in *Instance) Cost(a, b Place) (Cost, bool) {
	i, ok := in.index[a]
	if !ok {
		return 0, false
	}
	j, ok := in.index[b]
	if !ok {
		return 0, false
	}
	return in.cost[i][j], in.has[i][j]
}

// Neighbors returns the destinations reachable from p by one edge, ascending.
func (in *Instance) Neighbors(p Place) []Place {
	i, ok := in.index[p]
	if !ok {
		return nil
	}
	out := []Place{}
	for j, ok := range in.has[i] {
		if ok {
			out = append(out, in.places[j])
		}
	}
	return out
}

// Validate checks that route is a complete feasible route for the instance
// and returns its total cost.
func (in *Instance) Validate(route []Place) (Cost, error) {
	if len(route) < 3 {
		return 0, fmt.Errorf("route too short: %v", route)
	}
	if route[0] != Depot || route[len(route)-1] != Depot {
		return 0, fmt.Errorf("route must start and end at the depot: %v", route)
	}
	seen := make(map[Place]bool, len(in.places))
	total := 0
	load, stops := 0, 0
	for i := 1; i < len(route); i++ {
		prev, p := route[i-1], route[i]
		c, ok := in.Cost(prev, p)
		if !ok {
			return 0, fmt.Errorf("missing road %d->%d at position %d", prev, p, i)
		}
		if prev == p {
			return 0, fmt.Errorf("self loop at %d, position %d", p, i)
		}
		total += c
		if p == Depot {
			load, stops = 0, 0
			continue
		}
		if seen[p] {
			return 0, fmt.Errorf("place %d visited twice", p)
		}
		seen[p] = true
		load += in.Demand(p)
		stops++
		if load > in.capacity {
			return 0, fmt.Errorf("trip ending after place %d exceeds capacity %d", p, in.capacity)
		}
		if stops > in.maxStops {
			return 0, fmt.Errorf("trip ending after place %d exceeds %d stops", p, in.maxStops)
		}
	}
	if len(seen) != len(in.places)-1 {
		return 0, fmt.Errorf("route visits %d of %d customers", len(seen), len(in.places)-1)
	}
	return total, nil
}

// Solution is a complete route with its total cost. The zero route with
// MaxCost is the infeasible sentinel.
type Solution struct {
	Route []Place
	Cost  Cost
}

// Infeasible returns the "no solution" sentinel.
func Infeasible() Solution { return Solution{Route: nil, Cost: MaxCost} }

// Feasible reports whether s holds an actual route.
func (s Solution) Feasible() bool { return len(s.Route) > 0 && s.Cost != MaxCost }

// Trips splits the route into the interior places of each depot-to-depot trip.
func (s Solution) Trips() [][]Place {
	var trips [][]Place
	var cur []Place
	for i, p := range s.Route {
		if p != Depot {
			cur = append(cur, p)
			continue
		}
		if i > 0 && len(cur) > 0 {
			trips = append(trips, cur)
		}
		cur = nil
	}
	return trips
}

// Best returns the first minimum-cost candidate in order, or the sentinel.
func Best(cands []Solution) Solution {
	out := Infeasible()
	for _, c := range cands {
		if c.Cost < out.Cost {
			out = c
		}
	}
	return out
}
