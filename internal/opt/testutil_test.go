package opt

import (
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// scenarioInstance is the three-customer example with a known optimum of 13
// via 0,2,3,0,1,0.
func scenarioInstance(t *testing.T) *Instance {
	t.Helper()
	demands := map[Place]Load{1: 5, 2: 7, 3: 4}
	var roads []Road
	for _, e := range []Road{{0, 1, 2}, {0, 2, 4}, {0, 3, 3}, {1, 2, 5}, {1, 3, 6}, {2, 3, 2}} {
		roads = append(roads, e, Road{Source: e.Destination, Destination: e.Source, Cost: e.Cost})
	}
	in, err := NewInstance(demands, roads, 12, 2)
	require.NoError(t, err)
	return in
}

// randomInstance builds n customers with random demands and a directed graph
// where each edge exists with probability density.
func randomInstance(t *testing.T, rng *rand.Rand, n int, density float64, capacity Load, maxStops int) *Instance {
	t.Helper()
	demands := map[Place]Load{}
	for p := 1; p <= n; p++ {
		demands[p] = 1 + rng.Intn(9)
	}
	var roads []Road
	for a := 0; a <= n; a++ {
		for b := 0; b <= n; b++ {
			if a == b || rng.Float64() > density {
				continue
			}
			roads = append(roads, Road{Source: a, Destination: b, Cost: 1 + rng.Intn(50)})
		}
	}
	in, err := NewInstance(demands, roads, capacity, maxStops)
	require.NoError(t, err)
	return in
}

// bruteForce enumerates every customer permutation and every way to cut it
// into trips, independently of the search code, and returns the best cost.
func bruteForce(in *Instance) Cost {
	customers := in.Customers()
	bestCost := MaxCost
	permute(customers, 0, func(perm []Place) {
		cuts := len(perm) - 1
		for mask := 0; mask < 1<<cuts; mask++ {
			route := []Place{Depot}
			for i, p := range perm {
				route = append(route, p)
				if i < cuts && mask&(1<<i) != 0 {
					route = append(route, Depot)
				}
			}
			route = append(route, Depot)
			if c, ok := routeCost(in, route); ok && c < bestCost {
				bestCost = c
			}
		}
	})
	return bestCost
}

func permute(a []Place, k int, visit func([]Place)) {
	if k == len(a) {
		visit(a)
		return
	}
	for i := k; i < len(a); i++ {
		a[k], a[i] = a[i], a[k]
		permute(a, k+1, visit)
		a[k], a[i] = a[i], a[k]
	}
}

// routeCost checks trip limits and edges for a route built by bruteForce.
func routeCost(in *Instance, route []Place) (Cost, bool) {
	total, load, stops := 0, 0, 0
	for i := 1; i < len(route); i++ {
		c, ok := in.Cost(route[i-1], route[i])
		if !ok {
			return 0, false
		}
		total += c
		if route[i] == Depot {
			load, stops = 0, 0
			continue
		}
		load += in.Demand(route[i])
		stops++
		if load > in.Capacity() || stops > in.MaxPlacesPerRoute() {
			return 0, false
		}
	}
	return total, true
}

func fmtRoute(route []Place) string {
	parts := make([]string, len(route))
	for i, p := range route {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
