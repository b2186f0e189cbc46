package cluster

import (
	"errors"
	"fmt"

	"cvrp/internal/opt"
)

// terminator ends one route record in a flattened buffer. Place ids are
// never negative, so it cannot collide with a place.
const terminator = -1

var ErrMalformedBuffer = errors.New("malformed route buffer")

// Flatten encodes routes as: cost, places..., -1 for each route.
func Flatten(routes []opt.Solution) []int {
	n := 0
	for _, r := range routes {
		n += len(r.Route) + 2
	}
	out := make([]int, 0, n)
	for _, r := range routes {
		out = append(out, r.Cost)
		out = append(out, r.Route...)
		out = append(out, terminator)
	}
	return out
}

// Unflatten decodes a Flatten buffer. A truncated record, an empty route,
// a negative cost or a negative place is an ErrMalformedBuffer.
func Unflatten(buf []int) ([]opt.Solution, error) {
	var out []opt.Solution
	for i := 0; i < len(buf); {
		start := i
		cost := buf[i]
		if cost < 0 {
			return nil, fmt.Errorf("%w: negative cost %d at offset %d", ErrMalformedBuffer, cost, start)
		}
		i++
		var route []opt.Place
		for i < len(buf) && buf[i] != terminator {
			if buf[i] < 0 {
				return nil, fmt.Errorf("%w: invalid place %d at offset %d", ErrMalformedBuffer, buf[i], i)
			}
			route = append(route, buf[i])
			i++
		}
		if i == len(buf) {
			return nil, fmt.Errorf("%w: record at offset %d has no terminator", ErrMalformedBuffer, start)
		}
		if len(route) == 0 {
			return nil, fmt.Errorf("%w: empty route at offset %d", ErrMalformedBuffer, start)
		}
		i++
		out = append(out, opt.Solution{Route: route, Cost: cost})
	}
	return out, nil
}
