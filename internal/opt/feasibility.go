package opt

// searchState is the per-frame recursion state. Places are dense indices
// into Instance.places; route holds place ids.
type searchState struct {
	visited  []bool
	nVisited int
	cur      int
	load     Load
	stops    int
	route    []Place
	cost     Cost
}

func newSearchState(in *Instance) *searchState {
	route := make([]Place, 1, 2*len(in.places)+1)
	route[0] = Depot
	return &searchState{visited: make([]bool, len(in.places)), route: route}
}

// clone returns an independent copy for a forked task.
func (st *searchState) clone() *searchState {
	out := *st
	out.visited = append([]bool(nil), st.visited...)
	route := make([]Place, len(st.route), cap(st.route))
	copy(route, st.route)
	out.route = route
	return &out
}

// rejection names the first filter that refused an extension.
type rejection int

const (
	accepted rejection = iota
	rejectSelfLoop
	rejectNoRoad
	rejectVisited
	rejectCapacity
	rejectStops
)

func (r rejection) String() string {
	switch r {
	case accepted:
		return "accepted"
	case rejectSelfLoop:
		return "self-loop"
	case rejectNoRoad:
		return "no-road"
	case rejectVisited:
		return "visited"
	case rejectCapacity:
		return "capacity"
	case rejectStops:
		return "stops"
	}
	return "unknown"
}

// check applies the feasibility filters to extending st by place index next.
// It never mutates st.
func (in *Instance) check(st *searchState, next int) rejection {
	if next == st.cur {
		return rejectSelfLoop
	}
	if !in.has[st.cur][next] {
		return rejectNoRoad
	}
	if next == 0 {
		return accepted
	}
	if st.visited[next] {
		return rejectVisited
	}
	if st.load+in.demand[next] > in.capacity {
		return rejectCapacity
	}
	if st.stops+1 > in.maxStops {
		return rejectStops
	}
	return accepted
}

// loadFits reports whether place index next still fits in the current trip
// by load and stop count alone.
func (in *Instance) loadFits(st *searchState, next int) bool {
	if next == 0 {
		return true
	}
	return st.load+in.demand[next] <= in.capacity && st.stops+1 <= in.maxStops
}

// extend moves st to place index next. The caller has checked feasibility.
func (in *Instance) extend(st *searchState, next int) {
	st.cost += in.cost[st.cur][next]
	st.route = append(st.route, in.places[next])
	if next == 0 {
		st.load, st.stops = 0, 0
	} else {
		st.visited[next] = true
		st.nVisited++
		st.load += in.demand[next]
		st.stops++
	}
	st.cur = next
}

// complete reports whether st is back at the depot with every customer served.
func (in *Instance) complete(st *searchState) bool {
	return st.cur == 0 && st.nVisited == len(in.places)-1
}
