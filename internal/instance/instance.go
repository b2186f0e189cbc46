// Package instance reads problem instances from the text graph format and
// from API requests.
package instance

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"cvrp/internal/model"
	"cvrp/internal/opt"
)

var ErrSyntax = errors.New("instance syntax error")

// Parse reads the text format:
//
//	n
//	place demand      (n lines)
//	m
//	source dest cost  (m lines)
//
// Blank lines and lines starting with '#' are skipped. The depot does not
// need to be listed.
func Parse(r io.Reader, capacity opt.Load, maxPlacesPerRoute int) (*opt.Instance, error) {
	lr := &lineReader{sc: bufio.NewScanner(r)}

	n, err := lr.ints(1)
	if err != nil {
		return nil, err
	}
	if n[0] < 0 {
		return nil, lr.errorf("negative place count %d", n[0])
	}
	demands := make(map[opt.Place]opt.Load, n[0]+1)
	for i := 0; i < n[0]; i++ {
		f, err := lr.ints(2)
		if err != nil {
			return nil, err
		}
		if _, dup := demands[f[0]]; dup {
			return nil, lr.errorf("place %d listed twice", f[0])
		}
		demands[f[0]] = f[1]
	}

	m, err := lr.ints(1)
	if err != nil {
		return nil, err
	}
	if m[0] < 0 {
		return nil, lr.errorf("negative road count %d", m[0])
	}
	roads := make([]opt.Road, 0, m[0])
	for i := 0; i < m[0]; i++ {
		f, err := lr.ints(3)
		if err != nil {
			return nil, err
		}
		roads = append(roads, opt.Road{Source: f[0], Destination: f[1], Cost: f[2]})
	}
	if err := lr.sc.Err(); err != nil {
		return nil, fmt.Errorf("read instance: %w", err)
	}
	if _, ok := demands[opt.Depot]; !ok {
		demands[opt.Depot] = 0
	}
	return opt.NewInstance(demands, roads, capacity, maxPlacesPerRoute)
}

// ParseFile opens path and parses it.
func ParseFile(path string, capacity opt.Load, maxPlacesPerRoute int) (*opt.Instance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	in, err := Parse(f, capacity, maxPlacesPerRoute)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return in, nil
}

// FromRequest converts a JSON instance. The depot is added when absent.
func FromRequest(req model.InstanceIn) (*opt.Instance, error) {
	demands := make(map[opt.Place]opt.Load, len(req.Places)+1)
	demands[opt.Depot] = 0
	for _, p := range req.Places {
		if _, dup := demands[p.ID]; dup && p.ID != opt.Depot {
			return nil, fmt.Errorf("%w: place %d listed twice", opt.ErrInvalidInstance, p.ID)
		}
		demands[p.ID] = p.Demand
	}
	roads := make([]opt.Road, len(req.Roads))
	for i, r := range req.Roads {
		roads[i] = opt.Road{Source: r.Source, Destination: r.Destination, Cost: r.Cost}
	}
	return opt.NewInstance(demands, roads, req.VehicleCapacity, req.MaxPlacesPerRoute)
}

type lineReader struct {
	sc   *bufio.Scanner
	line int
}

func (lr *lineReader) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrSyntax, lr.line, fmt.Sprintf(format, args...))
}

// ints reads the next non-blank line and parses exactly want integers.
func (lr *lineReader) ints(want int) ([]int, error) {
	for lr.sc.Scan() {
		lr.line++
		text := strings.TrimSpace(lr.sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != want {
			return nil, lr.errorf("want %d fields, got %d", want, len(fields))
		}
		out := make([]int, want)
		for i, f := range fields {
			v, err := strconv.Atoi(f)
			if err != nil {
				return nil, lr.errorf("%q is not an integer", f)
			}
			out[i] = v
		}
		return out, nil
	}
	if err := lr.sc.Err(); err != nil {
		return nil, fmt.Errorf("read instance: %w", err)
	}
	return nil, fmt.Errorf("%w: unexpected end of input after line %d", ErrSyntax, lr.line)
}
