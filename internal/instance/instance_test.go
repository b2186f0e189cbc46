package instance

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvrp/internal/model"
	"cvrp/internal/opt"
)

const scenario = `3
1 5
2 7
3 4

# symmetric roads
12
0 1 2
1 0 2
0 2 4
2 0 4
0 3 3
3 0 3
1 2 5
2 1 5
1 3 6
3 1 6
2 3 2
3 2 2
`

func TestParse(t *testing.T) {
	in, err := Parse(strings.NewReader(scenario), 12, 2)
	require.NoError(t, err)
	assert.Equal(t, []opt.Place{0, 1, 2, 3}, in.Places())
	assert.Equal(t, 7, in.Demand(2))
	c, ok := in.Cost(2, 3)
	require.True(t, ok)
	assert.Equal(t, 2, c)
	assert.Equal(t, 12, in.Capacity())
	assert.Equal(t, 2, in.MaxPlacesPerRoute())
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name, text, want string
	}{
		{"empty", "", "unexpected end of input"},
		{"bad count", "x\n", "line 1"},
		{"short place line", "2\n1 5\n2\n0\n", "line 3: want 2 fields"},
		{"truncated roads", "1\n1 5\n2\n0 1 2\n", "unexpected end of input after line 4"},
		{"duplicate place", "2\n1 5\n1 6\n0\n", "listed twice"},
		{"non integer cost", "1\n1 5\n1\n0 1 x\n", `"x" is not an integer`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.text), 10, 2)
			require.ErrorIs(t, err, ErrSyntax)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseRejectsInvalidInstance(t *testing.T) {
	_, err := Parse(strings.NewReader("1\n1 5\n1\n0 9 1\n"), 10, 2)
	require.ErrorIs(t, err, opt.ErrInvalidInstance)

	_, err = Parse(strings.NewReader(scenario), 0, 2)
	require.ErrorIs(t, err, opt.ErrInvalidInstance)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "g.txt")
	require.NoError(t, os.WriteFile(path, []byte(scenario), 0o644))
	in, err := ParseFile(path, 12, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, in.NumPlaces())

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.txt"), 12, 2)
	require.Error(t, err)
}

func TestFromRequest(t *testing.T) {
	req := model.InstanceIn{
		Places:            []model.PlaceIn{{ID: 1, Demand: 5}, {ID: 2, Demand: 7}},
		Roads:             []model.RoadIn{{Source: 0, Destination: 1, Cost: 2}, {Source: 1, Destination: 2, Cost: 3}, {Source: 2, Destination: 0, Cost: 4}},
		VehicleCapacity:   12,
		MaxPlacesPerRoute: 2,
	}
	in, err := FromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, []opt.Place{1, 2}, in.Customers())
	assert.Equal(t, []opt.Place{2}, in.Neighbors(1))

	req.Places = append(req.Places, model.PlaceIn{ID: 2, Demand: 1})
	_, err = FromRequest(req)
	require.ErrorIs(t, err, opt.ErrInvalidInstance)

	req.Places = []model.PlaceIn{{ID: 0, Demand: 3}, {ID: 1, Demand: 1}}
	_, err = FromRequest(req)
	require.ErrorIs(t, err, opt.ErrInvalidInstance)
}
