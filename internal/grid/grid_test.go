package grid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/umich-balloons/tracker/internal/grid"
	"github.com/umich-balloons/tracker/internal/model"
)

func TestCellForPointIsDeterministic(t *testing.T) {
	g := grid.New(7, zaptest.NewLogger(t))

	a := g.CellForPoint(42.28, -83.74)
	b := g.CellForPoint(42.28, -83.74)
	require.NotEmpty(t, a)
	assert.Equal(t, a, b)

	// A point a couple of towns over lands in a different cell.
	c := g.CellForPoint(42.96, -85.67)
	assert.NotEqual(t, a, c)
}

func TestCellsForBboxCoversInteriorPoint(t *testing.T) {
	g := grid.New(7, zaptest.NewLogger(t))

	// Ann Arbor sits well inside this box, far from every edge, so its
	// cell must be part of the fill.
	box := model.Bbox{MinLat: 42.0, MinLon: -84.2, MaxLat: 42.6, MaxLon: -83.2}
	cells := g.CellsForBbox(box)
	require.NotEmpty(t, cells)

	point := g.CellForPoint(42.28, -83.74)
	require.NotEmpty(t, point)
	assert.Contains(t, cells, point)
}

func TestInvalidResolutionCollapsesToEmpty(t *testing.T) {
	g := grid.New(99, zaptest.NewLogger(t))

	assert.Empty(t, g.CellForPoint(42.28, -83.74))
	assert.Empty(t, g.CellsForBbox(model.Bbox{MinLat: 42, MinLon: -84, MaxLat: 43, MaxLon: -83}))
}

func TestBboxValid(t *testing.T) {
	assert.True(t, model.Bbox{MinLat: -90, MinLon: -180, MaxLat: 90, MaxLon: 180}.Valid())
	assert.False(t, model.Bbox{MinLat: 43, MinLon: -84, MaxLat: 42, MaxLon: -83}.Valid())
	assert.False(t, model.Bbox{MinLat: -91, MinLon: 0, MaxLat: 0, MaxLon: 1}.Valid())
}
