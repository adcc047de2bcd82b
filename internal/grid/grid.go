// Package grid maps coordinates onto the hexagonal cell index that shards
// realtime updates by geography. Producers stamp each position with its
// containing cell; viewers subscribe to the cells covering their viewport.
package grid

import (
	h3 "github.com/uber/h3-go/v4"
	"go.uber.org/zap"

	"github.com/umich-balloons/tracker/internal/model"
)

// Grid computes cell ids at one fixed resolution. The broadcaster and the
// viewport handlers must share a Grid; rooms are keyed by cell id, so a
// resolution mismatch lands every broadcast in an empty room.
type Grid struct {
	resolution int
	log        *zap.Logger
}

func New(resolution int, log *zap.Logger) *Grid {
	return &Grid{resolution: resolution, log: log}
}

// CellForPoint returns the id of the cell containing the coordinate. An
// index error collapses to "" with a log; the event then reaches nobody,
// which beats crashing the broadcast loop over one bad point.
func (g *Grid) CellForPoint(lat, lon float64) string {
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), g.resolution)
	if err != nil {
		g.log.Warn("cell index rejected point",
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
			zap.Error(err),
		)
		return ""
	}
	return cell.String()
}

// CellsForBbox returns the ids of the cells filling the box. The ring is
// traced SW, SE, NE, NW and closed back at SW. Index errors collapse to an
// empty set with a log, so the caller subscribes to nothing rather than
// failing the viewport update.
func (g *Grid) CellsForBbox(box model.Bbox) map[string]struct{} {
	ring := h3.GeoLoop{
		h3.NewLatLng(box.MinLat, box.MinLon),
		h3.NewLatLng(box.MinLat, box.MaxLon),
		h3.NewLatLng(box.MaxLat, box.MaxLon),
		h3.NewLatLng(box.MaxLat, box.MinLon),
		h3.NewLatLng(box.MinLat, box.MinLon),
	}
	cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: ring}, g.resolution)
	if err != nil {
		g.log.Warn("cell fill failed for viewport",
			zap.Float64("min_lat", box.MinLat),
			zap.Float64("min_lon", box.MinLon),
			zap.Float64("max_lat", box.MaxLat),
			zap.Float64("max_lon", box.MaxLon),
			zap.Error(err),
		)
		return map[string]struct{}{}
	}

	ids := make(map[string]struct{}, len(cells))
	for _, c := range cells {
		ids[c.String()] = struct{}{}
	}
	return ids
}
