// Package geo assembles the GeoJSON documents served over the viewport
// protocol. The database already encodes each path segment's geometry as
// GeoJSON; this package only wraps them into a FeatureCollection and tags
// each feature with its payload.
package geo

import (
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/umich-balloons/tracker/internal/store"
)

// FeatureCollection wraps path-view rows into a FeatureCollection whose
// features carry payload_id in their properties. A row whose geometry
// fails to decode is skipped with a log; one corrupt segment must not
// blank the whole map.
func FeatureCollection(segments []store.PathSegment, log *zap.Logger) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, seg := range segments {
		g, err := geojson.UnmarshalGeometry([]byte(seg.GeoJSON))
		if err != nil {
			log.Warn("skipping undecodable path segment",
				zap.Int64("payload_id", seg.PayloadID),
				zap.Error(err),
			)
			continue
		}
		f := geojson.NewFeature(g.Geometry())
		f.Properties["payload_id"] = seg.PayloadID
		fc.Append(f)
	}
	return fc
}
