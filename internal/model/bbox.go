package model

// Bbox is a geographic bounding box in decimal degrees. Field names follow
// the WebSocket protocol's camelCase convention so viewport payloads
// unmarshal directly into it.
type Bbox struct {
	MinLat float64 `json:"minLat"`
	MinLon float64 `json:"minLon"`
	MaxLat float64 `json:"maxLat"`
	MaxLon float64 `json:"maxLon"`
}

// Valid reports whether the box is a usable region: coordinates in range
// and the min corner actually south-west of the max corner.
func (b Bbox) Valid() bool {
	if b.MinLat < -90 || b.MaxLat > 90 || b.MinLon < -180 || b.MaxLon > 180 {
		return false
	}
	return b.MinLat <= b.MaxLat && b.MinLon <= b.MaxLon
}
