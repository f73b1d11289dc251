// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package geo

import (
	"fmt"
	"math"

	"github.com/goccy/go-json"
)

// Bounds is an axis-aligned bounding box.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// Bounds returns the bounding box of every outer ring.
func (g Geometry) Bounds() Bounds {
	b := Bounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	for _, poly := range g.Polygons {
		if len(poly) == 0 {
			continue
		}
		for _, pt := range poly[0] {
			b.MinX = math.Min(b.MinX, pt[0])
			b.MinY = math.Min(b.MinY, pt[1])
			b.MaxX = math.Max(b.MaxX, pt[0])
			b.MaxY = math.Max(b.MaxY, pt[1])
		}
	}
	return b
}

// Contains reports whether (x, y) lies inside the geometry using the
// even-odd rule, so holes are excluded.
func (g Geometry) Contains(x, y float64) bool {
	for _, poly := range g.Polygons {
		inside := false
		for _, ring := range poly {
			if ringContains(ring, x, y) {
				inside = !inside
			}
		}
		if inside {
			return true
		}
	}
	return false
}

func ringContains(ring Ring, x, y float64) bool {
	in := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			in = !in
		}
	}
	return in
}

type geometryJSON struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

// MarshalJSON encodes the geometry as a GeoJSON Polygon or MultiPolygon.
func (g Geometry) MarshalJSON() ([]byte, error) {
	if !g.Multi && len(g.Polygons) == 1 {
		return json.Marshal(geometryJSON{Type: "Polygon", Coordinates: g.Polygons[0]})
	}
	polys := g.Polygons
	if polys == nil {
		polys = []Polygon{}
	}
	return json.Marshal(geometryJSON{Type: "MultiPolygon", Coordinates: polys})
}

// UnmarshalJSON decodes a GeoJSON Polygon or MultiPolygon.
func (g *Geometry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case "Polygon":
		var poly Polygon
		if err := json.Unmarshal(raw.Coordinates, &poly); err != nil {
			return err
		}
		*g = Geometry{Polygons: []Polygon{poly}}
	case "MultiPolygon":
		var polys []Polygon
		if err := json.Unmarshal(raw.Coordinates, &polys); err != nil {
			return err
		}
		*g = Geometry{Multi: true, Polygons: polys}
	default:
		return fmt.Errorf("unsupported GeoJSON geometry type %q", raw.Type)
	}
	return nil
}

// Feature is a GeoJSON feature.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// NewFeature creates a Feature.
func NewFeature(g Geometry, props map[string]any) Feature {
	if props == nil {
		props = map[string]any{}
	}
	return Feature{Type: "Feature", Geometry: g, Properties: props}
}

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// NewFeatureCollection creates a FeatureCollection.
func NewFeatureCollection(features []Feature) FeatureCollection {
	if features == nil {
		features = []Feature{}
	}
	return FeatureCollection{Type: "FeatureCollection", Features: features}
}

// Encode returns the collection as GeoJSON.
func (fc FeatureCollection) Encode() ([]byte, error) {
	return json.Marshal(fc)
}

// DecodeFeatureCollection parses GeoJSON produced by Encode.
func DecodeFeatureCollection(data []byte) (FeatureCollection, error) {
	var fc FeatureCollection
	err := json.Unmarshal(data, &fc)
	return fc, err
}
