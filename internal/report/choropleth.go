// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

// Package report renders and exports the pipeline's output artifacts.
//
// Rendering is pure: functions take values and return images, so the taxi
// pipeline decides what is queried and report decides how it looks. Files
// are written atomically.
package report

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/tomtom215/taxiflow/internal/geo"
)

// Region is one shaded area of a choropleth.
type Region struct {
	Geometry geo.Geometry
	Value    float64
}

// Viewport is the lon/lat window drawn onto the image.
type Viewport struct {
	MinLon, MaxLon float64
	MinLat, MaxLat float64
}

// ManhattanViewport frames Manhattan.
var ManhattanViewport = Viewport{MinLon: -74.05, MaxLon: -73.90, MinLat: 40.70, MaxLat: 40.82}

const legendHeight = 16

var (
	background = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	outline    = color.RGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff}
)

// Choropleth shades every region by its value relative to the smallest and
// largest value and draws a colour ramp legend along the bottom edge.
func Choropleth(regions []Region, vp Viewport, width, height int, cmap Colormap) (*image.RGBA, error) {
	if width <= 0 || height <= legendHeight {
		return nil, errors.New("choropleth: image too small")
	}
	if vp.MaxLon <= vp.MinLon || vp.MaxLat <= vp.MinLat {
		return nil, errors.New("choropleth: empty viewport")
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, r := range regions {
		lo = math.Min(lo, r.Value)
		hi = math.Max(hi, r.Value)
	}
	span := hi - lo

	mapHeight := height - legendHeight
	bounds := make([]geo.Bounds, len(regions))
	for i, r := range regions {
		bounds[i] = r.Geometry.Bounds()
	}

	for py := 0; py < mapHeight; py++ {
		// Image rows grow downwards, latitude grows upwards.
		lat := vp.MaxLat - (float64(py)+0.5)/float64(mapHeight)*(vp.MaxLat-vp.MinLat)
		for px := 0; px < width; px++ {
			lon := vp.MinLon + (float64(px)+0.5)/float64(width)*(vp.MaxLon-vp.MinLon)
			for i, r := range regions {
				b := bounds[i]
				if lon < b.MinX || lon > b.MaxX || lat < b.MinY || lat > b.MaxY {
					continue
				}
				if !r.Geometry.Contains(lon, lat) {
					continue
				}
				t := 0.0
				if span > 0 {
					t = (r.Value - lo) / span
				}
				img.SetRGBA(px, py, cmap.At(t))
				break
			}
		}
	}
	drawOutlines(img, regions, vp, width, mapHeight)

	for px := 0; px < width; px++ {
		c := cmap.At(float64(px) / float64(max(width-1, 1)))
		for py := mapHeight + 4; py < height-2; py++ {
			img.SetRGBA(px, py, c)
		}
	}
	return img, nil
}

// drawOutlines marks region boundary pixels so neighbouring zones with close
// values stay distinguishable.
func drawOutlines(img *image.RGBA, regions []Region, vp Viewport, width, height int) {
	project := func(p geo.Point) (float64, float64) {
		x := (p[0] - vp.MinLon) / (vp.MaxLon - vp.MinLon) * float64(width)
		y := (vp.MaxLat - p[1]) / (vp.MaxLat - vp.MinLat) * float64(height)
		return x, y
	}
	for _, r := range regions {
		for _, poly := range r.Geometry.Polygons {
			for _, ring := range poly {
				for i := 1; i < len(ring); i++ {
					x0, y0 := project(ring[i-1])
					x1, y1 := project(ring[i])
					drawLine(img, x0, y0, x1, y1, height, outline)
				}
			}
		}
	}
}

func drawLine(img *image.RGBA, x0, y0, x1, y1 float64, maxY int, c color.RGBA) {
	steps := int(math.Ceil(math.Max(math.Abs(x1-x0), math.Abs(y1-y0))))
	if steps == 0 {
		steps = 1
	}
	for s := 0; s <= steps; s++ {
		t := float64(s) / float64(steps)
		x := int(x0 + (x1-x0)*t)
		y := int(y0 + (y1-y0)*t)
		if x >= 0 && y >= 0 && x < img.Bounds().Dx() && y < maxY {
			img.SetRGBA(x, y, c)
		}
	}
}
