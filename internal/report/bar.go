// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package report

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

// StackedSeries is a bar chart with one bar per category and one stacked
// segment per series.
type StackedSeries struct {
	Categories []string    // x axis, e.g. hour of day
	Series     []string    // stack order, bottom first
	Values     [][]float64 // Values[series][category]
}

// Validate checks the value matrix shape.
func (s StackedSeries) Validate() error {
	if len(s.Categories) == 0 || len(s.Series) == 0 {
		return errors.New("stacked bar: no categories or series")
	}
	if len(s.Values) != len(s.Series) {
		return fmt.Errorf("stacked bar: %d value rows for %d series", len(s.Values), len(s.Series))
	}
	for i, row := range s.Values {
		if len(row) != len(s.Categories) {
			return fmt.Errorf("stacked bar: series %s has %d values for %d categories",
				s.Series[i], len(row), len(s.Categories))
		}
		for _, v := range row {
			if v < 0 {
				return fmt.Errorf("stacked bar: negative value in series %s", s.Series[i])
			}
		}
	}
	return nil
}

// Total returns the stacked height of category c.
func (s StackedSeries) Total(c int) float64 {
	var sum float64
	for _, row := range s.Values {
		sum += row[c]
	}
	return sum
}

const (
	plotMargin   = 24
	legendSwatch = 12
)

var axis = color.RGBA{A: 0xff}

// StackedBar draws s with one colour per series sampled from cmap and a
// legend of colour swatches in series order along the top edge.
func StackedBar(s StackedSeries, width, height int, cmap Colormap) (*image.RGBA, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	plotTop := plotMargin + legendSwatch
	if width <= 2*plotMargin || height <= plotTop+plotMargin {
		return nil, errors.New("stacked bar: image too small")
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)
	colors := cmap.Sample(len(s.Series))

	for i, c := range colors {
		x := plotMargin + i*(legendSwatch+4)
		fill(img, image.Rect(x, 4, x+legendSwatch, 4+legendSwatch), c)
	}

	left, right := plotMargin, width-plotMargin
	top, bottom := plotTop, height-plotMargin
	fill(img, image.Rect(left, bottom, right, bottom+1), axis)
	fill(img, image.Rect(left, top, left+1, bottom), axis)

	var peak float64
	for c := range s.Categories {
		peak = max(peak, s.Total(c))
	}
	if peak == 0 {
		return img, nil
	}

	slot := float64(right-left) / float64(len(s.Categories))
	barWidth := max(int(slot*0.8), 1)
	scale := float64(bottom-top) / peak

	for c := range s.Categories {
		x0 := left + int(float64(c)*slot+slot*0.1) + 1
		y := float64(bottom)
		for i, row := range s.Values {
			h := row[c] * scale
			fill(img, image.Rect(x0, int(y-h), x0+barWidth, int(y)), colors[i])
			y -= h
		}
	}
	return img, nil
}

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(img, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
}
