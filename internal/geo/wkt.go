// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

// Package geo parses zone boundaries and encodes them as GeoJSON.
//
// Only the shapes used by taxi zone files are supported: POLYGON and
// MULTIPOLYGON in well-known text, with an optional Z ordinate that is
// discarded.
package geo

import (
	"fmt"
	"strconv"
	"strings"
)

// Point is a (longitude, latitude) pair.
type Point [2]float64

// Ring is a closed sequence of points.
type Ring []Point

// Polygon is an outer ring followed by zero or more holes.
type Polygon []Ring

// Geometry is a polygon or multipolygon. A POLYGON parses to a single-element
// Polygons slice with Multi unset.
type Geometry struct {
	Multi    bool
	Polygons []Polygon
}

// WKTError reports a parse failure and its byte offset.
type WKTError struct {
	Offset int
	Msg    string
}

func (e *WKTError) Error() string {
	return fmt.Sprintf("wkt: %s at offset %d", e.Msg, e.Offset)
}

// ParseWKT parses a POLYGON or MULTIPOLYGON.
func ParseWKT(s string) (Geometry, error) {
	p := &wktParser{s: s}
	p.skipSpace()

	kind := strings.ToUpper(p.word())
	p.skipSpace()
	if z := strings.ToUpper(p.peekWord()); z == "Z" {
		p.word()
		p.skipSpace()
	}

	var g Geometry
	switch kind {
	case "POLYGON":
		poly, err := p.polygon()
		if err != nil {
			return Geometry{}, err
		}
		g.Polygons = []Polygon{poly}
	case "MULTIPOLYGON":
		g.Multi = true
		if err := p.expect('('); err != nil {
			return Geometry{}, err
		}
		for {
			poly, err := p.polygon()
			if err != nil {
				return Geometry{}, err
			}
			g.Polygons = append(g.Polygons, poly)
			if !p.consume(',') {
				break
			}
		}
		if err := p.expect(')'); err != nil {
			return Geometry{}, err
		}
	case "":
		return Geometry{}, p.errorf("missing geometry type")
	default:
		return Geometry{}, p.errorf("unsupported geometry type %q", kind)
	}

	p.skipSpace()
	if p.pos != len(p.s) {
		return Geometry{}, p.errorf("unexpected trailing input")
	}
	return g, nil
}

type wktParser struct {
	s   string
	pos int
}

func (p *wktParser) errorf(format string, args ...any) error {
	return &WKTError{Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *wktParser) skipSpace() {
	for p.pos < len(p.s) {
		switch p.s[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func (p *wktParser) peekWord() string {
	end := p.pos
	for end < len(p.s) && isLetter(p.s[end]) {
		end++
	}
	return p.s[p.pos:end]
}

func (p *wktParser) word() string {
	w := p.peekWord()
	p.pos += len(w)
	return w
}

func (p *wktParser) consume(c byte) bool {
	p.skipSpace()
	if p.pos < len(p.s) && p.s[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *wktParser) expect(c byte) error {
	if !p.consume(c) {
		return p.errorf("expected %q", c)
	}
	return nil
}

func (p *wktParser) polygon() (Polygon, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	var poly Polygon
	for {
		ring, err := p.ring()
		if err != nil {
			return nil, err
		}
		poly = append(poly, ring)
		if !p.consume(',') {
			break
		}
	}
	return poly, p.expect(')')
}

func (p *wktParser) ring() (Ring, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	var ring Ring
	for {
		pt, err := p.point()
		if err != nil {
			return nil, err
		}
		ring = append(ring, pt)
		if !p.consume(',') {
			break
		}
	}
	if err := p.expect(')'); err != nil {
		return nil, err
	}
	if len(ring) < 4 {
		return nil, p.errorf("ring has %d points, need at least 4", len(ring))
	}
	if ring[0] != ring[len(ring)-1] {
		return nil, p.errorf("ring is not closed")
	}
	return ring, nil
}

func (p *wktParser) point() (Point, error) {
	x, err := p.number()
	if err != nil {
		return Point{}, err
	}
	y, err := p.number()
	if err != nil {
		return Point{}, err
	}
	// Optional Z.
	p.skipSpace()
	if p.pos < len(p.s) && isNumberStart(p.s[p.pos]) {
		if _, err := p.number(); err != nil {
			return Point{}, err
		}
	}
	return Point{x, y}, nil
}

func isNumberStart(c byte) bool {
	return (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.'
}

func (p *wktParser) number() (float64, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if isNumberStart(c) || c == 'e' || c == 'E' {
			p.pos++
			continue
		}
		break
	}
	if start == p.pos {
		return 0, p.errorf("expected number")
	}
	tok := p.s[start:p.pos]
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		p.pos = start
		return 0, p.errorf("invalid number %q", tok)
	}
	return v, nil
}
