package mapview

import (
	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"olhovivo/models"
)

// Cluster is either a single marker or a pin standing for many reports.
type Cluster struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Count     int     `json:"count"`
	Marker    *Marker `json:"marker,omitempty"`
}

const (
	expectedCells       = 16
	minLevel            = 2
	maxLevel            = 18
	minMarkersToCluster = 10
	weightDiffThreshold = 8
)

type cellGroup struct {
	count    int
	children [4]bool
	pin      s2.Point
	markers  []Marker
}

// baseLevel is the coarsest S2 level at which about expectedCells cells
// cover the viewport.
func baseLevel(vp models.ViewPort) int {
	minLL := s2.LatLngFromDegrees(vp.LatMin, vp.LonMin)
	maxLL := s2.LatLngFromDegrees(vp.LatMax, vp.LonMax)
	rect := s2.Rect{
		Lat: r1.Interval{Lo: minLL.Lat.Radians(), Hi: maxLL.Lat.Radians()},
		Lng: s1.Interval{Lo: minLL.Lng.Radians(), Hi: maxLL.Lng.Radians()},
	}
	area := rect.Area()

	center := s2.CellIDFromLatLng(s2.LatLngFromDegrees(
		(vp.LatMin+vp.LatMax)/2,
		(vp.LonMin+vp.LonMax)/2,
	))
	for lv := maxLevel; lv >= minLevel; lv-- {
		if area/s2.CellFromCellID(center.Parent(lv)).ApproxArea() < expectedCells {
			return lv
		}
	}
	return minLevel
}

// ClusterMarkers groups markers bottom-up through the S2 cell hierarchy
// down to the viewport's base level. Groups of up to minMarkersToCluster
// markers are returned as the markers themselves.
func ClusterMarkers(vp models.ViewPort, markers []Marker) []Cluster {
	level := baseLevel(vp)

	groups := make(map[s2.CellID]*cellGroup)
	for _, m := range markers {
		cell := s2.CellIDFromLatLng(s2.LatLngFromDegrees(m.Latitude, m.Longitude)).Parent(maxLevel)
		g, ok := groups[cell]
		if !ok {
			g = &cellGroup{
				children: [4]bool{true, true, true, true},
				pin:      s2.PointFromLatLng(cell.LatLng()),
			}
			groups[cell] = g
		}
		g.count++
		g.markers = append(g.markers, m)
	}
	for _, g := range groups {
		if g.count > minMarkersToCluster {
			g.markers = nil
		}
	}

	for lv := maxLevel - 1; lv >= level; lv-- {
		groups = mergeLevel(groups, lv)
	}

	clusters := make([]Cluster, 0, len(groups))
	for _, g := range groups {
		if g.count <= minMarkersToCluster {
			for i := range g.markers {
				m := g.markers[i]
				clusters = append(clusters, Cluster{
					Latitude:  m.Latitude,
					Longitude: m.Longitude,
					Count:     1,
					Marker:    &m,
				})
			}
			continue
		}
		ll := s2.LatLngFromPoint(g.pin)
		clusters = append(clusters, Cluster{
			Latitude:  Round(ll.Lat.Degrees()),
			Longitude: Round(ll.Lng.Degrees()),
			Count:     g.count,
		})
	}
	return clusters
}

// mergeLevel folds the groups of level+1 into their parents on level.
func mergeLevel(groups map[s2.CellID]*cellGroup, level int) map[s2.CellID]*cellGroup {
	parents := make(map[s2.CellID]*cellGroup)
	for cell, g := range groups {
		p := cell.Parent(level)
		pg, ok := parents[p]
		if !ok {
			pg = &cellGroup{}
			parents[p] = pg
		}
		pg.count += g.count
		if pg.count <= minMarkersToCluster {
			pg.markers = append(pg.markers, g.markers...)
		} else {
			pg.markers = nil
		}
		pg.children[cell.ChildPosition(level+1)] = true
	}

	for p, pg := range parents {
		var weighted []*cellGroup
		children := p.Children()
		for i, present := range pg.children {
			if !present {
				continue
			}
			if g, ok := groups[children[i]]; ok {
				weighted = append(weighted, g)
			}
		}
		pg.pin = centroid(p, weighted)
	}
	return parents
}

// centroid places a parent's pin between its heavier children. Children
// much lighter than the heaviest one do not pull the pin.
func centroid(parent s2.CellID, children []*cellGroup) s2.Point {
	heaviest := 0
	for _, g := range children {
		heaviest = max(heaviest, g.count)
	}
	var pins []s2.Point
	for _, g := range children {
		if heaviest/g.count < weightDiffThreshold {
			pins = append(pins, g.pin)
		}
	}
	switch len(pins) {
	case 1:
		return pins[0]
	case 2:
		return s2.PlanarCentroid(pins[0], pins[0], pins[1])
	case 3:
		return s2.PlanarCentroid(pins[0], pins[1], pins[2])
	default:
		return s2.PointFromLatLng(parent.LatLng())
	}
}
