package zoning

import (
	"errors"
	"fmt"
	"math"

	"github.com/tidwall/rtree"

	"github.com/azybler/sltm/pkg/geo"
	"github.com/azybler/sltm/pkg/network"
)

// ErrNoVertexNearby is returned when no road vertex lies within the
// maximum snapping radius of a zone centroid.
var ErrNoVertexNearby = errors.New("no road vertex nearby")

const (
	initialSnapRadius = 250.0 // meters
	defaultSnapRadius = 5000.0
)

type point struct {
	lat, lon float64
}

// Snapper finds the road vertex closest to a coordinate.
type Snapper struct {
	tree      rtree.RTreeG[network.VertexID]
	points    map[network.VertexID]point
	maxRadius float64
}

// NewSnapper returns an empty Snapper that searches up to maxRadius
// meters, or 5 km when maxRadius is not positive.
func NewSnapper(maxRadius float64) *Snapper {
	if maxRadius <= 0 {
		maxRadius = defaultSnapRadius
	}
	return &Snapper{points: make(map[network.VertexID]point), maxRadius: maxRadius}
}

// Insert indexes a vertex.
func (s *Snapper) Insert(v network.VertexID, lat, lon float64) {
	pt := [2]float64{lon, lat}
	s.tree.Insert(pt, pt, v)
	s.points[v] = point{lat, lon}
}

// Len returns the number of indexed vertices.
func (s *Snapper) Len() int { return s.tree.Len() }

// Nearest returns the closest vertex and its distance in meters. The
// search box doubles from 250 m until a vertex is found or the maximum
// radius is exceeded.
func (s *Snapper) Nearest(lat, lon float64) (network.VertexID, float64, error) {
	for radius := initialSnapRadius; ; radius *= 2 {
		radius = math.Min(radius, s.maxRadius)
		best, bestDist := network.NoVertex, math.Inf(1)
		minPt, maxPt := geo.SearchBox(lat, lon, radius)
		s.tree.Search(minPt, maxPt, func(_, _ [2]float64, v network.VertexID) bool {
			p := s.points[v]
			d := geo.EquirectangularDist(lat, lon, p.lat, p.lon)
			if d < bestDist || (d == bestDist && v < best) {
				best, bestDist = v, d
			}
			return true
		})
		// A hit in the corner of the box may be farther than an
		// unseen vertex just outside it, so only accept hits within
		// the radius.
		if best != network.NoVertex && bestDist <= radius {
			p := s.points[best]
			return best, geo.Haversine(lat, lon, p.lat, p.lon), nil
		}
		if radius >= s.maxRadius {
			return network.NoVertex, 0, fmt.Errorf("%w: (%.6f, %.6f) within %.0f m", ErrNoVertexNearby, lat, lon, s.maxRadius)
		}
	}
}
