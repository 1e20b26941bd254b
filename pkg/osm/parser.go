package osm

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"

	"github.com/azybler/sltm/pkg/geo"
)

// RawLink is one direction of a way segment between two consecutive nodes.
// Both directions of the same segment share Link.
type RawLink struct {
	Link       uint32
	WayID      osm.WayID
	FromNodeID osm.NodeID
	ToNodeID   osm.NodeID
	Weight     uint32 // length in millimeters
	Lanes      uint8
	SpeedKmh   float64
	Capacity   float64 // PCU/h over all lanes
	Highway    string
}

// ParseResult holds the output of parsing an OSM PBF file.
type ParseResult struct {
	Links   []RawLink
	NodeLat map[osm.NodeID]float64
	NodeLon map[osm.NodeID]float64
}

// roadClass carries the assignment defaults of a highway tag value.
type roadClass struct {
	capacityPerLane float64 // PCU/h
	speedKmh        float64
	defaultLanes    uint8
}

// carHighways lists highway tag values accessible by car.
var carHighways = map[string]roadClass{
	"motorway":       {2000, 100, 2},
	"motorway_link":  {1500, 60, 1},
	"trunk":          {1800, 80, 2},
	"trunk_link":     {1500, 50, 1},
	"primary":        {1500, 60, 1},
	"primary_link":   {1200, 40, 1},
	"secondary":      {1200, 50, 1},
	"secondary_link": {1000, 40, 1},
	"tertiary":       {1000, 40, 1},
	"tertiary_link":  {900, 30, 1},
	"unclassified":   {800, 30, 1},
	"residential":    {800, 30, 1},
	"living_street":  {600, 10, 1},
	"service":        {600, 20, 1},
}

// isCarAccessible returns true if the way is drivable by car.
func isCarAccessible(tags osm.Tags) bool {
	if _, ok := carHighways[tags.Find("highway")]; !ok {
		return false
	}
	if tags.Find("area") == "yes" {
		return false
	}
	switch tags.Find("access") {
	case "no", "private":
		return false
	}
	return tags.Find("motor_vehicle") != "no"
}

// directionFlags returns (forward, backward) based on highway type and oneway tags.
func directionFlags(tags osm.Tags) (forward, backward bool) {
	forward, backward = true, true

	hw := tags.Find("highway")
	if hw == "motorway" || hw == "motorway_link" || tags.Find("junction") == "roundabout" {
		backward = false
	}

	switch tags.Find("oneway") {
	case "yes", "true", "1":
		forward, backward = true, false
	case "-1", "reverse":
		forward, backward = false, true
	case "no":
		forward, backward = true, true
	case "reversible", "alternating":
		// Direction depends on time of day; a static assignment cannot use it.
		forward, backward = false, false
	}
	return forward, backward
}

// parseMaxSpeed interprets a maxspeed tag in km/h. Values such as "none" or
// "signals" report ok=false so the class default applies.
func parseMaxSpeed(v string) (kmh float64, ok bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	factor := 1.0
	if rest, found := strings.CutSuffix(v, "mph"); found {
		v = strings.TrimSpace(rest)
		factor = 1.609344
	} else if rest, found := strings.CutSuffix(v, "km/h"); found {
		v = strings.TrimSpace(rest)
	}
	s, err := strconv.ParseFloat(v, 64)
	if err != nil || s <= 0 {
		return 0, false
	}
	return s * factor, true
}

// directionLanes returns the lane count of each travel direction.
func directionLanes(tags osm.Tags, class roadClass, forward, backward bool) (fwd, bwd uint8) {
	parse := func(key string) (uint8, bool) {
		n, err := strconv.Atoi(strings.TrimSpace(tags.Find(key)))
		if err != nil || n <= 0 || n > 16 {
			return 0, false
		}
		return uint8(n), true
	}

	fwd, bwd = class.defaultLanes, class.defaultLanes
	if total, ok := parse("lanes"); ok {
		if forward && backward {
			fwd = max(1, total/2)
			bwd = max(1, total-fwd)
		} else {
			fwd, bwd = total, total
		}
	}
	if n, ok := parse("lanes:forward"); ok {
		fwd = n
	}
	if n, ok := parse("lanes:backward"); ok {
		bwd = n
	}
	return fwd, bwd
}

// wayInfo holds parsed way data collected during pass 1.
type wayInfo struct {
	ID              osm.WayID
	NodeIDs         []osm.NodeID
	Highway         string
	Forward         bool
	Backward        bool
	SpeedKmh        float64
	FwdLanes        uint8
	BwdLanes        uint8
	CapacityPerLane float64
}

// BBox defines a geographic bounding box for filtering.
// If non-zero, only links with both endpoints inside the box are kept.
type BBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// IsZero returns true if the bbox is unset.
func (b BBox) IsZero() bool {
	return b.MinLat == 0 && b.MaxLat == 0 && b.MinLng == 0 && b.MaxLng == 0
}

// Contains returns true if the point is inside the bounding box.
func (b BBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// ParseOptions configures the OSM parser.
type ParseOptions struct {
	BBox   BBox
	Logger *log.Logger
}

func newWayInfo(w *osm.Way) (wayInfo, bool) {
	if !isCarAccessible(w.Tags) || len(w.Nodes) < 2 {
		return wayInfo{}, false
	}
	fwd, bwd := directionFlags(w.Tags)
	if !fwd && !bwd {
		return wayInfo{}, false
	}

	hw := w.Tags.Find("highway")
	class := carHighways[hw]
	speed, ok := parseMaxSpeed(w.Tags.Find("maxspeed"))
	if !ok {
		speed = class.speedKmh
	}
	fwdLanes, bwdLanes := directionLanes(w.Tags, class, fwd, bwd)

	info := wayInfo{
		ID:              w.ID,
		NodeIDs:         make([]osm.NodeID, len(w.Nodes)),
		Highway:         hw,
		Forward:         fwd,
		Backward:        bwd,
		SpeedKmh:        speed,
		FwdLanes:        fwdLanes,
		BwdLanes:        bwdLanes,
		CapacityPerLane: class.capacityPerLane,
	}
	for i, wn := range w.Nodes {
		info.NodeIDs[i] = wn.ID
	}
	return info, true
}

// Parse reads an OSM PBF file and returns directed links for car assignment.
// The reader is consumed twice, so it must implement io.ReadSeeker.
func Parse(ctx context.Context, rs io.ReadSeeker, opts ...ParseOptions) (*ParseResult, error) {
	var opt ParseOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	logger := opt.Logger
	if logger == nil {
		logger = log.Default()
	}
	useBBox := !opt.BBox.IsZero()

	// Pass 1: ways, and the set of nodes they reference.
	referencedNodes := make(map[osm.NodeID]struct{})
	var ways []wayInfo

	scanner := osmpbf.New(ctx, rs, 1)
	scanner.SkipNodes = true
	scanner.SkipRelations = true

	for scanner.Scan() {
		w, ok := scanner.Object().(*osm.Way)
		if !ok {
			continue
		}
		info, ok := newWayInfo(w)
		if !ok {
			continue
		}
		for _, id := range info.NodeIDs {
			referencedNodes[id] = struct{}{}
		}
		ways = append(ways, info)
	}
	if err := scanner.Err(); err != nil {
		scanner.Close()
		return nil, fmt.Errorf("pass 1 (ways): %w", err)
	}
	scanner.Close()

	logger.Info("pass 1 complete", "ways", len(ways), "nodes", len(referencedNodes))

	// Pass 2: coordinates of referenced nodes only.
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek for pass 2: %w", err)
	}

	nodeLat := make(map[osm.NodeID]float64, len(referencedNodes))
	nodeLon := make(map[osm.NodeID]float64, len(referencedNodes))

	scanner = osmpbf.New(ctx, rs, 1)
	scanner.SkipWays = true
	scanner.SkipRelations = true

	for scanner.Scan() {
		n, ok := scanner.Object().(*osm.Node)
		if !ok {
			continue
		}
		if _, needed := referencedNodes[n.ID]; !needed {
			continue
		}
		nodeLat[n.ID] = n.Lat
		nodeLon[n.ID] = n.Lon
	}
	if err := scanner.Err(); err != nil {
		scanner.Close()
		return nil, fmt.Errorf("pass 2 (nodes): %w", err)
	}
	scanner.Close()

	logger.Info("pass 2 complete", "coordinates", len(nodeLat))

	links, skipped, filtered := buildLinks(ways, nodeLat, nodeLon, opt.BBox, useBBox)
	if skipped > 0 {
		logger.Warn("skipped way segments with missing node coordinates", "count", skipped)
	}
	if filtered > 0 {
		logger.Info("filtered way segments outside bounding box", "count", filtered)
	}
	logger.Info("built directed links", "count", len(links))

	return &ParseResult{
		Links:   links,
		NodeLat: nodeLat,
		NodeLon: nodeLon,
	}, nil
}

func buildLinks(ways []wayInfo, nodeLat, nodeLon map[osm.NodeID]float64, bbox BBox, useBBox bool) (links []RawLink, skipped, filtered int) {
	var nextLink uint32
	for _, w := range ways {
		for i := 0; i < len(w.NodeIDs)-1; i++ {
			fromID, toID := w.NodeIDs[i], w.NodeIDs[i+1]

			fromLat, fromOk := nodeLat[fromID]
			toLat, toOk := nodeLat[toID]
			if !fromOk || !toOk {
				skipped++
				continue
			}
			fromLon, toLon := nodeLon[fromID], nodeLon[toID]

			if useBBox && (!bbox.Contains(fromLat, fromLon) || !bbox.Contains(toLat, toLon)) {
				filtered++
				continue
			}

			weightMM := uint32(math.Round(geo.Haversine(fromLat, fromLon, toLat, toLon) * 1000))
			if weightMM == 0 {
				weightMM = 1
			}

			link := nextLink
			nextLink++
			if w.Forward {
				links = append(links, RawLink{
					Link: link, WayID: w.ID, FromNodeID: fromID, ToNodeID: toID, Weight: weightMM,
					Lanes: w.FwdLanes, SpeedKmh: w.SpeedKmh, Capacity: w.CapacityPerLane * float64(w.FwdLanes), Highway: w.Highway,
				})
			}
			if w.Backward {
				links = append(links, RawLink{
					Link: link, WayID: w.ID, FromNodeID: toID, ToNodeID: fromID, Weight: weightMM,
					Lanes: w.BwdLanes, SpeedKmh: w.SpeedKmh, Capacity: w.CapacityPerLane * float64(w.BwdLanes), Highway: w.Highway,
				})
			}
		}
	}
	return links, skipped, filtered
}
