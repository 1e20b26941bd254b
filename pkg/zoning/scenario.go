package zoning

import (
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
)

// Scenario is the TOML input of an assignment: zones, demand, and
// optionally a small road network given inline.
//
//	[[node]]
//	id = 1
//	lat = 1.30
//	lon = 103.80
//
//	[[link]]
//	from = 1
//	to = 2
//	capacity = 1800
//	speed_kmh = 50
//	two_way = true
//
//	[[zone]]
//	id = "north"
//	lat = 1.31
//	lon = 103.80
//
//	[[demand]]
//	from = "north"
//	to = "south"
//	flow = 400
type Scenario struct {
	Nodes  []Node   `toml:"node"`
	Links  []Link   `toml:"link"`
	Zones  []Zone   `toml:"zone"`
	Demand []Demand `toml:"demand"`
}

type Node struct {
	ID  int64   `toml:"id"`
	Lat float64 `toml:"lat"`
	Lon float64 `toml:"lon"`
}

// Link is an inline road link. A zero length is taken from the node
// coordinates.
type Link struct {
	From     int64   `toml:"from"`
	To       int64   `toml:"to"`
	LengthKm float64 `toml:"length_km"`
	Capacity float64 `toml:"capacity"`
	SpeedKmh float64 `toml:"speed_kmh"`
	Lanes    uint8   `toml:"lanes"`
	TwoWay   bool    `toml:"two_way"`
}

// Zone is a traffic zone. Nodes lists inline nodes the zone attaches to;
// when empty the centroid is snapped to the nearest road vertex.
type Zone struct {
	ID    string  `toml:"id"`
	Lat   float64 `toml:"lat"`
	Lon   float64 `toml:"lon"`
	Nodes []int64 `toml:"nodes"`
}

type Demand struct {
	From string  `toml:"from"`
	To   string  `toml:"to"`
	Flow float64 `toml:"flow"`
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	var sc Scenario
	md, err := toml.DecodeFile(path, &sc)
	if err != nil {
		return nil, fmt.Errorf("decoding scenario %s: %w", path, err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &sc, nil
}

// ParseScenario decodes a scenario from r.
func ParseScenario(r io.Reader) (*Scenario, error) {
	var sc Scenario
	md, err := toml.NewDecoder(r).Decode(&sc)
	if err != nil {
		return nil, fmt.Errorf("decoding scenario: %w", err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, err
	}
	return &sc, nil
}

func checkUndecoded(md toml.MetaData) error {
	keys := md.Undecoded()
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	return fmt.Errorf("unknown keys: %s", strings.Join(names, ", "))
}

// ZoneIndex maps zone ids to their position in Zones.
func (sc *Scenario) ZoneIndex() (map[string]int, error) {
	index := make(map[string]int, len(sc.Zones))
	for i, z := range sc.Zones {
		if z.ID == "" {
			return nil, fmt.Errorf("zone %d has no id", i)
		}
		if _, dup := index[z.ID]; dup {
			return nil, fmt.Errorf("duplicate zone %q", z.ID)
		}
		index[z.ID] = i
	}
	return index, nil
}

// Matrix builds the OD matrix over the scenario zones.
func (sc *Scenario) Matrix() (*Matrix, error) {
	index, err := sc.ZoneIndex()
	if err != nil {
		return nil, err
	}
	m := NewMatrix(len(sc.Zones))
	for _, d := range sc.Demand {
		o, ok := index[d.From]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownZone, d.From)
		}
		t, ok := index[d.To]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownZone, d.To)
		}
		if err := m.Add(o, t, d.Flow); err != nil {
			return nil, err
		}
	}
	return m, nil
}
