package location

import (
	"context"
	"math"
	"sort"
	"sync"

	"fleetloc/internal/types"
)

// DefaultCellDeg is roughly 1.1 km of latitude per grid cell.
const DefaultCellDeg = 0.01

type cell struct{ x, y int }

type gridEntry struct {
	pos  types.Point
	cell cell
}

// GridIndex is an in-process spatial partition: workers are bucketed by
// rounded lat/lng and a search walks rings of cells outward from the origin
// until the ring lies beyond the radius.
type GridIndex struct {
	mu      sync.RWMutex
	cellDeg float64
	cells   map[cell]map[types.ID]types.Point
	entries map[types.ID]gridEntry
}

func NewGridIndex(cellDeg float64) *GridIndex {
	if cellDeg <= 0 {
		cellDeg = DefaultCellDeg
	}
	return &GridIndex{
		cellDeg: cellDeg,
		cells:   make(map[cell]map[types.ID]types.Point),
		entries: make(map[types.ID]gridEntry),
	}
}

func (g *GridIndex) cellOf(p types.Point) cell {
	return cell{
		x: g.wrapX(int(math.Floor(p.Lng / g.cellDeg))),
		y: int(math.Floor(p.Lat / g.cellDeg)),
	}
}

// wrapX keeps longitude cells continuous across the antimeridian.
func (g *GridIndex) wrapX(x int) int {
	n := int(math.Round(360 / g.cellDeg))
	offset := n / 2
	return ((x+offset)%n+n)%n - offset
}

func (g *GridIndex) Upsert(_ context.Context, id types.ID, p types.Point) error {
	if !p.Valid() {
		return nil
	}
	c := g.cellOf(p)
	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.entries[id]; ok && old.cell != c {
		g.removeLocked(id, old.cell)
	}
	bucket := g.cells[c]
	if bucket == nil {
		bucket = make(map[types.ID]types.Point)
		g.cells[c] = bucket
	}
	bucket[id] = p
	g.entries[id] = gridEntry{pos: p, cell: c}
	return nil
}

func (g *GridIndex) Remove(_ context.Context, id types.ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.entries[id]; ok {
		g.removeLocked(id, old.cell)
	}
	return nil
}

func (g *GridIndex) removeLocked(id types.ID, c cell) {
	delete(g.entries, id)
	if bucket := g.cells[c]; bucket != nil {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(g.cells, c)
		}
	}
}

func (g *GridIndex) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}

type gridHit struct {
	id   types.ID
	dist float64
}

func (g *GridIndex) Nearby(_ context.Context, origin types.Point, radiusKm float64) ([]types.ID, error) {
	if !origin.Valid() || radiusKm < 0 {
		return nil, nil
	}
	cellKmLat := g.cellDeg * kmPerDegreeLat
	cellKmLng := cellKmLat * math.Max(math.Cos(degreesToRadians(origin.Lat)), 1e-6)
	ringsLat := int(math.Ceil(radiusKm/cellKmLat)) + 1
	ringsLng := int(math.Ceil(radiusKm/cellKmLng)) + 1
	maxX := int(math.Round(180 / g.cellDeg))
	if ringsLng > maxX {
		ringsLng = maxX
	}
	maxRing := max(ringsLat, ringsLng)

	center := g.cellOf(origin)

	g.mu.RLock()
	defer g.mu.RUnlock()

	var hits []gridHit
	seen := make(map[cell]bool)
	for ring := 0; ring <= maxRing; ring++ {
		for dy := -ring; dy <= ring; dy++ {
			if abs(dy) > ringsLat {
				continue
			}
			for dx := -ring; dx <= ring; dx++ {
				if abs(dx) != ring && abs(dy) != ring {
					continue
				}
				if abs(dx) > ringsLng {
					continue
				}
				c := cell{x: g.wrapX(center.x + dx), y: center.y + dy}
				if seen[c] {
					continue
				}
				seen[c] = true
				for id, p := range g.cells[c] {
					d := HaversineKm(origin.Lat, origin.Lng, p.Lat, p.Lng)
					if d <= radiusKm {
						hits = append(hits, gridHit{id: id, dist: d})
					}
				}
			}
		}
	}

	// Equal distances are ordered by id so results never depend on map order.
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].id < hits[j].id
	})
	ids := make([]types.ID, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
