package sink

import (
	"context"
	"sync"
)

const DefaultMemoryCapacity = 256

// Memory keeps the latest points of every plant in a fixed-size ring.
type Memory struct {
	mu       sync.RWMutex
	capacity int
	rings    map[string]*ring
}

type ring struct {
	points []Point
	next   int
	full   bool
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &Memory{capacity: capacity, rings: make(map[string]*ring)}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Write(ctx context.Context, point Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := point.validate(); err != nil {
		return err
	}

	metrics := make(map[string]float64, len(point.Metrics))
	for k, v := range point.Metrics {
		metrics[k] = v
	}
	point.Metrics = metrics

	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rings[point.PlantID]
	if r == nil {
		r = &ring{points: make([]Point, m.capacity)}
		m.rings[point.PlantID] = r
	}
	r.points[r.next] = point
	r.next = (r.next + 1) % m.capacity
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// Recent returns the buffered points of a plant, oldest first.
func (m *Memory) Recent(plantID string) []Point {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.rings[plantID]
	if r == nil {
		return nil
	}
	if !r.full {
		return append([]Point(nil), r.points[:r.next]...)
	}
	out := make([]Point, 0, m.capacity)
	out = append(out, r.points[r.next:]...)
	out = append(out, r.points[:r.next]...)
	return out
}
