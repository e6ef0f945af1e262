package liveevents

import (
	"errors"
	"strings"
	"sync"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

var (
	ErrHubUnavailable = errors.New("hub_unavailable")
	ErrInvalidPlantID = errors.New("invalid_plant_id")
)

// LiveEvent is a ticker transition as streamed to dashboard clients.
type LiveEvent struct {
	EventID      string `json:"event_id"`
	PlantID      string `json:"plant_id"`
	Kind         string `json:"kind"`
	Severity     string `json:"severity"`
	PrevSeverity string `json:"prev_severity"`
	Message      string `json:"message"`
	OccurredAt   string `json:"occurred_at"`
}

// Hub fans ticker transitions out to per-plant subscribers. Publish never
// blocks: a subscriber whose channel is full misses the event.
type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []LiveEvent
	subs   map[uint64]chan LiveEvent
	nextID uint64
}

type Subscription struct {
	hub     *Hub
	plantID string
	id      uint64
	ch      chan LiveEvent
	once    sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish appends to the plant's replay buffer only while someone watches it.
func (h *Hub) Publish(plantID string, event LiveEvent) {
	if h == nil {
		return
	}
	key := strings.TrimSpace(plantID)
	if key == "" {
		return
	}
	h.mu.RLock()
	stream := h.streams[key]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	stream.buffer = append(stream.buffer, event)
	if len(stream.buffer) > h.bufferSize {
		stream.buffer = stream.buffer[len(stream.buffer)-h.bufferSize:]
	}
	subs := make([]chan LiveEvent, 0, len(stream.subs))
	for _, ch := range stream.subs {
		subs = append(subs, ch)
	}
	stream.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns the subscription and a copy of the replay buffer.
func (h *Hub) Subscribe(plantID string) (*Subscription, []LiveEvent, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	key := strings.TrimSpace(plantID)
	if key == "" {
		return nil, nil, ErrInvalidPlantID
	}

	stream := h.ensureStream(key)
	stream.mu.Lock()
	id := stream.nextID
	stream.nextID++
	ch := make(chan LiveEvent, h.subscriberBuffer)
	stream.subs[id] = ch
	buffer := append([]LiveEvent(nil), stream.buffer...)
	stream.mu.Unlock()

	return &Subscription{
		hub:     h,
		plantID: key,
		id:      id,
		ch:      ch,
	}, buffer, nil
}

// Subscribers reports the live subscriber count of a plant.
func (h *Hub) Subscribers(plantID string) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	stream := h.streams[strings.TrimSpace(plantID)]
	h.mu.RUnlock()
	if stream == nil {
		return 0
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	return len(stream.subs)
}

func (h *Hub) ensureStream(plantID string) *stream {
	h.mu.RLock()
	current := h.streams[plantID]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[plantID]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan LiveEvent)}
		h.streams[plantID] = current
	}
	return current
}

func (h *Hub) unsubscribe(plantID string, id uint64) {
	h.mu.RLock()
	stream := h.streams[plantID]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	delete(stream.subs, id)
	remaining := len(stream.subs)
	stream.mu.Unlock()
	if remaining != 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streams[plantID] != stream {
		return
	}
	stream.mu.Lock()
	empty := len(stream.subs) == 0
	stream.mu.Unlock()
	if empty {
		delete(h.streams, plantID)
	}
}

func (s *Subscription) Events() <-chan LiveEvent {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.plantID, s.id)
	})
}
