package publish

import (
	"context"
	"sort"
	"sync"

	"visionedge/internal/inference"
)

// Record is a buffered packet addressed by its hub cursor.
type Record struct {
	Cursor uint64           `json:"cursor"`
	Topic  string           `json:"topic"`
	Packet inference.Packet `json:"packet"`
}

// Hub stores recent packets and wakes waiters when new ones arrive.
type Hub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []Record
	cursor   uint64
}

// NewHub constructs a bounded in-memory packet buffer.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	h := &Hub{capacity: capacity}
	h.cond = sync.NewCond(&h.mu)
	return h
}

func (h *Hub) Publish(_ context.Context, topic string, pkt inference.Packet) error {
	h.mu.Lock()
	h.cursor++
	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, Record{Cursor: h.cursor, Topic: topic, Packet: pkt})
	h.cond.Broadcast()
	h.mu.Unlock()
	return nil
}

// Fetch returns records with a cursor greater than since, at most limit of
// them, plus the hub's latest cursor. When wait is set it blocks until a
// record is available or ctx ends.
func (h *Hub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]Record, uint64, error) {
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	stop := context.AfterFunc(ctx, func() {
		h.mu.Lock()
		h.cond.Broadcast()
		h.mu.Unlock()
	})
	defer stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		records := h.afterLocked(since, limit)
		if len(records) > 0 || !wait {
			return records, h.cursor, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, h.cursor, err
		}
		h.cond.Wait()
	}
}

// Tail returns the newest limit records without blocking.
func (h *Hub) Tail(limit int) ([]Record, uint64) {
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	start := max(len(h.buffer)-limit, 0)
	return append([]Record(nil), h.buffer[start:]...), h.cursor
}

// Cursor reports the most recently assigned cursor.
func (h *Hub) Cursor() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor
}

func (h *Hub) afterLocked(since uint64, limit int) []Record {
	idx := sort.Search(len(h.buffer), func(i int) bool { return h.buffer[i].Cursor > since })
	if idx == len(h.buffer) {
		return nil
	}
	end := min(idx+limit, len(h.buffer))
	return append([]Record(nil), h.buffer[idx:end]...)
}
