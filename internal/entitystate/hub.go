package entitystate

import (
	"context"
	"sync"
)

const defaultBufferSize = 16

// Hub fans updates out to subscribers of a key. Publishing never blocks: a subscriber
// whose buffer is full misses the update.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[Key]map[int64]chan Update
	nextID      int64
	bufferSize  int
}

// NewHub constructs a Hub with the given per-subscriber buffer.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Hub{
		subscribers: make(map[Key]map[int64]chan Update),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers interest in key until ctx ends or the returned cleanup runs.
func (h *Hub) Subscribe(ctx context.Context, key Key) (<-chan Update, func()) {
	stream := make(chan Update, h.bufferSize)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if _, ok := h.subscribers[key]; !ok {
		h.subscribers[key] = make(map[int64]chan Update)
	}
	h.subscribers[key][id] = stream
	h.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() { h.unsubscribe(key, id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

// Publish delivers update to every current subscriber of its key.
func (h *Hub) Publish(update Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, stream := range h.subscribers[update.Key] {
		select {
		case stream <- update:
		default:
		}
	}
}

// SubscriberCount reports how many subscribers watch key.
func (h *Hub) SubscriberCount(key Key) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[key])
}

func (h *Hub) unsubscribe(key Key, id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subscribers := h.subscribers[key]
	if subscribers == nil {
		return
	}
	delete(subscribers, id)
	if len(subscribers) == 0 {
		delete(h.subscribers, key)
	}
}
