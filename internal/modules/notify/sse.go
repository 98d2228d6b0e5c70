// README: In-process hub feeding the per-merchant server-sent event stream.
package notify

import (
	"context"
	"log"
	"sync"

	"yisong/internal/modules/order"
	"yisong/internal/types"
)

type Hub struct {
	buffer int

	mu      sync.Mutex
	clients map[types.ID]map[chan order.DomainEvent]struct{}
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{buffer: buffer, clients: make(map[types.ID]map[chan order.DomainEvent]struct{})}
}

func (h *Hub) Name() string { return "sse" }

// Subscribe registers a stream for one merchant. The returned func unregisters it and
// closes the channel.
func (h *Hub) Subscribe(merchantID types.ID) (<-chan order.DomainEvent, func()) {
	ch := make(chan order.DomainEvent, h.buffer)
	h.mu.Lock()
	set, ok := h.clients[merchantID]
	if !ok {
		set = make(map[chan order.DomainEvent]struct{})
		h.clients[merchantID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.clients[merchantID], ch)
			if len(h.clients[merchantID]) == 0 {
				delete(h.clients, merchantID)
			}
			close(ch)
		})
	}
}

// Handle never fails; a slow stream misses events rather than holding up the others.
func (h *Hub) Handle(_ context.Context, evt order.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients[evt.MerchantID] {
		select {
		case ch <- evt:
		default:
			log.Printf("notify: sse client for %s is slow, dropped %s", evt.MerchantID, evt.Type)
		}
	}
	return nil
}

func (h *Hub) Clients(merchantID types.ID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[merchantID])
}
