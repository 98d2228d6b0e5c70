// README: Order store contract plus the in-memory arena implementation.
package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"yisong/internal/types"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

type ListFilter struct {
	Status Status
	Source string
	Page   int
	Limit  int
}

// Normalize clamps pagination into the supported window.
func (f ListFilter) Normalize() ListFilter {
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	return f
}

// Mutator edits a private copy of an order; returning an error discards the copy.
type Mutator func(o *Order) error

type Store interface {
	Insert(ctx context.Context, o *Order) error
	Get(ctx context.Context, id, merchantID types.ID) (*Order, error)
	List(ctx context.Context, merchantID types.ID, f ListFilter) ([]Order, int, error)
	Update(ctx context.Context, id, merchantID types.ID, mutate Mutator) (*Order, error)
	FindByDeliveryOrderID(ctx context.Context, platform, deliveryOrderID string) (*Order, error)
	AppendEvent(ctx context.Context, e *Event) error
	Events(ctx context.Context, orderID types.ID) ([]Event, error)
}

// nextUpdatedAt keeps updatedAt strictly increasing even when the wall clock stalls or steps back.
func nextUpdatedAt(prev, now time.Time) time.Time {
	if !now.After(prev) {
		return prev.Add(time.Nanosecond)
	}
	return now
}

type memorySlot struct {
	mu    sync.Mutex
	order *Order
}

// MemoryStore keeps orders in an append-only arena addressed through an id index.
// Each slot carries its own lock so updates to different orders never contend.
type MemoryStore struct {
	mu     sync.RWMutex
	arena  []*memorySlot
	byID   map[types.ID]int
	events []Event
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[types.ID]int),
		now:  time.Now,
	}
}

func (s *MemoryStore) Insert(ctx context.Context, o *Order) error {
	if o == nil || o.ID == "" {
		return ErrBadRequest
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[o.ID]; ok {
		return ErrConflict
	}
	for _, slot := range s.arena {
		if slot.order.OrderNo == o.OrderNo {
			return ErrConflict
		}
	}
	s.byID[o.ID] = len(s.arena)
	s.arena = append(s.arena, &memorySlot{order: o.Clone()})
	return nil
}

func (s *MemoryStore) slot(id types.ID) *memorySlot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return nil
	}
	return s.arena[idx]
}

func (s *MemoryStore) Get(ctx context.Context, id, merchantID types.ID) (*Order, error) {
	slot := s.slot(id)
	if slot == nil {
		return nil, ErrNotFound
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.order.MerchantID != merchantID {
		return nil, ErrNotFound
	}
	return slot.order.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, merchantID types.ID, f ListFilter) ([]Order, int, error) {
	f = f.Normalize()
	s.mu.RLock()
	slots := make([]*memorySlot, len(s.arena))
	copy(slots, s.arena)
	s.mu.RUnlock()

	matched := make([]Order, 0)
	for _, slot := range slots {
		slot.mu.Lock()
		o := slot.order
		keep := o.MerchantID == merchantID &&
			(f.Status == "" || o.Status == f.Status) &&
			(f.Source == "" || o.Source == f.Source)
		if keep {
			matched = append(matched, *o.Clone())
		}
		slot.mu.Unlock()
	}
	sortNewestFirst(matched)

	total := len(matched)
	from := (f.Page - 1) * f.Limit
	if from >= total {
		return []Order{}, total, nil
	}
	to := from + f.Limit
	if to > total {
		to = total
	}
	return matched[from:to], total, nil
}

func (s *MemoryStore) Update(ctx context.Context, id, merchantID types.ID, mutate Mutator) (*Order, error) {
	slot := s.slot(id)
	if slot == nil {
		return nil, ErrNotFound
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.order.MerchantID != merchantID {
		return nil, ErrNotFound
	}
	draft := slot.order.Clone()
	if err := mutate(draft); err != nil {
		return nil, err
	}
	draft.ID = slot.order.ID
	draft.MerchantID = slot.order.MerchantID
	draft.OrderNo = slot.order.OrderNo
	draft.CreatedAt = slot.order.CreatedAt
	draft.Version = slot.order.Version + 1
	draft.UpdatedAt = nextUpdatedAt(slot.order.UpdatedAt, s.now())
	slot.order = draft
	return draft.Clone(), nil
}

func (s *MemoryStore) FindByDeliveryOrderID(ctx context.Context, platform, deliveryOrderID string) (*Order, error) {
	s.mu.RLock()
	slots := make([]*memorySlot, len(s.arena))
	copy(slots, s.arena)
	s.mu.RUnlock()

	for _, slot := range slots {
		slot.mu.Lock()
		o := slot.order
		hit := o.DeliveryPlatform != nil && *o.DeliveryPlatform == platform &&
			o.DeliveryOrderID != nil && *o.DeliveryOrderID == deliveryOrderID
		var found *Order
		if hit {
			found = o.Clone()
		}
		slot.mu.Unlock()
		if found != nil {
			return found, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) AppendEvent(ctx context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = int64(len(s.events) + 1)
	s.events = append(s.events, *e)
	return nil
}

func (s *MemoryStore) Events(ctx context.Context, orderID types.ID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, 0)
	for _, e := range s.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func sortNewestFirst(items []Order) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
