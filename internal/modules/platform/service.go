// README: Platform registry service; read-only view used by order intake and dispatch.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrNotFound      = errors.New("platform not found")
	ErrBadRequest    = errors.New("bad request")
	// ErrAmbiguousCode is returned when a code exists as both upstream and downstream and
	// the caller did not name a type.
	ErrAmbiguousCode = fmt.Errorf("%w: platform code is registered under both types", ErrBadRequest)
)

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// ListByType returns platforms of the given type (all when empty), priority descending, ties by code.
func (s *Service) ListByType(ctx context.Context, t Type) ([]Platform, error) {
	if t != "" && !t.Valid() {
		return nil, fmt.Errorf("%w: unknown platform type %q", ErrBadRequest, t)
	}
	items, err := s.store.ListByType(ctx, t)
	if err != nil {
		return nil, err
	}
	SortByPriority(items)
	return items, nil
}

func (s *Service) GetByCode(ctx context.Context, code string, t Type) (*Platform, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown platform type %q", ErrBadRequest, t)
	}
	return s.store.GetByCode(ctx, code, t)
}

// Lookup finds a platform by code regardless of type. A code registered under both types
// fails with ErrAmbiguousCode.
func (s *Service) Lookup(ctx context.Context, code string) (*Platform, error) {
	var found *Platform
	for _, t := range []Type{TypeDownstream, TypeUpstream} {
		p, err := s.store.GetByCode(ctx, code, t)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if found != nil {
			return nil, ErrAmbiguousCode
		}
		found = p
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// Resolve scopes the lookup to t when it is set.
func (s *Service) Resolve(ctx context.Context, code string, t Type) (*Platform, error) {
	if t == "" {
		return s.Lookup(ctx, code)
	}
	return s.GetByCode(ctx, code, t)
}

// IsUpstream reports whether code is an active upstream platform.
func (s *Service) IsUpstream(ctx context.Context, code string) (bool, error) {
	p, err := s.store.GetByCode(ctx, code, TypeUpstream)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Active(), nil
}

func SortByPriority(items []Platform) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].Code < items[j].Code
	})
}
