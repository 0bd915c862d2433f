package provider

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// staticProvider serves a fixed in-memory item set. It honors the same
// conflict contract as the real providers, which makes it useful both for
// offline demos and for exercising the reconciler in tests.
type staticProvider struct {
	mu    sync.Mutex
	items map[string]*Record
}

func newStatic(cfg Config) *staticProvider {
	p := &staticProvider{items: make(map[string]*Record)}
	for i := range cfg.Items {
		rec := cfg.Items[i]
		p.items[rec.ID] = &rec
	}
	return p
}

func (p *staticProvider) Name() string {
	return string(KindStatic)
}

func (p *staticProvider) FetchItems(_ context.Context, since *time.Time) (ItemStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var recs []*Record
	for _, rec := range p.items {
		if since != nil && !rec.UpdatedAt.After(*since) {
			continue
		}
		cp := *rec
		recs = append(recs, &cp)
	}
	return &sliceStream{recs: recs}, nil
}

func (p *staticProvider) FetchItem(_ context.Context, providerID string) (*Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.items[providerID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", providerID, ErrItemNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (p *staticProvider) ApplyPatch(_ context.Context, providerID string, patch Patch) (*Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.items[providerID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", providerID, ErrItemNotFound)
	}
	if patch.BaseUpdatedAt != nil && rec.UpdatedAt.After(*patch.BaseUpdatedAt) {
		return nil, &ConflictError{ProviderID: providerID, RemoteUpdatedAt: rec.UpdatedAt}
	}
	for field, value := range patch.Fields {
		switch field {
		case "title":
			rec.Title = fmt.Sprintf("%v", value)
		case "description":
			rec.Description = fmt.Sprintf("%v", value)
		case "status":
			rec.StateName = fmt.Sprintf("%v", value)
		case "assignee":
			rec.AssigneeID = fmt.Sprintf("%v", value)
		case "priority":
			if prio, ok := value.(int); ok {
				rec.Priority = DenormalizePriority(prio)
			}
		}
	}
	rec.UpdatedAt = time.Now().UTC()
	cp := *rec
	return &cp, nil
}

type sliceStream struct {
	recs []*Record
}

func (s *sliceStream) Next() (*Record, error) {
	if len(s.recs) == 0 {
		return nil, io.EOF
	}
	rec := s.recs[0]
	s.recs = s.recs[1:]
	return rec, nil
}

func (s *sliceStream) Close() error {
	s.recs = nil
	return nil
}
