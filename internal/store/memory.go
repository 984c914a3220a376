package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"leadflow/internal/models"
)

// MemoryStore keeps records in process. It backs tests and the "memory"
// store driver.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[string]models.Lead
	seq         int64
	lastCreated time.Time
	opts        options
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]models.Lead),
		opts:    buildOptions(opts),
	}
}

func (s *MemoryStore) Create(_ context.Context, payload *models.LeadPayload) (*models.Lead, error) {
	if payload == nil {
		return nil, fmt.Errorf("create lead: nil payload")
	}
	lead := newLead(s.opts, payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.records[lead.ID]; exists {
		if payload.RequestKey != "" {
			return &existing, nil
		}
		return nil, fmt.Errorf("create lead: duplicate id %s", lead.ID)
	}

	// Stamped under the lock and never behind the previous insert, so
	// createdAt order is insertion order.
	now := s.opts.now().UTC()
	if now.Before(s.lastCreated) {
		now = s.lastCreated
	}
	s.lastCreated = now
	s.seq++
	lead.Seq = s.seq
	lead.CreatedAt = now
	s.records[lead.ID] = *lead

	out := *lead
	return &out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lead, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &lead, nil
}

func (s *MemoryStore) List(_ context.Context) ([]models.Lead, error) {
	s.mu.RLock()
	out := make([]models.Lead, 0, len(s.records))
	for _, l := range s.records {
		out = append(out, l)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Newer(&out[j]) })
	return out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status models.Status) error {
	if !status.Valid() {
		return fmt.Errorf("update status: invalid status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	lead.Status = status
	s.records[id] = lead
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.records, id)
	return nil
}
