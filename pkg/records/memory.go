package records

import (
	"context"
	"fmt"
	"sync"

	"github.com/journeyhq/journey/pkg/models"
)

// MemoryStore is an in-memory record store for development and tests. Safe
// for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]any
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]any)}
}

// Put seeds or replaces a record.
func (s *MemoryStore) Put(entity models.EntityRef, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make(map[string]any, len(fields))
	for k, v := range fields {
		stored[k] = v
	}

	s.records[key(entity)] = stored
}

// Get returns a copy of the record's fields.
func (s *MemoryStore) Get(_ context.Context, entity models.EntityRef) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.records[key(entity)]
	if !ok {
		return nil, notFound(entity)
	}

	snapshot := make(map[string]any, len(stored))
	for k, v := range stored {
		snapshot[k] = v
	}

	return snapshot, nil
}

// UpdateField sets one field on the record.
func (s *MemoryStore) UpdateField(_ context.Context, entity models.EntityRef, field string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[key(entity)]
	if !ok {
		return notFound(entity)
	}

	stored[field] = value

	return nil
}

// AddTag appends a tag to the record's "tags" field; duplicates are no-ops.
func (s *MemoryStore) AddTag(_ context.Context, entity models.EntityRef, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[key(entity)]
	if !ok {
		return notFound(entity)
	}

	tags, _ := stored["tags"].([]string)
	for _, existing := range tags {
		if existing == tag {
			return nil
		}
	}

	stored["tags"] = append(tags, tag)

	return nil
}

func key(entity models.EntityRef) string {
	return entity.Type + "/" + entity.ID
}

func notFound(entity models.EntityRef) error {
	return models.NewPermanentError("",
		fmt.Sprintf("record %s/%s not found", entity.Type, entity.ID),
		ErrRecordNotFound)
}
