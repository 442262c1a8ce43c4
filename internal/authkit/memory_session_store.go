package authkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemorySessionStore is an in-memory session store intended for tests and dev.
type MemorySessionStore struct {
	mutex   sync.Mutex
	records map[string]SessionRecord
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{records: make(map[string]SessionRecord)}
}

// Insert stores a session record, replacing any record with the same id.
func (store *MemorySessionStore) Insert(ctx context.Context, record SessionRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("session_store.insert.memory: %w", ErrSessionEmptyID)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.records[record.ID] = record
	return nil
}

// Find returns the record for the session id.
func (store *MemorySessionStore) Find(ctx context.Context, sessionID string) (SessionRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, ok := store.records[sessionID]
	if !ok {
		return SessionRecord{}, fmt.Errorf("session_store.find.memory: %w", ErrSessionNotFound)
	}
	return record, nil
}

// UpdateExpiry moves the absolute expiry of an existing session.
func (store *MemorySessionStore) UpdateExpiry(ctx context.Context, sessionID string, expiresAt time.Time) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, ok := store.records[sessionID]
	if !ok {
		return fmt.Errorf("session_store.update_expiry.memory: %w", ErrSessionNotFound)
	}
	record.ExpiresAt = expiresAt
	store.records[sessionID] = record
	return nil
}

// Delete removes the session.
func (store *MemorySessionStore) Delete(ctx context.Context, sessionID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, ok := store.records[sessionID]; !ok {
		return fmt.Errorf("session_store.delete.memory: %w", ErrSessionNotFound)
	}
	delete(store.records, sessionID)
	return nil
}

// DeleteExpired purges sessions whose expiry is before now.
func (store *MemorySessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var removed int64
	for sessionID, record := range store.records {
		if record.ExpiresAt.Before(now) {
			delete(store.records, sessionID)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored sessions.
func (store *MemorySessionStore) Len() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.records)
}
