package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Keys of the persisted local state
const (
	KeyCurrentPlan      = "currentPlan"
	KeyScansUsed        = "scansUsed"
	KeyDocuments        = "documents"
	KeyDocumentSequence = "documentSequence"
	KeySubscriptionID   = "subscriptionId"
	KeySubscriptionDate = "subscriptionDate"
)

// ErrPersistenceUnavailable wraps every failure of the underlying store
var ErrPersistenceUnavailable = errors.New("state: persistence unavailable")

// Store defines the interface for namespaced key/value persistence.
// Values are JSON encoded.
type Store interface {
	// Load decodes the value stored under key into v and reports whether it was present
	Load(key string, v any) (bool, error)

	// Save writes all entries in a single atomic update
	Save(entries map[string]any) error

	// Close releases the store
	Close() error
}

func encodeEntries(entries map[string]any) (map[string][]byte, error) {
	encoded := make(map[string][]byte, len(entries))
	for key, value := range entries {
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s: %w", key, err)
		}
		encoded[key] = data
	}
	return encoded, nil
}

// MemoryStore implements Store with a process-local map
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (m *MemoryStore) Load(key string, v any) (bool, error) {
	m.mu.RLock()
	data, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshaling %s: %w", key, err)
	}
	return true, nil
}

func (m *MemoryStore) Save(entries map[string]any) error {
	encoded, err := encodeEntries(entries)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, data := range encoded {
		m.values[key] = data
	}
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
