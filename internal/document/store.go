package document

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/docscan/internal/plan"
	"github.com/zombor/docscan/internal/state"
)

var (
	ErrUnknownDocument = errors.New("document: not found")
	ErrEmptyImage      = errors.New("document: image data is empty")
)

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Store owns the ordered document collection, newest first. Every
// mutation writes the whole collection and the id sequence together.
type Store struct {
	mu     sync.Mutex
	state  state.Store
	clock  TimeSource
	docs   []*Document
	lastID uint64
}

// Open loads the collection from st
func Open(st state.Store) *Store {
	return OpenWithClock(st, defaultTimeSource{})
}

// OpenWithClock loads the collection with a custom time source for testing
func OpenWithClock(st state.Store, clock TimeSource) *Store {
	s := &Store{state: st, clock: clock}

	if _, err := st.Load(state.KeyDocuments, &s.docs); err != nil {
		slog.Warn("Failed to load documents", "error", err)
		s.docs = nil
	}
	if _, err := st.Load(state.KeyDocumentSequence, &s.lastID); err != nil {
		slog.Warn("Failed to load document sequence", "error", err)
	}
	// never hand out an id that is already stored
	for _, d := range s.docs {
		if d.ID > s.lastID {
			s.lastID = d.ID
		}
	}
	return s
}

// Save stores a new document and returns it
func (s *Store) Save(imageData []byte, contentType, extractedText string, planAtCapture plan.ID) (*Document, error) {
	if len(imageData) == 0 {
		return nil, ErrEmptyImage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastID++
	doc := &Document{
		ID:            s.lastID,
		ImageData:     append([]byte(nil), imageData...),
		ContentType:   contentType,
		ExtractedText: extractedText,
		CreatedAt:     s.clock.Now().UTC(),
		PlanAtCapture: planAtCapture,
	}
	s.docs = append([]*Document{doc}, s.docs...)
	s.persist()

	return doc.clone(), nil
}

// List returns all documents, newest first
func (s *Store) List() []*Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]*Document, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d.clone())
	}
	return docs
}

// Get returns the document with the given id
func (s *Store) Get(id uint64) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.docs {
		if d.ID == id {
			return d.clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownDocument, id)
}

// Delete removes the document with the given id
func (s *Store) Delete(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, d := range s.docs {
		if d.ID != id {
			continue
		}
		docs := make([]*Document, 0, len(s.docs)-1)
		docs = append(docs, s.docs[:i]...)
		s.docs = append(docs, s.docs[i+1:]...)
		s.persist()
		return nil
	}
	return fmt.Errorf("%w: %d", ErrUnknownDocument, id)
}

// Clear removes every document. The id sequence is kept.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs = nil
	s.persist()
}

// Len returns the number of stored documents
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// persist must be called with s.mu held
func (s *Store) persist() {
	docs := s.docs
	if docs == nil {
		docs = []*Document{}
	}
	err := s.state.Save(map[string]any{
		state.KeyDocuments:        docs,
		state.KeyDocumentSequence: s.lastID,
	})
	if err != nil {
		slog.Error("Failed to persist documents", "error", err)
	}
}
