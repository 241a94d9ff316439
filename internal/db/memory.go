package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Ankitmohanty2/Kagaz/internal/models"
)

// MemoryDB keeps everything in process. Used by tests and the memory driver.
type MemoryDB struct {
	mu        sync.RWMutex
	documents map[string]models.Document
	chunks    map[string][]models.Chunk
	notes     map[string]models.Note
	sessions  map[string]models.ChatSession
	tokens    []models.AccessToken
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		documents: map[string]models.Document{},
		chunks:    map[string][]models.Chunk{},
		notes:     map[string]models.Note{},
		sessions:  map[string]models.ChatSession{},
	}
}

func (m *MemoryDB) CreateDocument(_ context.Context, doc models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	m.documents[doc.ID] = doc
	return nil
}

func (m *MemoryDB) GetDocument(_ context.Context, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return &doc, nil
}

func (m *MemoryDB) UpdateDocumentStatus(_ context.Context, id string, status models.DocumentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	doc.Status = status
	doc.UpdatedAt = time.Now().UTC()
	m.documents[id] = doc
	return nil
}

func (m *MemoryDB) CountDocumentsByOwner(_ context.Context, ownerID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, d := range m.documents {
		if d.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

// ReplaceDocument builds the new run outside the lock and swaps it in.
func (m *MemoryDB) ReplaceDocument(ctx context.Context, documentID string, chunks []models.Chunk) error {
	run := copyChunks(documentID, chunks)
	if err := ctx.Err(); err != nil {
		return &models.VectorStoreError{Op: "replace", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(run) == 0 {
		delete(m.chunks, documentID)
		return nil
	}
	m.chunks[documentID] = run
	return nil
}

func (m *MemoryDB) Search(ctx context.Context, documentID string, vector []float32, k int) ([]models.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &models.VectorStoreError{Op: "search", Err: err}
	}
	if k <= 0 {
		return []models.QueryResult{}, nil
	}
	m.mu.RLock()
	run := m.chunks[documentID]
	m.mu.RUnlock()
	// run is never mutated after the swap, so ranking without the lock is safe.
	return rankChunks(run, vector, k), nil
}

func (m *MemoryDB) ListChunks(_ context.Context, documentID string) ([]models.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyChunks(documentID, m.chunks[documentID]), nil
}

func (m *MemoryDB) SaveNote(_ context.Context, note models.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if note.UpdatedAt.IsZero() {
		note.UpdatedAt = time.Now().UTC()
	}
	m.notes[note.DocumentID] = note
	return nil
}

func (m *MemoryDB) GetNote(_ context.Context, documentID string) (*models.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	note, ok := m.notes[documentID]
	if !ok {
		return nil, fmt.Errorf("note for %s: %w", documentID, models.ErrNotFound)
	}
	return &note, nil
}

func (m *MemoryDB) GetSession(_ context.Context, id string) (*models.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	s.Messages = append([]string(nil), s.Messages...)
	return &s, nil
}

func (m *MemoryDB) SaveSession(_ context.Context, session models.ChatSession) error {
	if session.ID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	session.Messages = append([]string(nil), session.Messages...)
	m.sessions[session.ID] = session
	return nil
}

func (m *MemoryDB) AddAccessToken(token models.AccessToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append(m.tokens, token)
}

func (m *MemoryDB) GetAccessTokens(_ context.Context) ([]models.AccessToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	var out []models.AccessToken
	for _, t := range m.tokens {
		if t.Expiration.After(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryDB) Close() error { return nil }
