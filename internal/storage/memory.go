// Package storage contains the in-memory record store used by tests and by
// the shared ErrNotFound sentinel the SQL repository also reports.
package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/altrentals/deedgate/internal/model"
)

// ErrNotFound is reported by every record store when a file id has no
// backing record, so callers can compare with errors.Is regardless of the
// backing implementation.
var ErrNotFound = errors.New("file not found")

// MemoryStore is a map-backed record store guarded by an RWMutex. It mirrors
// the SQL repository's contract and backs the gateway's tests.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string]*model.FileRecord
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files: make(map[string]*model.FileRecord),
	}
}

// Create inserts a record, stamping creation time. Identical public bytes
// map to the same content address, so a repeat id targets an existing entry;
// the first record wins and owner and timestamp never change after creation.
func (m *MemoryStore) Create(_ context.Context, record *model.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[record.FileID]; ok {
		return nil
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	cp := *record
	m.files[record.FileID] = &cp
	return nil
}

// Get returns a record copy.
func (m *MemoryStore) Get(_ context.Context, fileID string) (*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.files[fileID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Publish rewrites the record id to the new content address and flips the
// restricted flag. Only a currently restricted record can be published; a
// record that is missing or already public reports ErrNotFound, so a racing
// second publish fails cleanly. When a record already exists under the
// content address, the restricted record is retired and the existing public
// record stands.
func (m *MemoryStore) Publish(_ context.Context, fileID, newFileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[fileID]
	if !ok || !rec.Restricted {
		return ErrNotFound
	}
	delete(m.files, fileID)
	if _, taken := m.files[newFileID]; taken {
		return nil
	}
	rec.FileID = newFileID
	rec.Restricted = false
	rec.StoreKey = ""
	rec.UpdatedAt = time.Now().UTC()
	m.files[newFileID] = rec
	return nil
}

// SetExtractResult records the outcome of a background text extraction.
func (m *MemoryStore) SetExtractResult(_ context.Context, fileID string, status model.ExtractStatus, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[fileID]
	if !ok {
		return ErrNotFound
	}
	rec.ExtractStatus = status
	rec.ExtractedText = text
	rec.UpdatedAt = time.Now().UTC()
	return nil
}
