package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"graderbot/internal/model"
)

// FileSessionRepository keeps upload sessions in process memory. Entries are
// lost on restart.
type FileSessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]model.FileSession
}

func NewFileSessionRepository() *FileSessionRepository {
	return &FileSessionRepository{sessions: make(map[string]model.FileSession)}
}

func (r *FileSessionRepository) Create(_ context.Context, session *model.FileSession) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("create session failed: empty id")
	}
	r.mu.Lock()
	r.sessions[session.ID] = *session
	r.mu.Unlock()
	return nil
}

// Get returns nil, nil for an unknown id.
func (r *FileSessionRepository) Get(_ context.Context, id string) (*model.FileSession, error) {
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (r *FileSessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	return nil
}

// List returns sessions oldest first.
func (r *FileSessionRepository) List(_ context.Context) ([]model.FileSession, error) {
	r.mu.RLock()
	out := make([]model.FileSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
