package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/aviary-labs/voxadmin/toolcfg"
)

// Sentinel errors for store operations.
var (
	ErrAgentExists   = errors.New("agent already exists")
	ErrAgentNotFound = errors.New("agent not found")
)

// AgentRecord is a stored voice agent: the wizard fields plus the tool set
// the configuration engine maintains.
type AgentRecord struct {
	ID          string               `json:"id"`
	UserID      string               `json:"user_id"`
	Name        string               `json:"name"`
	Prompt      string               `json:"prompt,omitempty"`
	LLM         string               `json:"llm,omitempty"`
	Temperature float64              `json:"temperature,omitempty"`
	VoiceID     string               `json:"voice_id,omitempty"`
	Language    string               `json:"language,omitempty"`
	ModelType   string               `json:"model_type,omitempty"`
	Tools       toolcfg.AgentToolSet `json:"tools"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// AgentStore provides CRUD operations for agent records.
type AgentStore interface {
	List(ctx context.Context) ([]AgentRecord, error)
	Get(ctx context.Context, id string) (AgentRecord, bool, error)
	Create(ctx context.Context, rec AgentRecord) error
	Update(ctx context.Context, rec AgentRecord) error
	Delete(ctx context.Context, id string) error
}

// MemStore is an in-memory AgentStore for tests and ephemeral serving.
type MemStore struct {
	mu     sync.RWMutex
	agents map[string]AgentRecord
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{agents: make(map[string]AgentRecord)}
}

// List returns all records sorted by creation time, then id.
func (s *MemStore) List(ctx context.Context) ([]AgentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AgentRecord, 0, len(s.agents))
	for _, rec := range s.agents {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Get returns a record by id.
func (s *MemStore) Get(ctx context.Context, id string) (AgentRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return AgentRecord{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.agents[id]
	return rec, ok, nil
}

// Create inserts a new record.
func (s *MemStore) Create(ctx context.Context, rec AgentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[rec.ID]; exists {
		return ErrAgentExists
	}
	s.agents[rec.ID] = rec
	return nil
}

// Update replaces an existing record.
func (s *MemStore) Update(ctx context.Context, rec AgentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[rec.ID]; !exists {
		return ErrAgentNotFound
	}
	s.agents[rec.ID] = rec
	return nil
}

// Delete removes a record by id.
func (s *MemStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[id]; !exists {
		return ErrAgentNotFound
	}
	delete(s.agents, id)
	return nil
}
