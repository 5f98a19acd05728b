package demo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps demo state in process memory. Used for local runs and
// tests when no DATABASE_URL is configured.
type InMemoryStore struct {
	mu          sync.RWMutex
	trainers    map[string]Trainer
	sessions    map[string]Session
	transcripts map[string][]TranscriptSegment
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		trainers:    make(map[string]Trainer),
		sessions:    make(map[string]Session),
		transcripts: make(map[string][]TranscriptSegment),
	}
}

func (s *InMemoryStore) CreateTrainer(_ context.Context, t Trainer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trainers[t.Token] = t
	return nil
}

func (s *InMemoryStore) GetTrainer(_ context.Context, token string) (Trainer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trainers[token]
	if !ok {
		return Trainer{}, ErrNotFound
	}
	return t, nil
}

func (s *InMemoryStore) CreateSession(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *InMemoryStore) GetSession(_ context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *InMemoryStore) UpdateSessionState(_ context.Context, id string, state SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.State = state
	s.sessions[id] = sess
	return nil
}

func (s *InMemoryStore) AppendTurn(_ context.Context, id string, state SessionState, messages []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.State = state
	sess.Messages = messages
	s.sessions[id] = sess
	return nil
}

func (s *InMemoryStore) SaveTranscriptSegment(_ context.Context, seg TranscriptSegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[seg.SessionID]; !ok {
		return ErrNotFound
	}
	if seg.ID == "" {
		seg.ID = uuid.NewString()
	}
	if seg.CreatedAt.IsZero() {
		seg.CreatedAt = time.Now().UTC()
	}
	s.transcripts[seg.SessionID] = append(s.transcripts[seg.SessionID], seg)
	return nil
}

func (s *InMemoryStore) ListTranscriptSegments(_ context.Context, sessionID string) ([]TranscriptSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TranscriptSegment(nil), s.transcripts[sessionID]...), nil
}

func (s *InMemoryStore) Close() error { return nil }
