package assessment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/learnhub/learnhub/internal/model"
	"github.com/learnhub/learnhub/internal/session"
)

// Sessions stores in-progress level tests in a session.StateStore, keyed by auth session.
type Sessions struct {
	state session.StateStore
	ttl   time.Duration
}

// NewSessions creates a Sessions that keeps each test for ttl after its last update.
func NewSessions(state session.StateStore, ttl time.Duration) *Sessions {
	return &Sessions{state: state, ttl: ttl}
}

func stateKey(sessionID string) string {
	return "leveltest:" + sessionID
}

// Create stores a newly built test.
func (s *Sessions) Create(ctx context.Context, sessionID string, ts *model.TestSession) error {
	return s.put(ctx, sessionID, ts)
}

// Get returns the stored test, or nil when the session has none.
func (s *Sessions) Get(ctx context.Context, sessionID string) (*model.TestSession, error) {
	raw, ok, err := s.state.LoadState(ctx, stateKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("load level test: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var ts model.TestSession
	if err := json.Unmarshal(raw, &ts); err != nil {
		return nil, fmt.Errorf("decode level test: %w", err)
	}
	return &ts, nil
}

// Update replaces the stored test.
func (s *Sessions) Update(ctx context.Context, sessionID string, ts *model.TestSession) error {
	return s.put(ctx, sessionID, ts)
}

// Clear removes the session's test.
func (s *Sessions) Clear(ctx context.Context, sessionID string) error {
	if err := s.state.DeleteState(ctx, stateKey(sessionID)); err != nil {
		return fmt.Errorf("clear level test: %w", err)
	}
	return nil
}

func (s *Sessions) put(ctx context.Context, sessionID string, ts *model.TestSession) error {
	raw, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("encode level test: %w", err)
	}
	if err := s.state.SaveState(ctx, stateKey(sessionID), raw, s.ttl); err != nil {
		return fmt.Errorf("save level test: %w", err)
	}
	return nil
}
