package memory

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/repository"
)

type sessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func newSessionRepository() *sessionRepository {
	return &sessionRepository{
		sessions: make(map[string]*model.Session),
	}
}

func (r *sessionRepository) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[sessionID]
	if !exists {
		return nil, goerr.Wrap(repository.ErrNotFound, "session not found", goerr.V("session_id", sessionID))
	}
	copied := *s
	return &copied, nil
}

func (r *sessionRepository) Claim(ctx context.Context, sessionID, claimID string, now time.Time, ttl time.Duration) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[sessionID]
	if !exists {
		s = &model.Session{SessionID: sessionID}
		r.sessions[sessionID] = s
	}
	if s.Busy(claimID, now) {
		copied := *s
		return &copied, goerr.Wrap(repository.ErrSessionBusy, "session is busy",
			goerr.V("session_id", sessionID), goerr.V("active_task_id", s.ActiveTaskID))
	}

	s.ClaimID = claimID
	s.ClaimExpiresAt = now.Add(ttl)
	s.UpdatedAt = now
	copied := *s
	return &copied, nil
}

func (r *sessionRepository) Activate(ctx context.Context, sessionID, claimID, taskID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[sessionID]
	if !exists || s.ClaimID != claimID {
		return goerr.Wrap(repository.ErrClaimLost, "claim not held",
			goerr.V("session_id", sessionID), goerr.V("claim_id", claimID))
	}
	s.ClaimID = ""
	s.ClaimExpiresAt = time.Time{}
	s.ActiveTaskID = taskID
	s.UpdatedAt = now
	return nil
}

func (r *sessionRepository) Release(ctx context.Context, sessionID, claimID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, exists := r.sessions[sessionID]; exists && s.ClaimID == claimID {
		s.ClaimID = ""
		s.ClaimExpiresAt = time.Time{}
	}
	return nil
}

func (r *sessionRepository) ClearActive(ctx context.Context, sessionID, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, exists := r.sessions[sessionID]; exists && s.ActiveTaskID == taskID {
		s.ActiveTaskID = ""
	}
	return nil
}
