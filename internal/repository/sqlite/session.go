package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/repository"
)

const (
	selectSession = `SELECT data FROM sessions WHERE session_id = ?`
	upsertSession = `INSERT INTO sessions (session_id, data) VALUES (?, ?)
ON CONFLICT(session_id) DO UPDATE SET data = excluded.data`
)

type sessionRepository struct {
	db *sql.DB
}

func (r *sessionRepository) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	var s model.Session
	found, err := load(ctx, r.db, &s, selectSession, sessionID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get session", goerr.V("session_id", sessionID))
	}
	if !found {
		return nil, goerr.Wrap(repository.ErrNotFound, "session not found", goerr.V("session_id", sessionID))
	}
	return &s, nil
}

func (r *sessionRepository) Claim(ctx context.Context, sessionID, claimID string, now time.Time, ttl time.Duration) (*model.Session, error) {
	var s model.Session
	var busy bool
	err := r.modify(ctx, sessionID, &s, func(found bool) (bool, error) {
		if !found {
			s = model.Session{SessionID: sessionID}
		}
		if s.Busy(claimID, now) {
			busy = true
			return false, nil
		}
		s.ClaimID = claimID
		s.ClaimExpiresAt = now.Add(ttl)
		s.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if busy {
		return &s, goerr.Wrap(repository.ErrSessionBusy, "session is busy",
			goerr.V("session_id", sessionID), goerr.V("active_task_id", s.ActiveTaskID))
	}
	return &s, nil
}

func (r *sessionRepository) Activate(ctx context.Context, sessionID, claimID, taskID string, now time.Time) error {
	var s model.Session
	return r.modify(ctx, sessionID, &s, func(found bool) (bool, error) {
		if !found || s.ClaimID != claimID {
			return false, goerr.Wrap(repository.ErrClaimLost, "claim not held",
				goerr.V("session_id", sessionID), goerr.V("claim_id", claimID))
		}
		s.ClaimID = ""
		s.ClaimExpiresAt = time.Time{}
		s.ActiveTaskID = taskID
		s.UpdatedAt = now
		return true, nil
	})
}

func (r *sessionRepository) Release(ctx context.Context, sessionID, claimID string) error {
	var s model.Session
	return r.modify(ctx, sessionID, &s, func(found bool) (bool, error) {
		if !found || s.ClaimID != claimID {
			return false, nil
		}
		s.ClaimID = ""
		s.ClaimExpiresAt = time.Time{}
		return true, nil
	})
}

func (r *sessionRepository) ClearActive(ctx context.Context, sessionID, taskID string) error {
	var s model.Session
	return r.modify(ctx, sessionID, &s, func(found bool) (bool, error) {
		if !found || s.ActiveTaskID != taskID {
			return false, nil
		}
		s.ActiveTaskID = ""
		return true, nil
	})
}

// modify loads the session into s and lets fn change it in one
// transaction. fn reports whether s should be written back.
func (r *sessionRepository) modify(ctx context.Context, sessionID string, s *model.Session, fn func(found bool) (bool, error)) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		found, err := load(ctx, tx, s, selectSession, sessionID)
		if err != nil {
			return goerr.Wrap(err, "failed to get session", goerr.V("session_id", sessionID))
		}
		write, err := fn(found)
		if err != nil || !write {
			return err
		}

		data, err := encode(s)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsertSession, sessionID, data); err != nil {
			return goerr.Wrap(err, "failed to write session", goerr.V("session_id", sessionID))
		}
		return nil
	})
}
