package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/repository"
)

// sessionRepository implements the session lock with Firestore
// transactions, so concurrent dispatchers in different processes serialize.
type sessionRepository struct {
	client     *firestore.Client
	collection string
}

func (r *sessionRepository) doc(id string) *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(id)
}

func (r *sessionRepository) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	doc, err := r.doc(sessionID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(repository.ErrNotFound, "session not found", goerr.V("session_id", sessionID))
		}
		return nil, goerr.Wrap(err, "failed to get session", goerr.V("session_id", sessionID))
	}

	var s model.Session
	if err := doc.DataTo(&s); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal session", goerr.V("session_id", sessionID))
	}
	return &s, nil
}

// modify runs fn on the session inside a transaction. fn returns whether to write.
func (r *sessionRepository) modify(ctx context.Context, sessionID string, fn func(s *model.Session) (bool, error)) (*model.Session, error) {
	var result model.Session
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := r.doc(sessionID)
		s := model.Session{SessionID: sessionID}

		doc, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return goerr.Wrap(err, "failed to get session", goerr.V("session_id", sessionID))
		}
		if err == nil {
			if err := doc.DataTo(&s); err != nil {
				return goerr.Wrap(err, "failed to unmarshal session", goerr.V("session_id", sessionID))
			}
		}

		write, err := fn(&s)
		result = s
		if err != nil {
			return err
		}
		if !write {
			return nil
		}
		return tx.Set(ref, &s)
	})
	return &result, err
}

func (r *sessionRepository) Claim(ctx context.Context, sessionID, claimID string, now time.Time, ttl time.Duration) (*model.Session, error) {
	return r.modify(ctx, sessionID, func(s *model.Session) (bool, error) {
		if s.Busy(claimID, now) {
			return false, goerr.Wrap(repository.ErrSessionBusy, "session is busy",
				goerr.V("session_id", sessionID), goerr.V("active_task_id", s.ActiveTaskID))
		}
		s.ClaimID = claimID
		s.ClaimExpiresAt = now.Add(ttl)
		s.UpdatedAt = now
		return true, nil
	})
}

func (r *sessionRepository) Activate(ctx context.Context, sessionID, claimID, taskID string, now time.Time) error {
	_, err := r.modify(ctx, sessionID, func(s *model.Session) (bool, error) {
		if s.ClaimID != claimID {
			return false, goerr.Wrap(repository.ErrClaimLost, "claim not held",
				goerr.V("session_id", sessionID), goerr.V("claim_id", claimID))
		}
		s.ClaimID = ""
		s.ClaimExpiresAt = time.Time{}
		s.ActiveTaskID = taskID
		s.UpdatedAt = now
		return true, nil
	})
	return err
}

func (r *sessionRepository) Release(ctx context.Context, sessionID, claimID string) error {
	_, err := r.modify(ctx, sessionID, func(s *model.Session) (bool, error) {
		if s.ClaimID != claimID {
			return false, nil
		}
		s.ClaimID = ""
		s.ClaimExpiresAt = time.Time{}
		return true, nil
	})
	return err
}

func (r *sessionRepository) ClearActive(ctx context.Context, sessionID, taskID string) error {
	_, err := r.modify(ctx, sessionID, func(s *model.Session) (bool, error) {
		if s.ActiveTaskID != taskID {
			return false, nil
		}
		s.ActiveTaskID = ""
		return true, nil
	})
	return err
}
