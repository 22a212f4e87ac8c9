package model

import "time"

// Session is the dispatch lock record of one content batch. A session is
// busy while it has a live claim or an active (submitted) task.
type Session struct {
	SessionID      string    `json:"session_id" firestore:"SessionID"`
	ClaimID        string    `json:"claim_id,omitempty" firestore:"ClaimID"`
	ClaimExpiresAt time.Time `json:"claim_expires_at,omitempty" firestore:"ClaimExpiresAt"`
	ActiveTaskID   string    `json:"active_task_id,omitempty" firestore:"ActiveTaskID"`
	UpdatedAt      time.Time `json:"updated_at" firestore:"UpdatedAt"`
}

// Busy reports whether the session is held by an active task or by a
// claim other than claimID that has not expired at now.
func (s *Session) Busy(claimID string, now time.Time) bool {
	if s == nil {
		return false
	}
	if s.ActiveTaskID != "" {
		return true
	}
	return s.ClaimID != "" && s.ClaimID != claimID && now.Before(s.ClaimExpiresAt)
}
