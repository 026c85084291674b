package session

import (
	"context"
	"errors"
)

// Trigger identifies who initiated a close.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduler Trigger = "scheduler"
)

// CloseSummary reports the outcome of a close for observability.
type CloseSummary struct {
	SessionID     string `json:"session_id"`
	TotalStudents int    `json:"total_students"`
	Marked        int    `json:"marked"`
	AutoFilled    int    `json:"auto_filled"`
	AlreadyClosed bool   `json:"already_closed,omitempty"`
}

// Reconciler transitions sessions from OPEN to CLOSED, guaranteeing every
// currently-eligible student ends up with exactly one record.
type Reconciler struct {
	sessions SessionStore
	records  RecordStore
	roster   RosterProvider
}

// NewReconciler creates a close engine over the given stores.
func NewReconciler(sessions SessionStore, records RecordStore, roster RosterProvider) *Reconciler {
	return &Reconciler{sessions: sessions, records: records, roster: roster}
}

// CloseManual closes a session on explicit teacher action. Calling it on a
// missing, foreign, or already-closed session is an error.
func (r *Reconciler) CloseManual(ctx context.Context, actor Actor, sessionID string) (CloseSummary, error) {
	sess, err := r.sessions.Get(ctx, actor.TenantID, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return CloseSummary{}, E(KindSessionNotOpen, "session not found")
		}
		return CloseSummary{}, Wrap(KindUnavailable, "load session", err)
	}
	if !CanActOnSession(actor, sess) {
		return CloseSummary{}, E(KindSessionNotOpen, "session belongs to another teacher")
	}
	return r.close(ctx, sess, TriggerManual)
}

// CloseScheduled closes a session on behalf of the auto-close scheduler. An
// already-closed session is a success no-op, which makes repeated ticks and
// concurrent closers safe.
func (r *Reconciler) CloseScheduled(ctx context.Context, sess Session) (CloseSummary, error) {
	return r.close(ctx, sess, TriggerScheduler)
}

func (r *Reconciler) close(ctx context.Context, sess Session, trigger Trigger) (CloseSummary, error) {
	// Re-read the session so a close that lost an earlier race is detected
	// before any records are written.
	fresh, err := r.sessions.Get(ctx, sess.TenantID, sess.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if trigger == TriggerScheduler {
				return CloseSummary{SessionID: sess.ID, AlreadyClosed: true}, nil
			}
			return CloseSummary{}, E(KindSessionNotOpen, "session not found")
		}
		return CloseSummary{}, Wrap(KindUnavailable, "load session", err)
	}
	if fresh.Status != StatusOpen {
		if trigger == TriggerScheduler {
			return CloseSummary{SessionID: fresh.ID, TotalStudents: fresh.TotalStudents, AlreadyClosed: true}, nil
		}
		return CloseSummary{}, E(KindSessionNotOpen, "session is already closed")
	}

	// Live roster, not the creation-time snapshot count: enrollment may have
	// changed while the session was open.
	eligible, err := r.roster.Eligible(ctx, fresh.CourseID, fresh.TenantID)
	if err != nil {
		return CloseSummary{}, Wrap(KindUnavailable, "fetch roster", err)
	}

	existing, err := r.records.BySession(ctx, fresh.ID)
	if err != nil {
		return CloseSummary{}, Wrap(KindUnavailable, "load records", err)
	}
	marked := make(map[string]bool, len(existing))
	for _, rec := range existing {
		marked[rec.StudentID] = true
	}

	var unmarked []string
	for _, sid := range eligible {
		if !marked[sid] {
			unmarked = append(unmarked, sid)
		}
	}

	filled, err := r.records.FillMissing(ctx, fresh.ID, unmarked, DefaultUnmarkedStatus, fresh.TeacherID)
	if err != nil {
		return CloseSummary{}, Wrap(KindUnavailable, "fill unmarked records", err)
	}

	applied, err := r.sessions.CloseIfOpen(ctx, fresh.ID, len(eligible))
	if err != nil {
		return CloseSummary{}, Wrap(KindUnavailable, "close session", err)
	}
	if !applied {
		// A concurrent closer won the conditional update. Its fill and ours
		// target the same unique keys, so the record set is identical.
		if trigger == TriggerScheduler {
			return CloseSummary{SessionID: fresh.ID, TotalStudents: len(eligible), AlreadyClosed: true}, nil
		}
		return CloseSummary{}, E(KindSessionNotOpen, "session is already closed")
	}

	return CloseSummary{
		SessionID:     fresh.ID,
		TotalStudents: len(eligible),
		Marked:        len(eligible) - filled,
		AutoFilled:    filled,
	}, nil
}
