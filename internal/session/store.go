package session

import (
	"context"
	"time"
)

// ListFilter narrows session listings for reporting reads.
type ListFilter struct {
	Date   *time.Time
	Status Status // empty matches both
	Limit  int
	Offset int
}

// SessionStore persists attendance sessions. Implementations must enforce the
// (slot, lecture date, lecture number) uniqueness at the storage layer and make
// the OPEN -> CLOSED transition a single conditional update.
type SessionStore interface {
	// Create inserts a new OPEN session. Returns a DUPLICATE_SESSION error
	// when one already exists for (slot, date, lecture number).
	Create(ctx context.Context, s *Session) error

	// Get returns a session by id within a tenant, or ErrNotFound.
	Get(ctx context.Context, tenantID, id string) (Session, error)

	// ListByTeacher returns a teacher's sessions, newest first.
	ListByTeacher(ctx context.Context, tenantID, teacherID string, f ListFilter) ([]Session, error)

	// OpenOn returns every OPEN session across all tenants whose lecture
	// date falls on the given calendar day. Used by the scheduler.
	OpenOn(ctx context.Context, day time.Time) ([]Session, error)

	// CloseIfOpen flips the session to CLOSED and updates totalStudents,
	// only if it is still OPEN. Reports whether the update applied.
	CloseIfOpen(ctx context.Context, id string, totalStudents int) (bool, error)

	// Delete removes a session and cascades to its records.
	Delete(ctx context.Context, id string) error

	// PurgeClosedBefore deletes CLOSED sessions with a lecture date older
	// than cutoff, cascading to records. Returns the number removed.
	PurgeClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RecordStore persists per-student attendance outcomes. Implementations must
// enforce the (session, student) uniqueness atomically; upserts may not be
// emulated with read-then-write.
type RecordStore interface {
	// Upsert writes status and markedBy together, last write wins.
	Upsert(ctx context.Context, rec Record) error

	// Insert writes a record only if none exists for (session, student).
	// Reports false, without modifying the existing row, on conflict.
	Insert(ctx context.Context, rec Record) (bool, error)

	// BySession returns all records for a session.
	BySession(ctx context.Context, sessionID string) ([]Record, error)

	// FillMissing inserts a record with the given status for each listed
	// student that has none yet, skipping existing rows. Returns the number
	// actually inserted.
	FillMissing(ctx context.Context, sessionID string, studentIDs []string, status RecordStatus, markedBy string) (int, error)
}
