package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attendance/internal/slots"
)

// RosterProvider yields the students currently eligible for a course.
type RosterProvider interface {
	Eligible(ctx context.Context, courseID, tenantID string) ([]string, error)
}

// SlotResolver resolves a timetable slot within a tenant.
type SlotResolver interface {
	Resolve(ctx context.Context, slotID, tenantID string) (slots.Slot, error)
}

// Service coordinates session creation, marking and deletion against the
// stores. Attendance status may only be written while the session is OPEN and
// only by the owning teacher.
type Service struct {
	sessions SessionStore
	records  RecordStore
	roster   RosterProvider
	slots    SlotResolver
}

// NewService creates a service backed by the given stores and collaborators.
func NewService(sessions SessionStore, records RecordStore, roster RosterProvider, resolver SlotResolver) *Service {
	return &Service{sessions: sessions, records: records, roster: roster, slots: resolver}
}

// CreateInput identifies the lecture occurrence to open a session for.
type CreateInput struct {
	SlotID      string
	LectureDate time.Time
	LectureNo   int
}

// Create opens a session for a lecture occurrence, snapshotting the resolved
// slot. No attendance records are created at this stage.
func (s *Service) Create(ctx context.Context, actor Actor, in CreateInput) (Session, error) {
	if in.SlotID == "" || in.LectureDate.IsZero() {
		return Session{}, E(KindValidation, "slot id and lecture date are required")
	}
	if in.LectureNo < 1 {
		in.LectureNo = 1
	}

	slot, err := s.slots.Resolve(ctx, in.SlotID, actor.TenantID)
	if err != nil {
		if errors.Is(err, slots.ErrNotFound) {
			return Session{}, E(KindInvalidSlot, "slot does not exist")
		}
		return Session{}, Wrap(KindUnavailable, "resolve slot", err)
	}
	if slot.TeacherID != actor.TeacherID {
		return Session{}, E(KindNotOwner, "slot belongs to another teacher")
	}
	if slot.SubjectID == "" || slot.CourseID == "" {
		return Session{}, E(KindInvalidSlot, "slot has no subject or course binding")
	}

	eligible, err := s.roster.Eligible(ctx, slot.CourseID, actor.TenantID)
	if err != nil {
		return Session{}, Wrap(KindUnavailable, "fetch roster", err)
	}

	sess := Session{
		TenantID:      actor.TenantID,
		DepartmentID:  slot.DepartmentID,
		CourseID:      slot.CourseID,
		SubjectID:     slot.SubjectID,
		TeacherID:     actor.TeacherID,
		SlotID:        slot.ID,
		LectureDate:   truncateToDay(in.LectureDate),
		LectureNo:     in.LectureNo,
		Status:        StatusOpen,
		TotalStudents: len(eligible),
		Snapshot: SlotSnapshot{
			SubjectName: slot.SubjectName,
			SubjectCode: slot.SubjectCode,
			TeacherName: slot.TeacherName,
			Weekday:     slot.Weekday,
			StartTime:   slot.StartTime,
			EndTime:     slot.EndTime,
			Room:        slot.Room,
			Kind:        LectureKind(slot.Kind),
		},
	}
	if err := s.sessions.Create(ctx, &sess); err != nil {
		if IsKind(err, KindDuplicateSession) {
			return Session{}, err
		}
		return Session{}, Wrap(KindUnavailable, "persist session", err)
	}
	return sess, nil
}

// Mark is one (student, status) pair of a batch mark or edit.
type Mark struct {
	StudentID string       `json:"student_id"`
	Status    RecordStatus `json:"status"`
}

// ApplyMarks upserts a batch of marks against an open session owned by the
// actor. Each upsert is atomic; across the list, last write wins. The same
// path serves both initial marking and pre-close edits.
func (s *Service) ApplyMarks(ctx context.Context, actor Actor, sessionID string, marks []Mark) (int, error) {
	sess, err := s.openOwnedSession(ctx, actor, sessionID)
	if err != nil {
		return 0, err
	}
	for _, m := range marks {
		if m.StudentID == "" {
			return 0, E(KindValidation, "student id is required")
		}
		if m.Status != Present && m.Status != Absent {
			return 0, E(KindValidation, fmt.Sprintf("invalid status %q for student %s", m.Status, m.StudentID))
		}
	}

	// Marks are only accepted for currently enrolled students; anything else
	// would survive reconciliation and pollute the closed record set.
	eligible, err := s.roster.Eligible(ctx, sess.CourseID, sess.TenantID)
	if err != nil {
		return 0, Wrap(KindUnavailable, "fetch roster", err)
	}
	enrolled := make(map[string]bool, len(eligible))
	for _, sid := range eligible {
		enrolled[sid] = true
	}
	for _, m := range marks {
		if !enrolled[m.StudentID] {
			return 0, E(KindStudentNotEligible, fmt.Sprintf("student %s is not enrolled in this course", m.StudentID))
		}
	}

	applied := 0
	for _, m := range marks {
		rec := Record{
			SessionID: sess.ID,
			StudentID: m.StudentID,
			Status:    m.Status,
			MarkedBy:  actor.TeacherID,
		}
		if err := s.records.Upsert(ctx, rec); err != nil {
			return applied, Wrap(KindUnavailable, "write record", err)
		}
		applied++
	}
	return applied, nil
}

// ScanIdentity is the decoded payload of a verified attendance token.
type ScanIdentity struct {
	StudentID string
	TenantID  string
}

// Scan records a PRESENT mark from an identity-token scan. The path is
// insert-only so a second scan cannot overwrite a manual correction.
func (s *Service) Scan(ctx context.Context, actor Actor, sessionID string, id ScanIdentity) (Record, error) {
	sess, err := s.openOwnedSession(ctx, actor, sessionID)
	if err != nil {
		return Record{}, err
	}
	if id.TenantID != sess.TenantID {
		return Record{}, E(KindInvalidToken, "token was issued for another tenant")
	}

	eligible, err := s.roster.Eligible(ctx, sess.CourseID, sess.TenantID)
	if err != nil {
		return Record{}, Wrap(KindUnavailable, "fetch roster", err)
	}
	found := false
	for _, sid := range eligible {
		if sid == id.StudentID {
			found = true
			break
		}
	}
	if !found {
		return Record{}, E(KindStudentNotEligible, "student is not enrolled in this course")
	}

	rec := Record{
		SessionID: sess.ID,
		StudentID: id.StudentID,
		Status:    Present,
		MarkedBy:  sess.TeacherID,
	}
	inserted, err := s.records.Insert(ctx, rec)
	if err != nil {
		return Record{}, Wrap(KindUnavailable, "write record", err)
	}
	if !inserted {
		return Record{}, E(KindAlreadyMarked, "student already has a record in this session")
	}
	return rec, nil
}

// Delete removes an OPEN session owned by the actor, cascading its records.
// Closed sessions are historical and cannot be deleted here.
func (s *Service) Delete(ctx context.Context, actor Actor, sessionID string) error {
	sess, err := s.openOwnedSession(ctx, actor, sessionID)
	if err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, sess.ID); err != nil {
		return Wrap(KindUnavailable, "delete session", err)
	}
	return nil
}

// Get returns a session owned by the actor, open or closed.
func (s *Service) Get(ctx context.Context, actor Actor, sessionID string) (Session, error) {
	sess, err := s.sessions.Get(ctx, actor.TenantID, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, E(KindNotFoundOrClosed, "session not found")
		}
		return Session{}, Wrap(KindUnavailable, "load session", err)
	}
	if !CanActOnSession(actor, sess) {
		return Session{}, E(KindNotFoundOrClosed, "session not found")
	}
	return sess, nil
}

// Records returns the record list for a session owned by the actor.
func (s *Service) Records(ctx context.Context, actor Actor, sessionID string) ([]Record, error) {
	sess, err := s.Get(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	recs, err := s.records.BySession(ctx, sess.ID)
	if err != nil {
		return nil, Wrap(KindUnavailable, "load records", err)
	}
	return recs, nil
}

// List returns the actor's sessions for reporting.
func (s *Service) List(ctx context.Context, actor Actor, f ListFilter) ([]Session, error) {
	out, err := s.sessions.ListByTeacher(ctx, actor.TenantID, actor.TeacherID, f)
	if err != nil {
		return nil, Wrap(KindUnavailable, "list sessions", err)
	}
	return out, nil
}

// openOwnedSession loads a session and enforces the shared gate for all write
// paths: it must exist, belong to the actor, and still be OPEN. Foreign and
// missing sessions are indistinguishable to the caller.
func (s *Service) openOwnedSession(ctx context.Context, actor Actor, sessionID string) (Session, error) {
	sess, err := s.sessions.Get(ctx, actor.TenantID, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, E(KindNotFoundOrClosed, "session not found or closed")
		}
		return Session{}, Wrap(KindUnavailable, "load session", err)
	}
	if !CanActOnSession(actor, sess) || sess.Status != StatusOpen {
		return Session{}, E(KindNotFoundOrClosed, "session not found or closed")
	}
	return sess, nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
