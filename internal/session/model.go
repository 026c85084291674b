package session

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// RecordStatus is a student's attendance outcome within a session.
type RecordStatus string

const (
	Present RecordStatus = "PRESENT"
	Absent  RecordStatus = "ABSENT"
)

// DefaultUnmarkedStatus is assigned to every roster member without a record
// when a session closes. Both the manual and the scheduled close path use this
// constant so the two can never diverge.
const DefaultUnmarkedStatus = Absent

// LectureKind distinguishes regular lectures from labs.
type LectureKind string

const (
	KindLecture LectureKind = "LECTURE"
	KindLab     LectureKind = "LAB"
)

// SlotSnapshot is the denormalized copy of the timetable slot a session was
// created from. It is populated once at creation and never re-derived, so
// later edits to the timetable cannot rewrite attendance history.
type SlotSnapshot struct {
	SubjectName string       `json:"subject_name"`
	SubjectCode string       `json:"subject_code"`
	TeacherName string       `json:"teacher_name"`
	Weekday     time.Weekday `json:"weekday"`
	StartTime   string       `json:"start_time"` // HH:MM
	EndTime     string       `json:"end_time"`   // HH:MM
	Room        string       `json:"room"`
	Kind        LectureKind  `json:"kind"`
}

// Session is one instance of attendance-taking for a lecture occurrence.
// At most one session exists per (slot, lecture date, lecture number).
type Session struct {
	ID            string       `json:"id"`
	TenantID      string       `json:"tenant_id"`
	DepartmentID  string       `json:"department_id"`
	CourseID      string       `json:"course_id"`
	SubjectID     string       `json:"subject_id"`
	TeacherID     string       `json:"teacher_id"`
	SlotID        string       `json:"slot_id"`
	LectureDate   time.Time    `json:"lecture_date"` // calendar day, time part ignored
	LectureNo     int          `json:"lecture_no"`
	Status        Status       `json:"status"`
	TotalStudents int          `json:"total_students"`
	Snapshot      SlotSnapshot `json:"slot_snapshot"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Record is one student's attendance outcome within a session.
// At most one record exists per (session, student).
type Record struct {
	SessionID string       `json:"session_id"`
	StudentID string       `json:"student_id"`
	Status    RecordStatus `json:"status"`
	MarkedBy  string       `json:"marked_by"`
	MarkedAt  time.Time    `json:"marked_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Actor identifies the teacher performing an operation.
type Actor struct {
	TenantID  string
	TeacherID string
}

// CanActOnSession reports whether the actor owns the session. Every entry
// point (mark, scan, edit, close, delete) goes through this predicate.
func CanActOnSession(a Actor, s Session) bool {
	return a.TenantID == s.TenantID && a.TeacherID == s.TeacherID
}

// EligibleCloseAt returns the instant after which the scheduler may close the
// session: the slot's end time on the lecture date, in loc, plus grace.
func (s Session) EligibleCloseAt(loc *time.Location, grace time.Duration) (time.Time, error) {
	hh, mm, err := parseClock(s.Snapshot.EndTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("session %s: bad end time %q: %w", s.ID, s.Snapshot.EndTime, err)
	}
	end := time.Date(s.LectureDate.Year(), s.LectureDate.Month(), s.LectureDate.Day(), hh, mm, 0, 0, loc)
	return end.Add(grace), nil
}

// SameDay reports whether the session's lecture date falls on the given
// calendar day. The caller converts day into the relevant zone beforehand.
func (s Session) SameDay(day time.Time) bool {
	return s.LectureDate.Year() == day.Year() &&
		s.LectureDate.Month() == day.Month() &&
		s.LectureDate.Day() == day.Day()
}

func parseClock(v string) (hh, mm int, err error) {
	if _, err = fmt.Sscanf(v, "%d:%d", &hh, &mm); err != nil {
		return 0, 0, err
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("out of range")
	}
	return hh, mm, nil
}
