package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance/internal/roster"
	"attendance/internal/slots"
)

var (
	owner    = Actor{TenantID: "t1", TeacherID: "teach-1"}
	stranger = Actor{TenantID: "t1", TeacherID: "teach-2"}
	lecDate  = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
)

func fixtureSlot() slots.Slot {
	return slots.Slot{
		ID:           "slot-1",
		TenantID:     "t1",
		DepartmentID: "dep-1",
		CourseID:     "course-1",
		SubjectID:    "subj-1",
		SubjectName:  "Algorithms",
		SubjectCode:  "CS301",
		TeacherID:    "teach-1",
		TeacherName:  "Dr. Rao",
		Weekday:      time.Monday,
		StartTime:    "10:00",
		EndTime:      "11:00",
		Room:         "B-204",
		Kind:         "LECTURE",
	}
}

func newEnv(t *testing.T) (*Service, *MemStore, *roster.Static, *slots.Static) {
	t.Helper()
	mem := NewMemStore()
	ros := roster.NewStatic()
	ros.Set("course-1", "t1", []string{"s1", "s2", "s3"})
	slt := slots.NewStatic()
	slt.Put(fixtureSlot())
	return NewService(mem, mem, ros, slt), mem, ros, slt
}

func createSession(t *testing.T, svc *Service) Session {
	t.Helper()
	sess, err := svc.Create(context.Background(), owner, CreateInput{
		SlotID:      "slot-1",
		LectureDate: lecDate,
		LectureNo:   1,
	})
	require.NoError(t, err)
	return sess
}

func TestCreateSnapshotsSlot(t *testing.T) {
	svc, _, _, slt := newEnv(t)
	sess := createSession(t, svc)

	assert.Equal(t, StatusOpen, sess.Status)
	assert.Equal(t, 3, sess.TotalStudents)
	assert.Equal(t, "Algorithms", sess.Snapshot.SubjectName)
	assert.Equal(t, "11:00", sess.Snapshot.EndTime)
	assert.Equal(t, "B-204", sess.Snapshot.Room)

	// Editing the timetable must not rewrite the stored snapshot.
	edited := fixtureSlot()
	edited.Room = "A-101"
	edited.EndTime = "12:00"
	slt.Put(edited)

	got, err := svc.Get(context.Background(), owner, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "B-204", got.Snapshot.Room)
	assert.Equal(t, "11:00", got.Snapshot.EndTime)
}

func TestCreateErrors(t *testing.T) {
	svc, _, _, slt := newEnv(t)

	t.Run("duplicate session", func(t *testing.T) {
		createSession(t, svc)
		_, err := svc.Create(context.Background(), owner, CreateInput{SlotID: "slot-1", LectureDate: lecDate, LectureNo: 1})
		assert.Equal(t, KindDuplicateSession, KindOf(err))
	})

	t.Run("same occurrence, different lecture number", func(t *testing.T) {
		_, err := svc.Create(context.Background(), owner, CreateInput{SlotID: "slot-1", LectureDate: lecDate, LectureNo: 2})
		assert.NoError(t, err)
	})

	t.Run("not owner", func(t *testing.T) {
		_, err := svc.Create(context.Background(), stranger, CreateInput{SlotID: "slot-1", LectureDate: lecDate, LectureNo: 3})
		assert.Equal(t, KindNotOwner, KindOf(err))
	})

	t.Run("unknown slot", func(t *testing.T) {
		_, err := svc.Create(context.Background(), owner, CreateInput{SlotID: "nope", LectureDate: lecDate, LectureNo: 1})
		assert.Equal(t, KindInvalidSlot, KindOf(err))
	})

	t.Run("slot without course binding", func(t *testing.T) {
		unbound := fixtureSlot()
		unbound.ID = "slot-unbound"
		unbound.CourseID = ""
		slt.Put(unbound)
		_, err := svc.Create(context.Background(), owner, CreateInput{SlotID: "slot-unbound", LectureDate: lecDate, LectureNo: 1})
		assert.Equal(t, KindInvalidSlot, KindOf(err))
	})
}

func TestApplyMarksUpserts(t *testing.T) {
	svc, mem, _, _ := newEnv(t)
	sess := createSession(t, svc)
	ctx := context.Background()

	n, err := svc.ApplyMarks(ctx, owner, sess.ID, []Mark{
		{StudentID: "s1", Status: Present},
		{StudentID: "s2", Status: Absent},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Last write wins, one record per student.
	_, err = svc.ApplyMarks(ctx, owner, sess.ID, []Mark{{StudentID: "s2", Status: Present}})
	require.NoError(t, err)

	recs, err := mem.BySession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, Present, recs[0].Status)
	assert.Equal(t, Present, recs[1].Status)
	assert.Equal(t, "teach-1", recs[1].MarkedBy)
}

func TestApplyMarksGates(t *testing.T) {
	svc, mem, _, _ := newEnv(t)
	sess := createSession(t, svc)
	ctx := context.Background()
	marks := []Mark{{StudentID: "s1", Status: Present}}

	_, err := svc.ApplyMarks(ctx, stranger, sess.ID, marks)
	assert.Equal(t, KindNotFoundOrClosed, KindOf(err))

	_, err = svc.ApplyMarks(ctx, owner, "missing", marks)
	assert.Equal(t, KindNotFoundOrClosed, KindOf(err))

	_, err = svc.ApplyMarks(ctx, owner, sess.ID, []Mark{{StudentID: "s1", Status: "LATE"}})
	assert.Equal(t, KindValidation, KindOf(err))

	applied, err := mem.CloseIfOpen(ctx, sess.ID, 3)
	require.NoError(t, err)
	require.True(t, applied)

	_, err = svc.ApplyMarks(ctx, owner, sess.ID, marks)
	assert.Equal(t, KindNotFoundOrClosed, KindOf(err))
}

func TestApplyMarksRejectsUnenrolledStudents(t *testing.T) {
	svc, mem, _, _ := newEnv(t)
	sess := createSession(t, svc)
	ctx := context.Background()

	n, err := svc.ApplyMarks(ctx, owner, sess.ID, []Mark{
		{StudentID: "s1", Status: Present},
		{StudentID: "s99", Status: Present},
	})
	assert.Equal(t, KindStudentNotEligible, KindOf(err))
	assert.Zero(t, n)

	// The rejected batch must not leave partial writes behind.
	recs, err := mem.BySession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestScanInsertOnly(t *testing.T) {
	svc, _, _, _ := newEnv(t)
	sess := createSession(t, svc)
	ctx := context.Background()
	id := ScanIdentity{StudentID: "s1", TenantID: "t1"}

	rec, err := svc.Scan(ctx, owner, sess.ID, id)
	require.NoError(t, err)
	assert.Equal(t, Present, rec.Status)
	assert.Equal(t, "teach-1", rec.MarkedBy)

	// A second scan must not silently overwrite; the first record stands.
	_, err = svc.Scan(ctx, owner, sess.ID, id)
	assert.Equal(t, KindAlreadyMarked, KindOf(err))

	// A teacher correction followed by a scan must also be preserved.
	_, err = svc.ApplyMarks(ctx, owner, sess.ID, []Mark{{StudentID: "s2", Status: Absent}})
	require.NoError(t, err)
	_, err = svc.Scan(ctx, owner, sess.ID, ScanIdentity{StudentID: "s2", TenantID: "t1"})
	assert.Equal(t, KindAlreadyMarked, KindOf(err))

	recs, err := svc.Records(ctx, owner, sess.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, Absent, recs[1].Status) // s2 kept the manual correction
}

func TestScanRejections(t *testing.T) {
	svc, _, _, _ := newEnv(t)
	sess := createSession(t, svc)
	ctx := context.Background()

	_, err := svc.Scan(ctx, owner, sess.ID, ScanIdentity{StudentID: "s1", TenantID: "t-other"})
	assert.Equal(t, KindInvalidToken, KindOf(err))

	_, err = svc.Scan(ctx, owner, sess.ID, ScanIdentity{StudentID: "s99", TenantID: "t1"})
	assert.Equal(t, KindStudentNotEligible, KindOf(err))
}

func TestDeleteOpenOnly(t *testing.T) {
	svc, mem, _, _ := newEnv(t)
	sess := createSession(t, svc)
	ctx := context.Background()

	_, err := svc.ApplyMarks(ctx, owner, sess.ID, []Mark{{StudentID: "s1", Status: Present}})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, owner, sess.ID))

	_, err = svc.Get(ctx, owner, sess.ID)
	assert.Equal(t, KindNotFoundOrClosed, KindOf(err))
	recs, err := mem.BySession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, recs)

	// Closed sessions are history and cannot be deleted.
	sess2 := Session{TenantID: "t1", TeacherID: "teach-1", SlotID: "slot-9", CourseID: "course-1", LectureDate: lecDate, LectureNo: 1}
	require.NoError(t, mem.Create(ctx, &sess2))
	applied, err := mem.CloseIfOpen(ctx, sess2.ID, 0)
	require.NoError(t, err)
	require.True(t, applied)
	err = svc.Delete(ctx, owner, sess2.ID)
	assert.Equal(t, KindNotFoundOrClosed, KindOf(err))
}
