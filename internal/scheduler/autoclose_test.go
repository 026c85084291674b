package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance/internal/roster"
	"attendance/internal/session"
)

var lecDate = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

func openSession(t *testing.T, mem *session.MemStore, slotID, courseID, endTime string) session.Session {
	t.Helper()
	s := session.Session{
		TenantID:    "t1",
		CourseID:    courseID,
		SubjectID:   "subj-1",
		TeacherID:   "teach-1",
		SlotID:      slotID,
		LectureDate: lecDate,
		LectureNo:   1,
		Snapshot: session.SlotSnapshot{
			SubjectName: "Algorithms",
			StartTime:   "10:00",
			EndTime:     endTime,
		},
	}
	require.NoError(t, mem.Create(context.Background(), &s))
	return s
}

func newAutoCloser(mem *session.MemStore, ros session.RosterProvider, at time.Time) *AutoCloser {
	a := NewAutoCloser(mem, session.NewReconciler(mem, mem, ros), Config{
		Interval: time.Minute,
		Grace:    5 * time.Minute,
		Location: time.UTC,
	})
	a.now = func() time.Time { return at }
	return a
}

// Scenario A: a 10:00-11:00 lecture with one scan is untouched at 10:30 and
// reconciled at 11:06 (end time + grace has passed).
func TestTickScenarioA(t *testing.T) {
	mem := session.NewMemStore()
	ros := roster.NewStatic()
	ros.Set("course-1", "t1", []string{"s1", "s2", "s3"})
	sess := openSession(t, mem, "slot-1", "course-1", "11:00")
	ctx := context.Background()

	rec := session.Record{SessionID: sess.ID, StudentID: "s1", Status: session.Present, MarkedBy: "teach-1"}
	inserted, err := mem.Insert(ctx, rec)
	require.NoError(t, err)
	require.True(t, inserted)

	early := newAutoCloser(mem, ros, time.Date(2026, 3, 9, 10, 30, 0, 0, time.UTC))
	sum := early.Tick(ctx)
	assert.Equal(t, Summary{Scanned: 1, Skipped: 1}, sum)
	got, err := mem.Get(ctx, "t1", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusOpen, got.Status)

	late := newAutoCloser(mem, ros, time.Date(2026, 3, 9, 11, 6, 0, 0, time.UTC))
	sum = late.Tick(ctx)
	assert.Equal(t, Summary{Scanned: 1, Closed: 1}, sum)

	got, err = mem.Get(ctx, "t1", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusClosed, got.Status)
	assert.Equal(t, 3, got.TotalStudents)

	recs, err := mem.BySession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for _, r := range recs {
		if r.StudentID == "s1" {
			assert.Equal(t, session.Present, r.Status)
		} else {
			assert.Equal(t, session.Absent, r.Status)
		}
	}

	// A later tick over the now-closed session is a no-op.
	sum = late.Tick(ctx)
	assert.Equal(t, Summary{}, sum)
}

func TestTickRespectsActiveHours(t *testing.T) {
	mem := session.NewMemStore()
	ros := roster.NewStatic()
	openSession(t, mem, "slot-1", "course-1", "11:00")

	a := NewAutoCloser(mem, session.NewReconciler(mem, mem, ros), Config{
		Interval:   time.Minute,
		Grace:      5 * time.Minute,
		ActiveFrom: 7,
		ActiveTo:   22,
		Location:   time.UTC,
	})
	a.now = func() time.Time { return time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC) }

	assert.Equal(t, Summary{}, a.Tick(context.Background()))
}

type flakyRoster struct {
	inner      *roster.Static
	failCourse string
}

func (f *flakyRoster) Eligible(ctx context.Context, courseID, tenantID string) ([]string, error) {
	if courseID == f.failCourse {
		return nil, errors.New("roster service unavailable")
	}
	return f.inner.Eligible(ctx, courseID, tenantID)
}

// One failing session must not abort the rest of the run; it stays OPEN and is
// retried on the next tick.
func TestTickIsolatesPerSessionFailures(t *testing.T) {
	mem := session.NewMemStore()
	static := roster.NewStatic()
	static.Set("course-ok", "t1", []string{"s1"})
	ros := &flakyRoster{inner: static, failCourse: "course-bad"}

	bad := openSession(t, mem, "slot-bad", "course-bad", "11:00")
	good := openSession(t, mem, "slot-good", "course-ok", "11:00")

	a := newAutoCloser(mem, ros, time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC))
	sum := a.Tick(context.Background())
	assert.Equal(t, Summary{Scanned: 2, Closed: 1, Errored: 1}, sum)

	ctx := context.Background()
	gotBad, err := mem.Get(ctx, "t1", bad.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusOpen, gotBad.Status)
	gotGood, err := mem.Get(ctx, "t1", good.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusClosed, gotGood.Status)

	// The collaborator recovers; the next tick picks the session up.
	ros.failCourse = ""
	static.Set("course-bad", "t1", []string{"s9"})
	sum = a.Tick(ctx)
	assert.Equal(t, Summary{Scanned: 1, Closed: 1}, sum)
}

func TestTickSkipsMalformedEndTime(t *testing.T) {
	mem := session.NewMemStore()
	ros := roster.NewStatic()
	openSession(t, mem, "slot-1", "course-1", "noon")

	a := newAutoCloser(mem, ros, time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC))
	sum := a.Tick(context.Background())
	assert.Equal(t, Summary{Scanned: 1, Errored: 1}, sum)
}

func TestRetentionSweep(t *testing.T) {
	mem := session.NewMemStore()
	ctx := context.Background()

	old := openSession(t, mem, "slot-old", "course-1", "11:00")
	applied, err := mem.CloseIfOpen(ctx, old.ID, 0)
	require.NoError(t, err)
	require.True(t, applied)
	stillOpen := openSession(t, mem, "slot-open", "course-1", "11:00")

	r := NewRetention(mem, 30*24*time.Hour, time.Hour)
	r.now = func() time.Time { return lecDate.Add(90 * 24 * time.Hour) }
	r.Sweep(ctx)

	_, err = mem.Get(ctx, "t1", old.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)

	// OPEN sessions are never purged, whatever their age.
	_, err = mem.Get(ctx, "t1", stillOpen.ID)
	assert.NoError(t, err)
}
