package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists sessions and records in Postgres.
type Repository struct {
	db *sql.DB
}

var (
	_ SessionStore = (*Repository)(nil)
	_ RecordStore  = (*Repository)(nil)
)

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const sessionCols = `id, tenant_id, department_id, course_id, subject_id, teacher_id, slot_id,
	lecture_date, lecture_no, status, total_students,
	subject_name, subject_code, teacher_name, weekday, start_time, end_time, room, kind,
	created_at, updated_at`

// Create inserts a new OPEN session with its slot snapshot.
func (r *Repository) Create(ctx context.Context, s *Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = StatusOpen
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_sessions (
			id, tenant_id, department_id, course_id, subject_id, teacher_id, slot_id,
			lecture_date, lecture_no, status, total_students,
			subject_name, subject_code, teacher_name, weekday, start_time, end_time, room, kind
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING created_at, updated_at
	`, s.ID, s.TenantID, s.DepartmentID, s.CourseID, s.SubjectID, s.TeacherID, s.SlotID,
		s.LectureDate, s.LectureNo, s.Status, s.TotalStudents,
		s.Snapshot.SubjectName, s.Snapshot.SubjectCode, s.Snapshot.TeacherName,
		int(s.Snapshot.Weekday), s.Snapshot.StartTime, s.Snapshot.EndTime, s.Snapshot.Room, s.Snapshot.Kind)
	if err := row.Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return E(KindDuplicateSession, "session already exists for this slot, date and lecture number")
		}
		return err
	}
	return nil
}

// Get returns a session by id within a tenant.
func (r *Repository) Get(ctx context.Context, tenantID, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionCols+`
		FROM attendance_sessions WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	return scanSession(row)
}

// ListByTeacher returns a teacher's sessions, newest first.
func (r *Repository) ListByTeacher(ctx context.Context, tenantID, teacherID string, f ListFilter) ([]Session, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	query := `SELECT ` + sessionCols + ` FROM attendance_sessions WHERE tenant_id = $1 AND teacher_id = $2`
	args := []any{tenantID, teacherID}
	if f.Date != nil {
		args = append(args, *f.Date)
		query += fmt.Sprintf(" AND lecture_date = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += fmt.Sprintf(" ORDER BY lecture_date DESC, lecture_no DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

// OpenOn returns every OPEN session on the given calendar day, all tenants.
func (r *Repository) OpenOn(ctx context.Context, day time.Time) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionCols+`
		FROM attendance_sessions
		WHERE status = $1 AND lecture_date = $2
		ORDER BY created_at
	`, StatusOpen, time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

// CloseIfOpen transitions OPEN -> CLOSED as a single conditional update, so a
// concurrent second close observes a no-op instead of corrupting state.
func (r *Repository) CloseIfOpen(ctx context.Context, id string, totalStudents int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_sessions
		SET status = $2, total_students = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, StatusClosed, totalStudents, StatusOpen)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Delete removes a session; records cascade via the FK.
func (r *Repository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM attendance_sessions WHERE id = $1`, id)
	return err
}

// PurgeClosedBefore deletes CLOSED sessions older than cutoff.
func (r *Repository) PurgeClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM attendance_sessions WHERE status = $1 AND lecture_date < $2
	`, StatusClosed, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Upsert writes a record, last write wins. Status and marked_by update
// together so no partial record is ever visible.
func (r *Repository) Upsert(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (session_id, student_id, status, marked_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, student_id) DO UPDATE SET
			status = EXCLUDED.status,
			marked_by = EXCLUDED.marked_by,
			updated_at = NOW()
	`, rec.SessionID, rec.StudentID, rec.Status, rec.MarkedBy)
	return err
}

// Insert writes a record only when none exists; the scan path uses this so a
// second scan cannot silently overwrite a manual correction.
func (r *Repository) Insert(ctx context.Context, rec Record) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (session_id, student_id, status, marked_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, student_id) DO NOTHING
	`, rec.SessionID, rec.StudentID, rec.Status, rec.MarkedBy)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// BySession returns all records for a session.
func (r *Repository) BySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, student_id, status, marked_by, marked_at, updated_at
		FROM attendance_records WHERE session_id = $1
		ORDER BY student_id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.SessionID, &rec.StudentID, &rec.Status, &rec.MarkedBy, &rec.MarkedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// FillMissing inserts one record per listed student that has none yet. The
// unique constraint turns a concurrent duplicate into a skipped row, which is
// what makes close idempotent under concurrency.
func (r *Repository) FillMissing(ctx context.Context, sessionID string, studentIDs []string, status RecordStatus, markedBy string) (int, error) {
	if len(studentIDs) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (session_id, student_id, status, marked_by)
		SELECT $1, unnest($2::text[]), $3, $4
		ON CONFLICT (session_id, student_id) DO NOTHING
	`, sessionID, studentIDs, status, markedBy)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanSession(row *sql.Row) (Session, error) {
	var s Session
	var weekday int
	err := row.Scan(&s.ID, &s.TenantID, &s.DepartmentID, &s.CourseID, &s.SubjectID, &s.TeacherID, &s.SlotID,
		&s.LectureDate, &s.LectureNo, &s.Status, &s.TotalStudents,
		&s.Snapshot.SubjectName, &s.Snapshot.SubjectCode, &s.Snapshot.TeacherName,
		&weekday, &s.Snapshot.StartTime, &s.Snapshot.EndTime, &s.Snapshot.Room, &s.Snapshot.Kind,
		&s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	s.Snapshot.Weekday = time.Weekday(weekday)
	return s, nil
}

func collectSessions(rows *sql.Rows) ([]Session, error) {
	var out []Session
	for rows.Next() {
		var s Session
		var weekday int
		if err := rows.Scan(&s.ID, &s.TenantID, &s.DepartmentID, &s.CourseID, &s.SubjectID, &s.TeacherID, &s.SlotID,
			&s.LectureDate, &s.LectureNo, &s.Status, &s.TotalStudents,
			&s.Snapshot.SubjectName, &s.Snapshot.SubjectCode, &s.Snapshot.TeacherName,
			&weekday, &s.Snapshot.StartTime, &s.Snapshot.EndTime, &s.Snapshot.Room, &s.Snapshot.Kind,
			&s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Snapshot.Weekday = time.Weekday(weekday)
		out = append(out, s)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
