package session

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is a map-backed store used as the dev backend and in tests. It
// enforces the same uniqueness and conditional-update semantics as Postgres.
type MemStore struct {
	mu       sync.Mutex
	sessions map[string]Session            // by id
	byKey    map[string]string             // slot|date|lectureNo -> id
	records  map[string]map[string]Record  // session id -> student id -> record
}

var (
	_ SessionStore = (*MemStore)(nil)
	_ RecordStore  = (*MemStore)(nil)
)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]Session),
		byKey:    make(map[string]string),
		records:  make(map[string]map[string]Record),
	}
}

func sessionKey(slotID string, date time.Time, lectureNo int) string {
	return slotID + "|" + date.Format("2006-01-02") + "|" + strconv.Itoa(lectureNo)
}

// Create inserts a new OPEN session.
func (m *MemStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionKey(s.SlotID, s.LectureDate, s.LectureNo)
	if _, exists := m.byKey[key]; exists {
		return E(KindDuplicateSession, "session already exists for this slot, date and lecture number")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = StatusOpen
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	m.sessions[s.ID] = *s
	m.byKey[key] = s.ID
	m.records[s.ID] = make(map[string]Record)
	return nil
}

// Get returns a session by id within a tenant.
func (m *MemStore) Get(_ context.Context, tenantID, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.TenantID != tenantID {
		return Session{}, ErrNotFound
	}
	return s, nil
}

// ListByTeacher returns a teacher's sessions, newest first.
func (m *MemStore) ListByTeacher(_ context.Context, tenantID, teacherID string, f ListFilter) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.TenantID != tenantID || s.TeacherID != teacherID {
			continue
		}
		if f.Date != nil && !s.SameDay(*f.Date) {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LectureDate.Equal(out[j].LectureDate) {
			return out[i].LectureDate.After(out[j].LectureDate)
		}
		return out[i].LectureNo > out[j].LectureNo
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// OpenOn returns every OPEN session on the given day, all tenants.
func (m *MemStore) OpenOn(_ context.Context, day time.Time) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.Status == StatusOpen && s.SameDay(day) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CloseIfOpen flips OPEN -> CLOSED, reporting whether the update applied.
func (m *MemStore) CloseIfOpen(_ context.Context, id string, totalStudents int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != StatusOpen {
		return false, nil
	}
	s.Status = StatusClosed
	s.TotalStudents = totalStudents
	s.UpdatedAt = time.Now().UTC()
	m.sessions[id] = s
	return true, nil
}

// Delete removes a session and its records.
func (m *MemStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	delete(m.byKey, sessionKey(s.SlotID, s.LectureDate, s.LectureNo))
	delete(m.sessions, id)
	delete(m.records, id)
	return nil
}

// PurgeClosedBefore deletes CLOSED sessions older than cutoff.
func (m *MemStore) PurgeClosedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.Status == StatusClosed && s.LectureDate.Before(cutoff) {
			delete(m.byKey, sessionKey(s.SlotID, s.LectureDate, s.LectureNo))
			delete(m.sessions, id)
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// Upsert writes a record, last write wins.
func (m *MemStore) Upsert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byStudent := m.records[rec.SessionID]
	if byStudent == nil {
		byStudent = make(map[string]Record)
		m.records[rec.SessionID] = byStudent
	}
	now := time.Now().UTC()
	if existing, ok := byStudent[rec.StudentID]; ok {
		rec.MarkedAt = existing.MarkedAt
	} else {
		rec.MarkedAt = now
	}
	rec.UpdatedAt = now
	byStudent[rec.StudentID] = rec
	return nil
}

// Insert writes a record only when none exists for (session, student).
func (m *MemStore) Insert(_ context.Context, rec Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byStudent := m.records[rec.SessionID]
	if byStudent == nil {
		byStudent = make(map[string]Record)
		m.records[rec.SessionID] = byStudent
	}
	if _, exists := byStudent[rec.StudentID]; exists {
		return false, nil
	}
	now := time.Now().UTC()
	rec.MarkedAt, rec.UpdatedAt = now, now
	byStudent[rec.StudentID] = rec
	return true, nil
}

// BySession returns all records for a session, ordered by student id.
func (m *MemStore) BySession(_ context.Context, sessionID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, rec := range m.records[sessionID] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

// FillMissing inserts a record for each listed student that has none yet.
func (m *MemStore) FillMissing(_ context.Context, sessionID string, studentIDs []string, status RecordStatus, markedBy string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byStudent := m.records[sessionID]
	if byStudent == nil {
		byStudent = make(map[string]Record)
		m.records[sessionID] = byStudent
	}
	now := time.Now().UTC()
	inserted := 0
	for _, sid := range studentIDs {
		if _, exists := byStudent[sid]; exists {
			continue
		}
		byStudent[sid] = Record{
			SessionID: sessionID,
			StudentID: sid,
			Status:    status,
			MarkedBy:  markedBy,
			MarkedAt:  now,
			UpdatedAt: now,
		}
		inserted++
	}
	return inserted, nil
}
