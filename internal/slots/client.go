// Package slots consumes the timetable collaborator: it resolves a slot id to
// the scheduled teaching period a session is instantiated from.
package slots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// ErrNotFound indicates the slot does not exist in the given tenant.
var ErrNotFound = errors.New("slot not found")

// Slot is a recurring weekly teaching period as scheduled by the timetable
// service. Sessions copy these fields into their snapshot at creation.
type Slot struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenant_id"`
	DepartmentID string       `json:"department_id"`
	CourseID     string       `json:"course_id"`
	SubjectID    string       `json:"subject_id"`
	SubjectName  string       `json:"subject_name"`
	SubjectCode  string       `json:"subject_code"`
	TeacherID    string       `json:"teacher_id"`
	TeacherName  string       `json:"teacher_name"`
	Weekday      time.Weekday `json:"weekday"`
	StartTime    string       `json:"start_time"` // HH:MM
	EndTime      string       `json:"end_time"`   // HH:MM
	Room         string       `json:"room"`
	Kind         string       `json:"kind"`
}

// Client calls the timetable microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client with a short timeout; slot lookups sit on the request path.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Resolve fetches a slot by id within a tenant.
func (c *Client) Resolve(ctx context.Context, slotID, tenantID string) (Slot, error) {
	u := fmt.Sprintf("%s/v1/slots/%s?tenant_id=%s", c.BaseURL, url.PathEscape(slotID), url.QueryEscape(tenantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Slot{}, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Slot{}, fmt.Errorf("slot service: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Slot{}, ErrNotFound
	default:
		return Slot{}, fmt.Errorf("slot service returned %d", resp.StatusCode)
	}

	var slot Slot
	if err := json.NewDecoder(resp.Body).Decode(&slot); err != nil {
		return Slot{}, fmt.Errorf("decode slot: %w", err)
	}
	return slot, nil
}

// Static is an in-memory resolver for dev and tests.
type Static struct {
	mu    sync.RWMutex
	slots map[string]Slot // id -> slot
}

// NewStatic creates an empty static resolver.
func NewStatic() *Static {
	return &Static{slots: make(map[string]Slot)}
}

// Put registers a slot.
func (s *Static) Put(slot Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot.ID] = slot
}

// Resolve returns a registered slot within the tenant.
func (s *Static) Resolve(_ context.Context, slotID, tenantID string) (Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.slots[slotID]
	if !ok || slot.TenantID != tenantID {
		return Slot{}, ErrNotFound
	}
	return slot, nil
}
