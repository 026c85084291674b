// Package roster consumes the enrollment collaborator: the set of students
// currently eligible to be counted for a course.
package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client calls the enrollment microservice, with an optional short-TTL Redis
// cache in front so a burst of scans does not hammer the collaborator.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Cache   *redis.Client // nil disables caching
	TTL     time.Duration
}

// New creates a client. cache may be nil.
func New(baseURL string, cache *redis.Client, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
		Cache:   cache,
		TTL:     ttl,
	}
}

func cacheKey(courseID, tenantID string) string {
	return "roster:" + tenantID + ":" + courseID
}

// Eligible returns the student ids currently eligible for the course.
// Cache failures fall through to the collaborator; they are never fatal.
func (c *Client) Eligible(ctx context.Context, courseID, tenantID string) ([]string, error) {
	if c.Cache != nil {
		if raw, err := c.Cache.Get(ctx, cacheKey(courseID, tenantID)).Result(); err == nil {
			var ids []string
			if err := json.Unmarshal([]byte(raw), &ids); err == nil {
				return ids, nil
			}
		}
	}

	u := fmt.Sprintf("%s/v1/courses/%s/roster?tenant_id=%s", c.BaseURL, url.PathEscape(courseID), url.QueryEscape(tenantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roster service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("roster service returned %d", resp.StatusCode)
	}

	var body struct {
		StudentIDs []string `json:"student_ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}

	if c.Cache != nil {
		if raw, err := json.Marshal(body.StudentIDs); err == nil {
			if err := c.Cache.Set(ctx, cacheKey(courseID, tenantID), raw, c.TTL).Err(); err != nil {
				log.Printf("roster cache set failed: %v", err)
			}
		}
	}
	return body.StudentIDs, nil
}

// Static is an in-memory provider for dev and tests.
type Static struct {
	mu       sync.RWMutex
	byCourse map[string][]string // tenant|course -> student ids
}

// NewStatic creates an empty static provider.
func NewStatic() *Static {
	return &Static{byCourse: make(map[string][]string)}
}

// Set replaces the roster for a course.
func (s *Static) Set(courseID, tenantID string, studentIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCourse[tenantID+"|"+courseID] = append([]string(nil), studentIDs...)
}

// Eligible returns the configured roster, empty when none was set.
func (s *Static) Eligible(_ context.Context, courseID, tenantID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.byCourse[tenantID+"|"+courseID]...), nil
}
