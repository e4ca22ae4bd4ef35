package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/render"

	"leasecli/internal/license"
)

// AuthorityRequest mirrors the JSON body the HTTP authority client posts
type AuthorityRequest struct {
	Action     string `json:"action"`
	Code       string `json:"code,omitempty"`
	HardwareID string `json:"hardware_id,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	Version    string `json:"version,omitempty"`
}

type authorityResponse struct {
	Success   bool                         `json:"success"`
	Data      *license.RemoteLicenseRecord `json:"data,omitempty"`
	Error     string                       `json:"error,omitempty"`
	ErrorCode string                       `json:"error_code,omitempty"`
}

// AuthorityServer is an httptest license authority speaking the
// lookup/claim/report_version protocol. Records are keyed by license key.
type AuthorityServer struct {
	*httptest.Server

	mu       sync.Mutex
	records  map[string]*license.RemoteLicenseRecord
	requests []AuthorityRequest
	failNext atomic.Int32
}

// NewAuthorityServer starts a server seeded with records and closes it when t ends.
func NewAuthorityServer(t *testing.T, records ...license.RemoteLicenseRecord) *AuthorityServer {
	t.Helper()
	s := &AuthorityServer{records: make(map[string]*license.RemoteLicenseRecord)}
	for _, r := range records {
		s.Put(r)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Put inserts or replaces a record
func (s *AuthorityServer) Put(r license.RemoteLicenseRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := r
	s.records[r.LicenseKey] = &rec
}

// SetActive flips the active flag of key, the way an operator revokes a license.
func (s *AuthorityServer) SetActive(key string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok {
		rec.Active = active
	}
}

// Record returns a copy of the stored record for key
func (s *AuthorityServer) Record(key string) (license.RemoteLicenseRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return license.RemoteLicenseRecord{}, false
	}
	return *rec, true
}

// Requests returns every request received so far
func (s *AuthorityServer) Requests() []AuthorityRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuthorityRequest(nil), s.requests...)
}

// FailNext makes the next n requests answer 503.
func (s *AuthorityServer) FailNext(n int) {
	s.failNext.Store(int32(n))
}

func (s *AuthorityServer) handle(w http.ResponseWriter, r *http.Request) {
	if s.failNext.Load() > 0 {
		s.failNext.Add(-1)
		http.Error(w, "authority unavailable", http.StatusServiceUnavailable)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AuthorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.JSON(w, r, authorityResponse{Error: "malformed request"})
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	resp := s.dispatch(req)
	s.mu.Unlock()

	render.JSON(w, r, resp)
}

// dispatch requires mu
func (s *AuthorityServer) dispatch(req AuthorityRequest) authorityResponse {
	switch req.Action {
	case "lookup":
		rec, ok := s.records[req.Code]
		if !ok {
			return notFound()
		}
		cp := *rec
		return authorityResponse{Success: true, Data: &cp}

	case "claim":
		rec, ok := s.records[req.Code]
		if !ok {
			return notFound()
		}
		// First claim wins, later claims see the existing binding
		if rec.BoundHardwareID == "" {
			rec.BoundHardwareID = req.HardwareID
		}
		cp := *rec
		return authorityResponse{Success: true, Data: &cp}

	case "report_version":
		for _, rec := range s.records {
			if rec.EntityID == req.EntityID {
				rec.ReportedAppVersion = req.Version
				return authorityResponse{Success: true}
			}
		}
		return notFound()

	default:
		return authorityResponse{Error: "unknown action " + strings.TrimSpace(req.Action)}
	}
}

func notFound() authorityResponse {
	return authorityResponse{Error: "license not found", ErrorCode: "NOT_FOUND"}
}
