package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/fee"
	"github.com/vietddude/txguard/internal/infra/storage"
	"github.com/vietddude/txguard/internal/queue"
	"github.com/vietddude/txguard/internal/resilience/breaker"
)

type stubOps struct {
	mu        sync.Mutex
	submitted []domain.Submission
	submitErr error
	snaps     map[string]domain.Snapshot
	cancelled []string
	lastList  storage.ListFilter
}

func (s *stubOps) Submit(ctx context.Context, sub domain.Submission) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return "", s.submitErr
	}
	s.submitted = append(s.submitted, sub)
	return fmt.Sprintf("op-%d", len(s.submitted)), nil
}

func (s *stubOps) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snaps[id]; !ok {
		return false
	}
	s.cancelled = append(s.cancelled, id)
	return true
}

func (s *stubOps) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	snap, ok := s.snaps[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &snap, nil
}

func (s *stubOps) List(ctx context.Context, filter storage.ListFilter) ([]domain.Snapshot, error) {
	s.mu.Lock()
	s.lastList = filter
	s.mu.Unlock()
	var out []domain.Snapshot
	for _, snap := range s.snaps {
		if filter.Matches(snap) {
			out = append(out, snap)
		}
	}
	return out, nil
}

func newTestServer(monitor *Monitor, ops Operations) *httptest.Server {
	srv := httptest.NewServer(NewServer(monitor, ops, 0).Handler())
	return srv
}

func TestServer_Health(t *testing.T) {
	tests := []struct {
		state      breaker.State
		wantCode   int
		wantStatus string
	}{
		{breaker.StateClosed, http.StatusOK, "healthy"},
		{breaker.StateHalfOpen, http.StatusOK, "degraded"},
		{breaker.StateOpen, http.StatusServiceUnavailable, "critical"},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			srv := newTestServer(&Monitor{Breaker: &stubBreaker{state: tt.state}}, nil)
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/health")
			if err != nil {
				t.Fatalf("GET /health: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantCode {
				t.Errorf("status code = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %q, want %q", body["status"], tt.wantStatus)
			}
		})
	}
}

func TestServer_Detailed(t *testing.T) {
	monitor := &Monitor{
		Queue:   &stubQueue{status: queue.Status{Length: 3}},
		Breaker: &stubBreaker{state: breaker.StateClosed},
	}
	srv := newTestServer(monitor, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health/detailed")
	if err != nil {
		t.Fatalf("GET /health/detailed: %v", err)
	}
	defer resp.Body.Close()

	var report struct {
		SystemStatus string `json:"system_status"`
		Queue        struct {
			Name   string `json:"name"`
			Length int    `json:"length"`
		} `json:"queue"`
		Breaker struct {
			State string `json:"state"`
		} `json:"breaker"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Queue.Name != "default" || report.Queue.Length != 3 {
		t.Errorf("unexpected queue section: %+v", report.Queue)
	}
	if report.Breaker.State != "closed" {
		t.Errorf("breaker state = %q, want closed", report.Breaker.State)
	}
}

func TestServer_OperationsNotRegisteredWithoutService(t *testing.T) {
	srv := newTestServer(&Monitor{}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/operations/abc")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status code = %d, want 404", resp.StatusCode)
	}
}

func TestServer_Submit(t *testing.T) {
	ops := &stubOps{}
	srv := newTestServer(&Monitor{}, ops)
	defer srv.Close()

	body := `{"method":"eth_sendTransaction","params":[{"from":"0x1"}],"tier":"high","max_attempts":4,"label":"payout"}`
	resp, err := http.Post(srv.URL+"/operations", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status code = %d, want 202", resp.StatusCode)
	}
	var out map[string]string
	json.NewDecoder(resp.Body).Decode(&out)
	if out["id"] != "op-1" {
		t.Errorf("id = %q, want op-1", out["id"])
	}

	if len(ops.submitted) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(ops.submitted))
	}
	sub := ops.submitted[0]
	if sub.Request.Method != "eth_sendTransaction" || sub.Tier != "high" || sub.MaxAttempts != 4 || sub.Label != "payout" {
		t.Errorf("unexpected submission: %+v", sub)
	}
	if len(sub.Request.Params) != 1 {
		t.Errorf("expected 1 param, got %d", len(sub.Request.Params))
	}
}

func TestServer_SubmitErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
	}{
		{"malformed body", `{`, nil, http.StatusBadRequest},
		{"missing method", `{"params":[]}`, nil, http.StatusBadRequest},
		{"unknown tier", `{"method":"m","tier":"urgent"}`, fmt.Errorf("%w: urgent", fee.ErrUnknownTier), http.StatusBadRequest},
		{"duplicate id", `{"id":"a","method":"m"}`, queue.ErrDuplicateID, http.StatusConflict},
		{"queue closed", `{"method":"m"}`, queue.ErrClosed, http.StatusServiceUnavailable},
		{"other", `{"method":"m"}`, fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&Monitor{}, &stubOps{submitErr: tt.err})
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/operations", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantCode {
				t.Errorf("status code = %d, want %d", resp.StatusCode, tt.wantCode)
			}
		})
	}
}

func TestServer_SubmitBodyTooLarge(t *testing.T) {
	ops := &stubOps{}
	h := NewServer(&Monitor{}, ops, 0).Handler()

	body := `{"method":"m","label":"` + strings.Repeat("x", maxSubmitBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/operations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status code = %d, want 413", rec.Code)
	}
	if len(ops.submitted) != 0 {
		t.Errorf("expected no submission, got %d", len(ops.submitted))
	}
}

func TestServer_GetAndCancel(t *testing.T) {
	ops := &stubOps{snaps: map[string]domain.Snapshot{
		"op-1": {ID: "op-1", Queue: "default", Status: domain.OperationStatusPending},
	}}
	srv := newTestServer(&Monitor{}, ops)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/operations/op-1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var snap domain.Snapshot
	json.NewDecoder(resp.Body).Decode(&snap)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || snap.ID != "op-1" {
		t.Errorf("GET op-1 = %d %+v", resp.StatusCode, snap)
	}

	resp, err = http.Get(srv.URL + "/operations/missing")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET missing = %d, want 404", resp.StatusCode)
	}

	for _, tc := range []struct {
		id   string
		want int
	}{
		{"op-1", http.StatusNoContent},
		{"missing", http.StatusNotFound},
	} {
		req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/operations/"+tc.id, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("DELETE: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("DELETE %s = %d, want %d", tc.id, resp.StatusCode, tc.want)
		}
	}
	if len(ops.cancelled) != 1 || ops.cancelled[0] != "op-1" {
		t.Errorf("cancelled = %v, want [op-1]", ops.cancelled)
	}
}

func TestServer_List(t *testing.T) {
	ops := &stubOps{snaps: map[string]domain.Snapshot{
		"a": {ID: "a", Queue: "default", Status: domain.OperationStatusFailed},
		"b": {ID: "b", Queue: "default", Status: domain.OperationStatusConfirmed},
	}}
	srv := newTestServer(&Monitor{}, ops)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/operations?status=failed&limit=5")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var snaps []domain.Snapshot
	json.NewDecoder(resp.Body).Decode(&snaps)
	resp.Body.Close()

	if len(snaps) != 1 || snaps[0].ID != "a" {
		t.Errorf("unexpected list result: %+v", snaps)
	}
	if ops.lastList.Limit != 5 || ops.lastList.Status != domain.OperationStatusFailed {
		t.Errorf("unexpected filter: %+v", ops.lastList)
	}

	resp, err = http.Get(srv.URL + "/operations?limit=abc")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", resp.StatusCode)
	}
}
