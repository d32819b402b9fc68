package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medcrm/medcrm/internal/platform/auth"
)

type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func newAuditContext(method, path, userID string, roles []string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	if userID != "" {
		req = req.WithContext(auth.WithUser(req.Context(), userID, roles))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestAudit_RecordsContractAction(t *testing.T) {
	rec := &mockRecorder{}
	id := uuid.New()
	c, _ := newAuditContext(http.MethodPost, "/api/v1/contracts/"+id.String()+"/approve", "user-1", []string{"employer"})
	c.Set("request_id", "req-42")

	if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(rec.entries))
	}
	entry := rec.entries[0]
	if entry.ResourceType != "contracts" || entry.ResourceID != id.String() {
		t.Errorf("unexpected resource: %s/%s", entry.ResourceType, entry.ResourceID)
	}
	if entry.Action != "create" {
		t.Errorf("expected create, got %s", entry.Action)
	}
	if entry.UserID != "user-1" || entry.RequestID != "req-42" {
		t.Errorf("unexpected identity fields: %+v", entry)
	}
	if entry.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", entry.StatusCode)
	}
}

func TestAudit_CapturesHTTPErrorStatus(t *testing.T) {
	rec := &mockRecorder{}
	c, _ := newAuditContext(http.MethodDelete, "/api/v1/doctors/"+uuid.NewString(), "user-1", nil)

	_ = Audit(zerolog.Nop(), rec)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "forbidden")
	})(c)

	if rec.entries[0].StatusCode != http.StatusForbidden || rec.entries[0].Action != "delete" {
		t.Errorf("unexpected entry: %+v", rec.entries[0])
	}
}

func TestAudit_SkipsNonAPIPaths(t *testing.T) {
	rec := &mockRecorder{}
	c, _ := newAuditContext(http.MethodGet, "/health", "", nil)

	if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.entries) != 0 {
		t.Errorf("expected no entries for /health, got %d", len(rec.entries))
	}
}

func TestAudit_RecorderErrorDoesNotBreakRequest(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{err: errors.New("db down")}
	c, httpRec := newAuditContext(http.MethodGet, "/api/v1/contingent", "user-1", nil)

	if err := Audit(zerolog.New(&buf), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if httpRec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", httpRec.Code)
	}
	if !strings.Contains(buf.String(), "failed to record audit entry") {
		t.Errorf("expected recorder failure to be logged, got %s", buf.String())
	}
}

func TestAudit_LogLine(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newAuditContext(http.MethodGet, "/api/v1/route-sheets", "user-9", []string{"clinic"})

	if err := Audit(zerolog.New(&buf))(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"message":"api_access"`) || !strings.Contains(out, `"resource_type":"route-sheets"`) {
		t.Errorf("unexpected audit line: %s", out)
	}
}

func TestHttpMethodToAction(t *testing.T) {
	tests := map[string]string{
		http.MethodGet:    "read",
		http.MethodHead:   "read",
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodPatch:  "update",
		http.MethodDelete: "delete",
	}
	for method, want := range tests {
		if got := httpMethodToAction(method); got != want {
			t.Errorf("httpMethodToAction(%s) = %s, want %s", method, got, want)
		}
	}
}

func TestExtractResource(t *testing.T) {
	id := uuid.NewString()
	tests := []struct {
		path     string
		wantType string
		wantID   string
	}{
		{"/api/v1/contracts", "contracts", ""},
		{"/api/v1/contracts/" + id, "contracts", id},
		{"/api/v1/route-sheets/" + id + "/services/3", "route-sheets", id},
		{"/api/v1/contingent/template", "contingent", ""},
		{"/api/v1/", "unknown", ""},
	}
	for _, tt := range tests {
		gotType, gotID := extractResource(tt.path)
		if gotType != tt.wantType || gotID != tt.wantID {
			t.Errorf("extractResource(%q) = (%q, %q), want (%q, %q)", tt.path, gotType, gotID, tt.wantType, tt.wantID)
		}
	}
}

func TestAuditRecorderFunc(t *testing.T) {
	var got AuditEntry
	f := AuditRecorderFunc(func(entry AuditEntry) error {
		got = entry
		return nil
	})
	if err := f.RecordAccess(AuditEntry{UserID: "u"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UserID != "u" {
		t.Errorf("expected entry to be forwarded")
	}
}
