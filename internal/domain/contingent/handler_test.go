package contingent

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/internal/platform/auth"
	"github.com/medcrm/medcrm/internal/platform/spreadsheet"
)

func authed(req *http.Request, u *identity.User) *http.Request {
	return req.WithContext(auth.WithUser(req.Context(), u.ID.String(), []string{u.Role}))
}

func TestHandler_CreateRejectsBadIIN(t *testing.T) {
	env := newTestEnv()
	h := NewHandler(env.svc)
	e := echo.New()
	employer := env.users.add(identity.RoleEmployer)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Иванов","iin":"12"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := h.Create(e.NewContext(authed(req, employer), httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_FindByQR_NotFound(t *testing.T) {
	env := newTestEnv()
	h := NewHandler(env.svc)
	e := echo.New()
	clinic := env.users.add(identity.RoleClinic)

	body := `{"qr_data":"{\"type\":\"employee\",\"iin\":\"111111111111\"}"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := h.FindByQR(e.NewContext(authed(req, clinic), httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
	msg, ok := he.Message.(map[string]interface{})
	if !ok || msg["details"] == nil {
		t.Errorf("expected qr_data details in %v", he.Message)
	}
}

func TestHandler_Template(t *testing.T) {
	env := newTestEnv()
	h := NewHandler(env.svc)
	e := echo.New()
	rec := httptest.NewRecorder()
	if err := h.Template(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("Template: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != spreadsheet.ContentType {
		t.Errorf("unexpected content type %q", ct)
	}
	if rec.Body.Len() == 0 {
		t.Error("expected workbook body")
	}
}

func TestHandler_DeleteAll(t *testing.T) {
	env := newTestEnv()
	h := NewHandler(env.svc)
	e := echo.New()
	employer := env.users.add(identity.RoleEmployer)
	env.seed(t, employer, "A", "", "")

	rec := httptest.NewRecorder()
	if err := h.DeleteAll(e.NewContext(authed(httptest.NewRequest(http.MethodDelete, "/", nil), employer), rec)); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "Удалено 1 сотрудников") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
