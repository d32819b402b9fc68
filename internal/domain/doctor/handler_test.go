package doctor

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/internal/platform/auth"
)

func TestHandler_CreateDoctor(t *testing.T) {
	svc, _, users := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	clinic := users.add(identity.RoleClinic)

	body := `{"name":"Петров","specialization":"Хирург","phone":"7011234567"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithUser(req.Context(), clinic.ID.String(), []string{"clinic"}))
	rec := httptest.NewRecorder()

	if err := h.Create(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"phone":"+7 701 123 4567"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_CreateDoctor_BadPhone(t *testing.T) {
	svc, _, users := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	clinic := users.add(identity.RoleClinic)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"A","specialization":"B","phone":"123"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithUser(req.Context(), clinic.ID.String(), nil))

	err := h.Create(e.NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_GetDoctor_InvalidID(t *testing.T) {
	svc, _, users := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	clinic := users.add(identity.RoleClinic)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(auth.WithUser(req.Context(), clinic.ID.String(), nil))
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	err := h.Get(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}
