package routesheet

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/internal/platform/apperr"
	"github.com/medcrm/medcrm/internal/platform/auth"
	"github.com/medcrm/medcrm/pkg/dateonly"
	"github.com/medcrm/medcrm/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/route-sheets")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.POST("/create-by-iin", h.CreateByIIN)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete)
	g.PATCH("/:id/update-service-status", h.UpdateServiceStatus)
	g.GET("/:id/qr-code", h.QRCode)

	clinicOnly := auth.RequireRole(identity.RoleClinic)
	lab := &testHandler{svc: h.svc, kind: KindLaboratory}
	lab.register(api.Group("/laboratory-tests", clinicOnly))
	fn := &testHandler{svc: h.svc, kind: KindFunctional}
	fn.register(api.Group("/functional-tests", clinicOnly))
}

func (h *Handler) actor(c echo.Context) (*identity.User, error) {
	id, err := auth.ActorID(c)
	if err != nil {
		return nil, err
	}
	u, err := h.svc.Actor(c.Request().Context(), id)
	if err != nil {
		return nil, apperr.ToHTTP(err)
	}
	return u, nil
}

func (h *Handler) target(c echo.Context) (*identity.User, uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	u, err := h.actor(c)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return u, id, nil
}

func createdStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func (h *Handler) Create(c echo.Context) error {
	actor, err := h.actor(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sheet, created, err := h.svc.Create(c.Request().Context(), actor, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(createdStatus(created), sheet)
}

func (h *Handler) CreateByIIN(c echo.Context) error {
	actor, err := h.actor(c)
	if err != nil {
		return err
	}
	var in CreateByIINInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sheet, created, err := h.svc.CreateByIIN(c.Request().Context(), actor, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(createdStatus(created), sheet)
}

func (h *Handler) List(c echo.Context) error {
	actor, err := h.actor(c)
	if err != nil {
		return err
	}
	var f Filter
	if raw := c.QueryParam("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	if raw := c.QueryParam("visit_date"); raw != "" {
		d, err := dateonly.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid visit_date")
		}
		f.VisitDate = &d
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), actor, f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	sheet, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sheet)
}

func (h *Handler) Delete(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), actor, id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type serviceStatusRequest struct {
	ServiceID string `json:"service_id"`
	Status    string `json:"status"`
}

func (h *Handler) UpdateServiceStatus(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	var req serviceStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sheet, err := h.svc.UpdateServiceStatus(c.Request().Context(), actor, id, req.ServiceID, req.Status)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sheet)
}

func (h *Handler) QRCode(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	png, err := h.svc.QRCode(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`inline; filename="route_sheet_%s.png"`, id))
	return c.Blob(http.StatusOK, "image/png", png)
}

// testHandler serves one kind of test under its own prefix.
type testHandler struct {
	svc  *Service
	kind string
}

func (h *testHandler) register(g *echo.Group) {
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.PATCH("/:id", h.Update)
	g.PATCH("/:id/status", h.UpdateStatus)
	g.DELETE("/:id", h.Delete)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *testHandler) Create(c echo.Context) error {
	var in TestInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.CreateTest(c.Request().Context(), h.kind, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *testHandler) List(c echo.Context) error {
	var f TestFilter
	for param, dst := range map[string]**uuid.UUID{"patient_id": &f.PatientID, "route_sheet_id": &f.RouteSheetID} {
		raw := c.QueryParam(param)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+param)
		}
		*dst = &id
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListTests(c.Request().Context(), h.kind, f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *testHandler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTest(c.Request().Context(), h.kind, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *testHandler) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in TestInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.UpdateTest(c.Request().Context(), h.kind, id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

type testStatusRequest struct {
	Status  string                 `json:"status"`
	Results map[string]interface{} `json:"results"`
}

func (h *testHandler) UpdateStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req testStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.UpdateTestStatus(c.Request().Context(), h.kind, id, req.Status, req.Results)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *testHandler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteTest(c.Request().Context(), h.kind, id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
