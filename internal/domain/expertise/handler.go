package expertise

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medcrm/medcrm/internal/platform/apperr"
	"github.com/medcrm/medcrm/internal/platform/auth"
	"github.com/medcrm/medcrm/internal/platform/spreadsheet"
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
	g := api.Group("/expertises")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/check-readiness", h.CheckReadiness)
	g.GET("/final-act-stats", h.FinalActStats)
	g.GET("/health-plan-items", h.HealthPlanItems)
	g.GET("/export-summary-report-excel", h.ExportSummaryReport)
	g.GET("/export-final-act-excel", h.ExportFinalAct)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.PATCH("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
}

func target(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actorID, err := auth.ActorID(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return actorID, id, nil
}

func optionalID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

func optionalDate(c echo.Context, name string) (*dateonly.Date, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	d, err := dateonly.Parse(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &d, nil
}

func (h *Handler) Create(c echo.Context) error {
	actorID, err := auth.ActorID(c)
	if err != nil {
		return err
	}
	var in Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.Create(c.Request().Context(), actorID, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) List(c echo.Context) error {
	actorID, err := auth.ActorID(c)
	if err != nil {
		return err
	}
	patientID, err := optionalID(c, "patient_id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), actorID,
		Filter{PatientID: patientID, Department: c.QueryParam("department")}, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	actorID, id, err := target(c)
	if err != nil {
		return err
	}
	e, err := h.svc.Get(c.Request().Context(), actorID, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Update(c echo.Context) error {
	actorID, id, err := target(c)
	if err != nil {
		return err
	}
	var in Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.Update(c.Request().Context(), actorID, id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Delete(c echo.Context) error {
	actorID, id, err := target(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), actorID, id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CheckReadiness(c echo.Context) error {
	patientID, err := optionalID(c, "patient_id")
	if err != nil {
		return err
	}
	if patientID == nil {
		return apperr.ToHTTP(ErrPatientRequired)
	}
	routeSheetID, err := optionalID(c, "route_sheet_id")
	if err != nil {
		return err
	}
	res, err := h.svc.CheckReadiness(c.Request().Context(), *patientID, routeSheetID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) FinalActStats(c echo.Context) error {
	actorID, err := auth.ActorID(c)
	if err != nil {
		return err
	}
	stats, err := h.svc.FinalActStats(c.Request().Context(), actorID, c.QueryParam("department"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) HealthPlanItems(c echo.Context) error {
	actorID, err := auth.ActorID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.HealthPlanItems(c.Request().Context(), actorID, c.QueryParam("department"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func attachment(c echo.Context, prefix string, data []byte) error {
	name := fmt.Sprintf("%s_%s.xlsx", prefix, time.Now().Format("20060102_150405"))
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.Blob(http.StatusOK, spreadsheet.ContentType, data)
}

func (h *Handler) ExportSummaryReport(c echo.Context) error {
	actorID, err := auth.ActorID(c)
	if err != nil {
		return err
	}
	from, err := optionalDate(c, "start_date")
	if err != nil {
		return err
	}
	to, err := optionalDate(c, "end_date")
	if err != nil {
		return err
	}
	data, err := h.svc.SummaryReport(c.Request().Context(), actorID,
		Filter{Department: c.QueryParam("department"), VerdictFrom: from, VerdictTo: to})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return attachment(c, "summary_report", data)
}

func (h *Handler) ExportFinalAct(c echo.Context) error {
	actorID, err := auth.ActorID(c)
	if err != nil {
		return err
	}
	data, err := h.svc.FinalAct(c.Request().Context(), actorID, c.QueryParam("department"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return attachment(c, "final_act", data)
}
