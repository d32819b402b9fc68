package healthplan

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medcrm/medcrm/internal/platform/apperr"
	"github.com/medcrm/medcrm/internal/platform/auth"
	"github.com/medcrm/medcrm/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	plans := api.Group("/health-improvement-plans")
	plans.POST("", h.CreatePlan)
	plans.GET("", h.ListPlans)
	plans.GET("/:id", h.GetPlan)
	plans.PUT("/:id", h.UpdatePlan)
	plans.PATCH("/:id", h.UpdatePlan)
	plans.DELETE("/:id", h.DeletePlan)
	plans.PATCH("/:id/update-status", h.UpdatePlanStatus)

	recs := api.Group("/recommendations")
	recs.POST("", h.CreateRecommendation)
	recs.GET("", h.ListRecommendations)
	recs.GET("/:id", h.GetRecommendation)
	recs.PUT("/:id", h.UpdateRecommendation)
	recs.PATCH("/:id", h.UpdateRecommendation)
	recs.DELETE("/:id", h.DeleteRecommendation)
	recs.PATCH("/:id/update-status", h.UpdateRecommendationStatus)
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

// -- Plans --

func (h *Handler) CreatePlan(c echo.Context) error {
	actorID, err := auth.ActorID(c)
	if err != nil {
		return err
	}
	var in PlanInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.CreatePlan(c.Request().Context(), actorID, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPlans(c echo.Context) error {
	actorID, err := auth.ActorID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPlans(c.Request().Context(), actorID, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetPlan(c echo.Context) error {
	actorID, id, err := target(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPlan(c.Request().Context(), actorID, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePlan(c echo.Context) error {
	actorID, id, err := target(c)
	if err != nil {
		return err
	}
	var in PlanInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.UpdatePlan(c.Request().Context(), actorID, id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePlanStatus(c echo.Context) error {
	actorID, id, err := target(c)
	if err != nil {
		return err
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.UpdatePlanStatus(c.Request().Context(), actorID, id, req.Status)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePlan(c echo.Context) error {
	actorID, id, err := target(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePlan(c.Request().Context(), actorID, id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Recommendations --

func (h *Handler) CreateRecommendation(c echo.Context) error {
	actorID, err := auth.ActorID(c)
	if err != nil {
		return err
	}
	var in RecommendationInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.CreateRecommendation(c.Request().Context(), actorID, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) ListRecommendations(c echo.Context) error {
	actorID, err := auth.ActorID(c)
	if err != nil {
		return err
	}
	var patientID *uuid.UUID
	if raw := c.QueryParam("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		patientID = &id
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListRecommendations(c.Request().Context(), actorID, patientID, c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetRecommendation(c echo.Context) error {
	actorID, id, err := target(c)
	if err != nil {
		return err
	}
	r, err := h.svc.GetRecommendation(c.Request().Context(), actorID, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) UpdateRecommendation(c echo.Context) error {
	actorID, id, err := target(c)
	if err != nil {
		return err
	}
	var in RecommendationInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.UpdateRecommendation(c.Request().Context(), actorID, id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

type recommendationStatusRequest struct {
	Status string  `json:"status"`
	Notes  *string `json:"notes"`
}

func (h *Handler) UpdateRecommendationStatus(c echo.Context) error {
	actorID, id, err := target(c)
	if err != nil {
		return err
	}
	var req recommendationStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.UpdateStatus(c.Request().Context(), actorID, id, req.Status, req.Notes)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteRecommendation(c echo.Context) error {
	actorID, id, err := target(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteRecommendation(c.Request().Context(), actorID, id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
