package calendarplan

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medcrm/medcrm/internal/domain/identity"
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
	g := api.Group("/calendar-plans")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.PATCH("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/update-status", h.UpdateStatus)
	g.PATCH("/:id/status", h.UpdateStatus)
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

func (h *Handler) Create(c echo.Context) error {
	actor, err := h.actor(c)
	if err != nil {
		return err
	}
	var in Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Create(c.Request().Context(), actor, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) List(c echo.Context) error {
	actor, err := h.actor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), actor, c.QueryParam("status"), pg.Limit, pg.Offset)
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
	p, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Update(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	var in Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Update(c.Request().Context(), actor, id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
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

type statusRequest struct {
	Status          string `json:"status"`
	RejectionReason string `json:"rejection_reason"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.UpdateStatus(c.Request().Context(), actor, id, req.Status, req.RejectionReason)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}
