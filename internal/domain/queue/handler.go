package queue

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	g := api.Group("/queue", auth.RequireRole(auth.RoleClinic))
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/current", h.Current)
	g.POST("/add-from-route-sheet", h.AddFromRouteSheet)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.PATCH("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/call", h.step(h.svc.Call))
	g.POST("/:id/start", h.step(h.svc.Start))
	g.POST("/:id/complete", h.step(h.svc.Complete))
	g.POST("/:id/skip", h.step(h.svc.Skip))
}

func target(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	clinicID, err := auth.ActorID(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return clinicID, id, nil
}

func doctorParam(c echo.Context) (*uuid.UUID, error) {
	raw := c.QueryParam("doctor_id")
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
	}
	return &id, nil
}

func (h *Handler) Create(c echo.Context) error {
	clinicID, err := auth.ActorID(c)
	if err != nil {
		return err
	}
	var in Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.Create(c.Request().Context(), clinicID, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) AddFromRouteSheet(c echo.Context) error {
	clinicID, err := auth.ActorID(c)
	if err != nil {
		return err
	}
	var in AddInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.AddFromRouteSheet(c.Request().Context(), clinicID, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) List(c echo.Context) error {
	clinicID, err := auth.ActorID(c)
	if err != nil {
		return err
	}
	f := Filter{ClinicID: clinicID, Status: c.QueryParam("status")}
	if f.DoctorID, err = doctorParam(c); err != nil {
		return err
	}
	if raw := c.QueryParam("date"); raw != "" {
		d, err := dateonly.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date")
		}
		f.Date = &d
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Current(c echo.Context) error {
	clinicID, err := auth.ActorID(c)
	if err != nil {
		return err
	}
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Current(c.Request().Context(), clinicID, doctorID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Get(c echo.Context) error {
	clinicID, id, err := target(c)
	if err != nil {
		return err
	}
	e, err := h.svc.Get(c.Request().Context(), clinicID, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Update(c echo.Context) error {
	clinicID, id, err := target(c)
	if err != nil {
		return err
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.Update(c.Request().Context(), clinicID, id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Delete(c echo.Context) error {
	clinicID, id, err := target(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), clinicID, id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) step(fn func(ctx context.Context, clinicID, id uuid.UUID) (*Entry, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		clinicID, id, err := target(c)
		if err != nil {
			return err
		}
		e, err := fn(c.Request().Context(), clinicID, id)
		if err != nil {
			return apperr.ToHTTP(err)
		}
		return c.JSON(http.StatusOK, e)
	}
}
