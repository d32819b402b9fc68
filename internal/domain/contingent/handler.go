package contingent

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/internal/platform/apperr"
	"github.com/medcrm/medcrm/internal/platform/auth"
	"github.com/medcrm/medcrm/internal/platform/spreadsheet"
	"github.com/medcrm/medcrm/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/contingent-employees")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/template", h.Template)
	g.POST("/upload-excel", h.UploadExcel)
	g.POST("/find-by-qr", h.FindByQR)
	g.DELETE("/delete-all", h.DeleteAll)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.PATCH("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.GET("/:id/qr-code", h.QRCode)
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
	e, err := h.svc.Create(c.Request().Context(), actor, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) List(c echo.Context) error {
	actor, err := h.actor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), actor, c.QueryParam("department"), pg.Limit, pg.Offset)
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
	e, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, e)
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
	e, err := h.svc.Update(c.Request().Context(), actor, id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, e)
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

func (h *Handler) DeleteAll(c echo.Context) error {
	actor, err := h.actor(c)
	if err != nil {
		return err
	}
	n, err := h.svc.DeleteAll(c.Request().Context(), actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": fmt.Sprintf("Удалено %d сотрудников", n)})
}

func (h *Handler) UploadExcel(c echo.Context) error {
	actor, err := h.actor(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return apperr.ToHTTP(ErrFileRequired)
	}
	var contractID *uuid.UUID
	if raw := c.FormValue("contract_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid contract_id")
		}
		contractID = &id
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	defer f.Close()
	res, err := h.svc.UploadExcel(c.Request().Context(), actor, f, contractID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) Template(c echo.Context) error {
	data, err := Template()
	if err != nil {
		return apperr.ToHTTP(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="contingent_template.xlsx"`)
	return c.Blob(http.StatusOK, spreadsheet.ContentType, data)
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
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`inline; filename="qr_employee_%s.png"`, id))
	return c.Blob(http.StatusOK, "image/png", png)
}

type findByQRRequest struct {
	QRData string `json:"qr_data"`
}

func (h *Handler) FindByQR(c echo.Context) error {
	actor, err := h.actor(c)
	if err != nil {
		return err
	}
	var req findByQRRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.FindByQR(c.Request().Context(), actor, req.QRData)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"employee": e, "found": true})
}
