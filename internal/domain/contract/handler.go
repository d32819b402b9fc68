package contract

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/internal/platform/apperr"
	"github.com/medcrm/medcrm/internal/platform/auth"
	"github.com/medcrm/medcrm/internal/platform/validation"
	"github.com/medcrm/medcrm/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/contracts")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PATCH("/:id", h.Update)
	g.GET("/:id/history", h.History)
	g.POST("/:id/approve", h.Approve)
	g.POST("/:id/reject", h.Reject)
	g.POST("/:id/resend-for-approval", h.ResendForApproval)
	g.POST("/:id/send", h.Send)
	g.POST("/:id/activate", h.Activate)
	g.POST("/:id/execute", h.Execute)
	g.POST("/:id/cancel", h.Cancel)
	g.POST("/:id/upload-scan", h.UploadScan)

	clinic := g.Group("", auth.RequireRole(auth.RoleClinic))
	clinic.POST("/:id/mark-executed", h.MarkExecuted)
	clinic.POST("/:id/subcontract", h.Subcontract)
	clinic.POST("/:id/accept-subcontract", h.AcceptSubcontract)
	clinic.POST("/:id/reject-subcontract", h.RejectSubcontract)

	employer := g.Group("", auth.RequireRole(auth.RoleEmployer))
	employer.POST("/:id/confirm-execution", h.ConfirmExecution)
	employer.POST("/:id/reject-execution", h.RejectExecution)
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

// target resolves the acting user and the :id path parameter.
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

func (h *Handler) respond(c echo.Context, actor *identity.User, ct *Contract, err error) error {
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, h.svc.View(c.Request().Context(), actor, ct))
}

func (h *Handler) Create(c echo.Context) error {
	actor, err := h.actor(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	ct, err := h.svc.Create(c.Request().Context(), actor, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, h.svc.View(c.Request().Context(), actor, ct))
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
	views := h.svc.Views(c.Request().Context(), actor, items)
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	ct, err := h.svc.Get(c.Request().Context(), actor, id)
	return h.respond(c, actor, ct, err)
}

func (h *Handler) Update(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ct, err := h.svc.Update(c.Request().Context(), actor, id, in)
	return h.respond(c, actor, ct, err)
}

func (h *Handler) History(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	items, err := h.svc.History(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*History{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Approve(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	ct, err := h.svc.Approve(c.Request().Context(), actor, id)
	return h.respond(c, actor, ct, err)
}

type reasonRequest struct {
	Reason  string `json:"reason"`
	Comment string `json:"comment"`
}

func (r reasonRequest) text() string {
	if r.Reason != "" {
		return r.Reason
	}
	return r.Comment
}

func (h *Handler) Reject(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ct, err := h.svc.Reject(c.Request().Context(), actor, id, req.text())
	return h.respond(c, actor, ct, err)
}

func (h *Handler) ResendForApproval(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ct, err := h.svc.ResendForApproval(c.Request().Context(), actor, id, req.text())
	return h.respond(c, actor, ct, err)
}

func (h *Handler) Send(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	ct, err := h.svc.Send(c.Request().Context(), actor, id)
	return h.respond(c, actor, ct, err)
}

func (h *Handler) Activate(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	ct, err := h.svc.Activate(c.Request().Context(), actor, id)
	return h.respond(c, actor, ct, err)
}

func (h *Handler) Execute(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	ct, err := h.svc.Execute(c.Request().Context(), actor, id)
	return h.respond(c, actor, ct, err)
}

type markExecutedRequest struct {
	ExecutionType string `json:"execution_type" validate:"required,oneof=full partial"`
	Notes         string `json:"execution_notes"`
}

func (h *Handler) MarkExecuted(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	var req markExecutedRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	ct, err := h.svc.MarkExecuted(c.Request().Context(), actor, id, req.ExecutionType, req.Notes)
	return h.respond(c, actor, ct, err)
}

func (h *Handler) ConfirmExecution(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	ct, err := h.svc.ConfirmExecution(c.Request().Context(), actor, id)
	return h.respond(c, actor, ct, err)
}

func (h *Handler) RejectExecution(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ct, err := h.svc.RejectExecution(c.Request().Context(), actor, id, req.text())
	return h.respond(c, actor, ct, err)
}

func (h *Handler) Cancel(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ct, err := h.svc.Cancel(c.Request().Context(), actor, id, req.text())
	return h.respond(c, actor, ct, err)
}

func (h *Handler) Subcontract(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	var in SubcontractInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ct, err := h.svc.Subcontract(c.Request().Context(), actor, id, in)
	return h.respond(c, actor, ct, err)
}

func (h *Handler) AcceptSubcontract(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	ct, err := h.svc.AcceptSubcontract(c.Request().Context(), actor, id)
	return h.respond(c, actor, ct, err)
}

func (h *Handler) RejectSubcontract(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ct, err := h.svc.RejectSubcontract(c.Request().Context(), actor, id, req.text())
	return h.respond(c, actor, ct, err)
}

func (h *Handler) UploadScan(c echo.Context) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return apperr.ToHTTP(ErrFileRequired)
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	defer f.Close()
	ct, err := h.svc.UploadScan(c.Request().Context(), actor, id, fh.Filename, fh.Header.Get(echo.HeaderContentType), f)
	return h.respond(c, actor, ct, err)
}
