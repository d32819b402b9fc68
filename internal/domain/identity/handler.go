package identity

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

// RegisterRoutes mounts the login flow (public, see auth.AuthSkipper) and
// the user directory.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/send-otp", h.SendOTP)
	api.POST("/auth/verify-otp", h.VerifyOTP)
	api.POST("/auth/login-password", h.LoginWithPassword)
	api.POST("/auth/set-password", h.SetPassword)
	api.POST("/auth/complete-registration", h.CompleteRegistration)

	api.GET("/users/me", h.Me)
	api.GET("/users/find-by-bin", h.FindByBIN)
	api.GET("/users", h.ListUsers)
	api.GET("/users/:id", h.GetUser)
	api.GET("/clinics", h.ListClinics)
}

type sendOTPRequest struct {
	Phone string `json:"phone"`
}

func (h *Handler) SendOTP(c echo.Context) error {
	var req sendOTPRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SendOTP(c.Request().Context(), req.Phone); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "OTP sent successfully"})
}

type verifyOTPRequest struct {
	Phone string `json:"phone"`
	OTP   string `json:"otp"`
}

func (h *Handler) VerifyOTP(c echo.Context) error {
	var req verifyOTPRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.VerifyOTP(c.Request().Context(), req.Phone, req.OTP)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

type passwordLoginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

func (h *Handler) LoginWithPassword(c echo.Context) error {
	var req passwordLoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.LoginWithPassword(c.Request().Context(), req.Phone, req.Password)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

type setPasswordRequest struct {
	NewPassword string `json:"new_password"`
	OldPassword string `json:"old_password"`
}

// SetPassword changes the password of the authenticated user.
func (h *Handler) SetPassword(c echo.Context) error {
	me, err := h.actor(c)
	if err != nil {
		return err
	}
	var req setPasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SetPassword(c.Request().Context(), me.Phone, req.NewPassword, req.OldPassword); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Password set successfully"})
}

// CompleteRegistration registers the authenticated user's account.
func (h *Handler) CompleteRegistration(c echo.Context) error {
	me, err := h.actor(c)
	if err != nil {
		return err
	}
	var in CompleteRegistrationInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.Phone = me.Phone
	res, err := h.svc.CompleteRegistration(c.Request().Context(), in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) actor(c echo.Context) (*User, error) {
	id, err := auth.ActorID(c)
	if err != nil {
		return nil, err
	}
	u, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return nil, apperr.ToHTTP(err)
	}
	return u, nil
}

func (h *Handler) Me(c echo.Context) error {
	me, err := h.actor(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, me)
}

func (h *Handler) FindByBIN(c echo.Context) error {
	res, err := h.svc.FindEmployerByBIN(c.Request().Context(), c.QueryParam("bin"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ListUsers(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), c.QueryParam("role"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListClinics(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListClinics(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	u, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, u)
}
