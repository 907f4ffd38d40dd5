package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/healthbridge/portal-session/internal/core/ports"
)

type AuthHandler struct {
	authService ports.AuthService
}

func NewAuthHandler(authService ports.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	ResetToken  string `json:"resetToken"`
	NewPassword string `json:"newPassword"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type emptyResponse struct{}

func bindError() error {
	return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
}

// Register creates a new account. It does not sign the caller in.
//
// @Summary      Register a new account
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      ports.Registration  true  "Registration details"
// @Success      201   {object}  ports.Confirmation
// @Failure      400   {object}  api.errorResponse
// @Failure      409   {object}  api.errorResponse
// @Failure      422   {object}  api.errorResponse
// @Router       /auth/register [post]
func (h *AuthHandler) Register(c echo.Context) error {
	var req ports.Registration
	if err := c.Bind(&req); err != nil {
		return bindError()
	}

	conf, err := h.authService.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, conf)
}

// Login authenticates an account and returns a credential pair.
//
// @Summary      Login
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      loginRequest  true  "Login credentials"
// @Success      200   {object}  ports.LoginResult
// @Failure      401   {object}  api.errorResponse
// @Failure      422   {object}  api.errorResponse
// @Router       /auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return bindError()
	}

	res, err := h.authService.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// Logout revokes the caller's access token.
//
// @Summary      Logout
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  emptyResponse
// @Failure      401  {object}  api.errorResponse
// @Router       /auth/logout [post]
func (h *AuthHandler) Logout(c echo.Context) error {
	_, token, err := ctxClaims(c)
	if err != nil {
		return err
	}
	if err := h.authService.Logout(c.Request().Context(), token); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, emptyResponse{})
}

// Me returns the caller's profile.
//
// @Summary      Current profile
// @Tags         profile
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  domain.UserRecord
// @Failure      401  {object}  api.errorResponse
// @Router       /auth/me [get]
func (h *AuthHandler) Me(c echo.Context) error {
	claims, _, err := ctxClaims(c)
	if err != nil {
		return err
	}
	rec, err := h.authService.Profile(c.Request().Context(), claims.AccountID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// UpdateMe merges a partial update into the caller's profile and returns the
// full record.
//
// @Summary      Update profile
// @Tags         profile
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      map[string]interface{}  true  "Fields to change"
// @Success      200   {object}  domain.UserRecord
// @Failure      401   {object}  api.errorResponse
// @Failure      422   {object}  api.errorResponse
// @Router       /auth/me [put]
func (h *AuthHandler) UpdateMe(c echo.Context) error {
	claims, _, err := ctxClaims(c)
	if err != nil {
		return err
	}
	partial := ports.ProfileUpdate{}
	if err := c.Bind(&partial); err != nil {
		return bindError()
	}
	rec, err := h.authService.UpdateProfile(c.Request().Context(), claims.AccountID, partial)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// ForgotPassword always answers 200 so account existence is not revealed.
//
// @Summary      Request a password reset
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      emailRequest  true  "Account email"
// @Success      200   {object}  emptyResponse
// @Failure      422   {object}  api.errorResponse
// @Router       /auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req emailRequest
	if err := c.Bind(&req); err != nil {
		return bindError()
	}
	if _, err := h.authService.ForgotPassword(c.Request().Context(), req.Email); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, emptyResponse{})
}

// ResetPassword consumes a reset token and sets a new password.
//
// @Summary      Reset password
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      resetRequest  true  "Reset token and new password"
// @Success      200   {object}  emptyResponse
// @Failure      400   {object}  api.errorResponse
// @Failure      422   {object}  api.errorResponse
// @Router       /auth/reset-password [post]
func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetRequest
	if err := c.Bind(&req); err != nil {
		return bindError()
	}
	if err := h.authService.ResetPassword(c.Request().Context(), req.ResetToken, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, emptyResponse{})
}

// Refresh exchanges a refresh token for a new credential pair.
//
// @Summary      Refresh tokens
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      refreshRequest  true  "Refresh token"
// @Success      200   {object}  ports.TokenPair
// @Failure      401   {object}  api.errorResponse
// @Failure      422   {object}  api.errorResponse
// @Router       /auth/refresh [post]
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return bindError()
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	pair, err := h.authService.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pair)
}
