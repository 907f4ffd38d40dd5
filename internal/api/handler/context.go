package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/healthbridge/portal-session/internal/core/ports"
)

// Context keys populated by middleware.Auth.
const (
	ClaimsKey      = "claims"
	AccessTokenKey = "access_token"
)

// ctxClaims extracts the claims injected by the Auth middleware. A missing
// value means the route was registered without the middleware.
func ctxClaims(c echo.Context) (*ports.AccessClaims, string, error) {
	claims, _ := c.Get(ClaimsKey).(*ports.AccessClaims)
	token, _ := c.Get(AccessTokenKey).(string)
	if claims == nil || claims.AccountID == "" || token == "" {
		return nil, "", echo.NewHTTPError(http.StatusUnauthorized, "missing authentication claims")
	}
	return claims, token, nil
}
