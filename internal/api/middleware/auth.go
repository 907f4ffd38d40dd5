package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/healthbridge/portal-session/internal/api/handler"
	"github.com/healthbridge/portal-session/internal/core/ports"
)

// Authenticator validates a bearer token.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*ports.AccessClaims, error)
}

// Auth validates the bearer token and injects its claims into context.
func Auth(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header")
			}

			claims, err := auth.Authenticate(c.Request().Context(), parts[1])
			if err != nil {
				return err
			}

			c.Set(handler.ClaimsKey, claims)
			c.Set(handler.AccessTokenKey, parts[1])
			c.Set("account_id", claims.AccountID)
			c.Set("role", string(claims.Role))

			return next(c)
		}
	}
}
