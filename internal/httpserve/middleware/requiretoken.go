package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/averlard/custos/internal/domain"
	"github.com/averlard/custos/internal/server"
	"github.com/averlard/custos/pkg/token"
)

// IdentityKey is the echo context key the verified identity is stored under.
const IdentityKey = "identity"

// RequireToken validates the bearer token on a request and stores the
// resulting identity in the context. The event stream passes its token as a
// query parameter because EventSource cannot set headers; both locations are
// accepted everywhere.
func RequireToken(a *server.App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := extractToken(c)
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authorization token is required"})
			}

			identity, err := token.Parse(a.Config.Auth.Secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
			}

			c.Set(IdentityKey, identity)
			return next(c)
		}
	}
}

// Identity returns the verified identity stored by RequireToken.
func Identity(c echo.Context) domain.Identity {
	if identity, ok := c.Get(IdentityKey).(domain.Identity); ok {
		return identity
	}
	return domain.Identity{}
}

func extractToken(c echo.Context) string {
	header := c.Request().Header.Get("Authorization")
	parts := strings.Fields(header)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return c.QueryParam("token")
}
