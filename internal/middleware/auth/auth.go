package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/akarpov91/vending_machine/internal/models"
)

// Context keys set by RequireAuth.
const (
	CtxUserID   = "userID"
	CtxUsername = "username"
	CtxRole     = "role"
	CtxToken    = "token"
)

type Middleware struct {
	DB        *gorm.DB
	JWTSecret []byte
}

// RequireAuth validates the bearer token signature and then checks the
// persisted session record. A signed token with no matching ActiveSession
// row is rejected: logout revokes a token long before its expiry.
func (m *Middleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if header == "" {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authorization header required"})
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid authorization header format"})
		}
		raw := parts[1]

		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return m.JWTSecret, nil
		})
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token has expired"})
			}
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
		}
		if !token.Valid {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token claims"})
		}
		sub, ok := claims["sub"].(float64)
		if !ok {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token payload"})
		}
		userID := uint(sub)

		var user models.User
		if err := m.DB.First(&user, userID).Error; err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "user not found"})
		}

		var session models.ActiveSession
		if err := m.DB.Where("user_id = ? AND token = ?", userID, raw).First(&session).Error; err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "session is no longer active"})
		}

		c.Set(CtxUserID, user.ID)
		c.Set(CtxUsername, user.Username)
		c.Set(CtxRole, user.Role)
		c.Set(CtxToken, raw)
		return next(c)
	}
}

func RequireBuyer(next echo.HandlerFunc) echo.HandlerFunc {
	return requireRole(models.RoleBuyer, "this endpoint is for buyers only", next)
}

func RequireSeller(next echo.HandlerFunc) echo.HandlerFunc {
	return requireRole(models.RoleSeller, "this endpoint is for sellers only", next)
}

func requireRole(role, msg string, next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if r, _ := c.Get(CtxRole).(string); r != role {
			return c.JSON(http.StatusForbidden, echo.Map{"error": msg})
		}
		return next(c)
	}
}
