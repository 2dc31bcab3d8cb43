package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/akarpov91/vending_machine/internal/hash"
	"github.com/akarpov91/vending_machine/internal/logging"
	authmw "github.com/akarpov91/vending_machine/internal/middleware/auth"
	"github.com/akarpov91/vending_machine/internal/models"
	"github.com/akarpov91/vending_machine/internal/mykafka"
)

const tokenTTL = 24 * time.Hour

type AuthHandler struct {
	DB        *gorm.DB
	JWTSecret []byte
	Producer  *mykafka.Producer
}

type credentialsReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) publish(c echo.Context, event map[string]any) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, "user_events", fmt.Sprint(event["userID"]), event); err != nil {
		logging.FromContext(c.Request().Context()).Error("kafka publish failed", "error", err)
	}
}

func (h *AuthHandler) Register(c echo.Context) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username is required"})
	}
	if len(req.Password) < 8 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password must be at least 8 characters"})
	}
	if req.Role != models.RoleBuyer && req.Role != models.RoleSeller {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "role must be buyer or seller"})
	}

	var existing models.User
	if err := h.DB.Where("username = ?", req.Username).First(&existing).Error; err == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username already taken"})
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	pwHash, err := hash.HashPassword(req.Password)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not hash password"})
	}

	user := models.User{
		Username:     req.Username,
		PasswordHash: pwHash,
		Role:         req.Role,
	}
	if err := h.DB.Create(&user).Error; err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username already taken"})
	}

	h.publish(c, map[string]any{
		"type":     "user_registered",
		"userID":   user.ID,
		"username": user.Username,
		"role":     user.Role,
	})

	return c.JSON(http.StatusCreated, echo.Map{
		"message": "User registered successfully",
		"user":    user,
	})
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req credentialsReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	user, ok := h.verifyCredentials(c, req)
	if !ok {
		return nil
	}

	var active models.ActiveSession
	if err := h.DB.Where("user_id = ?", user.ID).First(&active).Error; err == nil {
		return c.JSON(http.StatusForbidden, echo.Map{
			"error":   "there is already an active session using your account",
			"message": "use /logout/all to terminate all active sessions",
		})
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      user.ID,
		"username": user.Username,
		"role":     user.Role,
		"iat":      now.Unix(),
		"exp":      now.Add(tokenTTL).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.JWTSecret)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not issue token"})
	}

	session := models.ActiveSession{UserID: user.ID, Token: token}
	if err := h.DB.Create(&session).Error; err != nil {
		// The unique index on user_id catches the login race the presence
		// check above cannot see.
		return c.JSON(http.StatusForbidden, echo.Map{
			"error":   "there is already an active session using your account",
			"message": "use /logout/all to terminate all active sessions",
		})
	}

	h.publish(c, map[string]any{
		"type":     "user_logged_in",
		"userID":   user.ID,
		"username": user.Username,
	})

	return c.JSON(http.StatusOK, echo.Map{
		"token": token,
		"user":  user,
	})
}

func (h *AuthHandler) Logout(c echo.Context) error {
	token, _ := c.Get(authmw.CtxToken).(string)
	if err := h.DB.Where("token = ?", token).Delete(&models.ActiveSession{}).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Logged out successfully"})
}

func (h *AuthHandler) LogoutAll(c echo.Context) error {
	userID, _ := c.Get(authmw.CtxUserID).(uint)
	if err := h.endAllSessions(c, userID); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "All sessions terminated successfully"})
}

// ForceLogoutAll is the recovery path for a lost token: no bearer auth, the
// caller proves identity with username and password instead.
func (h *AuthHandler) ForceLogoutAll(c echo.Context) error {
	var req credentialsReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	user, ok := h.verifyCredentials(c, req)
	if !ok {
		return nil
	}

	if err := h.endAllSessions(c, user.ID); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "All sessions terminated successfully. You can now login."})
}

// verifyCredentials writes a 401 response and returns false when the
// username/password pair does not check out.
func (h *AuthHandler) verifyCredentials(c echo.Context, req credentialsReq) (*models.User, bool) {
	l := logging.FromContext(c.Request().Context())

	var user models.User
	if err := h.DB.Where("username = ?", req.Username).First(&user).Error; err != nil {
		l.Warn("login failed", "username", req.Username, "reason", "unknown user")
		_ = c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		return nil, false
	}
	if !hash.CheckPassword(user.PasswordHash, req.Password) {
		l.Warn("login failed", "username", req.Username, "reason", "bad password")
		_ = c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		return nil, false
	}
	return &user, true
}

func (h *AuthHandler) endAllSessions(c echo.Context, userID uint) error {
	if err := h.DB.Where("user_id = ?", userID).Delete(&models.ActiveSession{}).Error; err != nil {
		return err
	}
	h.publish(c, map[string]any{
		"type":   "sessions_revoked",
		"userID": userID,
	})
	return nil
}
