package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/akarpov91/vending_machine/internal/change"
	"github.com/akarpov91/vending_machine/internal/locker"
	"github.com/akarpov91/vending_machine/internal/logging"
	authmw "github.com/akarpov91/vending_machine/internal/middleware/auth"
	"github.com/akarpov91/vending_machine/internal/models"
	"github.com/akarpov91/vending_machine/internal/mykafka"
)

type VendingHandler struct {
	DB       *gorm.DB
	Producer *mykafka.Producer
	Locks    *locker.Registry
}

func (h *VendingHandler) publish(c echo.Context, event map[string]any) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, "vending_events", fmt.Sprint(event["userID"]), event); err != nil {
		logging.FromContext(c.Request().Context()).Error("kafka publish failed", "error", err)
	}
}

func (h *VendingHandler) Balance(c echo.Context) error {
	userID, _ := c.Get(authmw.CtxUserID).(uint)

	var user models.User
	if err := h.DB.First(&user, userID).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"username": user.Username,
		"deposit":  user.Deposit,
	})
}

func (h *VendingHandler) Deposit(c echo.Context) error {
	userID, _ := c.Get(authmw.CtxUserID).(uint)

	var req struct {
		Coin int `json:"coin"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	if !change.ValidCoin(req.Coin) {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": fmt.Sprintf("only %v cent coins are accepted", change.Denominations),
		})
	}

	// The user lock orders this against an in-flight purchase, which reads
	// the balance and later writes zero.
	userKey := locker.UserKey(userID)
	h.Locks.Lock(userKey)
	defer h.Locks.Unlock(userKey)

	// Single guarded UPDATE: the limit check and the increment are one
	// statement, so concurrent deposits cannot lose updates or overshoot.
	res := h.DB.Model(&models.User{}).
		Where("id = ? AND deposit + ? <= ?", userID, req.Coin, models.MaxDeposit).
		Update("deposit", gorm.Expr("deposit + ?", req.Coin))
	if res.Error != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if res.RowsAffected == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": fmt.Sprintf("maximum deposit limit is %d cents", models.MaxDeposit),
		})
	}

	var user models.User
	if err := h.DB.First(&user, userID).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	h.publish(c, map[string]any{
		"type":    "coin_deposited",
		"userID":  userID,
		"coin":    req.Coin,
		"deposit": user.Deposit,
	})

	return c.JSON(http.StatusOK, echo.Map{
		"message":         fmt.Sprintf("%d cents deposited successfully", req.Coin),
		"current_deposit": user.Deposit,
	})
}

func (h *VendingHandler) Reset(c echo.Context) error {
	userID, _ := c.Get(authmw.CtxUserID).(uint)

	userKey := locker.UserKey(userID)
	h.Locks.Lock(userKey)
	defer h.Locks.Unlock(userKey)

	var user models.User
	if err := h.DB.First(&user, userID).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	previous := user.Deposit
	if err := h.DB.Model(&user).Update("deposit", 0).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	h.publish(c, map[string]any{
		"type":             "deposit_reset",
		"userID":           userID,
		"previous_deposit": previous,
	})

	return c.JSON(http.StatusOK, echo.Map{
		"message":          "Deposit reset successfully",
		"previous_deposit": previous,
		"current_deposit":  0,
	})
}

// Buy runs the purchase protocol: stock check, funds check, stock decrement,
// full balance reset and coin change, all inside one transaction. The entity
// locks serialize conflicting purchases so neither side can observe the
// other's intermediate state.
func (h *VendingHandler) Buy(c echo.Context) error {
	userID, _ := c.Get(authmw.CtxUserID).(uint)

	var req struct {
		ProductID uint `json:"product_id"`
		Amount    int  `json:"amount"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.ProductID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "product_id is required"})
	}
	if req.Amount < 1 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "amount must be at least 1"})
	}

	keys := []string{locker.ProductKey(req.ProductID), locker.UserKey(userID)}
	h.Locks.Lock(keys...)
	defer h.Locks.Unlock(keys...)

	var (
		totalCost   int
		productName string
		breakdown   []int
	)

	txErr := h.DB.Transaction(func(tx *gorm.DB) error {
		var product models.Product
		if err := tx.First(&product, req.ProductID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "product not found")
			}
			return err
		}

		// Stock before funds: a purchase that fails both reports the
		// stock problem.
		if product.AmountAvailable < req.Amount {
			return echo.NewHTTPError(http.StatusBadRequest, "insufficient product stock")
		}

		totalCost = product.Cost * req.Amount

		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			return err
		}
		if user.Deposit < totalCost {
			return echo.NewHTTPError(http.StatusBadRequest, "insufficient funds for this purchase")
		}

		product.AmountAvailable -= req.Amount
		if err := tx.Save(&product).Error; err != nil {
			return err
		}

		// The whole balance is returned: everything above the cost comes
		// back as change, the deposit goes to zero.
		changeAmount := user.Deposit - totalCost
		if err := tx.Model(&user).Update("deposit", 0).Error; err != nil {
			return err
		}

		productName = product.ProductName
		breakdown = change.Change(changeAmount)
		return nil
	})

	if txErr != nil {
		var he *echo.HTTPError
		if errors.As(txErr, &he) {
			return c.JSON(he.Code, echo.Map{"error": fmt.Sprint(he.Message)})
		}
		logging.FromContext(c.Request().Context()).Error("purchase failed", "userID", userID, "error", txErr)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "purchase failed"})
	}

	h.publish(c, map[string]any{
		"type":      "purchase_completed",
		"userID":    userID,
		"productID": req.ProductID,
		"amount":    req.Amount,
		"total":     totalCost,
	})

	return c.JSON(http.StatusOK, echo.Map{
		"total_spent":       totalCost,
		"product_purchased": productName,
		"amount_purchased":  req.Amount,
		"change":            breakdown,
	})
}
