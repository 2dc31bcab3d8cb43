package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/akarpov91/vending_machine/internal/logging"
	authmw "github.com/akarpov91/vending_machine/internal/middleware/auth"
	"github.com/akarpov91/vending_machine/internal/models"
	"github.com/akarpov91/vending_machine/internal/mykafka"
	"github.com/akarpov91/vending_machine/internal/service/search"
)

type ProductHandler struct {
	DB       *gorm.DB
	Producer *mykafka.Producer
	ES       *elasticsearch.Client
	ESIndex  string
}

func (h *ProductHandler) publish(c echo.Context, event map[string]any) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, "product_events", fmt.Sprint(event["productID"]), event); err != nil {
		logging.FromContext(c.Request().Context()).Error("kafka publish failed", "error", err)
	}
}

// index mirrors the product into elasticsearch. Search is a convenience on
// top of the catalog, so failures are logged and never fail the request.
func (h *ProductHandler) index(c echo.Context, p models.Product) {
	if h.ES == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := search.Index(ctx, h.ES, h.ESIndex, p); err != nil {
		logging.FromContext(c.Request().Context()).Error("es index failed", "productID", p.ID, "error", err)
	}
}

func (h *ProductHandler) deindex(c echo.Context, id uint) {
	if h.ES == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := search.Delete(ctx, h.ES, h.ESIndex, id); err != nil {
		logging.FromContext(c.Request().Context()).Error("es delete failed", "productID", id, "error", err)
	}
}

func validateCost(cost int) error {
	if cost < 5 {
		return errors.New("cost must be at least 5 cents")
	}
	if cost%5 != 0 {
		return errors.New("cost must be in multiples of 5")
	}
	return nil
}

func (h *ProductHandler) GetProducts(c echo.Context) error {
	var products []models.Product
	if err := h.withSeller().Order("products.id ASC").Find(&products).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, products)
}

// withSeller joins the owning user so product reads carry seller_username.
func (h *ProductHandler) withSeller() *gorm.DB {
	return h.DB.Model(&models.Product{}).
		Select("products.*, users.username AS seller_username").
		Joins("LEFT JOIN users ON users.id = products.seller_id")
}

func (h *ProductHandler) GetProduct(c echo.Context) error {
	product, errResp := h.loadProduct(c)
	if product == nil {
		return errResp
	}
	return c.JSON(http.StatusOK, product)
}

func (h *ProductHandler) CreateProduct(c echo.Context) error {
	var req struct {
		ProductName     string `json:"product_name"`
		AmountAvailable int    `json:"amount_available"`
		Cost            int    `json:"cost"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	req.ProductName = strings.TrimSpace(req.ProductName)
	if req.ProductName == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "product_name is required"})
	}
	if req.AmountAvailable < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "amount_available cannot be negative"})
	}
	if err := validateCost(req.Cost); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	sellerID, _ := c.Get(authmw.CtxUserID).(uint)
	sellerName, _ := c.Get(authmw.CtxUsername).(string)
	product := models.Product{
		ProductName:     req.ProductName,
		AmountAvailable: req.AmountAvailable,
		Cost:            req.Cost,
		SellerID:        sellerID,
		SellerUsername:  sellerName,
	}
	if err := h.DB.Create(&product).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	h.index(c, product)
	h.publish(c, map[string]any{
		"type":      "product_created",
		"productID": product.ID,
		"sellerID":  sellerID,
		"name":      product.ProductName,
	})

	return c.JSON(http.StatusCreated, product)
}

func (h *ProductHandler) UpdateProduct(c echo.Context) error {
	product, errResp := h.loadProduct(c)
	if product == nil {
		return errResp
	}

	sellerID, _ := c.Get(authmw.CtxUserID).(uint)
	if product.SellerID != sellerID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "you can only update your own products"})
	}

	// Pointer fields distinguish "absent" from zero values for a partial
	// update.
	var req struct {
		ProductName     *string `json:"product_name"`
		AmountAvailable *int    `json:"amount_available"`
		Cost            *int    `json:"cost"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	if req.ProductName != nil {
		name := strings.TrimSpace(*req.ProductName)
		if name == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "product_name is required"})
		}
		product.ProductName = name
	}
	if req.AmountAvailable != nil {
		if *req.AmountAvailable < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "amount_available cannot be negative"})
		}
		product.AmountAvailable = *req.AmountAvailable
	}
	if req.Cost != nil {
		if err := validateCost(*req.Cost); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		product.Cost = *req.Cost
	}

	if err := h.DB.Save(product).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	h.index(c, *product)
	h.publish(c, map[string]any{
		"type":      "product_updated",
		"productID": product.ID,
		"sellerID":  sellerID,
		"name":      product.ProductName,
	})

	return c.JSON(http.StatusOK, product)
}

func (h *ProductHandler) DeleteProduct(c echo.Context) error {
	product, errResp := h.loadProduct(c)
	if product == nil {
		return errResp
	}

	sellerID, _ := c.Get(authmw.CtxUserID).(uint)
	if product.SellerID != sellerID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "you can only delete your own products"})
	}

	if err := h.DB.Delete(product).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	h.deindex(c, product.ID)
	h.publish(c, map[string]any{
		"type":      "product_deleted",
		"productID": product.ID,
		"sellerID":  sellerID,
	})

	return c.NoContent(http.StatusNoContent)
}

// loadProduct resolves the :id path param. On failure the response has
// already been written and the returned product is nil.
func (h *ProductHandler) loadProduct(c echo.Context) (*models.Product, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return nil, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid product id"})
	}

	var product models.Product
	if err := h.withSeller().Where("products.id = ?", id).First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, c.JSON(http.StatusNotFound, echo.Map{"error": "product not found"})
		}
		return nil, c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return &product, nil
}
