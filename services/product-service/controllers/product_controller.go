package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/kevin-soria/system-design-playground/services/common/errors"
	"github.com/kevin-soria/system-design-playground/services/common/logger"
	"github.com/kevin-soria/system-design-playground/services/product-service/models"
	"github.com/kevin-soria/system-design-playground/services/product-service/services"
)

type ProductController struct {
	service ProductServiceAPI
}

func NewProductController(service ProductServiceAPI) *ProductController {
	return &ProductController{service: service}
}

// parsePagination reads skip and limit, applying defaults when absent.
func parsePagination(c *gin.Context) (int, int, error) {
	fields := map[string]string{}

	skip, err := strconv.Atoi(c.DefaultQuery("skip", strconv.Itoa(DefaultSkip)))
	if err != nil || skip < 0 {
		fields["skip"] = "must be a non-negative integer"
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(DefaultLimit)))
	if err != nil || limit < 1 || limit > MaxLimit {
		fields["limit"] = "must be an integer between 1 and " + strconv.Itoa(MaxLimit)
	}

	if len(fields) > 0 {
		return 0, 0, apperrors.Validation("invalid pagination", fields)
	}
	return skip, limit, nil
}

// report sets the cache header and logs any absorbed failure.
func report(c *gin.Context, fx services.SideEffects, read bool) {
	if read {
		if fx.CacheHit {
			c.Header(CacheHeader, "HIT")
		} else {
			c.Header(CacheHeader, "MISS")
		}
	}
	if fx.Degraded() {
		fields := []zap.Field{zap.Int("cache_faults", len(fx.CacheFaults))}
		if fx.PublishFault != nil {
			fields = append(fields, zap.NamedError("publish_fault", fx.PublishFault))
		}
		logger.Warn(c, "request served in degraded mode", fields...)
	}
}

// GetProducts lists products in insertion order.
func (pc *ProductController) GetProducts(c *gin.Context) {
	skip, limit, err := parsePagination(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	products, fx, err := pc.service.ListProducts(c.Request.Context(), skip, limit)
	report(c, fx, true)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (pc *ProductController) GetProductByID(c *gin.Context) {
	product, fx, err := pc.service.GetProduct(c.Request.Context(), c.Param("id"))
	report(c, fx, true)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (pc *ProductController) CreateProduct(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		_ = c.Error(apperrors.Validation("unreadable request body", nil))
		return
	}
	in, err := models.DecodeProductInput(body)
	if err != nil {
		_ = c.Error(err)
		return
	}

	product, fx, err := pc.service.CreateProduct(c.Request.Context(), in)
	report(c, fx, false)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

// UpdateProduct applies a partial update; absent fields are left unchanged.
func (pc *ProductController) UpdateProduct(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		_ = c.Error(apperrors.Validation("unreadable request body", nil))
		return
	}
	patch, err := models.DecodeProductPatch(body)
	if err != nil {
		_ = c.Error(err)
		return
	}

	product, fx, err := pc.service.UpdateProduct(c.Request.Context(), c.Param("id"), patch)
	report(c, fx, false)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (pc *ProductController) DeleteProduct(c *gin.Context) {
	fx, err := pc.service.DeleteProduct(c.Request.Context(), c.Param("id"))
	report(c, fx, false)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
