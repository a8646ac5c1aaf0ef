package transaction

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for the transaction dashboard
type Handler struct {
	store Store
}

// NewHandler creates a new transaction handler
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up transaction routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/transactions", h.ListTransactions)
	r.GET("/transactions/:id", h.GetTransaction)
	r.GET("/metrics", h.GetMetrics)
	r.GET("/merchant-categories", h.GetMerchantCategories)
	r.GET("/stats/hourly", h.GetHourlyStats)
	r.GET("/stats/merchant", h.GetMerchantStats)
}

// ListTransactions handles GET /transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	opts := ListOptions{Page: 1, PageSize: 50}

	if p := c.Query("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed >= 1 {
			opts.Page = parsed
		}
	}
	if ps := c.Query("page_size"); ps != "" {
		if parsed, err := strconv.Atoi(ps); err == nil && parsed >= 1 && parsed <= 10000 {
			opts.PageSize = parsed
		}
	}
	if f := c.Query("is_fraud"); f != "" {
		if parsed, err := strconv.ParseBool(f); err == nil {
			opts.IsFraud = &parsed
		}
	}
	opts.MerchantCategory = c.Query("merchant_category")
	if a := c.Query("min_amount"); a != "" {
		if parsed, err := strconv.ParseFloat(a, 64); err == nil {
			opts.MinAmount = &parsed
		}
	}
	if a := c.Query("max_amount"); a != "" {
		if parsed, err := strconv.ParseFloat(a, 64); err == nil {
			opts.MaxAmount = &parsed
		}
	}

	txs, err := h.store.List(c.Request.Context(), opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": txs,
		"count":        len(txs),
		"page":         opts.Page,
	})
}

// GetTransaction handles GET /transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	id := c.Param("id")

	tx, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Transaction " + id + " not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "get_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// GetMetrics handles GET /metrics (dashboard aggregates)
func (h *Handler) GetMetrics(c *gin.Context) {
	metrics, err := h.store.Metrics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "metrics_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, metrics)
}

// GetMerchantCategories handles GET /merchant-categories
func (h *Handler) GetMerchantCategories(c *gin.Context) {
	categories, err := h.store.MerchantCategories(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "categories_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

// GetHourlyStats handles GET /stats/hourly
func (h *Handler) GetHourlyStats(c *gin.Context) {
	stats, err := h.store.HourlyStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "stats_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// GetMerchantStats handles GET /stats/merchant
func (h *Handler) GetMerchantStats(c *gin.Context) {
	stats, err := h.store.MerchantStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "stats_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}
