package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/stock-issuance-api/internal/service"
	appErrors "github.com/noah-isme/stock-issuance-api/pkg/errors"
	"github.com/noah-isme/stock-issuance-api/pkg/response"
)

// MetricsHandler serves the liveness probe and the Prometheus scrape.
type MetricsHandler struct {
	metrics   *service.MetricsService
	startedAt time.Time
}

// NewMetricsHandler constructs a metrics handler.
func NewMetricsHandler(metrics *service.MetricsService) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, startedAt: time.Now()}
}

// Prometheus serves the scrape endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrStoreUnavailable, "metrics are disabled"))
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health is the liveness probe. It also reports uptime and the workflow
// counter snapshot.
func (h *MetricsHandler) Health(c *gin.Context) {
	body := gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.metrics != nil {
		body["workflow"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}
