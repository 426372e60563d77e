package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/henriqueponts/labstore-sub003/internal/logger"
)

// MaxWebhookBodyBytes caps the size of a provider delivery.
const MaxWebhookBodyBytes int64 = 1 << 20

// HandlePaymentWebhook acknowledges every well-formed delivery with 200 so the
// provider does not retry; failed fulfillments are dead-lettered instead.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxWebhookBodyBytes))
	if err != nil {
		logger.FromContext(ctx).Error("read webhook body", zap.Error(err), zap.Int64("limit_bytes", MaxWebhookBodyBytes))
		c.String(http.StatusInternalServerError, "ERROR")
		return
	}

	outcome, err := s.webhooks.Ingest(ctx, payload)
	if err != nil {
		logger.FromContext(ctx).Error("webhook not processed", zap.Error(err))
		c.String(http.StatusInternalServerError, "ERROR")
		return
	}

	c.Header("X-Webhook-Outcome", string(outcome))
	c.String(http.StatusOK, "OK")
}

func (s *Server) HandleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "up"})
		return
	}
	stats := s.health(c.Request.Context())
	status := http.StatusOK
	if stats["status"] == "down" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, stats)
}
