package server

import (
	"context"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/henriqueponts/labstore-sub003/internal/logger"
	"github.com/henriqueponts/labstore-sub003/internal/service"
)

const WebhookPath = "/webhooks/payments"

// HealthFunc reports dependency health. A "status" of "down" turns into a 503.
type HealthFunc func(ctx context.Context) map[string]string

type Options struct {
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer
	Health         HealthFunc
}

type Server struct {
	router   *gin.Engine
	webhooks service.WebhookService
	health   HealthFunc
	log      *zap.Logger
}

func New(log *zap.Logger, webhooks service.WebhookService, opts Options) *Server {
	s := &Server{
		router:   gin.New(),
		webhooks: webhooks,
		health:   opts.Health,
		log:      log.Named("http"),
	}

	s.router.Use(logger.GinMiddleware(s.log))
	s.router.Use(gin.CustomRecovery(s.recover))
	s.router.Use(corsMiddleware(opts.AllowedOrigins))

	s.router.POST(WebhookPath, s.HandlePaymentWebhook)
	s.router.GET("/health", s.HandleHealth)
	if opts.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) recover(c *gin.Context, recovered any) {
	logger.FromContext(c.Request.Context()).Error("panic while handling request",
		zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
	c.String(http.StatusInternalServerError, "ERROR")
	c.Abort()
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return cors.Default()
	}
	cfg := cors.DefaultConfig()
	cfg.AllowOrigins = origins
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	cfg.AllowHeaders = append(cfg.AllowHeaders, logger.RequestIDHeader)
	return cors.New(cfg)
}
