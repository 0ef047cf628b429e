package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// MetricsHandler serves the Prometheus exposition of a gatherer.
type MetricsHandler struct {
	handler gin.HandlerFunc
}

func NewMetricsHandler(gatherer prometheus.Gatherer, logger *logrus.Logger) *MetricsHandler {
	h := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog:      logger,
		ErrorHandling: promhttp.ContinueOnError,
	})
	return &MetricsHandler{handler: gin.WrapH(h)}
}

func (h *MetricsHandler) Serve(c *gin.Context) {
	h.handler(c)
}
