package main

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/webserv/webserv/internal/metrics"
)

// serveMetrics runs the admin metrics endpoint on its own net/http server
// at addr, deliberately outside the event loop's own poll set (see the
// internal/metrics entry in DESIGN.md): /metrics is low-traffic,
// scrape-driven, and gains nothing from sharing the CGI/client fd set.
func serveMetrics(addr string, reg *metrics.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	log.Info("metrics listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", zap.Error(err))
	}
}
