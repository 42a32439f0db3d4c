package app

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"track-enricher/internal/handlers"
	"track-enricher/internal/middleware"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers) {
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware)

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/track", h.HandleTrack).Methods("POST")
}
