package app

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"track-enricher/internal/handlers"
	"track-enricher/internal/server"
)

// Handler builds the routed HTTP handler
func (app *App) Handler() http.Handler {
	opts := []handlers.Option{handlers.WithBreakers(app.breakerList...)}
	if app.RedisClient != nil {
		opts = append(opts, handlers.WithHealthChecker("redis", app.RedisClient))
	}
	h := handlers.New(app.Pipeline, app.Config.Settings(), opts...)

	router := mux.NewRouter()
	SetupRoutes(router, h)
	return router
}

// RunServer creates the HTTP server with all handlers configured
func (app *App) RunServer() *server.Server {
	// One event makes up to five sequential upstream round trips.
	return server.New(app.Handler(), app.Config.Port, 5*app.Config.Timeout()+5*time.Second)
}
