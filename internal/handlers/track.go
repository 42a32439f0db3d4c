package handlers

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"track-enricher/internal/common/errors"
	"track-enricher/internal/common/logging"
	"track-enricher/internal/models"
)

// maxEventSize bounds the request body of a single track event
const maxEventSize = 1 << 20

// HandleTrack enriches and forwards one track event
// @Summary Enrich and forward a track event
// @Description Adds profile traits, converts amounts to the reporting currency and adds catalog cost and margin, then forwards the event
// @Tags events
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Event forwarded"
// @Failure 400 {object} errorResponse "Malformed event"
// @Failure 502 {object} errorResponse "Upstream failure"
// @Failure 504 {object} errorResponse "Upstream timeout"
// @Router /v1/track [post]
func (h *Handlers) HandleTrack(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventSize+1))
	if err != nil {
		writeError(w, errors.ValidationError("failed to read request body"))
		return
	}
	if len(body) > maxEventSize {
		writeError(w, errors.ValidationError(fmt.Sprintf("event exceeds %d bytes", maxEventSize)))
		return
	}

	evt, err := models.ParseEvent(body)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.processor.Process(r.Context(), evt, h.settings)
	if err != nil {
		h.logger.WithContext(r.Context()).Warn("Event not forwarded",
			logging.Field{Key: "message_id", Value: evt.MessageID},
			logging.Field{Key: "error", Value: err.Error()})
		writeError(w, err)
		return
	}

	stages := make([]map[string]interface{}, len(result.StageResults))
	for i, stage := range result.StageResults {
		stages[i] = map[string]interface{}{
			"name":     stage.Name,
			"skipped":  stage.Skipped,
			"duration": stage.Duration.String(),
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "forwarded",
		"message_id":     evt.MessageID,
		"total_duration": result.TotalDuration.String(),
		"stage_results":  stages,
	})
}

// HealthCheck returns service health status
// @Summary Health check
// @Description Returns the health of optional dependencies and the state of upstream circuit breakers
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{} "Health status"
// @Failure 503 {object} map[string]interface{} "A dependency is unhealthy"
// @Router /health [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
	}
	code := http.StatusOK

	for name, checker := range h.checkers {
		if err := checker.Health(r.Context()); err != nil {
			status[name+"_status"] = "unhealthy"
			status[name+"_error"] = err.Error()
			status["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		} else {
			status[name+"_status"] = "healthy"
		}
	}

	if len(h.breakers) > 0 {
		breakers := make(map[string]string, len(h.breakers))
		for _, b := range h.breakers {
			breakers[b.Name()] = b.State().String()
		}
		status["circuit_breakers"] = breakers
	}

	writeJSON(w, code, status)
}
