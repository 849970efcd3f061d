package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/Sorbh/digital-photo-frame/internal/cache"
	"github.com/Sorbh/digital-photo-frame/internal/picker"
)

// HealthHandler reports liveness plus cache and picker occupancy.
type HealthHandler struct {
	cache   *cache.Cache
	picker  *picker.Coordinator
	started time.Time
	now     func() time.Time
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(c *cache.Cache, coordinator *picker.Coordinator) *HealthHandler {
	return &HealthHandler{cache: c, picker: coordinator, started: time.Now(), now: time.Now}
}

// Health is public and never calls upstream.
func (h *HealthHandler) Health(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return jsonResponse(http.StatusOK, map[string]any{
		"status":        "ok",
		"uptimeSeconds": int64(h.now().Sub(h.started).Seconds()),
		"cache":         h.cache.Stats(),
		"pickerSessions": map[string]int{
			"total":   h.picker.Len(),
			"pending": h.picker.Pending(),
		},
	}), nil
}
