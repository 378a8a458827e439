package api

import (
	"context"
	"fmt"
	"net/http"
)

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components []componentStatus `json:"components"`
	QueueDepth int64             `json:"queue_depth"`
}

func (h *Handler) componentHealth(ctx context.Context) ([]componentStatus, int64, string, int) {
	overallStatus := "ok"
	statusCode := http.StatusOK
	recordComponent := func(component string, err error) componentStatus {
		status := "ok"
		message := ""
		if err != nil {
			status = "degraded"
			message = err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		return componentStatus{Component: component, Status: status, Error: message}
	}

	components := make([]componentStatus, 0, 2)
	if h.Store != nil {
		components = append(components, recordComponent("datastore", h.Store.Ping(ctx)))
	}

	var depth int64
	if h.Queue != nil {
		n, err := h.Queue.Length(ctx)
		depth = n
		components = append(components, recordComponent("queue", err))
	}

	return components, depth, overallStatus, statusCode
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	components, depth, overall, code := h.componentHealth(r.Context())
	writeJSON(w, code, healthResponse{Status: overall, Components: components, QueueDepth: depth})
}
