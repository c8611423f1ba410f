package api

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 3 * time.Second

type healthResponse struct {
	Status           string            `json:"status"`
	Version          string            `json:"version"`
	ConnectedDevices int               `json:"connected_devices"`
	DeviceSockets    int               `json:"device_sockets"`
	OperatorSockets  int               `json:"operator_sockets"`
	Checks           map[string]string `json:"checks,omitempty"`
}

// handleHealth reports 200 "ok", or 503 "degraded" when a dependency fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Version: s.deps.Version}
	if s.deps.Connections != nil {
		resp.ConnectedDevices = s.deps.Connections.Len()
	}
	if s.deps.DeviceWS != nil {
		resp.DeviceSockets = s.deps.DeviceWS.ConnectionCount()
	}
	if s.deps.OperatorWS != nil {
		resp.OperatorSockets = s.deps.OperatorWS.ConnectionCount()
	}

	status := http.StatusOK
	if len(s.deps.HealthChecks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp.Checks = make(map[string]string, len(s.deps.HealthChecks))
		for name, checker := range s.deps.HealthChecks {
			if err := checker.HealthCheck(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	writeJSON(w, status, resp)
}
