package api

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// healthCheckTimeout bounds all probes together.
const healthCheckTimeout = 2 * time.Second

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs every probe concurrently. It answers 200 when all pass
// and 503 otherwise.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if len(s.probes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	errs := make([]error, len(s.probes))
	var g errgroup.Group
	for i, probe := range s.probes {
		g.Go(func() error {
			errs[i] = probe.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	resp := healthResponse{
		Status:     "healthy",
		Components: make(map[string]componentStatus, len(s.probes)),
	}
	status := http.StatusOK
	for i, probe := range s.probes {
		if errs[i] != nil {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			resp.Components[probe.Name()] = componentStatus{Status: "unhealthy", Message: errs[i].Error()}
			continue
		}
		resp.Components[probe.Name()] = componentStatus{Status: "healthy"}
	}
	JSON(w, r, status, resp)
}
