package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout bounds all checks together.
const healthCheckTimeout = 2 * time.Second

// PingCheck adapts a ping function (pgxpool.Pool.Ping) to HealthCheck.
type PingCheck struct {
	CheckName string
	Ping      func(ctx context.Context) error
}

func (p PingCheck) Name() string                    { return p.CheckName }
func (p PingCheck) Check(ctx context.Context) error { return p.Ping(ctx) }

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs every check concurrently and answers 200 when all pass
// before the deadline, 503 otherwise. A check that has not finished when the
// deadline passes is reported as timed out.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "healthy"}
	if s.Config != nil {
		resp.Version = s.Config.Build.Version
	}

	checks := s.HealthChecks
	if len(checks) == 0 {
		JSON(w, r, http.StatusOK, resp)
		return
	}

	var (
		mu      sync.Mutex
		results = make(map[string]error, len(checks))
		wg      sync.WaitGroup
	)
	for _, c := range checks {
		wg.Add(1)
		go func(p HealthCheck) {
			defer wg.Done()
			err := runCheck(ctx, p)
			mu.Lock()
			results[p.Name()] = err
			mu.Unlock()
		}(c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()

	resp.Components = make(map[string]componentStatus, len(checks))
	for _, c := range checks {
		name := c.Name()
		err, finished := results[name]
		switch {
		case !finished:
			resp.Status = "unhealthy"
			resp.Components[name] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		case err != nil:
			resp.Status = "unhealthy"
			resp.Components[name] = componentStatus{Status: "unhealthy", Message: err.Error()}
		default:
			resp.Components[name] = componentStatus{Status: "healthy"}
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	JSON(w, r, status, resp)
}

func runCheck(ctx context.Context, p HealthCheck) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			err = fmt.Errorf("check panicked: %v", rvr)
		}
	}()
	return p.Check(ctx)
}
