package api

import (
	"fmt"
	"net/http"
)

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	status := s.checker.GetHealthStatus()
	if !status.Healthy {
		return nil, fmt.Errorf("unhealthy")
	}

	return status, nil
}

func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	status := s.checker.GetHealthStatus()
	if !status.Healthy {
		return nil, fmt.Errorf("not ready")
	}

	return "ready", nil
}
