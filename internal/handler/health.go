package handler

import (
	"net/http"
)

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Health reports process liveness only; model reachability is served by
// Models so a provider outage never fails the health check.
func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{
			Status:  "healthy",
			Message: "ICD-10 Code API is operational",
		})
	}
}
