package handler

import (
	"net/http"

	"github.com/mlorentedev/icdcoder/internal/adapter"
	"github.com/mlorentedev/icdcoder/internal/metrics"
)

type modelStatus struct {
	adapter.ModelInfo
	Default   bool   `json:"default,omitempty"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// Models lists registered backends with their current availability.
func Models(adapters map[string]adapter.LLMAdapter, models []adapter.ModelInfo, defaultModel string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make([]modelStatus, 0, len(models))
		for _, m := range models {
			s := modelStatus{ModelInfo: m, Default: m.ID == defaultModel}
			if a, ok := adapters[m.ID]; ok {
				s.Available = a.Available()
				if !s.Available {
					s.Reason = unavailableReason(a)
				}
			} else {
				s.Reason = "not registered"
			}
			gauge := 0.0
			if s.Available {
				gauge = 1
			}
			metrics.AdapterAvailable.WithLabelValues(m.ID).Set(gauge)
			out = append(out, s)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func unavailableReason(a adapter.LLMAdapter) string {
	switch a.(type) {
	case *adapter.GeminiAdapter:
		return "no Google API key"
	case *adapter.ClaudeAdapter:
		return "no API key"
	case *adapter.OllamaAdapter:
		return "ollama unreachable"
	case *adapter.LlamaCppAdapter:
		return "llama-server unreachable"
	default:
		return "unavailable"
	}
}
