package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/husainf4l/rolevatev7/pkg/agent/lifecycle"
	"github.com/husainf4l/rolevatev7/pkg/state"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler answers 503 while the agent drains so load balancers stop
// routing new sessions to it.
type ReadyHandler struct {
	Lifecycle      *lifecycle.Lifecycle
	Store          state.Store
	CaptureEnabled bool
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool   `json:"ok"`
		Draining       bool   `json:"draining"`
		StoreBackend   string `json:"store_backend,omitempty"`
		CaptureEnabled bool   `json:"capture_enabled"`
	}

	draining := h.Lifecycle != nil && h.Lifecycle.IsDraining()
	resp := readyResp{
		OK:             !draining,
		Draining:       draining,
		CaptureEnabled: h.CaptureEnabled,
	}
	if h.Store != nil {
		resp.StoreBackend = h.Store.Backend()
	}

	status := http.StatusOK
	if draining {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
