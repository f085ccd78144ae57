package controllers

import (
	"net/http"

	cfgpkg "github.com/zerofinancial/relay/internal/config"
	"github.com/zerofinancial/relay/internal/runtime"
)

// GeneralController handles health, stats and configuration endpoints.
type GeneralController struct {
	rt *runtime.Runtime
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime) *GeneralController {
	return &GeneralController{rt: rt}
}

// RegisterRoutes registers general routes with the given mux.
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/healthz", c.handleHealth)
	mux.HandleFunc("/v1/stats", c.handleStats)
	mux.HandleFunc("/v1/config", c.handleConfig)
}

// handleHealth returns 200 OK with {"status": "ok"} if healthy, 503 Service
// Unavailable otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (c *GeneralController) handleStats(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	st, err := c.rt.Relay().Stats(r.Context())
	if err != nil {
		writeRelayError(w, err)
		return
	}
	writeJSON(w, statsResp{Stats: st, Identity: c.rt.Identity()})
}

// handleConfig reads (GET) or replaces (PUT) the upload configuration. A
// changed configuration reconciles in-flight uploads before the response.
func (c *GeneralController) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	if r.Method == http.MethodGet {
		cfg, err := c.rt.Relay().Configuration(r.Context())
		if err != nil {
			writeRelayError(w, err)
			return
		}
		writeJSON(w, cfg)
		return
	}

	var req configReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := cfgpkg.ValidateEndpoint(req.Endpoint); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := c.rt.Relay().SetConfiguration(r.Context(), req.toConfiguration()); err != nil {
		writeRelayError(w, err)
		return
	}
	cfg, err := c.rt.Relay().Configuration(r.Context())
	if err != nil {
		writeRelayError(w, err)
		return
	}
	writeJSON(w, cfg)
}
