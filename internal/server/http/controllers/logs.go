package controllers

import (
	"net/http"
	"time"

	"github.com/zerofinancial/relay/internal/runtime"
	"github.com/zerofinancial/relay/pkg/log"
)

// LogsController exposes the queue operations: append, flush, reconcile,
// reset and the host resume hook.
type LogsController struct {
	rt     *runtime.Runtime
	logger log.Logger
	now    func() time.Time
}

// NewLogsController creates a new logs controller.
func NewLogsController(rt *runtime.Runtime, logger log.Logger) *LogsController {
	return &LogsController{rt: rt, logger: logger, now: time.Now}
}

// RegisterRoutes registers queue routes with the given mux.
func (c *LogsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/logs", c.handleAppend)
	mux.HandleFunc("/v1/flush", c.handleFlush)
	mux.HandleFunc("/v1/reconcile", c.handleReconcile)
	mux.HandleFunc("/v1/reset", c.handleReset)
	mux.HandleFunc("/v1/background-events", c.handleBackgroundEvents)
}

// handleAppend stores one payload or an array of payloads. Each one is
// durable once counted in the response; a failure stops at the first error
// and reports how many made it.
func (c *LogsController) handleAppend(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	payloads, err := decodePayloads(w, r, c.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	rl := c.rt.Relay()
	for i, p := range payloads {
		if err := rl.Append(r.Context(), p); err != nil {
			c.logger.Warn("append failed", log.Err(err), log.Int("accepted", i))
			writeJSONStatus(w, http.StatusInternalServerError, appendResp{Accepted: i, Error: err.Error()})
			return
		}
	}
	writeJSONStatus(w, http.StatusAccepted, appendResp{Accepted: len(payloads)})
}

func (c *LogsController) handleFlush(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if err := c.rt.Relay().Flush(r.Context()); err != nil {
		writeRelayError(w, err)
		return
	}
	writeNoContent(w)
}

func (c *LogsController) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if err := c.rt.Relay().Reconcile(r.Context()); err != nil {
		writeRelayError(w, err)
		return
	}
	writeNoContent(w)
}

func (c *LogsController) handleReset(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if err := c.rt.Relay().Reset(r.Context()); err != nil {
		writeRelayError(w, err)
		return
	}
	c.logger.Info("queue reset over http")
	writeNoContent(w)
}

// handleBackgroundEvents holds the request until the relay runs the
// completion, or until the client gives up.
func (c *LogsController) handleBackgroundEvents(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req backgroundEventsReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	done := make(chan struct{})
	if !c.rt.Relay().HandleBackgroundEvents(req.Identifier, func() { close(done) }) {
		writeError(w, http.StatusNotFound, "unknown identifier")
		return
	}
	select {
	case <-done:
		writeJSON(w, backgroundEventsResp{Completed: true})
	case <-r.Context().Done():
		writeJSONStatus(w, http.StatusAccepted, backgroundEventsResp{Completed: false})
	}
}
