package publish

import (
	"encoding/json"
	"net/http"
)

// HTMLSink serves the most recent CurrentState as JSON for the
// out-of-scope HTML page renderer to consume, matching the teacher's
// envsrv.Envmon.HTTPYield pattern: the gateway's job stops at producing
// the JSON payload, not at rendering markup.
type HTMLSink struct {
	latest CurrentState
}

// NewHTMLSink creates an empty sink.
func NewHTMLSink() *HTMLSink {
	return &HTMLSink{}
}

// PublishCurrentState stores state as the latest snapshot served by
// ServeHTTP.
func (h *HTMLSink) PublishCurrentState(state CurrentState) {
	h.latest = state
}

// ServeHTTP writes the latest snapshot as JSON.
func (h *HTMLSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h.latest); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
