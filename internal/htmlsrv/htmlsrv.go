// Package htmlsrv exposes the gateway's status and instrument inventory
// over HTTP for local diagnostics and for the legacy discovery path
// older companion tools still poll (spec §6, HTML status surface).
// The primary surface is a chi router, matching the teacher's
// cmd/multiserver wiring; a goji submux is mounted underneath it for
// the legacy per-instrument routes, matching envsrv.BuildNetwork's
// submux-per-node approach.
package htmlsrv

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"goji.io"
	"goji.io/pat"

	"github.com/nasa-jpl/ema-gateway/internal/instrument"
	"github.com/nasa-jpl/ema-gateway/internal/publish"
)

// Router serves the gateway's HTTP diagnostics surface.
type Router struct {
	chi.Router

	reg  *instrument.Registry
	sink *publish.HTMLSink
}

// New builds a Router bound to reg and sink. sink may be nil if the
// gateway was configured without an HTML publish target, in which case
// /status still responds but reports no current state.
func New(reg *instrument.Registry, sink *publish.HTMLSink) *Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Use(middleware.Recoverer)

	rt := &Router{Router: root, reg: reg, sink: sink}
	root.Get("/status", rt.handleStatus)
	root.Get("/instruments", rt.handleInstruments)
	root.Get("/route-graph", rt.handleRouteGraph)
	if sink != nil {
		root.Get("/current", sink.ServeHTTP)
	}
	root.Mount("/legacy", http.StripPrefix("/legacy", rt.legacyMux()))
	return rt
}

// handleStatus reports liveness and the number of registered
// instruments. It does not report whether the HTML sink has received a
// published snapshot.
func (rt *Router) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := struct {
		OK             bool `json:"ok"`
		InstrumentCount int `json:"instrument_count"`
	}{
		OK:              true,
		InstrumentCount: len(rt.reg.All()),
	}
	writeJSON(w, status)
}

// handleInstruments lists every registered instrument's ID, kind, and
// configured parameter names.
func (rt *Router) handleInstruments(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		ID         string   `json:"id"`
		Kind       string   `json:"kind"`
		Parameters []string `json:"parameters"`
	}
	out := make([]entry, 0, len(rt.reg.All()))
	for _, inst := range rt.reg.All() {
		names := make([]string, 0, len(inst.Parameters()))
		for _, p := range inst.Parameters() {
			names = append(names, p.Name)
		}
		out = append(out, entry{ID: inst.ID(), Kind: string(inst.Kind()), Parameters: names})
	}
	writeJSON(w, out)
}

// handleRouteGraph mirrors the teacher's Mainframe.graphHandler: a flat
// map from URL stem to the endpoints served beneath it.
func (rt *Router) handleRouteGraph(w http.ResponseWriter, r *http.Request) {
	graph := map[string][]string{
		"":       {"status", "instruments", "route-graph"},
		"legacy": rt.legacyRoutes(),
	}
	writeJSON(w, graph)
}

// legacyRoutes lists the per-instrument legacy endpoint names, without
// building the mux, for use by handleRouteGraph.
func (rt *Router) legacyRoutes() []string {
	out := make([]string, 0, len(rt.reg.All()))
	for _, inst := range rt.reg.All() {
		out = append(out, fmt.Sprintf("%s/current", inst.ID()))
	}
	return out
}

// legacyMux builds one goji submux per registered instrument, each
// serving its last-known current value as plain text at
// /legacy/<id>/current, the shape older polling clients expect.
func (rt *Router) legacyMux() *goji.Mux {
	root := goji.NewMux()
	for _, inst := range rt.reg.All() {
		inst := inst
		root.HandleFunc(pat.New("/"+inst.ID()+"/current"), func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "%.3f\n", inst.Current())
		})
	}
	return root
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
