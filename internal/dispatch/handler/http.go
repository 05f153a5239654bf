package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/dispatchradio/internal/dispatch/service"
)

// HTTP exposes the WebSocket endpoint and read-only state snapshots.
type HTTP struct {
	engine    *service.Engine
	ws        http.Handler
	handshake func(http.Handler) http.Handler
}

// NewHTTP constructs a handler. handshake, when non-nil, wraps the WebSocket
// upgrade route (rate limiting).
func NewHTTP(engine *service.Engine, ws http.Handler, handshake func(http.Handler) http.Handler) *HTTP {
	return &HTTP{engine: engine, ws: ws, handshake: handshake}
}

// Router builds the chi router with all endpoints and middlewares.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	ws := h.ws
	if h.handshake != nil {
		ws = h.handshake(ws)
	}
	r.Handle("/ws", ws)

	r.Get("/v1/roster", h.roster)
	r.Get("/v1/services", h.services)
	r.Get("/v1/services/{id}", h.service)
	r.Get("/v1/channel", h.channel)
	return r
}

func (h *HTTP) roster(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Roster())
}

func (h *HTTP) services(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Services())
}

func (h *HTTP) service(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	svc, ok := h.engine.Service(id)
	if !ok {
		http.Error(w, "service not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (h *HTTP) channel(w http.ResponseWriter, _ *http.Request) {
	holder, ok := h.engine.ChannelHolder()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"free": true, "holder": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"free": false, "holder": holder})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
