// Package ipc exposes the SDK façade over the local REST compatibility
// surface spec.md §6 names, plus an additive WebSocket event feed and
// Prometheus/health endpoints — grounded on the teacher's
// internal/gateway/server.go net/http.ServeMux + gorilla/websocket wiring.
package ipc

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"thinghub/internal/sdk"
	"thinghub/internal/thing"
)

// Server hosts the local IPC surface.
type Server struct {
	sdk    *sdk.SDK
	logger *zap.Logger
	mux    *http.ServeMux
	events *eventHub
}

// New builds a Server with all routes registered. gatherer is the registry
// the agent's metrics.Registry was built against, so /metrics serves the
// same collectors the lifecycle runner and refresher update rather than
// the unrelated global default registry.
func New(s *sdk.SDK, logger *zap.Logger, gatherer prometheus.Gatherer) *Server {
	srv := &Server{
		sdk:    s,
		logger: logger,
		mux:    http.NewServeMux(),
		events: newEventHub(),
	}
	srv.routes(gatherer)
	return srv
}

// Handler returns the http.Handler to pass to http.Server.
func (s *Server) Handler() http.Handler { return s.mux }

// Events returns the hub other components (e.g. the lifecycle runner) can
// push thing-state transitions and inbound messages into for the
// WebSocket feed. This is additive, not part of spec.md's compatibility
// surface.
func (s *Server) Events() *eventHub { return s.events }

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.mux.HandleFunc("GET /api/v1/token/check", s.handleCheckToken)
	s.mux.HandleFunc("POST /api/v1/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/v1/logout", s.handleLogout)
	s.mux.HandleFunc("POST /api/v1/things", s.handleCreateThing)
	s.mux.HandleFunc("DELETE /api/v1/things/unpair/{serial}", s.handleUnpair)
	s.mux.HandleFunc("DELETE /api/v1/things/{serial}", s.handleDeleteThing)
	s.mux.HandleFunc("POST /api/v1/messages/{serial}", s.handleSendMessages)
	s.mux.HandleFunc("GET /api/v1/messages/{serial}", s.handleReceiveMessages)
	s.mux.HandleFunc("GET /api/v1/ws/events", s.handleEvents)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeError(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusBadRequest)
	w.Write([]byte(err.Error()))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleCheckToken(w http.ResponseWriter, r *http.Request) {
	username, valid, err := s.sdk.CheckToken(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"email": username, "valid_token": valid})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.sdk.Login(r.Context(), body.Email, body.Password); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, "success")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sdk.Logout(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, "success")
}

func (s *Server) handleCreateThing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SerialNumber  string    `json:"serial_number"`
		Name          string    `json:"name"`
		ThingTypeUUID uuid.UUID `json:"thing_type_uuid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err)
		return
	}
	err := s.sdk.CreateThing(thing.ThingRequest{
		SerialNumber:  req.SerialNumber,
		Name:          req.Name,
		ThingTypeUUID: req.ThingTypeUUID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "success"})
}

func (s *Server) handleUnpair(w http.ResponseWriter, r *http.Request) {
	serial := r.PathValue("serial")
	if err := s.sdk.UnpairThingBySerial(serial); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "success"})
}

func (s *Server) handleDeleteThing(w http.ResponseWriter, r *http.Request) {
	serial := r.PathValue("serial")
	if err := s.sdk.DeleteThingBySerial(r.Context(), serial); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "success"})
}

type wireMessage struct {
	Topic string `json:"topic"`
	Msg   string `json:"msg"`
}

func (s *Server) handleSendMessages(w http.ResponseWriter, r *http.Request) {
	serial := r.PathValue("serial")

	var body struct {
		Msgs []wireMessage `json:"msgs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, err)
		return
	}

	msgs := make([]thing.Message, 0, len(body.Msgs))
	for _, m := range body.Msgs {
		msgs = append(msgs, thing.Message{Topic: m.Topic, Payload: m.Msg})
	}

	if err := s.sdk.SendMessages(serial, msgs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "success"})
}

func (s *Server) handleReceiveMessages(w http.ResponseWriter, r *http.Request) {
	serial := r.PathValue("serial")

	msgs, err := s.sdk.ReceiveMessages(serial)
	if err != nil {
		writeError(w, err)
		return
	}

	wire := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		wire = append(wire, wireMessage{Topic: m.Topic, Msg: m.Payload})
	}
	writeJSON(w, map[string]interface{}{"msgs": wire})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", zap.Error(err))
		return
	}
	s.events.serve(r.Context(), conn, s.logger)
}
