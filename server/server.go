// Package server exposes the turn engine over HTTP: a synchronous submit
// endpoint that drains the event sequence and a websocket endpoint that
// forwards it live. Both paths run the same executor, so a turn persists
// identically no matter which surface submitted it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/dispatch"
	"github.com/parleyhq/parley/executor"
	"github.com/parleyhq/parley/ledger"
	"github.com/parleyhq/parley/logging"
	"github.com/parleyhq/parley/stream"
	"github.com/parleyhq/parley/tool"
)

// TurnRequest is the submit payload shared by both endpoints.
type TurnRequest struct {
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	Mode      core.Mode `json:"mode,omitempty"`
}

// Options configure the server.
type Options struct {
	// Tools backs the pre-stream tool capability check.
	Tools *tool.Registry
	// Policy exposes the enforcement toggle to the admin endpoint.
	Policy *ledger.Policy
	// Wallets enables the credit endpoint when the store supports it.
	Wallets core.WalletStore
	Logger  logging.Logger
}

// Server is the HTTP API server.
type Server struct {
	addr    string
	exec    *executor.Executor
	store   core.SessionStore
	tools   *tool.Registry
	policy  *ledger.Policy
	wallets core.WalletStore
	logger  logging.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// New constructs a Server bound to addr.
func New(addr string, exec *executor.Executor, store core.SessionStore, optFns ...func(o *Options)) *Server {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	s := &Server{
		addr:    addr,
		exec:    exec,
		store:   store,
		tools:   opts.Tools,
		policy:  opts.Policy,
		wallets: opts.Wallets,
		logger:  opts.Logger,
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming
	}
	return s
}

// Handler returns the route table, usable directly in tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/turns", s.handleSubmit)
	mux.HandleFunc("GET /v1/turns/stream", s.handleStream)
	mux.HandleFunc("POST /v1/wallets/credit", s.handleCredit)
	mux.HandleFunc("PUT /v1/policy/enforcement", s.handleEnforcement)
	mux.HandleFunc("GET /v1/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// ListenAndServe blocks serving requests until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening on %s", s.addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	result, err := s.exec.Execute(r.Context(), executor.Request{
		SessionID:    req.SessionID,
		UserText:     req.Message,
		ModeOverride: req.Mode,
	})
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var req TurnRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = conn.WriteJSON(stream.ErrorEnvelope(fmt.Errorf("decode request: %w", err)))
		return
	}

	// Tool round-trips cannot be carried over this transport; reject before
	// the first event rather than fail mid-stream.
	if err := s.checkStreamable(r.Context(), req); err != nil {
		_ = conn.WriteJSON(stream.ErrorEnvelope(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, errs := s.exec.Run(ctx, executor.Request{
		SessionID:    req.SessionID,
		UserText:     req.Message,
		ModeOverride: req.Mode,
		Stream:       true,
	})

	sink := stream.SinkFunc(func(env stream.Envelope) error {
		return conn.WriteJSON(env)
	})
	if err := stream.Forward(ctx, events, errs, sink); err != nil {
		// Client gone: cancel the executor, billed work still commits.
		s.logger.Debug("stream forward ended: %v", err)
	}
}

// checkStreamable rejects streaming submissions whose plan could require a
// tool round-trip.
func (s *Server) checkStreamable(ctx context.Context, req TurnRequest) error {
	if s.tools == nil {
		return nil
	}
	session, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return core.NewValidationError(core.ReasonBadSession, "session %s: %v", req.SessionID, err)
	}

	var (
		room *core.Room
		plan *dispatch.Plan
	)
	if session.Standalone() {
		agent, err := s.store.GetAgent(ctx, session.AgentKey)
		if err != nil {
			return core.NewValidationError(core.ReasonBadSession, "agent %s: %v", session.AgentKey, err)
		}
		room = &core.Room{Roster: []core.AgentDef{*agent}}
		plan = dispatch.ResolveStandalone(*agent)
	} else {
		room, err = s.store.GetRoom(ctx, session.RoomID)
		if err != nil {
			return core.NewValidationError(core.ReasonBadSession, "room %s: %v", session.RoomID, err)
		}
		mode := room.Mode
		if req.Mode != "" {
			mode = req.Mode
		}
		plan, err = dispatch.Resolve(mode, req.Message, room)
		if err != nil {
			return err
		}
	}

	if dispatch.NeedsTools(plan, room, s.tools) {
		return core.NewValidationError(core.ReasonStreamToolsUnfit,
			"plan requires tool round-trips the streaming transport cannot carry")
	}
	return nil
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	if s.wallets == nil {
		s.writeError(w, http.StatusNotImplemented, errors.New("wallet provisioning not configured"))
		return
	}
	var req struct {
		UserID string `json:"user_id"`
		Amount int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.wallets.Credit(r.Context(), req.UserID, req.Amount); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	balance, err := s.wallets.Balance(r.Context(), req.UserID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"user_id": req.UserID, "balance": balance})
}

func (s *Server) handleEnforcement(w http.ResponseWriter, r *http.Request) {
	if s.policy == nil {
		s.writeError(w, http.StatusNotImplemented, errors.New("policy not configured"))
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	s.policy.SetEnforcement(req.Enabled)
	s.logger.Info("balance enforcement set to %t", req.Enabled)
	s.writeJSON(w, http.StatusOK, map[string]any{"enforcement": req.Enabled})
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	var (
		ve *core.ValidationError
		be *core.BudgetExceededError
		ie *core.InsufficientBalanceError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case errors.As(err, &be):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &ie):
		return http.StatusPaymentRequired
	case core.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response failed: %v", err)
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	Status string `json:"status,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Error: err.Error()}
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		body.Reason = ve.Reason
	}
	if core.IsRejection(err) {
		body.Status = string(core.TurnRejected)
	}
	s.writeJSON(w, status, body)
}
