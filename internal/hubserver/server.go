// Package hubserver is the Hub's HTTP/WebSocket surface: the
// /starlight/ws upgrade endpoint, health endpoints, and the debug
// trace snapshot, wiring the registry, orchestrator, context store,
// side-talk router, trace recorder and security guards together.
package hubserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	ctxstore "github.com/starlight-protocol/starlight/internal/context"
	"github.com/starlight-protocol/starlight/internal/entropy"
	"github.com/starlight-protocol/starlight/internal/orchestrator"
	"github.com/starlight-protocol/starlight/internal/registry"
	"github.com/starlight-protocol/starlight/internal/security"
	"github.com/starlight-protocol/starlight/internal/sidetalk"
	"github.com/starlight-protocol/starlight/internal/trace"
	"github.com/starlight-protocol/starlight/internal/wire"
)

const maxFrameBytes = 4 << 20

// Server is the Hub's connection-accepting frontend.
type Server struct {
	Router *mux.Router

	reg     *registry.Registry
	orch    *orchestrator.Orchestrator
	ctx     *ctxstore.Store
	router  *sidetalk.Router
	rec     *trace.Recorder
	monitor *entropy.Monitor
	log     zerolog.Logger

	chaos           ChaosConfig
	entropyThrottle time.Duration

	entropyMu   sync.Mutex
	lastEntropy time.Time

	upgrader websocket.Upgrader
}

func New(reg *registry.Registry, orch *orchestrator.Orchestrator, ctxStore *ctxstore.Store, sideRouter *sidetalk.Router, rec *trace.Recorder, monitor *entropy.Monitor, log zerolog.Logger) *Server {
	s := &Server{
		Router:  mux.NewRouter(),
		reg:     reg,
		orch:    orch,
		ctx:     ctxStore,
		router:  sideRouter,
		rec:     rec,
		monitor: monitor,
		log:     log.With().Str("subsystem", "hubserver").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

// WithChaos turns on outbound fault injection (network.chaos.* keys).
func (s *Server) WithChaos(chaos ChaosConfig) *Server {
	s.chaos = chaos
	return s
}

// WithEntropyThrottle caps how often entropy events are re-broadcast
// to Sentinels, so a mutation storm does not flood every connection.
func (s *Server) WithEntropyThrottle(d time.Duration) *Server {
	s.entropyThrottle = d
	return s
}

func (s *Server) setupRoutes() {
	s.Router.HandleFunc("/starlight/ws", s.handleWebSocket)
	s.Router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.Router.HandleFunc("/readyz", s.handleReadyz).Methods("GET")
	s.Router.HandleFunc("/debug/trace", s.handleTrace).Methods("GET")
	s.Router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if len(s.reg.Ready()) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no ready sentinels"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	body, err := s.rec.MarshalSnapshot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	conn := newWSConn(ws, s.chaos)
	s.serveConn(conn, ws)
}

// serveConn runs a connection's whole lifecycle: pre-handshake,
// handshake, then steady-state dispatch, until the socket closes.
func (s *Server) serveConn(conn *wsConn, ws *websocket.Conn) {
	var sentinel *registry.Sentinel

	defer func() {
		if sentinel != nil {
			sentinel.MarkGone()
			s.reg.Remove(sentinel.AssignedID)
			s.rec.Emit("disconnect", 0, map[string]any{"layer": sentinel.Layer})
		}
		_ = conn.Close("connection closed")
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var f wire.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			// Malformed JSON is logged and dropped; the peer loop stays up.
			s.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		if verr := security.ValidateFrame(&f); verr != nil {
			_ = conn.Send(wire.NewErrorResponse(f.ID, verr.Code, verr.Message))
			continue
		}

		switch f.Method {
		case wire.MethodRegistration:
			sentinel = s.handleRegistration(conn, &f)
		case wire.MethodChallengeResponse:
			s.handleChallengeResponse(sentinel, &f)
		case wire.MethodIntent:
			// Intent submission runs in its own goroutine so this
			// connection's read loop stays free to receive a
			// starlight.abort for the in-flight command. An Intent
			// Client never registers, so sentinel stays nil for its
			// lifetime.
			go s.handleIntent(conn, &f)
		case wire.MethodAbort:
			if sentinel != nil {
				s.rec.Emit("abort_requested", 0, map[string]any{"layer": sentinel.Layer})
			} else {
				s.rec.Emit("abort_requested", 0, nil)
			}
			s.orch.Abort()
		case wire.MethodEntropyStream:
			// The browser driver (or an intent client relaying for it)
			// reports page activity here; the Hub folds it into the
			// settlement signal and re-broadcasts to the constellation.
			s.handleEntropyStream(&f)
		default:
			if sentinel == nil || sentinel.State() != registry.Ready {
				// Only registered, READY Sentinels may use the rest of
				// the protocol; everything else is silently ignored, and
				// the peer's state is left untouched.
				continue
			}
			s.dispatch(sentinel, &f)
		}
	}
}

func (s *Server) handleRegistration(conn *wsConn, f *wire.Frame) *registry.Sentinel {
	var params wire.RegistrationParams
	if err := json.Unmarshal(f.Params, &params); err != nil {
		_ = conn.Send(wire.NewErrorResponse(f.ID, wire.CodeInvalidParams, "bad registration params"))
		return nil
	}

	if !s.reg.VerifyToken(params.AuthToken) {
		_ = conn.Send(wire.NewErrorResponse(f.ID, wire.CodeInvalidRequest, "invalid auth token"))
		_ = conn.Close("invalid auth token")
		return nil
	}

	sentinel, challenge := s.reg.BeginRegistration(params, conn)
	resp, err := wire.NewResponse(f.ID, wire.RegistrationResult{
		AssignedID: sentinel.AssignedID,
		Challenge:  challenge,
	})
	if err == nil {
		_ = conn.Send(resp)
	}
	s.rec.Emit("registration", 0, map[string]any{"layer": params.Layer})
	return sentinel
}

func (s *Server) handleChallengeResponse(sentinel *registry.Sentinel, f *wire.Frame) {
	if sentinel == nil {
		return
	}
	var params wire.ChallengeResponseParams
	if err := json.Unmarshal(f.Params, &params); err != nil {
		return
	}

	ready, err := s.reg.FinishHandshake(sentinel.AssignedID, params.Response)
	if err != nil {
		s.rec.Emit("handshake_failed", 0, map[string]any{"reason": err.Error()})
		return
	}
	s.rec.Emit("ready", 0, map[string]any{"layer": ready.Layer})
}

// handleIntent runs one submitted command through the Orchestrator's
// full state machine and replies with its terminal Outcome, echoing
// the request id.
func (s *Server) handleIntent(conn *wsConn, f *wire.Frame) {
	var p wire.IntentParams
	if err := json.Unmarshal(f.Params, &p); err != nil {
		_ = conn.Send(wire.NewErrorResponse(f.ID, wire.CodeInvalidParams, "bad intent params"))
		return
	}

	s.rec.Emit("intent_submitted", 0, map[string]any{"kind": p.Kind})

	result, err := s.orch.Submit(context.Background(), orchestrator.Intent{
		Kind:            p.Kind,
		Action:          p.Action,
		TargetHint:      p.TargetHint,
		URL:             p.URL,
		StabilityHintMs: p.StabilityHintMs,
		PageText:        p.PageText,
		Screenshot:      p.Screenshot,
		Viewport:        p.Viewport,
	})
	if result == nil {
		msg := "intent submission failed"
		if err != nil {
			msg = err.Error()
		}
		_ = conn.Send(wire.NewErrorResponse(f.ID, wire.CodeInternalError, msg))
		return
	}

	resp, rerr := wire.NewResponse(f.ID, intentResultToWire(result))
	if rerr != nil {
		s.log.Error().Err(rerr).Msg("failed to marshal intent result")
		return
	}
	_ = conn.Send(resp)
}

func intentResultToWire(r *orchestrator.Result) wire.IntentResult {
	ledger := make([]wire.VoteLedgerEntry, 0, len(r.Ledger))
	for _, v := range r.Ledger {
		ledger = append(ledger, wire.VoteLedgerEntry{
			Layer:      v.Layer,
			Verdict:    v.Verdict,
			Confidence: v.Confidence,
		})
	}
	return wire.IntentResult{
		CommandID: r.CommandID,
		Kind:      r.Kind,
		State:     r.State,
		Success:   r.Outcome.Success,
		ErrorKind: r.Outcome.ErrorKind,
		Retries:   r.Retries,
		Ledger:    ledger,
	}
}

func (s *Server) dispatch(sentinel *registry.Sentinel, f *wire.Frame) {
	switch f.Method {
	case wire.MethodPulse:
		s.handlePulse(sentinel, f)
	case wire.MethodClear:
		var p wire.ClearParams
		_ = json.Unmarshal(f.Params, &p)
		s.recordVote(sentinel, "clear", p.Confidence, 0)
	case wire.MethodWait:
		var p wire.WaitParams
		_ = json.Unmarshal(f.Params, &p)
		s.recordVote(sentinel, "wait", p.Confidence, p.RetryAfterMs)
	case wire.MethodHijack:
		var p wire.HijackParams
		_ = json.Unmarshal(f.Params, &p)
		s.recordVote(sentinel, "hijack", 0, 0)
	case wire.MethodResume:
		var p wire.ResumeParams
		_ = json.Unmarshal(f.Params, &p)
		s.orch.OnResume(p.ReCheck)
	case wire.MethodAction:
		var p wire.ActionParams
		_ = json.Unmarshal(f.Params, &p)
		outcome := s.orch.OnAction(context.Background(), p)
		frame, err := wire.NewNotification(wire.MethodCommandComplete, wire.CommandCompleteParams{
			Success:    outcome.Success,
			ErrorKind:  outcome.ErrorKind,
			Screenshot: outcome.Screenshot,
		})
		if err == nil {
			_ = sentinel.Send(frame)
		}
	case wire.MethodContextUpdate:
		var p wire.ContextUpdateParams
		_ = json.Unmarshal(f.Params, &p)
		s.ctx.Update(sentinel.Layer, p.Context)
	case wire.MethodSidetalk:
		var p wire.SidetalkParams
		_ = json.Unmarshal(f.Params, &p)
		s.router.Route(sentinel, p)
	}
}

// recordVote forwards a vote to the orchestrator, answering rejected
// votes (stale slot, double hijack) with the matching protocol error.
func (s *Server) recordVote(sentinel *registry.Sentinel, verdict string, confidence float64, retryAfterMs int64) {
	err := s.orch.OnVote(sentinel, verdict, confidence, retryAfterMs)
	if err == nil {
		return
	}
	code := wire.CodeInvalidRequest
	if errors.Is(err, orchestrator.ErrStaleVote) {
		code = wire.CodeStaleIntent
	}
	_ = sentinel.Send(wire.NewErrorResponse(nil, code, err.Error()))
}

// handleEntropyStream feeds one driver-reported entropy event into the
// monitor and, throttled, fans it back out to every READY Sentinel.
func (s *Server) handleEntropyStream(f *wire.Frame) {
	var p wire.EntropyStreamParams
	if err := json.Unmarshal(f.Params, &p); err != nil {
		return
	}
	if p.Entropy {
		s.monitor.RecordEvent(time.Now())
	}

	s.entropyMu.Lock()
	throttled := s.entropyThrottle > 0 && time.Since(s.lastEntropy) < s.entropyThrottle
	if !throttled {
		s.lastEntropy = time.Now()
	}
	s.entropyMu.Unlock()
	if throttled {
		return
	}

	frame, err := wire.NewNotification(wire.MethodEntropyStream, p)
	if err != nil {
		return
	}
	for _, sentinel := range s.reg.Ready() {
		if err := sentinel.Send(frame); err != nil {
			sentinel.MarkDegraded()
		}
	}
}

// BroadcastShutdown tells every READY Sentinel the Hub is going away,
// so runtimes can flush memory instead of seeing a bare socket close.
func (s *Server) BroadcastShutdown() {
	frame, err := wire.NewNotification(wire.MethodShutdown, struct{}{})
	if err != nil {
		return
	}
	for _, sentinel := range s.reg.Ready() {
		_ = sentinel.Send(frame)
	}
	s.rec.Emit("shutdown", 0, nil)
}

func (s *Server) handlePulse(sentinel *registry.Sentinel, f *wire.Frame) {
	var p wire.PulseParams
	if err := json.Unmarshal(f.Params, &p); err != nil {
		return
	}
	sentinel.Touch(time.Now(), p.Health, p.Entropy)
	if p.Entropy != nil && *p.Entropy {
		s.monitor.RecordEvent(time.Now())
	}
}
