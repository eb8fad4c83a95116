// Package server is the speech I/O boundary of the intake agent. A speech
// pipeline (or a test client) starts a call, sends final transcripts and
// speaks whatever comes back, either over REST or over a websocket:
//
//	POST   /v1/calls                   {tenant_id?}  → {call_id, session_id, speak, phase}
//	POST   /v1/calls/{id}/utterances   {text}        → {speak, phase}
//	GET    /v1/calls/{id}                            → {call_id, session_id, phase, turn}
//	DELETE /v1/calls/{id}                            → 204
//	GET    /v1/calls/{id}/stream                     websocket
//
// On the stream the client sends {"type":"final_transcript","text":"..."}
// frames and receives {"type":"speak","text":"...","phase":"..."} frames.
// Closing the socket ends the call.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/call"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/health"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/observe"
)

// Calls is the call manager the server drives. *call.Manager implements it.
type Calls interface {
	Start(ctx context.Context, tenantID string) (*call.Session, call.Reply, error)
	Get(callID string) (*call.Session, error)
	End(ctx context.Context, callID string) error
}

// Server routes HTTP and websocket traffic to the call manager.
type Server struct {
	calls   Calls
	health  *health.Handler
	metrics *observe.Metrics
	promH   http.Handler
	origins []string
	log     *slog.Logger

	router chi.Router
}

// Option configures a [Server].
type Option func(*Server)

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option { return func(s *Server) { s.health = h } }

// WithMetrics records request metrics and mounts h at /metrics when h is
// non-nil.
func WithMetrics(m *observe.Metrics, h http.Handler) Option {
	return func(s *Server) { s.metrics, s.promH = m, h }
}

// WithCORSOrigins sets the browser origins allowed to call the API and open
// streams. Empty allows any origin.
func WithCORSOrigins(origins []string) Option { return func(s *Server) { s.origins = origins } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// New builds the router.
func New(calls Calls, opts ...Option) *Server {
	s := &Server{calls: calls, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(observe.Middleware(s.metrics))
	}
	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With", "Traceparent"},
		ExposedHeaders: []string{"X-Correlation-ID"},
		MaxAge:         300,
	}))

	if s.health != nil {
		s.health.Register(r)
	}
	if s.promH != nil {
		r.Method(http.MethodGet, "/metrics", s.promH)
	}

	r.Route("/v1/calls", func(r chi.Router) {
		r.Post("/", s.handleStart)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleInfo)
			r.Delete("/", s.handleEnd)
			r.Post("/utterances", s.handleUtterance)
			r.Get("/stream", s.handleStream)
		})
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

type startRequest struct {
	TenantID string `json:"tenant_id"`
}

type startResponse struct {
	CallID    string `json:"call_id"`
	SessionID string `json:"session_id"`
	Speak     string `json:"speak"`
	Phase     string `json:"phase"`
}

type utteranceRequest struct {
	Text string `json:"text"`
}

type utteranceResponse struct {
	Speak string `json:"speak"`
	Phase string `json:"phase"`
}

type infoResponse struct {
	CallID    string    `json:"call_id"`
	SessionID string    `json:"session_id"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Phase     string    `json:"phase"`
	Turn      int       `json:"turn"`
	StartedAt time.Time `json:"started_at"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	sess, reply, err := s.calls.Start(r.Context(), req.TenantID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{
		CallID:    sess.ID(),
		SessionID: sess.SessionID(),
		Speak:     reply.Speak,
		Phase:     string(reply.Phase),
	})
}

func (s *Server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	var req utteranceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	sess, err := s.calls.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	reply, err := sess.Handle(r.Context(), req.Text)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, utteranceResponse{Speak: reply.Speak, Phase: string(reply.Phase)})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	sess, err := s.calls.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	info := sess.Info()
	writeJSON(w, http.StatusOK, infoResponse{
		CallID:    info.CallID,
		SessionID: info.SessionID,
		TenantID:  info.TenantID,
		Phase:     string(info.Phase),
		Turn:      info.Turn,
		StartedAt: info.StartedAt,
	})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	if err := s.calls.End(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stream frame types.
const (
	frameFinalTranscript = "final_transcript"
	frameSpeak           = "speak"
	frameError           = "error"
)

type frame struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Phase string `json:"phase,omitempty"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "id")
	sess, err := s.calls.Get(callID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	opts := &websocket.AcceptOptions{}
	if len(s.origins) == 0 {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = s.origins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.log.WarnContext(r.Context(), "server: websocket accept failed", "call_id", callID, "err", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		select {
		case <-sess.Done():
			conn.Close(websocket.StatusGoingAway, "call ended")
		case <-ctx.Done():
		}
	}()

	s.log.InfoContext(ctx, "server: stream opened", "call_id", callID)
	defer func() {
		// The socket is gone; end the call on a fresh context.
		endCtx, endCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer endCancel()
		if err := s.calls.End(endCtx, callID); err != nil && !errors.Is(err, call.ErrCallNotFound) {
			s.log.WarnContext(endCtx, "server: end call after stream close", "call_id", callID, "err", err)
		}
	}()

	// Frames are read on their own goroutine so a dropped socket cancels ctx,
	// and with it the turn in progress.
	frames := make(chan frame, 8)
	go func() {
		defer cancel()
		for {
			var in frame
			if err := wsjson.Read(ctx, conn, &in); err != nil {
				if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
					s.log.DebugContext(ctx, "server: stream read", "call_id", callID, "err", err)
				}
				return
			}
			select {
			case frames <- in:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var in frame
		select {
		case in = <-frames:
		case <-ctx.Done():
			return
		}
		if in.Type != frameFinalTranscript {
			_ = wsjson.Write(ctx, conn, frame{Type: frameError, Text: "unsupported frame type " + in.Type})
			continue
		}
		reply, err := sess.Handle(ctx, in.Text)
		if err != nil {
			if errors.Is(err, call.ErrSessionClosed) {
				conn.Close(websocket.StatusGoingAway, "call ended")
			} else if ctx.Err() != nil {
				s.log.InfoContext(ctx, "server: stream dropped mid-turn", "call_id", callID)
			}
			return
		}
		if err := wsjson.Write(ctx, conn, frame{Type: frameSpeak, Text: reply.Speak, Phase: string(reply.Phase)}); err != nil {
			return
		}
	}
}

// fail maps call errors to HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, call.ErrCallNotFound):
		writeError(w, r, http.StatusNotFound, err)
	case errors.Is(err, call.ErrSessionClosed):
		writeError(w, r, http.StatusGone, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusServiceUnavailable, err)
	default:
		s.log.ErrorContext(r.Context(), "server: request failed", "path", r.URL.Path, "err", err)
		writeError(w, r, http.StatusInternalServerError, err)
	}
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError reports err as {"error": ...}. The trace ID is included when
// the request is traced so callers can quote it.
func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	body := map[string]string{"error": err.Error()}
	if id := observe.CorrelationID(r.Context()); id != "" {
		body["trace_id"] = id
	}
	writeJSON(w, status, body)
}
