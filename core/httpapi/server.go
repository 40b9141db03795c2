package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"wagateway/core/buildinfo"
	"wagateway/core/logger"
	"wagateway/core/session"
)

// Server exposes the gateway over HTTP: the bridge webhook, a manual
// send endpoint, and read-only session inspection.
type Server struct {
	handler *session.Handler
	store   session.Store
	disp    session.Dispatcher
	active  *session.ActiveCount
	sweeper *session.Sweeper
}

// New wires the HTTP surface.
func New(handler *session.Handler, store session.Store, disp session.Dispatcher, active *session.ActiveCount, sweeper *session.Sweeper) *Server {
	return &Server{
		handler: handler,
		store:   store,
		disp:    disp,
		active:  active,
		sweeper: sweeper,
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhook/messages", s.handleInbound)
	r.Post("/send", s.handleSend)
	r.Get("/sessions", s.handleListSessions)
	r.Get("/sessions/{userID}", s.handleGetSession)

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-Id")
		if rid == "" {
			rid = uuid.NewString()
		}
		ctx := logger.WithRID(r.Context(), rid)

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.Info(ctx, "http", "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("http_code", ww.Status()),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		)
	})
}

// inboundBody mirrors what the bridge posts for each received message.
type inboundBody struct {
	MessageID string `json:"messageId"`
	From      string `json:"from"`
	FromName  string `json:"fromName"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	Kind      string `json:"type"`
	HasMedia  bool   `json:"hasMedia"`
	IsGroup   bool   `json:"isGroup"`
	IsButton  bool   `json:"isButton"`
	Payload   string `json:"payload"`
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	var body inboundBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(body.From) == "" {
		writeError(w, http.StatusBadRequest, "missing from")
		return
	}
	if body.MessageID == "" {
		body.MessageID = uuid.NewString()
	}

	msg := session.InboundMessage{
		MessageID: body.MessageID,
		UserID:    body.From,
		UserName:  body.FromName,
		Text:      body.Body,
		IsButton:  body.IsButton,
		Payload:   body.Payload,
		Kind:      body.Kind,
		HasMedia:  body.HasMedia,
		IsGroup:   body.IsGroup,
	}
	if body.Timestamp > 0 {
		msg.Timestamp = time.Unix(body.Timestamp, 0)
	}

	// Ack fast; forwarding to the automation backend can take seconds
	// and the bridge must not be held up for it.
	go s.handler.HandleInbound(context.WithoutCancel(r.Context()), msg)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "accepted",
		"messageId": msg.MessageID,
	})
}

type sendBody struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var body sendBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(body.To) == "" || strings.TrimSpace(body.Text) == "" {
		writeError(w, http.StatusBadRequest, "missing to or text")
		return
	}
	if err := s.disp.SendText(r.Context(), body.To, body.Text); err != nil {
		writeError(w, http.StatusBadGateway, "send failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sessionBody is the JSON rendering of one session record.
type sessionBody struct {
	UserID          string     `json:"userId"`
	State           string     `json:"state"`
	PromptedAt      *time.Time `json:"promptedAt,omitempty"`
	LastInteraction time.Time  `json:"lastInteraction"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func renderSession(rec session.Record) sessionBody {
	return sessionBody{
		UserID:          rec.UserID,
		State:           string(rec.State),
		PromptedAt:      rec.PromptedAt,
		LastInteraction: rec.LastInteraction,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	rec, err := s.store.Get(r.Context(), userID)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, renderSession(rec))
}

var validStates = map[session.State]bool{
	session.StateIdle:     true,
	session.StatePrompted: true,
	session.StateTalkToUs: true,
	session.StateLiveChat: true,
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	st := session.State(r.URL.Query().Get("state"))
	if !validStates[st] {
		writeError(w, http.StatusBadRequest, "unknown state")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	recs, err := s.store.ListByState(r.Context(), st, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	out := make([]sessionBody, 0, len(recs))
	for _, rec := range recs {
		out = append(out, renderSession(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":    string(st),
		"count":    len(out),
		"sessions": out,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"active":  s.active.Value(),
		"sweeper": s.sweeper.Running(),
		"version": buildinfo.Version,
		"commit":  buildinfo.Commit,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
