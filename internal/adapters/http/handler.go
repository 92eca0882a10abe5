package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PabloGalante/lotus-agent/internal/app/conversation"
	journalapp "github.com/PabloGalante/lotus-agent/internal/app/journal"
	"github.com/PabloGalante/lotus-agent/internal/domain"
	"github.com/PabloGalante/lotus-agent/internal/observability"
)

// Authenticator resolves the caller from the Authorization header.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (domain.UserID, error)
}

type Server struct {
	svc     *conversation.Service
	journal *journalapp.Service
	auth    Authenticator
}

// NewServer builds the routes. metrics may be nil.
func NewServer(svc *conversation.Service, journal *journalapp.Service, auth Authenticator, metrics http.Handler) http.Handler {
	s := &Server{svc: svc, journal: journal, auth: auth}
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/chat-lotus", s.handleChat)
	mux.HandleFunc("/voice-supervisor", s.handleVoice)

	// /sessions      → GET: caller's sessions
	// /sessions/{id} → GET: session + messages
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/sessions/", s.handleSessionWithID)
	mux.HandleFunc("/journal", s.handleJournal)

	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	return chainMiddlewares(mux, withRecover, withLogging, withRequestID, withCORS)
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type chatRequest struct {
	SessionID   string               `json:"sessionId"`
	Stage       int                  `json:"stage"`
	Messages    []domain.TurnMessage `json:"messages"`
	UserMessage string               `json:"userMessage"`
}

type chatResponse struct {
	MessageID       string                 `json:"messageId"`
	BotMessage      string                 `json:"botMessage"`
	NewStage        *int                   `json:"newStage,omitempty"`
	Reasoning       domain.PlannerDecision `json:"reasoning"`
	SessionComplete bool                   `json:"sessionComplete"`
	Warnings        []string               `json:"warnings,omitempty"`
	UsedFirstAid    bool                   `json:"usedFirstAid"`
}

type voiceRequest struct {
	Mode        string               `json:"mode"`
	Stage       int                  `json:"stage"`
	Messages    []domain.TurnMessage `json:"messages"`
	UserMessage string               `json:"userMessage"`
}

type voiceResponse struct {
	MessageID       string `json:"messageId"`
	BotMessage      string `json:"botMessage"`
	NewStage        *int   `json:"newStage,omitempty"`
	Reasoning       string `json:"reasoning"`
	SessionComplete bool   `json:"sessionComplete"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// turnFailureResponse is returned when a turn fails unexpectedly; the client
// still gets something it can show.
type turnFailureResponse struct {
	MessageID  string            `json:"messageId"`
	BotMessage string            `json:"botMessage"`
	Reasoning  map[string]string `json:"reasoning"`
	Warnings   []string          `json:"warnings"`
}

type sessionResponse struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Stage       int        `json:"stage"`
	StageCode   string     `json:"stage_code"`
	TherapyType string     `json:"therapy_type"`
	IsComplete  bool       `json:"is_complete"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

type messageResponse struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	Sender    string                 `json:"sender"`
	Body      string                 `json:"body"`
	Payload   *domain.MessagePayload `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

type getSessionResponse struct {
	Session  sessionResponse   `json:"session"`
	Messages []messageResponse `json:"messages"`
}

type listSessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

type journalResponse struct {
	Entries []*domain.JournalEntry `json:"entries"`
}

// ─────────────────────────────────────────────
// Concrete handlers
// ─────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// /chat-lotus
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "INVALID_REQUEST", "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		badRequest(w, "INVALID_REQUEST", "sessionId is required")
		return
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		badRequest(w, "INVALID_REQUEST", "userMessage is required")
		return
	}
	if err := domain.ValidateStage(domain.Stage(req.Stage)); err != nil {
		badRequest(w, "INVALID_STAGE", err.Error())
		return
	}

	out, err := s.svc.HandleTurn(r.Context(), conversation.TurnInput{
		UserID:      userID,
		SessionID:   domain.SessionID(req.SessionID),
		Stage:       domain.Stage(req.Stage),
		Messages:    req.Messages,
		UserMessage: req.UserMessage,
	})
	if err != nil {
		var se *domain.SessionError
		switch {
		case errors.As(err, &se):
			writeJSON(w, http.StatusInternalServerError, errorResponse{
				Error:   "Database session error",
				Message: err.Error(),
				Code:    "DB_SESSION_FAILED",
			})
		case errors.Is(err, domain.ErrInvalidStage):
			badRequest(w, "INVALID_STAGE", err.Error())
		default:
			internalError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		MessageID:       string(out.MessageID),
		BotMessage:      out.BotMessage,
		NewStage:        stageNumber(out.NewStage),
		Reasoning:       out.Reasoning,
		SessionComplete: out.SessionComplete,
		Warnings:        out.Warnings,
		UsedFirstAid:    out.UsedFirstAid,
	})
}

// /voice-supervisor
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req voiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.Mode != conversation.ChannelVoice {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid mode for this endpoint"})
		return
	}
	if err := domain.ValidateStage(domain.Stage(req.Stage)); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "INVALID_STAGE"})
		return
	}

	out, err := s.svc.HandleVoiceTurn(r.Context(), conversation.VoiceTurnInput{
		Stage:       domain.Stage(req.Stage),
		Messages:    req.Messages,
		UserMessage: req.UserMessage,
	})
	if err != nil {
		observability.LoggerFromContext(r.Context()).Error("voice turn failed", "mode", req.Mode, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, voiceResponse{
		MessageID:       out.MessageID,
		BotMessage:      out.BotMessage,
		NewStage:        stageNumber(out.NewStage),
		Reasoning:       out.Reasoning,
		SessionComplete: out.SessionComplete,
	})
}

// /sessions
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	limit, err := queryLimit(r)
	if err != nil {
		badRequest(w, "INVALID_REQUEST", err.Error())
		return
	}

	sessions, err := s.svc.ListUserSessions(r.Context(), userID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}

	resp := listSessionsResponse{Sessions: make([]sessionResponse, 0, len(sessions))}
	for _, sess := range sessions {
		resp.Sessions = append(resp.Sessions, toSessionResponse(sess))
	}
	writeJSON(w, http.StatusOK, resp)
}

// /sessions/{id}
func (s *Server) handleSessionWithID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	limit, err := queryLimit(r)
	if err != nil {
		badRequest(w, "INVALID_REQUEST", err.Error())
		return
	}

	session, msgs, err := s.svc.GetSessionTimeline(r.Context(), userID, domain.SessionID(id), limit)
	if err != nil {
		// Another user's session is reported as missing.
		if errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrSessionOwnership) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, getSessionResponse{
		Session:  toSessionResponse(session),
		Messages: toMessagesResponse(msgs),
	})
}

// /journal
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	limit, err := queryLimit(r)
	if err != nil {
		badRequest(w, "INVALID_REQUEST", err.Error())
		return
	}

	entries, err := s.journal.GetUserJournal(r.Context(), userID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, journalResponse{Entries: entries})
}

// authenticate writes the auth failure response and returns false when the
// caller cannot be resolved.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (domain.UserID, bool) {
	userID, err := s.auth.Authenticate(r.Context(), r.Header.Get("Authorization"))
	if err == nil {
		return userID, true
	}

	observability.LoggerFromContext(r.Context()).Warn("authentication failed", "error", err)

	code := domain.AuthFailed
	var ae *domain.AuthError
	if errors.As(err, &ae) {
		code = ae.Code
	}

	status := http.StatusUnauthorized
	switch code {
	case domain.ProfileNotFound:
		status = http.StatusNotFound
	case domain.ProfileLookupFailed:
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, errorResponse{
		Error:   "Authentication failed",
		Message: err.Error(),
		Code:    string(code),
	})
	return "", false
}

// ─────────────────────────────────────────────
// Conversation Helpers
// ─────────────────────────────────────────────

func stageNumber(s *domain.Stage) *int {
	if s == nil {
		return nil
	}
	n := int(*s)
	return &n
}

func queryLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer")
	}
	return n, nil
}

func toSessionResponse(s *domain.Session) sessionResponse {
	return sessionResponse{
		ID:          string(s.ID),
		UserID:      string(s.UserID),
		Stage:       int(s.Stage),
		StageCode:   s.Stage.Code(),
		TherapyType: string(s.TherapyType),
		IsComplete:  s.IsComplete,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		EndedAt:     s.EndedAt,
	}
}

func toMessageResponse(m *domain.Message) messageResponse {
	return messageResponse{
		ID:        string(m.ID),
		SessionID: string(m.SessionID),
		Sender:    string(m.Sender),
		Body:      m.Body,
		Payload:   m.Payload,
		CreatedAt: m.CreatedAt,
	}
}

func toMessagesResponse(msgs []*domain.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return out
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, code, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error:   "Invalid request",
		Message: msg,
		Code:    code,
	})
}

func internalError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, turnFailureResponse{
		MessageID:  fmt.Sprintf("error-%d", time.Now().UnixMilli()),
		BotMessage: "I'm sorry, I encountered an error. Please try again.",
		Reasoning:  map[string]string{"error": err.Error()},
		Warnings:   []string{"Critical error in chat-lotus"},
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{
		Error: "method not allowed",
	})
}
