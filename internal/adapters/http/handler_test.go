package httpadapter_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/lotus-agent/internal/adapters/auth"
	httpadapter "github.com/PabloGalante/lotus-agent/internal/adapters/http"
	"github.com/PabloGalante/lotus-agent/internal/adapters/llm"
	"github.com/PabloGalante/lotus-agent/internal/adapters/storage/memory"
	"github.com/PabloGalante/lotus-agent/internal/app/agentflow"
	"github.com/PabloGalante/lotus-agent/internal/app/conversation"
	journalapp "github.com/PabloGalante/lotus-agent/internal/app/journal"
	"github.com/PabloGalante/lotus-agent/internal/app/tools"
	"github.com/PabloGalante/lotus-agent/internal/domain"
)

const jwtSecret = "http-test-secret"

type testServer struct {
	handler http.Handler
	llm     *llm.MockLLM
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mock := llm.NewMockLLM()
	sessionStore := memory.NewSessionStore()
	messageStore := memory.NewMessageStore()
	journalStore := memory.NewJournalStore()
	profiles := memory.NewProfileStore("user-1", "user-2")

	convSvc := conversation.NewService(
		agentflow.NewDefaultOrchestrator(mock, agentflow.DefaultConfig(), nil),
		sessionStore,
		messageStore,
		conversation.WithJournal(tools.NewJournalTool(journalStore)),
	)
	journalSvc := journalapp.NewService(journalStore)
	authn := auth.NewBearerAuthenticator(jwtSecret, profiles, true)

	return &testServer{
		handler: httpadapter.NewServer(convSvc, journalSvc, authn, nil),
		llm:     mock,
	}
}

func bearer(t *testing.T, sub string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return "Bearer " + tok
}

func (s *testServer) do(t *testing.T, method, path, authz, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
	}
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body=%s", w.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	w := srv.do(t, http.MethodGet, "/healthz", "", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()

	srv.handler.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestPreflight(t *testing.T) {
	srv := newTestServer(t)
	w := srv.do(t, http.MethodOptions, "/chat-lotus", "", "")

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "authorization")
}

func TestChatRespond(t *testing.T) {
	srv := newTestServer(t)
	srv.llm.On(domain.CallPlanner, llm.Text(`{"action":"respond","reasoning":"still warming up"}`))
	srv.llm.On(domain.CallResponder, llm.Text("Tell me more about what brought you here."))

	w := srv.do(t, http.MethodPost, "/chat-lotus", bearer(t, "user-1"),
		`{"sessionId":"s-1","stage":1,"messages":[],"userMessage":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "Tell me more about what brought you here.", body["botMessage"])
	assert.NotEmpty(t, body["messageId"])
	assert.Equal(t, false, body["sessionComplete"])
	assert.Equal(t, false, body["usedFirstAid"])
	assert.NotContains(t, body, "newStage")
	assert.NotContains(t, body, "warnings")

	reasoning := body["reasoning"].(map[string]any)
	assert.Equal(t, "respond", reasoning["action"])
	assert.Equal(t, "still warming up", reasoning["reasoning"])
}

func TestChatCompletesSessionAndWritesJournal(t *testing.T) {
	srv := newTestServer(t)
	srv.llm.On(domain.CallPlanner, llm.Text(`{"action":"complete_session","reasoning":"summary accepted"}`))
	srv.llm.On(domain.CallResponder, llm.Text("Thank you for this session."))
	token := bearer(t, "user-1")

	w := srv.do(t, http.MethodPost, "/chat-lotus", token,
		`{"sessionId":"s-1","stage":4,"messages":[],"userMessage":"that sounds right"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, float64(5), body["newStage"])
	assert.Equal(t, true, body["sessionComplete"])

	w = srv.do(t, http.MethodGet, "/journal", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode(t, w)["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "Thank you for this session.", entries[0].(map[string]any)["reflection"])
}

func TestChatAuthFailures(t *testing.T) {
	srv := newTestServer(t)
	body := `{"sessionId":"s-1","stage":1,"userMessage":"hi"}`

	tests := []struct {
		name   string
		authz  string
		status int
		code   string
	}{
		{"missing header", "", http.StatusUnauthorized, "AUTH_FAILED"},
		{"bad signature", "Bearer not-a-token", http.StatusUnauthorized, "AUTH_FAILED"},
		{"unknown profile", bearer(t, "ghost"), http.StatusNotFound, "PROFILE_NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(t, http.MethodPost, "/chat-lotus", tt.authz, body)
			require.Equal(t, tt.status, w.Code)

			resp := decode(t, w)
			assert.Equal(t, "Authentication failed", resp["error"])
			assert.Equal(t, tt.code, resp["code"])
			assert.NotEmpty(t, resp["message"])
		})
	}
	assert.Empty(t, srv.llm.Calls())
}

func TestChatRejectsBadRequests(t *testing.T) {
	srv := newTestServer(t)
	token := bearer(t, "user-1")

	tests := []struct {
		name string
		body string
		code string
	}{
		{"invalid json", `{"sessionId":`, "INVALID_REQUEST"},
		{"missing session", `{"stage":1,"userMessage":"hi"}`, "INVALID_REQUEST"},
		{"blank message", `{"sessionId":"s-1","stage":1,"userMessage":"  "}`, "INVALID_REQUEST"},
		{"stage too high", `{"sessionId":"s-1","stage":6,"userMessage":"hi"}`, "INVALID_STAGE"},
		{"missing stage", `{"sessionId":"s-1","userMessage":"hi"}`, "INVALID_STAGE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(t, http.MethodPost, "/chat-lotus", token, tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, decode(t, w)["code"])
		})
	}
}

func TestChatOtherUsersSessionFails(t *testing.T) {
	srv := newTestServer(t)
	body := `{"sessionId":"s-1","stage":1,"userMessage":"hi"}`

	w := srv.do(t, http.MethodPost, "/chat-lotus", bearer(t, "user-1"), body)
	require.Equal(t, http.StatusOK, w.Code)

	w = srv.do(t, http.MethodPost, "/chat-lotus", bearer(t, "user-2"), body)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	resp := decode(t, w)
	assert.Equal(t, "Database session error", resp["error"])
	assert.Equal(t, "DB_SESSION_FAILED", resp["code"])
}

func TestChatSurvivesModelOutage(t *testing.T) {
	srv := newTestServer(t)
	down := llm.Fail(errors.New("connection refused"))
	srv.llm.On(domain.CallPlanner, down).
		On(domain.CallResponder, down).
		On(domain.CallFirstAid, down)

	w := srv.do(t, http.MethodPost, "/chat-lotus", bearer(t, "user-1"),
		`{"sessionId":"s-1","stage":2,"userMessage":"I keep thinking I'll fail"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.NotEmpty(t, body["botMessage"])
	assert.NotEmpty(t, body["warnings"])
}

func TestChatMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)
	w := srv.do(t, http.MethodGet, "/chat-lotus", bearer(t, "user-1"), "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestVoiceSupervisor(t *testing.T) {
	srv := newTestServer(t)
	srv.llm.On(domain.CallPlanner, llm.Text(`{"action":"advance_stage","targetStage":2,"reasoning":"ready to explore"}`))

	w := srv.do(t, http.MethodPost, "/voice-supervisor", "",
		`{"mode":"voice","stage":1,"messages":[],"userMessage":"I'm ready"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.True(t, strings.HasPrefix(body["messageId"].(string), "msg-"))
	assert.Equal(t, float64(2), body["newStage"])
	assert.Equal(t, "ready to explore", body["reasoning"])
	assert.Equal(t, false, body["sessionComplete"])
}

func TestVoiceSupervisorRejects(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodGet, "/voice-supervisor", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Contains(t, w.Body.String(), "Method Not Allowed")

	w = srv.do(t, http.MethodPost, "/voice-supervisor", "", `{"mode":"text","stage":1,"userMessage":"hi"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid mode for this endpoint", decode(t, w)["error"])

	w = srv.do(t, http.MethodPost, "/voice-supervisor", "", `{"mode":"voice","stage":9,"userMessage":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSessionTimeline(t *testing.T) {
	srv := newTestServer(t)
	token := bearer(t, "user-1")

	w := srv.do(t, http.MethodPost, "/chat-lotus", token, `{"sessionId":"s-1","stage":1,"userMessage":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = srv.do(t, http.MethodGet, "/sessions/s-1", token, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	session := body["session"].(map[string]any)
	assert.Equal(t, "s-1", session["id"])
	assert.Equal(t, "S1", session["stage_code"])

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].(map[string]any)["sender"])
	assert.Equal(t, "hi", msgs[0].(map[string]any)["body"])
	assert.Equal(t, "bot", msgs[1].(map[string]any)["sender"])
}

func TestGetSessionHiddenFromOtherUsers(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodPost, "/chat-lotus", bearer(t, "user-1"), `{"sessionId":"s-1","stage":1,"userMessage":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = srv.do(t, http.MethodGet, "/sessions/s-1", bearer(t, "user-2"), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = srv.do(t, http.MethodGet, "/sessions/missing", bearer(t, "user-1"), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = srv.do(t, http.MethodGet, "/sessions/s-1?limit=abc", bearer(t, "user-1"), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListSessions(t *testing.T) {
	srv := newTestServer(t)
	token := bearer(t, "user-1")

	for _, id := range []string{"s-1", "s-2"} {
		w := srv.do(t, http.MethodPost, "/chat-lotus", token, `{"sessionId":"`+id+`","stage":1,"userMessage":"hi"}`)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := srv.do(t, http.MethodPost, "/chat-lotus", bearer(t, "user-2"), `{"sessionId":"s-3","stage":1,"userMessage":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = srv.do(t, http.MethodGet, "/sessions", token, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	sessions := decode(t, w)["sessions"].([]any)
	require.Len(t, sessions, 2)
	for _, s := range sessions {
		assert.Equal(t, "user-1", s.(map[string]any)["user_id"])
	}

	w = srv.do(t, http.MethodGet, "/sessions?limit=1", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["sessions"].([]any), 1)

	w = srv.do(t, http.MethodGet, "/sessions", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = srv.do(t, http.MethodPost, "/sessions", token, "{}")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

type panickingAuth struct{}

func (panickingAuth) Authenticate(context.Context, string) (domain.UserID, error) {
	panic("profile cache corrupted")
}

func TestChatPanicReturnsTurnFailure(t *testing.T) {
	srv := &testServer{handler: httpadapter.NewServer(nil, nil, panickingAuth{}, nil)}

	w := srv.do(t, http.MethodPost, "/chat-lotus", "Bearer x",
		`{"sessionId":"s-1","stage":1,"userMessage":"hi"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	body := decode(t, w)
	assert.True(t, strings.HasPrefix(body["messageId"].(string), "error-"))
	assert.Equal(t, "I'm sorry, I encountered an error. Please try again.", body["botMessage"])
	assert.Contains(t, body["reasoning"].(map[string]any)["error"], "profile cache corrupted")
	assert.Equal(t, []any{"Critical error in chat-lotus"}, body["warnings"])
}
