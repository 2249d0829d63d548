package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/executor"
	"github.com/parleyhq/parley/internal/testutil"
	"github.com/parleyhq/parley/stream"
	"github.com/parleyhq/parley/tool"
)

func newTestServer(t *testing.T, optFns ...func(o *Options)) (*Server, *testutil.Fixture, string) {
	t.Helper()
	fx := testutil.NewFixture()
	fx.Mock("fast").EnqueueText("the answer")
	room := testutil.NewRoomBuilder("room-1").
		Mode(core.ModeManual).
		Agent("architect", "fast").
		Build()
	sessionID := fx.RoomSession(room, "user-1", 500)

	exec := executor.New(fx.Store, fx.Models)
	srv := New(":0", exec, fx.Store, optFns...)
	return srv, fx, sessionID
}

func postTurn(t *testing.T, handler http.Handler, req TurnRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/turns", bytes.NewReader(body))
	handler.ServeHTTP(rec, r)
	return rec
}

func TestSubmit_HappyPath(t *testing.T) {
	srv, _, sessionID := newTestServer(t)
	rec := postTurn(t, srv.Handler(), TurnRequest{
		SessionID: sessionID,
		Message:   "@architect what do you think",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var result core.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, core.TurnCompleted, result.Status)
	assert.Equal(t, "the answer", result.OutputText)
	assert.Equal(t, 0, result.TurnIndex)
}

func TestSubmit_ValidationErrorIs422(t *testing.T) {
	srv, _, sessionID := newTestServer(t)
	rec := postTurn(t, srv.Handler(), TurnRequest{
		SessionID: sessionID,
		Message:   "no tags here",
	})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, core.ReasonNoValidTags, body.Reason)
	assert.Equal(t, string(core.TurnRejected), body.Status)
}

func TestSubmit_BudgetExceededIs413(t *testing.T) {
	srv, _, sessionID := newTestServer(t)
	rec := postTurn(t, srv.Handler(), TurnRequest{
		SessionID: sessionID,
		Message:   "@architect " + strings.Repeat("x", 50_000),
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSubmit_InsufficientBalanceIs402(t *testing.T) {
	fx := testutil.NewFixture()
	fx.Mock("fast")
	room := testutil.NewRoomBuilder("room-1").
		Mode(core.ModeManual).
		Agent("architect", "fast").
		Build()
	sessionID := fx.RoomSession(room, "user-1", 0)

	srv := New(":0", executor.New(fx.Store, fx.Models), fx.Store)
	rec := postTurn(t, srv.Handler(), TurnRequest{
		SessionID: sessionID,
		Message:   "@architect hi",
	})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestSubmit_UnknownSessionIs422(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := postTurn(t, srv.Handler(), TurnRequest{
		SessionID: "no-such-session",
		Message:   "@architect hi",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSubmit_MalformedBodyIs400(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/turns", strings.NewReader("{nope"))
	srv.Handler().ServeHTTP(rec, r)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCredit_Provisioning(t *testing.T) {
	fx := testutil.NewFixture()
	srv := New(":0", executor.New(fx.Store, fx.Models), fx.Store,
		func(o *Options) { o.Wallets = fx.Store })

	body, _ := json.Marshal(map[string]any{"user_id": "user-9", "amount": 250})
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/wallets/credit", bytes.NewReader(body))
	srv.Handler().ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		UserID  string `json:"user_id"`
		Balance int64  `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(250), resp.Balance)
}

func TestCredit_NotConfiguredIs501(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/wallets/credit", strings.NewReader(`{}`))
	srv.Handler().ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	srv.Handler().ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStream_DeliversEventSequence(t *testing.T) {
	srv, _, sessionID := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/turns/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(TurnRequest{
		SessionID: sessionID,
		Message:   "@architect hello",
	}))

	var types []string
	var chunks strings.Builder
	var done *core.Result
	for {
		var env stream.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			break
		}
		types = append(types, env.Type)
		if env.Type == "chunk" {
			chunks.WriteString(env.Text)
		}
		if env.Type == "done" {
			done = env.Turn
			break
		}
		if env.Type == "error" {
			t.Fatalf("unexpected error envelope: %s", env.Error)
		}
	}

	require.NotEmpty(t, types)
	assert.Equal(t, "round_start", types[0])
	assert.Equal(t, "done", types[len(types)-1])
	assert.Equal(t, "the answer", chunks.String())
	require.NotNil(t, done)
	assert.Equal(t, core.TurnCompleted, done.Status)
}

func TestStream_RejectsToolPlans(t *testing.T) {
	fx := testutil.NewFixture()
	fx.Mock("fast")
	room := testutil.NewRoomBuilder("room-1").
		Mode(core.ModeManual).
		AgentDef(core.AgentDef{
			Key:        "architect",
			Name:       "architect",
			ModelAlias: "fast",
			ToolGrants: []string{"search"},
		}).
		Build()
	sessionID := fx.RoomSession(room, "user-1", 500)

	tools := tool.NewRegistry()
	tools.Register(tool.NewFunc("search", "web search", nil,
		func(ctx context.Context, args map[string]any) (*tool.Result, error) {
			return &tool.Result{Text: "results"}, nil
		}))

	srv := New(":0", executor.New(fx.Store, fx.Models), fx.Store,
		func(o *Options) { o.Tools = tools })
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/turns/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(TurnRequest{
		SessionID: sessionID,
		Message:   "@architect look this up",
	}))

	var env stream.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "error", env.Type)
	assert.Contains(t, env.Error, "tool")
}
