package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Desarso/crmstream/models"
	"github.com/Desarso/crmstream/sessions"
	"github.com/Desarso/crmstream/stores"
	"github.com/Desarso/crmstream/stream"
)

var quiet = log.New(io.Discard, "", 0)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	backend *httptest.Server
	relay   *httptest.Server
	server  *Server
	store   *stores.SQLiteStore
}

func newFixture(t *testing.T, mock *MockBackend) *fixture {
	t.Helper()
	backend := httptest.NewServer(mock.Router())
	t.Cleanup(backend.Close)

	store, err := stores.NewSQLiteStore(stores.NewStoreConfig("sqlite", filepath.Join(t.TempDir(), "relay.sqlite")).
		WithOption("log_level", "silent"))
	require.NoError(t, err)
	store.SetLogger(quiet)
	t.Cleanup(func() { _ = store.Close() })

	manager := sessions.NewManager(stream.NewClient(backend.URL).WithLogger(quiet))
	manager.Store = store
	manager.Logger = quiet

	srv := NewServer(manager).WithBackendURL(backend.URL).WithLogger(quiet)
	relay := httptest.NewServer(srv.Router())
	t.Cleanup(relay.Close)

	return &fixture{backend: backend, relay: relay, server: srv, store: store}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestHealth(t *testing.T) {
	f := newFixture(t, NewMockBackend())

	resp, err := http.Get(f.relay.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health models.Health_Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, models.Health_Response{Status: "ok", Backend: f.backend.URL, Store: "ok"}, health)
}

func TestParseEndpoint(t *testing.T) {
	f := newFixture(t, NewMockBackend())

	resp := postJSON(t, f.relay.URL+"/api/v1/parse", models.Parse_Request{Content: SampleReply})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed struct {
		Structured struct {
			Basic  map[string]string `json:"basic"`
			Tables []json.RawMessage `json:"tables"`
		} `json:"structured"`
		View struct {
			Basic []struct {
				Label string `json:"label"`
				Value struct {
					Text  string `json:"text"`
					Badge string `json:"badge"`
				} `json:"value"`
			} `json:"basic"`
		} `json:"view"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	assert.Equal(t, "张三", parsed.Structured.Basic["姓名"])
	assert.Len(t, parsed.Structured.Tables, 2)
	require.Len(t, parsed.View.Basic, 4)
	assert.Equal(t, "建立信任", parsed.View.Basic[1].Value.Text)
	assert.Equal(t, "stage", parsed.View.Basic[1].Value.Badge)

	plain := postJSON(t, f.relay.URL+"/api/v1/parse", models.Parse_Request{Content: "普通回复"})
	defer plain.Body.Close()
	body, err := io.ReadAll(plain.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"structured":null}`, string(body))
}

func TestChatStream_RelaysAndPersists(t *testing.T) {
	f := newFixture(t, NewMockBackend())

	resp := postJSON(t, f.relay.URL+"/api/v1/chat/stream/new", models.Relay_Request{Message: "查询张三"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	id := resp.Header.Get("X-Conversation-ID")
	require.NotEmpty(t, id)
	assert.NotEqual(t, NewConversation, id)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	events := stream.DecodeAll(raw)
	require.NotEmpty(t, events)

	var text strings.Builder
	var names []string
	for _, e := range events {
		switch e.Kind {
		case stream.KindToken:
			text.WriteString(e.Text)
		case stream.KindNamedEvent:
			names = append(names, e.Name)
		}
	}
	assert.Equal(t, []string{sessions.SSESession, sessions.SSESession}, names)
	assert.Equal(t, SampleReply, text.String())
	assert.Equal(t, stream.KindDone, events[len(events)-1].Kind)

	hist := getHistory(t, f, id)
	require.Len(t, hist.Messages, 2)
	assert.Equal(t, SampleReply, hist.Messages[1].Content)
	assert.Equal(t, "1", hist.SessionID)

	msgs, err := f.store.FetchHistory(id, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	convResp, err := http.Get(f.relay.URL + "/api/v1/chat/conversations")
	require.NoError(t, err)
	defer convResp.Body.Close()
	var convs models.Conversations_Response
	require.NoError(t, json.NewDecoder(convResp.Body).Decode(&convs))
	require.Len(t, convs.Conversations, 1)
	assert.Equal(t, "查询张三", convs.Conversations[0].Title)
}

func getHistory(t *testing.T, f *fixture, id string) stores.History {
	t.Helper()
	resp, err := http.Get(f.relay.URL + "/api/v1/chat/history/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out models.History_Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.History
}

func TestChatStream_BackendFailure(t *testing.T) {
	mock := NewMockBackend()
	mock.Reply = func(string) string { return "部分" }
	f := newFixture(t, mock)

	resp := postJSON(t, f.relay.URL+"/api/v1/chat/stream/c-fail", models.Relay_Request{Message: "请模拟失败"})
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	events := stream.DecodeAll(raw)
	last := events[len(events)-1]
	assert.Equal(t, stream.KindError, last.Kind)
	assert.Equal(t, "（系统错误）AI 响应失败: simulated failure", last.Message)

	hist := getHistory(t, f, "c-fail")
	ai := hist.Messages[1]
	assert.Equal(t, stores.StatusError, ai.Status)
	assert.Equal(t, "部分\n（系统错误）AI 响应失败: simulated failure", ai.Content)
}

func TestChatStream_CustomerScoped(t *testing.T) {
	mock := NewMockBackend()
	mock.Reply = func(string) string { return "好的" }
	f := newFixture(t, mock)

	customer := 7
	resp := postJSON(t, f.relay.URL+"/api/v1/chat/stream/c-cust", models.Relay_Request{Message: "分析", Customer_ID: &customer})
	defer resp.Body.Close()
	_, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	hist := getHistory(t, f, "c-cust")
	assert.Equal(t, "已定位客户【客户7】(ID: 7)。\n\n好的", hist.Messages[1].Content)
}

func TestChatStream_BadRequest(t *testing.T) {
	f := newFixture(t, NewMockBackend())

	resp := postJSON(t, f.relay.URL+"/api/v1/chat/stream/x", map[string]string{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatStream_InFlightConflict(t *testing.T) {
	mock := NewMockBackend()
	mock.Delay = 50 * time.Millisecond
	mock.Reply = func(string) string { return "慢慢回复中" }
	f := newFixture(t, mock)

	first := postJSON(t, f.relay.URL+"/api/v1/chat/stream/busy", models.Relay_Request{Message: "一"})
	defer first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := postJSON(t, f.relay.URL+"/api/v1/chat/stream/busy", models.Relay_Request{Message: "二"})
	defer second.Body.Close()
	assert.Equal(t, http.StatusConflict, second.StatusCode)

	_, err := io.ReadAll(first.Body)
	require.NoError(t, err)
}

func TestDeleteConversation(t *testing.T) {
	mock := NewMockBackend()
	mock.Reply = func(string) string { return "ok" }
	f := newFixture(t, mock)

	resp := postJSON(t, f.relay.URL+"/api/v1/chat/stream/gone", models.Relay_Request{Message: "hi"})
	_, _ = io.ReadAll(resp.Body)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, f.relay.URL+"/api/v1/chat/conversations/gone", nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)

	_, ok := f.server.Manager.Lookup("gone")
	assert.False(t, ok)

	req, err = http.NewRequest(http.MethodDelete, f.relay.URL+"/api/v1/chat/conversations/missing", nil)
	require.NoError(t, err)
	missing, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestChatWebSocket(t *testing.T) {
	mock := NewMockBackend()
	mock.Reply = func(string) string { return "【基本信息】\n姓名：李四" }
	f := newFixture(t, mock)

	url := "ws" + strings.TrimPrefix(f.relay.URL, "http") + "/api/v1/chat/ws/ws-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(models.Relay_Request{Message: "查询李四"}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var last sessions.Update
	for ctx.Err() == nil {
		var u sessions.Update
		require.NoError(t, conn.ReadJSON(&u))
		if u.Terminal() {
			last = u
			break
		}
	}
	assert.Equal(t, sessions.UpdateDone, last.Kind)
	assert.Equal(t, "ws-1", last.ConversationID)
	require.NotNil(t, last.Structured)
	assert.Equal(t, map[string]string{"姓名": "李四"}, last.Structured.Basic.Map())
}

func TestMockBackend_WireFormat(t *testing.T) {
	mock := NewMockBackend()
	mock.Reply = func(string) string { return "你好呀" }
	mock.TokenRunes = 2
	backend := httptest.NewServer(mock.Router())
	defer backend.Close()

	resp := postJSON(t, backend.URL+"/chat/global/stream", models.Chat_Request{Message: "hi", Session_ID: json.RawMessage(`9`)})
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t,
		"event: session_info\ndata: {\"session_id\":9}\n\n"+
			"data: {\"token\":\"你好\"}\n\n"+
			"data: {\"token\":\"呀\"}\n\n"+
			"event: done\ndata: [DONE]\n\n",
		string(raw))

	bad := postJSON(t, backend.URL+"/chat/global/stream", models.Chat_Request{})
	defer bad.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, bad.StatusCode)
}
