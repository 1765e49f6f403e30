package stream

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	tokens []string
	events []string
	errors []string
	dones  int
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnToken: func(text string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.tokens = append(r.tokens, text)
		},
		OnEvent: func(name string, payload json.RawMessage) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, name+"="+string(payload))
		},
		OnError: func(message string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errors = append(r.errors, message)
		},
		OnDone: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.dones++
		},
	}
}

func quietClient(baseURL string) *Client {
	return NewClient(baseURL).WithLogger(log.New(io.Discard, "", 0))
}

// trickleHandler writes body in small flushed pieces so reads never align
// with record boundaries.
func trickleHandler(body string, piece int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for start := 0; start < len(body); start += piece {
			end := start + piece
			if end > len(body) {
				end = len(body)
			}
			_, _ = io.WriteString(w, body[start:end])
			flusher.Flush()
		}
	}
}

func TestClient_ConsumeInWireOrder(t *testing.T) {
	var gotBody map[string]any
	var gotAccept, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		trickleHandler(sampleStream, 5)(w, r)
	}))
	defer srv.Close()

	rec := &recorder{}
	client := quietClient(srv.URL).WithHeader("Authorization", "Bearer t")
	client.Consume(context.Background(), "/chat/stream", map[string]any{"message": "hi"}, rec.handlers())

	assert.Equal(t, "text/event-stream", gotAccept)
	assert.Equal(t, "Bearer t", gotAuth)
	assert.Equal(t, "hi", gotBody["message"])

	assert.Equal(t, []string{"已定位客户【张三】", "，请稍候", "plain text", "【基本信息】\n姓名：张三"}, rec.tokens)
	assert.Equal(t, []string{`session_info={"session_id": 7}`}, rec.events)
	assert.Empty(t, rec.errors)
	assert.Equal(t, 1, rec.dones)
}

func TestClient_DoneStopsBeforeTrailingBytes(t *testing.T) {
	body := "data: {\"token\":\"a\"}\n\ndata: [DONE]\n\ndata: {\"token\":\"ignored\"}\n\n"
	srv := httptest.NewServer(trickleHandler(body, 3))
	defer srv.Close()

	rec := &recorder{}
	quietClient(srv.URL).Consume(context.Background(), "chat", nil, rec.handlers())

	assert.Equal(t, []string{"a"}, rec.tokens)
	assert.Equal(t, 1, rec.dones)
	assert.Empty(t, rec.errors)
}

func TestClient_ErrorEventTerminates(t *testing.T) {
	body := "data: a\n\nevent: error\ndata: {\"message\":\"boom\"}\n\ndata: b\n\n"
	srv := httptest.NewServer(trickleHandler(body, 4))
	defer srv.Close()

	rec := &recorder{}
	quietClient(srv.URL).Consume(context.Background(), "chat", nil, rec.handlers())

	assert.Equal(t, []string{"a"}, rec.tokens)
	assert.Equal(t, []string{"boom"}, rec.errors)
	assert.Zero(t, rec.dones)
}

func TestClient_CleanCloseIsDone(t *testing.T) {
	srv := httptest.NewServer(trickleHandler("data: a\n\ndata: partial", 2))
	defer srv.Close()

	rec := &recorder{}
	quietClient(srv.URL).Consume(context.Background(), "chat", nil, rec.handlers())

	assert.Equal(t, []string{"a"}, rec.tokens)
	assert.Equal(t, 1, rec.dones)
	assert.Empty(t, rec.errors)
}

func TestClient_NonSuccessStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"fastapi detail", http.StatusNotFound, `{"detail":"Customer not found"}`, "Customer not found"},
		{"message field", http.StatusBadRequest, `{"message":"bad input"}`, "bad input"},
		{"plain body", http.StatusBadGateway, "upstream down\n", "upstream down"},
		{"empty body", http.StatusInternalServerError, "", "request failed with status 500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			rec := &recorder{}
			quietClient(srv.URL).Consume(context.Background(), "chat", nil, rec.handlers())

			assert.Equal(t, []string{tt.want}, rec.errors)
			assert.Empty(t, rec.tokens)
			assert.Zero(t, rec.dones)
		})
	}
}

func TestClient_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rec := &recorder{}
	quietClient(url).Consume(context.Background(), "chat", nil, rec.handlers())

	require.Len(t, rec.errors, 1)
	assert.True(t, strings.HasPrefix(rec.errors[0], "request failed:"), rec.errors[0])
	assert.Zero(t, rec.dones)
}

func TestClient_CancellationIsDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"token\":\"first\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	h := rec.handlers()
	onToken := h.OnToken
	h.OnToken = func(text string) {
		onToken(text)
		cancel()
	}

	finished := make(chan struct{})
	go func() {
		quietClient(srv.URL).Consume(ctx, "chat", nil, h)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop after cancellation")
	}

	assert.Equal(t, []string{"first"}, rec.tokens)
	assert.Equal(t, 1, rec.dones)
	assert.Empty(t, rec.errors)
}

func TestClient_ResolveEndpoint(t *testing.T) {
	c := NewClient("http://backend:8000/api/")
	assert.Equal(t, "http://backend:8000/api/chat/stream", c.resolve("/chat/stream"))
	assert.Equal(t, "http://other/x", c.resolve("http://other/x"))

	c = NewClient("")
	assert.Equal(t, "/chat", c.resolve("/chat"))
}
