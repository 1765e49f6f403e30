package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	defaultChunkSize = 4096
	maxErrorBodySize = 64 << 10
)

// Client issues streaming POST requests against the assistant backend and
// decodes the text/event-stream response.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Headers    http.Header
	Logger     *log.Logger
	ChunkSize  int
}

// NewClient creates a stream client. Relative endpoints passed to Stream are
// resolved against baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
		Headers:    http.Header{},
		Logger:     log.New(os.Stdout, "[STREAM] ", log.LstdFlags),
		ChunkSize:  defaultChunkSize,
	}
}

// WithHTTPClient sets the underlying HTTP client
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.HTTPClient = hc
	return c
}

// WithHeader adds a header sent with every request
func (c *Client) WithHeader(key, value string) *Client {
	c.Headers.Set(key, value)
	return c
}

// WithLogger sets the logger
func (c *Client) WithLogger(logger *log.Logger) *Client {
	c.Logger = logger
	return c
}

// Stream posts payload as JSON to endpoint and returns the decoded events in
// wire order. The channel is closed after the terminal event (Done or Error).
// Transport failures are reported as Error events, never as panics or
// returned errors. Cancelling ctx ends the stream as a successful completion;
// if the consumer is not reading at that moment the Done event may be elided,
// in which case the channel close itself is the completion signal.
func (c *Client) Stream(ctx context.Context, endpoint string, payload any) <-chan Event {
	events := make(chan Event, 1)

	go func() {
		defer close(events)

		emit := func(evt Event) bool {
			select {
			case events <- evt:
				return true
			case <-ctx.Done():
				select {
				case events <- DoneEvent():
				default:
				}
				return false
			}
		}

		c.run(ctx, endpoint, payload, emit)
	}()

	return events
}

func (c *Client) run(ctx context.Context, endpoint string, payload any, emit func(Event) bool) {
	body, err := encodePayload(payload)
	if err != nil {
		emit(ErrorEvent(fmt.Sprintf("failed to marshal request: %v", err)))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(endpoint), bytes.NewReader(body))
	if err != nil {
		emit(ErrorEvent(fmt.Sprintf("failed to create request: %v", err)))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for key, values := range c.Headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			c.logf("Request aborted before response: %v", ctx.Err())
			emit(DoneEvent())
			return
		}
		emit(ErrorEvent(fmt.Sprintf("request failed: %v", err)))
		return
	}
	if resp.Body != nil {
		defer resp.Body.Close()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var raw []byte
		if resp.Body != nil {
			raw, _ = io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		}
		msg := statusMessage(resp.StatusCode, raw)
		c.logf("Backend returned status %d: %s", resp.StatusCode, msg)
		emit(ErrorEvent(msg))
		return
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		emit(ErrorEvent(fmt.Sprintf("response from %s has no body (status %d)", req.URL.Path, resp.StatusCode)))
		return
	}

	c.read(ctx, resp.Body, emit)
}

// read is the sequential read loop: the only suspension point of a stream.
func (c *Client) read(ctx context.Context, body io.Reader, emit func(Event) bool) {
	size := c.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}
	buf := make([]byte, size)
	dec := NewDecoder()

	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, evt := range dec.Feed(buf[:n]) {
				if !emit(evt) || evt.Terminal() {
					return
				}
			}
		}
		if err == nil {
			continue
		}

		if errors.Is(err, io.EOF) {
			if pending := dec.Pending(); pending > 0 {
				c.logf("Discarding %d trailing bytes of an incomplete record", pending)
			}
			emit(DoneEvent())
			return
		}
		if ctx.Err() != nil {
			emit(DoneEvent())
			return
		}
		emit(ErrorEvent(fmt.Sprintf("stream read failed: %v", err)))
		return
	}
}

func (c *Client) resolve(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") || c.BaseURL == "" {
		return endpoint
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

func (c *Client) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	default:
		return json.Marshal(payload)
	}
}

// statusMessage picks the best diagnostic for a non-success response: a
// structured error field, then the raw body, then a generic status line.
func statusMessage(status int, body []byte) string {
	text := strings.TrimSpace(string(body))
	if text != "" && gjson.Valid(text) {
		parsed := gjson.Parse(text)
		for _, field := range []string{"detail", "message", "error.message", "error"} {
			if v := parsed.Get(field); v.Exists() && v.String() != "" {
				return v.String()
			}
		}
	}
	if text != "" {
		return text
	}
	return fmt.Sprintf("request failed with status %d", status)
}
