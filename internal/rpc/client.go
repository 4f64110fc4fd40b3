// Package rpc performs agent-mail tool calls over JSON-RPC 2.0 on HTTP.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agentmailcli/internal/call"
	"agentmailcli/internal/config"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// maxBody bounds how much of a response body is read.
const maxBody = 32 << 20

// Client sends tool calls to one server. It never retries.
type Client struct {
	url        string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *log.Logger
	nextID     int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its own Timeout, if any, still
// applies in addition to the configured deadline.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the request logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a Client for cfg.
func NewClient(cfg config.Config, opts ...Option) *Client {
	c := &Client{
		url:        cfg.URL,
		token:      cfg.Token,
		timeout:    cfg.Timeout(),
		httpClient: &http.Client{},
		logger:     log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call performs inv as a single HTTP round trip bounded by the configured
// timeout.
func (c *Client) Call(ctx context.Context, inv call.Invocation) call.Result {
	body, err := c.encode(inv)
	if err != nil {
		return call.Failure(call.Errorf(call.KindMalformedArgument, "encode arguments: %v", err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return call.Failure(call.Errorf(call.KindNetwork, "build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	c.logger.Printf("POST %s tool=%s", c.url, inv.Tool)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return call.Failure(c.transportError(ctx, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return call.Failure(c.transportError(ctx, err))
	}
	c.logger.Printf("%s tool=%s status=%d bytes=%d in %s", c.url, inv.Tool, resp.StatusCode, len(data), time.Since(start).Round(time.Millisecond))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return call.Failure(serverError(resp.StatusCode, data))
	}

	if isEventStream(resp.Header.Get("Content-Type")) {
		data = lastEvent(data)
	}
	return interpret(data)
}

func (c *Client) encode(inv call.Invocation) ([]byte, error) {
	c.nextID++
	args := inv.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return json.Marshal(request{
		JSONRPC: jsonrpcVersion,
		ID:      c.nextID,
		Method:  methodToolCall,
		Params:  &mcp.CallToolParams{Name: inv.Tool, Arguments: args},
	})
}

// transportError classifies a failure to get a response.
func (c *Client) transportError(ctx context.Context, err error) *call.Error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return call.Errorf(call.KindTimeout, "request timed out after %s", c.timeout)
	}
	return call.Errorf(call.KindNetwork, "cannot reach %s: %v", c.url, unwrapURLError(err))
}

// unwrapURLError drops the "Post \"url\":" prefix net/http adds; the URL is
// already part of the message.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err
	}
	return err
}

func serverError(status int, body []byte) *call.Error {
	msg := fmt.Sprintf("server returned HTTP %d", status)
	if text := http.StatusText(status); text != "" {
		msg += " " + text
	}
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		if snippet := strings.TrimSpace(string(trimmed)); snippet != "" {
			if len(snippet) > 200 {
				snippet = snippet[:200] + "..."
			}
			msg += ": " + snippet
		}
		return call.Errorf(call.KindServer, "%s", msg)
	}
	return call.Errorf(call.KindServer, "%s", msg).WithDetail(trimmed)
}

// interpret maps a 2xx response body onto a result.
func interpret(body []byte) call.Result {
	env, ok := decodeResponse(body)
	if !ok {
		return call.Failure(call.Errorf(call.KindMalformedResponse, "malformed response: expected a JSON-RPC object with result or error"))
	}

	if env.hasError {
		var e rpcError
		if err := json.Unmarshal(env.err, &e); err != nil {
			return call.Failure(call.Errorf(call.KindMalformedResponse, "malformed error member: %v", err))
		}
		msg := e.Message
		if msg == "" {
			msg = "unknown error"
		}
		return call.Failure(call.Errorf(call.KindProtocol, "%s", msg).WithDetail(env.err))
	}

	if msg, failed := toolFailure(env.result); failed {
		return call.Failure(call.Errorf(call.KindTool, "%s", msg).WithDetail(env.result))
	}
	return call.Success(env.result)
}

func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/event-stream"
}
