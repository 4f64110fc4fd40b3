package rpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	jsonrpcVersion = "2.0"
	methodToolCall = "tools/call"
)

// request is the JSON-RPC 2.0 request envelope.
type request struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      int64               `json:"id"`
	Method  string              `json:"method"`
	Params  *mcp.CallToolParams `json:"params"`
}

// rpcError is the JSON-RPC 2.0 error member.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// response holds the members of a decoded response envelope. result and
// error are kept raw so that a present-but-null result is distinguishable
// from an absent one.
type response struct {
	result    json.RawMessage
	err       json.RawMessage
	hasResult bool
	hasError  bool
}

func decodeResponse(body []byte) (response, bool) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(body, &members); err != nil || members == nil {
		return response{}, false
	}
	var r response
	r.result, r.hasResult = members["result"]
	r.err, r.hasError = members["error"]
	if r.hasResult == r.hasError {
		return response{}, false
	}
	return r, true
}

// lastEvent extracts the data of the last event in a text/event-stream
// body. Multi-line data fields are joined with newlines.
func lastEvent(body []byte) []byte {
	var (
		last    []byte
		current []string
	)
	flush := func() {
		if len(current) > 0 {
			last = []byte(strings.Join(current, "\n"))
			current = nil
		}
	}

	s := bufio.NewScanner(bytes.NewReader(body))
	s.Buffer(make([]byte, 0, 64*1024), maxBody)
	for s.Scan() {
		line := s.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "data:"):
			current = append(current, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	flush()
	return last
}

// toolFailure reports whether payload is an MCP tool result flagged
// isError, and if so returns its text.
func toolFailure(payload json.RawMessage) (string, bool) {
	if _, ok := toolResultMembers(payload); !ok {
		return "", false
	}
	var res mcp.CallToolResult
	if err := json.Unmarshal(payload, &res); err != nil || !res.IsError {
		return "", false
	}
	msg := ContentText(res.Content)
	if msg == "" {
		msg = "tool reported an error"
	}
	return msg, true
}

// toolResultMembers returns the members of payload when it is an object
// carrying the MCP tool result members.
func toolResultMembers(payload json.RawMessage) (map[string]json.RawMessage, bool) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(payload, &members); err != nil {
		return nil, false
	}
	_, hasContent := members["content"]
	_, hasStructured := members["structuredContent"]
	return members, hasContent || hasStructured
}

// ContentText joins the text items of a tool result's content.
func ContentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Unwrap returns the tool's own data from an MCP tool result: its
// structuredContent (the lone "result" member when that is all it holds),
// else a text content that parses as JSON, else the text as a JSON string.
// Any other payload is returned unchanged.
func Unwrap(payload json.RawMessage) json.RawMessage {
	members, ok := toolResultMembers(payload)
	if !ok {
		return payload
	}

	if structured := bytes.TrimSpace(members["structuredContent"]); len(structured) > 0 && !bytes.Equal(structured, []byte("null")) {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(structured, &inner); err == nil && len(inner) == 1 {
			if result, ok := inner["result"]; ok {
				return result
			}
		}
		return structured
	}

	var res mcp.CallToolResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return payload
	}
	text := strings.TrimSpace(ContentText(res.Content))
	if text == "" {
		return payload
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text)
	}
	data, err := json.Marshal(text)
	if err != nil {
		return payload
	}
	return data
}
