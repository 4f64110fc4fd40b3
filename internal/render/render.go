// Package render writes a call result as human text or as JSON.
//
// JSON mode prints the tool's data, or an {"error": {...}} document, on
// stdout. Text mode formats successes per command and writes failures as a
// single "Error: <message>" line on stderr. Rendering never fails: a payload
// a formatter does not recognise is dumped as indented JSON.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"agentmailcli/internal/call"
	"agentmailcli/internal/registry"
	"agentmailcli/internal/rpc"

	"github.com/charmbracelet/lipgloss"
)

// Mode selects the output format for a whole invocation.
type Mode int

// Modes.
const (
	Text Mode = iota
	JSON
)

// Renderer writes results to Stdout and Stderr.
type Renderer struct {
	Stdout io.Writer
	Stderr io.Writer
	Mode   Mode
	Now    func() time.Time // used for relative times; defaults to time.Now

	out *lipgloss.Renderer
	err *lipgloss.Renderer
}

// New returns a Renderer for mode. Styles follow each writer's color
// support, so output to a pipe or buffer is plain.
func New(stdout, stderr io.Writer, mode Mode) *Renderer {
	return &Renderer{
		Stdout: stdout,
		Stderr: stderr,
		Mode:   mode,
		Now:    time.Now,
		out:    lipgloss.NewRenderer(stdout),
		err:    lipgloss.NewRenderer(stderr),
	}
}

func (r *Renderer) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func (r *Renderer) stdoutStyles() *lipgloss.Renderer {
	if r.out == nil {
		r.out = lipgloss.NewRenderer(r.Stdout)
	}
	return r.out
}

func (r *Renderer) stderrStyles() *lipgloss.Renderer {
	if r.err == nil {
		r.err = lipgloss.NewRenderer(r.Stderr)
	}
	return r.err
}

// Render writes res for the command spec invoked as inv.
func (r *Renderer) Render(spec registry.CommandSpec, inv call.Invocation, res call.Result) {
	if !res.OK() {
		r.Error(res.Err)
		return
	}

	data := rpc.Unwrap(res.Payload)
	if r.Mode == JSON {
		writeJSON(r.Stdout, data)
		return
	}
	r.text(spec, inv, data)
}

// Error writes a failure in the current mode.
func (r *Renderer) Error(e *call.Error) {
	if r.Mode == JSON {
		writeJSON(r.Stdout, errorDocument(e))
		return
	}
	prefix := r.stderrStyles().NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Render("Error:")
	fmt.Fprintf(r.Stderr, "%s %s\n", prefix, strings.Join(strings.Fields(e.Message), " "))
}

// Warn writes a non-fatal note to stderr in either mode.
func (r *Renderer) Warn(format string, args ...any) {
	fmt.Fprintf(r.Stderr, "warning: "+format+"\n", args...)
}

func errorDocument(e *call.Error) []byte {
	type errorBody struct {
		Kind    call.Kind       `json:"kind"`
		Message string          `json:"message"`
		Detail  json.RawMessage `json:"detail"`
	}
	detail := e.Detail
	if len(detail) == 0 || !json.Valid(detail) {
		detail = json.RawMessage("null")
	}
	doc, _ := json.Marshal(map[string]errorBody{
		"error": {Kind: e.Kind, Message: e.Message, Detail: detail},
	})
	return doc
}

// writeJSON indents data onto w. Data that is not valid JSON is written as
// a JSON string so the output always parses.
func writeJSON(w io.Writer, data []byte) {
	var buf bytes.Buffer
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("null")
	}
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		buf.Reset()
		quoted, _ := json.Marshal(string(data))
		buf.Write(quoted)
	}
	buf.WriteByte('\n')
	_, _ = w.Write(buf.Bytes())
}
