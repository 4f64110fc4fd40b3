package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"agentmailcli/internal/call"
	"agentmailcli/internal/config"
	"agentmailcli/internal/render"
	"agentmailcli/internal/session"
)

// selfPID stands in for the invoking process; nothing runs with it.
const selfPID = 99999998

type recordedCall struct {
	Tool      string
	Arguments map[string]any
	Header    http.Header
}

// fakeServer answers tools/call requests with the result produced by reply
// and records every request it sees.
type fakeServer struct {
	*httptest.Server
	mu    sync.Mutex
	calls []recordedCall
}

func newFakeServer(t *testing.T, reply func(tool string, args map[string]any) string) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Params struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			} `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fs.mu.Lock()
		fs.calls = append(fs.calls, recordedCall{Tool: req.Params.Name, Arguments: req.Params.Arguments, Header: r.Header.Clone()})
		fs.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":`+reply(req.Params.Name, req.Params.Arguments)+`}`)
	}))
	t.Cleanup(fs.Close)
	t.Setenv("AGENT_MAIL_URL", fs.URL)
	return fs
}

func (fs *fakeServer) requests() []recordedCall {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]recordedCall(nil), fs.calls...)
}

// testOptions isolates a run from the user's environment and files.
func testOptions(t *testing.T) Options {
	t.Helper()
	for _, name := range []string{"AGENT_MAIL_URL", "AGENT_MAIL_TOKEN", "AGENT_MAIL_TIMEOUT", "AGENT_MAIL_DEBUG"} {
		t.Setenv(name, "")
	}
	dir := t.TempDir()
	return Options{
		ConfigPaths: &config.Paths{
			ConfigFile: filepath.Join(dir, "config"),
			TokenFile:  filepath.Join(dir, "token"),
		},
		Cwd:         filepath.Join(dir, "repo"),
		SessionsDir: filepath.Join(dir, "sessions"),
		PID:         selfPID,
	}
}

func run(opts Options, args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), args, &stdout, &stderr, opts)
	return code, stdout.String(), stderr.String()
}

func TestRun_UnknownCommandSendsNothing(t *testing.T) {
	opts := testOptions(t)
	srv := newFakeServer(t, func(string, map[string]any) string { return "{}" })

	code, stdout, stderr := run(opts, "frobnicate")

	if code != call.ExitUsage {
		t.Errorf("Expected exit %d, got %d", call.ExitUsage, code)
	}
	if stdout != "" {
		t.Errorf("Expected empty stdout, got %q", stdout)
	}
	if stderr != "Error: unknown command: frobnicate\n" {
		t.Errorf("Unexpected stderr %q", stderr)
	}
	if n := len(srv.requests()); n != 0 {
		t.Errorf("Expected no requests, got %d", n)
	}
}

func TestRun_ValidationSendsNothing(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing positional", []string{"inbox"}},
		{"missing required flag", []string{"send", "--to", "RedStone", "--subject", "s", "--from", "BlueLake"}},
		{"unknown flag", []string{"health", "--verbose"}},
		{"malformed int", []string{"inbox", "BlueLake", "--limit", "many"}},
		{"group without subcommand", []string{"session"}},
		{"unknown subcommand", []string{"session", "restart"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(t)
			srv := newFakeServer(t, func(string, map[string]any) string { return "{}" })

			code, _, stderr := run(opts, tt.args...)
			if code != call.ExitUsage {
				t.Errorf("Expected exit %d, got %d (%s)", call.ExitUsage, code, stderr)
			}
			if !strings.HasPrefix(stderr, "Error: ") {
				t.Errorf("Expected an Error line, got %q", stderr)
			}
			if n := len(srv.requests()); n != 0 {
				t.Errorf("Expected no requests, got %d", n)
			}
		})
	}
}

func TestRun_InboxJSON(t *testing.T) {
	opts := testOptions(t)
	canned := `[{"id":1,"subject":"a"},{"id":2,"subject":"b"},{"id":3,"subject":"c"},{"id":4,"subject":"d"},{"id":5,"subject":"e"}]`
	srv := newFakeServer(t, func(string, map[string]any) string { return canned })

	code, stdout, stderr := run(opts, "inbox", "BlueLake", "--limit", "5", "--json")

	if code != call.ExitOK {
		t.Fatalf("Expected exit 0, got %d: %s", code, stderr)
	}
	var got, want []any
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("Expected JSON array on stdout, got %q: %v", stdout, err)
	}
	json.Unmarshal([]byte(canned), &want)
	if len(got) != 5 {
		t.Errorf("Expected 5 messages, got %d", len(got))
	}
	gotJSON, _ := json.Marshal(got)
	wantJSON, _ := json.Marshal(want)
	if !bytes.Equal(gotJSON, wantJSON) {
		t.Errorf("Expected canned payload\n got: %s\nwant: %s", gotJSON, wantJSON)
	}

	reqs := srv.requests()
	if len(reqs) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(reqs))
	}
	if reqs[0].Tool != "fetch_inbox" {
		t.Errorf("Expected fetch_inbox, got %q", reqs[0].Tool)
	}
	if reqs[0].Arguments["agent_name"] != "BlueLake" || reqs[0].Arguments["limit"] != float64(5) {
		t.Errorf("Unexpected arguments %v", reqs[0].Arguments)
	}
	if reqs[0].Arguments["project_key"] != opts.Cwd {
		t.Errorf("Expected project_key %q, got %v", opts.Cwd, reqs[0].Arguments["project_key"])
	}
}

func TestRun_InboxText(t *testing.T) {
	opts := testOptions(t)
	newFakeServer(t, func(string, map[string]any) string {
		return `[{"id":9,"from":"RedStone","subject":"Review","importance":"urgent","created_ts":"2026-02-03T04:05:06.789Z"}]`
	})

	code, stdout, _ := run(opts, "inbox", "BlueLake")
	if code != call.ExitOK {
		t.Fatalf("Expected exit 0, got %d", code)
	}
	for _, want := range []string{"RedStone", "Review", "urgent", "2026-02-03T04:05:06"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("Expected %q in output:\n%s", want, stdout)
		}
	}
}

func TestRun_TimeoutFromEnv(t *testing.T) {
	opts := testOptions(t)
	release := make(chan struct{})
	var requests int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
		io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":{}}`)
	}))
	defer srv.Close()
	defer close(release)
	t.Setenv("AGENT_MAIL_URL", srv.URL)
	t.Setenv("AGENT_MAIL_TIMEOUT", "2")

	start := time.Now()
	code, stdout, _ := run(opts, "health", "--json")
	elapsed := time.Since(start)

	if code != call.ExitTimeout {
		t.Errorf("Expected exit %d, got %d", call.ExitTimeout, code)
	}
	if elapsed < 2*time.Second || elapsed > 4*time.Second {
		t.Errorf("Expected to give up after about 2s, took %s", elapsed)
	}
	var doc map[string]map[string]any
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		t.Fatalf("Expected JSON error document, got %q", stdout)
	}
	if doc["error"]["kind"] != string(call.KindTimeout) {
		t.Errorf("Expected Timeout kind, got %v", doc["error"]["kind"])
	}
	mu.Lock()
	defer mu.Unlock()
	if requests != 1 {
		t.Errorf("Expected exactly one request, got %d", requests)
	}
}

func TestRun_TokenFile(t *testing.T) {
	opts := testOptions(t)
	if err := os.WriteFile(opts.ConfigPaths.TokenFile, []byte("abc123\n"), 0600); err != nil {
		t.Fatal(err)
	}
	srv := newFakeServer(t, func(string, map[string]any) string { return `{"status":"ok"}` })

	if code, _, stderr := run(opts, "health"); code != call.ExitOK {
		t.Fatalf("Expected exit 0, got %d: %s", code, stderr)
	}
	reqs := srv.requests()
	if len(reqs) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(reqs))
	}
	if got := reqs[0].Header.Get("Authorization"); got != "Bearer abc123" {
		t.Errorf("Expected \"Bearer abc123\", got %q", got)
	}
}

func TestRun_ConfigFileURL(t *testing.T) {
	opts := testOptions(t)
	srv := newFakeServer(t, func(string, map[string]any) string { return `{"status":"ok"}` })
	t.Setenv("AGENT_MAIL_URL", "")
	content := "# agent-mail\nurl = " + srv.URL + "\ntimeout=10\n"
	if err := os.WriteFile(opts.ConfigPaths.ConfigFile, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	code, stdout, _ := run(opts, "health")
	if code != call.ExitOK {
		t.Fatalf("Expected exit 0, got %d", code)
	}
	if stdout != "Server status: ok\n" {
		t.Errorf("Unexpected output %q", stdout)
	}
	if len(srv.requests()) != 1 {
		t.Error("Expected the request to reach the URL from the config file")
	}
}

func TestRun_UnreadableConfigFileIsSkipped(t *testing.T) {
	opts := testOptions(t)
	srv := newFakeServer(t, func(string, map[string]any) string { return `{"status":"ok"}` })
	opts.ConfigPaths.ConfigFile = t.TempDir()

	code, _, stderr := run(opts, "health")
	if code != call.ExitOK {
		t.Fatalf("Expected exit 0, got %d: %s", code, stderr)
	}
	if len(srv.requests()) != 1 {
		t.Error("Expected the request to be sent")
	}
}

func TestRun_MalformedTimeoutIsConfigError(t *testing.T) {
	opts := testOptions(t)
	srv := newFakeServer(t, func(string, map[string]any) string { return "{}" })
	t.Setenv("AGENT_MAIL_TIMEOUT", "soon")

	code, _, stderr := run(opts, "health")
	if code != call.ExitConfig {
		t.Errorf("Expected exit %d, got %d", call.ExitConfig, code)
	}
	if !strings.HasPrefix(stderr, "Error: ") {
		t.Errorf("Expected Error line, got %q", stderr)
	}
	if len(srv.requests()) != 0 {
		t.Error("Expected no request with invalid configuration")
	}
}

func TestRun_FailureExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode int
		wantKind call.Kind
	}{
		{"tool error", 200, `{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"unknown agent"}],"isError":true}}`, call.ExitTool, call.KindTool},
		{"server error", 503, `unavailable`, call.ExitServer, call.KindServer},
		{"protocol error", 200, `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"Invalid params"}}`, call.ExitProtocol, call.KindProtocol},
		{"malformed response", 200, `ok`, call.ExitProtocol, call.KindMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(t)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()
			t.Setenv("AGENT_MAIL_URL", srv.URL)

			code, stdout, stderr := run(opts, "whoami", "BlueLake", "--json")
			if code != tt.wantCode {
				t.Errorf("Expected exit %d, got %d", tt.wantCode, code)
			}
			var doc struct {
				Error struct {
					Kind    call.Kind `json:"kind"`
					Message string    `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
				t.Fatalf("Expected JSON error on stdout, got %q: %v", stdout, err)
			}
			if doc.Error.Kind != tt.wantKind {
				t.Errorf("Expected kind %s, got %s", tt.wantKind, doc.Error.Kind)
			}
			if doc.Error.Message == "" {
				t.Error("Expected a message")
			}
			if stderr != "" {
				t.Errorf("Expected empty stderr in JSON mode, got %q", stderr)
			}
		})
	}
}

func TestRun_NetworkError(t *testing.T) {
	opts := testOptions(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	t.Setenv("AGENT_MAIL_URL", srv.URL)

	code, _, stderr := run(opts, "health")
	if code != call.ExitNetwork {
		t.Errorf("Expected exit %d, got %d", call.ExitNetwork, code)
	}
	if !strings.HasPrefix(stderr, "Error: cannot reach "+srv.URL) {
		t.Errorf("Unexpected stderr %q", stderr)
	}
}

func TestRun_DebugLogging(t *testing.T) {
	opts := testOptions(t)
	newFakeServer(t, func(string, map[string]any) string { return `{"status":"ok"}` })
	t.Setenv("AGENT_MAIL_DEBUG", "true")

	code, _, stderr := run(opts, "health")
	if code != call.ExitOK {
		t.Fatalf("Expected exit 0, got %d", code)
	}
	if !strings.Contains(stderr, "[agent-mail] ") || !strings.Contains(stderr, "tool=health_check") {
		t.Errorf("Expected debug log on stderr, got %q", stderr)
	}
}

func TestRun_BodyFromStdin(t *testing.T) {
	opts := testOptions(t)
	opts.Stdin = strings.NewReader("piped body\n")
	srv := newFakeServer(t, func(string, map[string]any) string { return `{"id":3}` })

	code, _, stderr := run(opts, "send", "--to", "RedStone", "--subject", "hi", "--from", "BlueLake")
	if code != call.ExitOK {
		t.Fatalf("Expected exit 0, got %d: %s", code, stderr)
	}
	reqs := srv.requests()
	if len(reqs) != 1 || reqs[0].Arguments["body_md"] != "piped body" {
		t.Errorf("Expected body from stdin, got %+v", reqs)
	}
}

func TestRun_EmptyStdinSendsNothing(t *testing.T) {
	opts := testOptions(t)
	opts.Stdin = strings.NewReader("")
	srv := newFakeServer(t, func(string, map[string]any) string { return `{"id":3}` })

	code, _, stderr := run(opts, "send", "--to", "RedStone", "--subject", "hi", "--from", "BlueLake")
	if code != call.ExitUsage {
		t.Errorf("Expected exit %d, got %d", call.ExitUsage, code)
	}
	if !strings.Contains(stderr, "--body") {
		t.Errorf("Expected error naming --body, got %q", stderr)
	}
	if n := len(srv.requests()); n != 0 {
		t.Errorf("Expected no requests, got %d", n)
	}
}

func TestRun_InboxStatusQuietWhenEmpty(t *testing.T) {
	opts := testOptions(t)
	srv := newFakeServer(t, func(string, map[string]any) string {
		return `{"scope":"project","recent_message_count":0}`
	})

	code, stdout, stderr := run(opts, "inbox-status")
	if code != call.ExitOK {
		t.Fatalf("Expected exit 0, got %d: %s", code, stderr)
	}
	if stdout != "" {
		t.Errorf("Expected no output, got %q", stdout)
	}
	reqs := srv.requests()
	if len(reqs) != 1 || reqs[0].Tool != "inbox_status" || reqs[0].Arguments["recent_seconds"] != float64(3600) {
		t.Errorf("Unexpected requests %+v", reqs)
	}
}

func TestRun_NoArguments(t *testing.T) {
	opts := testOptions(t)

	code, stdout, stderr := run(opts)
	if code != call.ExitUsage {
		t.Errorf("Expected exit %d, got %d", call.ExitUsage, code)
	}
	if stdout != "" {
		t.Errorf("Expected empty stdout, got %q", stdout)
	}
	if !strings.Contains(stderr, "USAGE") || !strings.Contains(stderr, "inbox") {
		t.Errorf("Expected root usage on stderr, got %q", stderr)
	}
}

func TestRun_Help(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"root", []string{"--help"}, []string{"USAGE", "inbox", "session", "version"}},
		{"command", []string{"inbox", "--help"}, []string{"agent-mail inbox <agent> [flags]", "-limit", "fetch_inbox"}},
		{"short flag", []string{"reserve", "-h"}, []string{"agent-mail reserve <paths>...", "-ttl"}},
		{"group", []string{"session", "--help"}, []string{"start", "heartbeat", "status", "end"}},
		{"subcommand", []string{"session", "heartbeat", "-h"}, []string{"agent-mail session heartbeat <agent>", "-ttl"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(t)
			srv := newFakeServer(t, func(string, map[string]any) string { return "{}" })

			code, stdout, _ := run(opts, tt.args...)
			if code != call.ExitOK {
				t.Errorf("Expected exit 0, got %d", code)
			}
			for _, want := range tt.want {
				if !strings.Contains(stdout, want) {
					t.Errorf("Expected %q in help:\n%s", want, stdout)
				}
			}
			if len(srv.requests()) != 0 {
				t.Error("Help must not make a request")
			}
		})
	}
}

func TestRun_Version(t *testing.T) {
	code, stdout, _ := run(testOptions(t), "version")
	if code != call.ExitOK || stdout != "agent-mail "+Version+"\n" {
		t.Errorf("Unexpected version output %d %q", code, stdout)
	}
}

func TestSplitGlobal(t *testing.T) {
	rest, mode, help := splitGlobal([]string{"-j", "search", "--", "--json"})
	if mode != render.JSON || help {
		t.Errorf("Expected JSON mode without help, got mode=%d help=%v", mode, help)
	}
	if strings.Join(rest, " ") != "search -- --json" {
		t.Errorf("Expected flags after -- kept, got %v", rest)
	}
}

func TestSplitGlobal_FlagValuesKept(t *testing.T) {
	tests := []struct {
		args     []string
		wantRest string
		wantJSON bool
		wantHelp bool
	}{
		{[]string{"send", "--subject", "-h", "--json"}, "send --subject -h", true, false},
		{[]string{"send", "-s", "--json", "-h"}, "send -s --json", false, true},
		{[]string{"send", "--subject=x", "-j"}, "send --subject=x", true, false},
		{[]string{"inbox", "BlueLake", "--urgent", "-h"}, "inbox BlueLake --urgent", false, true},
		{[]string{"--json", "session", "end", "BlueLake", "-p", "-j"}, "session end BlueLake -p -j", true, false},
	}

	for _, tt := range tests {
		rest, mode, help := splitGlobal(tt.args)
		if got := strings.Join(rest, " "); got != tt.wantRest {
			t.Errorf("%v: expected rest %q, got %q", tt.args, tt.wantRest, got)
		}
		if (mode == render.JSON) != tt.wantJSON || help != tt.wantHelp {
			t.Errorf("%v: expected json=%v help=%v, got mode=%d help=%v", tt.args, tt.wantJSON, tt.wantHelp, mode, help)
		}
	}
}

func TestRun_DashValueIsNotHelp(t *testing.T) {
	opts := testOptions(t)
	srv := newFakeServer(t, func(string, map[string]any) string { return `{"id":3}` })

	code, stdout, stderr := run(opts, "send", "--to", "RedStone", "--subject", "-h", "--from", "BlueLake", "--body", "x")
	if code != call.ExitOK {
		t.Fatalf("Expected exit 0, got %d: %s", code, stderr)
	}
	if strings.Contains(stdout, "USAGE") {
		t.Errorf("Expected no help output, got %q", stdout)
	}
	reqs := srv.requests()
	if len(reqs) != 1 || reqs[0].Arguments["subject"] != "-h" {
		t.Errorf("Expected subject -h sent, got %+v", reqs)
	}
}

func writeTestSession(t *testing.T, opts Options, agent string, pid int) {
	t.Helper()
	store := session.NewStore(opts.SessionsDir)
	if _, err := store.Write(opts.Cwd, agent, time.Minute, pid); err != nil {
		t.Fatal(err)
	}
}
