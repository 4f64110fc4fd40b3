// Package cli runs one agent-mail invocation: resolve configuration, match
// the subcommand, bind its arguments, make the tool call (or serve a local
// session command) and render the result.
package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"agentmailcli/internal/bind"
	"agentmailcli/internal/call"
	"agentmailcli/internal/config"
	"agentmailcli/internal/registry"
	"agentmailcli/internal/render"
	"agentmailcli/internal/rpc"
	"agentmailcli/internal/session"
)

// Version is the agent-mail version, set at build time with
// -ldflags "-X agentmailcli/internal/cli.Version=...".
var Version = "dev"

// Options configures Run. Zero values select the real environment; tests
// set them to isolate files, the working directory and the process.
type Options struct {
	ConfigPaths *config.Paths // nil means config.DefaultPaths()
	Cwd         string        // defaults to os.Getwd()
	SessionsDir string        // defaults to session.DefaultDir()
	PID         int           // session owner; defaults to the parent process
	Stdin       io.Reader     // source for "-" values; nil disables
	HTTPClient  *http.Client
	Now         func() time.Time
}

func (o Options) configPaths() config.Paths {
	if o.ConfigPaths != nil {
		return *o.ConfigPaths
	}
	return config.DefaultPaths()
}

func (o Options) cwd() string {
	if o.Cwd != "" {
		return o.Cwd
	}
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return wd
}

func (o Options) pid() int {
	if o.PID != 0 {
		return o.PID
	}
	return os.Getppid()
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Options) store() (*session.Store, error) {
	dir := o.SessionsDir
	if dir == "" {
		var err error
		if dir, err = session.DefaultDir(); err != nil {
			return nil, err
		}
	}
	return &session.Store{Dir: dir, Now: o.now}, nil
}

// Run executes the command line args and returns the process exit code.
//
// Contract:
//
//	agent-mail [--json|-j] [--help|-h] <command> [arguments] [flags]
//
// Behavior:
//  1. No command: root usage on stderr, exit 2 (usage on stdout, exit 0 with --help)
//  2. --help: usage for the named command on stdout, exit 0
//  3. Resolve configuration (ConfigError, exit 3)
//  4. Match the command (UnknownCommand, exit 2)
//  5. Bind arguments (validation errors, exit 2); nothing is sent on failure
//  6. Serve local session commands, or make exactly one tool call
//  7. Render the result; the exit code follows the result's error kind
func Run(ctx context.Context, args []string, stdout, stderr io.Writer, opts Options) int {
	args, mode, help := splitGlobal(args)
	r := render.New(stdout, stderr, mode)
	r.Now = opts.now

	if len(args) == 0 {
		if help {
			Help(stdout)
			return call.ExitOK
		}
		Help(stderr)
		return call.ExitUsage
	}

	if args[0] == "version" {
		fmt.Fprintf(stdout, "agent-mail %s\n", Version)
		return call.ExitOK
	}

	if help {
		if path := helpPath(args); path != nil && Help(stdout, path...) {
			return call.ExitOK
		}
	}

	cfg, err := config.Load(opts.configPaths())
	if err != nil {
		r.Error(call.Errorf(call.KindConfig, "%v", err))
		return call.ExitConfig
	}

	logger := log.New(io.Discard, "", 0)
	if cfg.Debug {
		logger = log.New(stderr, "[agent-mail] ", log.LstdFlags)
	}

	spec, rest, ok := registry.Match(args)
	if !ok {
		e := call.Errorf(call.KindUnknownCommand, "unknown command: %s", args[0])
		if registry.IsGroup(args[0]) {
			e = call.Errorf(call.KindUnknownCommand, "%s requires a subcommand; see agent-mail %s --help", args[0], args[0])
			if len(args) > 1 {
				e = call.Errorf(call.KindUnknownCommand, "unknown command: %s %s", args[0], args[1])
			}
		}
		r.Error(e)
		return e.Kind.ExitCode()
	}

	inv, bindErr := bind.Bind(spec, rest, bind.Options{Cwd: opts.cwd(), Stdin: opts.Stdin})
	if bindErr != nil {
		r.Error(bindErr)
		return bindErr.Kind.ExitCode()
	}
	logger.Printf("command=%q tool=%s", spec.Name, spec.Tool)

	var res call.Result
	if spec.LocalOnly {
		res = runLocal(spec, inv, opts)
	} else {
		res = runRemote(ctx, cfg, spec, inv, opts, logger, r)
	}

	r.Render(spec, inv, res)
	return res.ExitCode()
}

func runRemote(ctx context.Context, cfg config.Config, spec registry.CommandSpec, inv call.Invocation, opts Options, logger *log.Logger, r *render.Renderer) call.Result {
	var store *session.Store
	if spec.Format == registry.FormatRegister {
		s, err := opts.store()
		if err != nil {
			logger.Printf("sessions disabled: %v", err)
		} else {
			store = s
		}
	}

	if store != nil && !inv.LocalBool("force") {
		if e := checkConflict(store, inv, opts.pid()); e != nil {
			return call.Failure(e)
		}
	}

	clientOpts := []rpc.Option{rpc.WithLogger(logger)}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, rpc.WithHTTPClient(opts.HTTPClient))
	}
	res := rpc.NewClient(cfg, clientOpts...).Call(ctx, inv)

	if res.OK() && store != nil {
		if err := recordSession(store, inv, res.Payload, opts.pid()); err != nil {
			r.Warn("failed to record session: %v", err)
		}
	}
	return res
}

// splitGlobal removes the global flags from args. The value of a command
// flag (send --subject -h) is never taken for a global flag, and flags after
// a "--" terminator belong to the command and are left alone.
func splitGlobal(args []string) (rest []string, mode render.Mode, help bool) {
	spec, _, known := registry.Match(commandWords(args))
	rest = make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			rest = append(rest, args[i:]...)
			break
		}
		switch a {
		case "--json", "-json", "-j":
			mode = render.JSON
			continue
		case "--help", "-help", "-h":
			help = true
			continue
		}
		rest = append(rest, a)
		if known && takesValue(spec, a) && i+1 < len(args) {
			i++
			rest = append(rest, args[i])
		}
	}
	return rest, mode, help
}

// commandWords returns the tokens that can name a command.
func commandWords(args []string) []string {
	var words []string
	for _, a := range args {
		if a == "--" {
			break
		}
		if !strings.HasPrefix(a, "-") {
			words = append(words, a)
		}
	}
	return words
}

// takesValue reports whether tok is a flag of spec that consumes the next
// token as its value.
func takesValue(spec registry.CommandSpec, tok string) bool {
	if !strings.HasPrefix(tok, "-") || strings.Contains(tok, "=") {
		return false
	}
	p, ok := spec.Flag(strings.TrimLeft(tok, "-"))
	return ok && p.Type != registry.Bool
}

// helpPath returns the command words at the start of args that name a
// help node.
func helpPath(args []string) []string {
	if spec, _, ok := registry.Match(args); ok {
		return strings.Fields(spec.Name)
	}
	if registry.IsGroup(args[0]) {
		return []string{args[0]}
	}
	return nil
}
