package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"agentmailcli/internal/registry"

	"github.com/peterbourgon/ff/v3/ffcli"
)

const rootHelp = `agent-mail talks to an agent mail server on behalf of coding agents.

Each command makes one tool call (JSON-RPC tools/call over HTTP) and prints
the result as text, or as JSON with --json.

Configuration, in order of precedence:
  AGENT_MAIL_URL, AGENT_MAIL_TOKEN, AGENT_MAIL_TIMEOUT, AGENT_MAIL_DEBUG
  ~/.config/agent-mail/config    key=value lines (url, timeout, debug)
  ~/.config/agent-mail/token     bearer token

Exit codes:
  0  success             5  timeout
  1  tool error          6  server error
  2  usage error         7  protocol error
  3  config error        8  session conflict or no session
  4  network error

Use "agent-mail <command> --help" for more information about a command.`

// rootCommand builds the ffcli tree for the registry. It is used for help
// text only; arguments are bound by package bind.
func rootCommand() *ffcli.Command {
	fs := flag.NewFlagSet("agent-mail", flag.ContinueOnError)
	addGlobalFlags(fs)

	root := &ffcli.Command{
		Name:       "agent-mail",
		ShortUsage: "agent-mail [--json] <command> [arguments] [flags]",
		LongHelp:   rootHelp,
		FlagSet:    fs,
	}

	groups := map[string]*ffcli.Command{}
	for _, spec := range registry.All() {
		cmd := command(spec)
		group, sub, ok := strings.Cut(spec.Name, " ")
		if !ok {
			root.Subcommands = append(root.Subcommands, cmd)
			continue
		}
		g, seen := groups[group]
		if !seen {
			g = groupCommand(group)
			groups[group] = g
			root.Subcommands = append(root.Subcommands, g)
		}
		cmd.Name = sub
		g.Subcommands = append(g.Subcommands, cmd)
	}

	root.Subcommands = append(root.Subcommands, &ffcli.Command{
		Name:      "version",
		ShortHelp: "Print the agent-mail version",
		FlagSet:   flag.NewFlagSet("agent-mail version", flag.ContinueOnError),
	})
	return root
}

func groupCommand(name string) *ffcli.Command {
	return &ffcli.Command{
		Name:       name,
		ShortUsage: "agent-mail " + name + " <subcommand> [arguments] [flags]",
		ShortHelp:  "Manage agent " + name + "s",
		FlagSet:    flag.NewFlagSet("agent-mail "+name, flag.ContinueOnError),
	}
}

// command describes spec as an ffcli command. The flag set mirrors the
// spec's flags so ffcli can list them with their defaults.
func command(spec registry.CommandSpec) *ffcli.Command {
	fs := flag.NewFlagSet("agent-mail "+spec.Name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var positionals []string
	for _, p := range spec.Params {
		if p.Positional {
			positionals = append(positionals, fmt.Sprintf("  <%s>  %s", p.Flag, p.Help))
			continue
		}
		for _, name := range append([]string{p.Flag}, p.Aliases...) {
			defineFlag(fs, p, name, p.Help)
		}
		if p.Short != "" {
			defineFlag(fs, p, p.Short, p.Help+" (shorthand)")
		}
	}

	var long strings.Builder
	if len(positionals) > 0 {
		long.WriteString("ARGUMENTS\n")
		long.WriteString(strings.Join(positionals, "\n"))
	}
	if spec.Tool != "" {
		if long.Len() > 0 {
			long.WriteString("\n\n")
		}
		fmt.Fprintf(&long, "Calls the %s tool.", spec.Tool)
	}

	return &ffcli.Command{
		Name:       spec.Name,
		ShortUsage: spec.Usage(),
		ShortHelp:  spec.Summary,
		LongHelp:   long.String(),
		FlagSet:    fs,
	}
}

func defineFlag(fs *flag.FlagSet, p registry.ParamSpec, name, usage string) {
	if p.Required {
		usage += " (required)"
	}
	switch p.Type {
	case registry.Int:
		def, _ := p.Default.(int)
		fs.Int(name, def, usage)
	case registry.Bool:
		// A negating flag is off unless given, whatever the key defaults to.
		def, _ := p.Default.(bool)
		if p.Negate {
			def = false
		}
		fs.Bool(name, def, usage)
	default:
		def, _ := p.Default.(string)
		fs.String(name, def, usage)
	}
}

func addGlobalFlags(fs *flag.FlagSet) {
	fs.Bool("json", false, "print results as JSON")
	fs.Bool("j", false, "print results as JSON (shorthand)")
}

// find returns the help node for a command path such as ["session", "end"].
func find(root *ffcli.Command, path []string) *ffcli.Command {
	cur := root
	for _, name := range path {
		var next *ffcli.Command
		for _, sub := range cur.Subcommands {
			if sub.Name == name {
				next = sub
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

// Help writes usage for the command path, or for agent-mail itself when
// path is empty, to w. It reports whether the path named a command.
func Help(w io.Writer, path ...string) bool {
	c := find(rootCommand(), path)
	if c == nil {
		return false
	}
	fmt.Fprint(w, ffcli.DefaultUsageFunc(c))
	return true
}
