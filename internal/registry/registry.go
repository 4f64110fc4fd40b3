// Package registry is the static table of agent-mail subcommands. Each entry
// is a plain data record naming the remote tool a subcommand invokes and the
// parameters it accepts; all entries share the same dispatch path.
package registry

import (
	"sort"
	"strings"

	"agentmailcli/internal/call"
)

// ParamType is the type a parameter value is bound as.
type ParamType int

// Parameter types.
const (
	String ParamType = iota
	Int
	Bool
	List
	// Path is a string resolved to an absolute path. When absent it defaults
	// to the working directory.
	Path
)

func (t ParamType) String() string {
	switch t {
	case Int:
		return "int"
	case Bool:
		return "bool"
	case List:
		return "list"
	case Path:
		return "path"
	default:
		return "string"
	}
}

// Format selects the text rendering for a command's result.
type Format int

// Text formats.
const (
	FormatGeneric Format = iota
	FormatInbox
	FormatSearch
	FormatContacts
	FormatHealth
	FormatRegister
	FormatSession
	FormatInboxStatus
	FormatAgents
	FormatDelete
	FormatPurge
)

// ParamSpec describes one flag or positional argument.
type ParamSpec struct {
	Flag       string // flag name without dashes; label for positionals
	Short      string // optional one-letter alias
	Aliases    []string
	Positional bool
	Required   bool
	Type       ParamType
	Key        string // argument key in the tool call
	Default    any    // sent when absent; nil leaves the key out
	Negate     bool   // bool presence flag that binds false
	Local      bool   // consumed by agent-mail, never sent
	Stdin      bool   // "-" or, when required and absent, piped stdin supplies the value
	Help       string
}

// Names returns every spelling of the flag, long names first.
func (p ParamSpec) Names() []string {
	names := append([]string{p.Flag}, p.Aliases...)
	if p.Short != "" {
		names = append(names, p.Short)
	}
	return names
}

// CommandSpec describes one subcommand.
type CommandSpec struct {
	Name      string // may be two words, e.g. "session start"
	Tool      string // remote tool name; empty for local commands
	Summary   string
	Params    []ParamSpec
	Format    Format
	LocalOnly bool // served without a network call
	// Adjust, when set, derives arguments from the bound values before the
	// call is made.
	Adjust func(call.Invocation)
}

// Flag finds the non-positional parameter spelled name (long, alias or short).
func (c CommandSpec) Flag(name string) (ParamSpec, bool) {
	for _, p := range c.Params {
		if p.Positional {
			continue
		}
		for _, n := range p.Names() {
			if n == name {
				return p, true
			}
		}
	}
	return ParamSpec{}, false
}

// Usage returns a one-line synopsis built from the parameters.
func (c CommandSpec) Usage() string {
	parts := []string{"agent-mail", c.Name}
	var hasFlags bool
	for _, p := range c.Params {
		switch {
		case p.Positional && p.Type == List && p.Required:
			parts = append(parts, "<"+p.Flag+">...")
		case p.Positional && p.Type == List:
			parts = append(parts, "[<"+p.Flag+">...]")
		case p.Positional && p.Required:
			parts = append(parts, "<"+p.Flag+">")
		case p.Positional:
			parts = append(parts, "[<"+p.Flag+">]")
		case p.Required:
			parts = append(parts, "--"+p.Flag+" <"+p.Type.String()+">")
		default:
			hasFlags = true
		}
	}
	if hasFlags {
		parts = append(parts, "[flags]")
	}
	return strings.Join(parts, " ")
}

func project(key string) ParamSpec {
	return ParamSpec{Flag: "project", Short: "p", Type: Path, Key: key, Help: "project path (default: current directory)"}
}

const (
	defaultProgram = "claude-code"
	defaultModel   = "claude-opus-4-5-20251101"
)

var commands = []CommandSpec{
	{
		Name:    "send",
		Tool:    "send_message",
		Summary: "Send a message to other agents",
		Params: []ParamSpec{
			{Flag: "to", Short: "t", Required: true, Type: List, Key: "to", Help: "recipient agent name (repeatable or comma separated)"},
			{Flag: "subject", Short: "s", Required: true, Key: "subject", Help: "message subject"},
			{Flag: "body", Short: "b", Required: true, Stdin: true, Key: "body_md", Help: "message body (Markdown); - reads stdin"},
			{Flag: "from", Short: "f", Required: true, Key: "sender_name", Help: "sender agent name"},
			{Flag: "cc", Type: List, Key: "cc", Help: "CC recipients"},
			{Flag: "bcc", Type: List, Key: "bcc", Help: "BCC recipients"},
			{Flag: "importance", Key: "importance", Default: "normal", Help: "message importance"},
			{Flag: "ack", Type: Bool, Key: "ack_required", Default: false, Help: "request acknowledgement"},
			{Flag: "thread", Key: "thread_id", Help: "thread ID to continue"},
			project("project_key"),
		},
	},
	{
		Name:    "reply",
		Tool:    "reply_message",
		Summary: "Reply to a message",
		Params: []ParamSpec{
			{Flag: "message_id", Positional: true, Required: true, Type: Int, Key: "message_id", Help: "message ID to reply to"},
			{Flag: "body", Short: "b", Required: true, Stdin: true, Key: "body_md", Help: "reply body (Markdown); - reads stdin"},
			{Flag: "from", Short: "f", Required: true, Key: "sender_name", Help: "sender agent name"},
			{Flag: "to", Type: List, Key: "to", Help: "override recipients"},
			{Flag: "cc", Type: List, Key: "cc", Help: "CC recipients"},
			project("project_key"),
		},
	},
	{
		Name:    "inbox",
		Tool:    "fetch_inbox",
		Summary: "Fetch inbox messages for an agent",
		Format:  FormatInbox,
		Params: []ParamSpec{
			{Flag: "agent", Positional: true, Required: true, Key: "agent_name", Help: "agent name"},
			{Flag: "limit", Short: "n", Type: Int, Key: "limit", Default: 20, Help: "max messages"},
			{Flag: "urgent", Type: Bool, Key: "urgent_only", Default: false, Help: "only urgent messages"},
			{Flag: "since", Key: "since_ts", Help: "ISO timestamp to fetch since"},
			{Flag: "bodies", Type: Bool, Key: "include_bodies", Default: false, Help: "include message bodies"},
			project("project_key"),
		},
	},
	{
		Name:    "ack",
		Tool:    "acknowledge_message",
		Summary: "Acknowledge a message",
		Params: []ParamSpec{
			{Flag: "message_id", Positional: true, Required: true, Type: Int, Key: "message_id", Help: "message ID to acknowledge"},
			{Flag: "agent", Short: "a", Required: true, Key: "agent_name", Help: "agent name"},
			project("project_key"),
		},
	},
	{
		Name:    "search",
		Tool:    "search_messages",
		Summary: "Search messages by content",
		Format:  FormatSearch,
		Params: []ParamSpec{
			{Flag: "query", Positional: true, Required: true, Key: "query", Help: "search query (FTS5 syntax)"},
			{Flag: "limit", Short: "n", Type: Int, Key: "limit", Default: 20, Help: "max results"},
			project("project_key"),
		},
	},
	{
		Name:    "thread",
		Tool:    "summarize_thread",
		Summary: "View or summarize a thread",
		Params: []ParamSpec{
			{Flag: "thread_id", Positional: true, Required: true, Key: "thread_id", Help: "thread ID"},
			{Flag: "summarize", Short: "s", Type: Bool, Key: "llm_mode", Default: false, Help: "get an AI summary"},
			{Flag: "examples", Type: Bool, Key: "include_examples", Default: false, Help: "include example messages"},
			project("project_key"),
		},
	},
	{
		Name:    "reserve",
		Tool:    "file_reservation_paths",
		Summary: "Reserve file paths for exclusive or shared access",
		Params: []ParamSpec{
			{Flag: "paths", Positional: true, Required: true, Type: List, Key: "paths", Help: "file paths or glob patterns"},
			{Flag: "agent", Short: "a", Required: true, Key: "agent_name", Help: "agent name"},
			{Flag: "ttl", Type: Int, Key: "ttl_seconds", Default: 3600, Help: "time-to-live in seconds"},
			{Flag: "shared", Type: Bool, Negate: true, Key: "exclusive", Default: true, Help: "non-exclusive reservation"},
			{Flag: "reason", Key: "reason", Default: "", Help: "reason for the reservation"},
			project("project_key"),
		},
	},
	{
		Name:    "release",
		Tool:    "release_file_reservations",
		Summary: "Release file reservations",
		Params: []ParamSpec{
			{Flag: "agent", Short: "a", Required: true, Key: "agent_name", Help: "agent name"},
			{Flag: "paths", Positional: true, Type: List, Key: "paths", Help: "paths to release (all if omitted)"},
			project("project_key"),
		},
	},
	{
		Name:    "renew",
		Tool:    "renew_file_reservations",
		Summary: "Renew file reservations",
		Params: []ParamSpec{
			{Flag: "agent", Short: "a", Required: true, Key: "agent_name", Help: "agent name"},
			{Flag: "extend", Type: Int, Key: "extend_seconds", Default: 1800, Help: "seconds to extend"},
			project("project_key"),
		},
	},
	{
		Name:    "register",
		Tool:    "register_agent",
		Summary: "Register an agent in the project",
		Format:  FormatRegister,
		Params: []ParamSpec{
			{Flag: "program", Key: "program", Default: defaultProgram, Help: "agent program name"},
			{Flag: "model", Key: "model", Default: defaultModel, Help: "model identifier"},
			{Flag: "name", Aliases: []string{"as"}, Key: "name", Help: "resume as an existing agent"},
			{Flag: "task", Key: "task_description", Default: "", Help: "task description"},
			{Flag: "ttl", Type: Int, Local: true, Key: "ttl", Default: 300, Help: "local session TTL in seconds"},
			{Flag: "force", Short: "f", Type: Bool, Local: true, Key: "force", Default: false, Help: "take over a session held by another process"},
			project("project_key"),
		},
	},
	{
		Name:    "whoami",
		Tool:    "whois",
		Summary: "Get information about an agent",
		Params: []ParamSpec{
			{Flag: "agent", Positional: true, Required: true, Key: "agent_name", Help: "agent name"},
			{Flag: "no-commits", Type: Bool, Negate: true, Key: "include_recent_commits", Default: true, Help: "omit recent commits"},
			project("project_key"),
		},
	},
	{
		Name:    "contacts",
		Tool:    "list_contacts",
		Summary: "List contacts for an agent",
		Format:  FormatContacts,
		Params: []ParamSpec{
			{Flag: "agent", Positional: true, Required: true, Key: "agent_name", Help: "agent name"},
			project("project_key"),
		},
	},
	{
		Name:    "health",
		Tool:    "health_check",
		Summary: "Check server health",
		Format:  FormatHealth,
	},
	{
		Name:    "inbox-status",
		Tool:    "inbox_status",
		Summary: "Show inbox counts for hooks and quick reminders",
		Format:  FormatInboxStatus,
		Params: []ParamSpec{
			{Flag: "agent", Short: "a", Key: "agent_name", Help: "agent name (omit for project-wide recent activity)"},
			{Flag: "recent-minutes", Type: Int, Local: true, Key: "recent_minutes", Default: 60, Help: "recent window in minutes when --agent is omitted"},
			{Flag: "since-ts", Key: "since_ts", Help: "ISO timestamp to count new messages since (with --agent)"},
			{Flag: "urgent", Type: Bool, Key: "urgent_only", Default: false, Help: "only urgent/high messages"},
			project("project_key"),
		},
		Adjust: recentWindow,
	},
	{
		Name:    "list-agents",
		Tool:    "list_agents",
		Summary: "List agents in a project",
		Format:  FormatAgents,
		Params: []ParamSpec{
			project("project_key"),
		},
	},
	{
		Name:    "delete",
		Tool:    "delete_agent",
		Summary: "Soft-delete an agent (renamed to Deleted-* and blocked)",
		Format:  FormatDelete,
		Params: []ParamSpec{
			{Flag: "agent", Positional: true, Required: true, Key: "agent_name", Help: "agent name"},
			{Flag: "force", Short: "f", Type: Bool, Key: "force", Default: false, Help: "delete even with unread messages or reservations"},
			{Flag: "dry-run", Short: "n", Type: Bool, Key: "dry_run", Default: false, Help: "check dependencies without deleting"},
			project("project_key"),
		},
	},
	{
		Name:    "purge",
		Tool:    "purge_deleted_agents",
		Summary: "Permanently remove soft-deleted agents and their orphaned messages",
		Format:  FormatPurge,
		Params: []ParamSpec{
			{Flag: "dry-run", Short: "n", Type: Bool, Key: "dry_run", Default: false, Help: "show what would be purged"},
			project("project_key"),
		},
	},
	{
		Name:    "session start",
		Tool:    "macro_start_session",
		Summary: "Bootstrap a session: ensure project, register agent, fetch inbox",
		Params: []ParamSpec{
			project("human_key"),
			{Flag: "program", Key: "program", Default: defaultProgram, Help: "agent program name"},
			{Flag: "model", Key: "model", Default: defaultModel, Help: "model identifier"},
			{Flag: "name", Key: "agent_name", Help: "agent name (auto-generated if omitted)"},
			{Flag: "task", Key: "task_description", Default: "", Help: "task description"},
			{Flag: "inbox-limit", Type: Int, Key: "inbox_limit", Default: 10, Help: "inbox messages to fetch"},
		},
	},
	{
		Name:      "session heartbeat",
		Summary:   "Extend a local session TTL",
		Format:    FormatSession,
		LocalOnly: true,
		Params: []ParamSpec{
			{Flag: "agent", Positional: true, Required: true, Local: true, Key: "agent", Help: "agent name"},
			{Flag: "ttl", Type: Int, Local: true, Key: "ttl", Default: 300, Help: "session TTL in seconds"},
			localProject(),
		},
	},
	{
		Name:      "session status",
		Summary:   "Show one local session or list all for the project",
		Format:    FormatSession,
		LocalOnly: true,
		Params: []ParamSpec{
			{Flag: "agent", Positional: true, Local: true, Key: "agent", Help: "agent name (omit to list all)"},
			localProject(),
		},
	},
	{
		Name:      "session end",
		Summary:   "End a local session so another process can take the agent name",
		Format:    FormatSession,
		LocalOnly: true,
		Params: []ParamSpec{
			{Flag: "agent", Positional: true, Required: true, Local: true, Key: "agent", Help: "agent name"},
			localProject(),
		},
	},
}

// recentWindow sends the project-wide window in seconds. It is only
// meaningful without an agent.
func recentWindow(inv call.Invocation) {
	if _, scoped := inv.Arguments["agent_name"]; scoped {
		return
	}
	minutes := inv.LocalInt("recent_minutes", 60)
	if minutes < 1 {
		minutes = 1
	}
	inv.Arguments["recent_seconds"] = minutes * 60
}

func localProject() ParamSpec {
	p := project("project")
	p.Local = true
	return p
}

var byName = func() map[string]CommandSpec {
	m := make(map[string]CommandSpec, len(commands))
	for _, c := range commands {
		if _, dup := m[c.Name]; dup {
			panic("registry: duplicate command " + c.Name)
		}
		m[c.Name] = c
	}
	return m
}()

// Lookup returns the command named name.
func Lookup(name string) (CommandSpec, bool) {
	c, ok := byName[name]
	return c, ok
}

// Match finds the command named by the leading words of args, preferring a
// two-word name. It returns the command and the remaining arguments.
func Match(args []string) (CommandSpec, []string, bool) {
	if len(args) >= 2 {
		if c, ok := byName[args[0]+" "+args[1]]; ok {
			return c, args[2:], true
		}
	}
	if len(args) >= 1 {
		if c, ok := byName[args[0]]; ok {
			return c, args[1:], true
		}
	}
	return CommandSpec{}, args, false
}

// IsGroup reports whether name is the first word of some two-word command.
func IsGroup(name string) bool {
	for _, c := range commands {
		if first, _, ok := strings.Cut(c.Name, " "); ok && first == name {
			return true
		}
	}
	return false
}

// All returns every command sorted by name.
func All() []CommandSpec {
	out := make([]CommandSpec, len(commands))
	copy(out, commands)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
