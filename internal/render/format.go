package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"agentmailcli/internal/call"
	"agentmailcli/internal/registry"
	"agentmailcli/internal/session"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// listKeys are the members a list payload may be wrapped in.
var listKeys = []string{"messages", "results", "contacts", "items"}

func (r *Renderer) text(spec registry.CommandSpec, inv call.Invocation, data json.RawMessage) {
	var ok bool
	switch spec.Format {
	case registry.FormatInbox:
		ok = r.inbox(data)
	case registry.FormatSearch:
		ok = r.search(data)
	case registry.FormatContacts:
		ok = r.contacts(data)
	case registry.FormatHealth:
		ok = r.health(data)
	case registry.FormatRegister:
		ok = r.register(inv, data)
	case registry.FormatSession:
		ok = r.session(spec, inv, data)
	case registry.FormatInboxStatus:
		ok = r.inboxStatus(inv, data)
	case registry.FormatAgents:
		ok = r.agents(data)
	case registry.FormatDelete:
		ok = r.deleted(inv, data)
	case registry.FormatPurge:
		ok = r.purged(inv, data)
	}
	if !ok {
		r.dump(data)
	}
}

// dump writes a JSON string as plain text and anything else as indented
// JSON.
func (r *Renderer) dump(data json.RawMessage) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		fmt.Fprintln(r.Stdout, s)
		return
	}
	writeJSON(r.Stdout, data)
}

func (r *Renderer) inbox(data json.RawMessage) bool {
	records, ok := decodeRecords(data)
	if !ok {
		return false
	}
	if len(records) == 0 {
		fmt.Fprintln(r.Stdout, "No messages")
		return true
	}

	rows := make([][]string, 0, len(records))
	for _, m := range records {
		rows = append(rows, []string{
			field(m, "id"),
			field(m, "from"),
			field(m, "subject"),
			field(m, "importance"),
			timestamp(field(m, "created_ts")),
		})
	}
	r.table([]string{"ID", "From", "Subject", "Importance", "Date"}, rows)
	return true
}

func (r *Renderer) search(data json.RawMessage) bool {
	records, ok := decodeRecords(data)
	if !ok {
		return false
	}
	if len(records) == 0 {
		fmt.Fprintln(r.Stdout, "No results")
		return true
	}
	for _, m := range records {
		fmt.Fprintf(r.Stdout, "%s | %s | %s | %s\n",
			field(m, "id"), field(m, "from"), field(m, "subject"), timestamp(field(m, "created_ts")))
	}
	return true
}

func (r *Renderer) contacts(data json.RawMessage) bool {
	items, ok := decodeList(data)
	if !ok {
		return false
	}
	if len(items) == 0 {
		fmt.Fprintln(r.Stdout, "No contacts")
		return true
	}
	for _, item := range items {
		fmt.Fprintln(r.Stdout, contactLine(item))
	}
	return true
}

func contactLine(item any) string {
	m, ok := item.(map[string]any)
	if !ok {
		return scalar(item)
	}
	var name string
	for _, key := range []string{"to", "agent_name", "name", "agent"} {
		if name = field(m, key); name != "" {
			break
		}
	}
	if name == "" {
		return scalar(item)
	}
	if status := field(m, "status"); status != "" {
		return name + " (" + status + ")"
	}
	return name
}

func (r *Renderer) health(data json.RawMessage) bool {
	var m map[string]any
	if err := decode(data, &m); err != nil || m == nil {
		return false
	}
	status := field(m, "status")
	if status == "" {
		status = "unknown"
	}
	fmt.Fprintf(r.Stdout, "Server status: %s\n", status)

	keys := make([]string, 0, len(m))
	for k := range m {
		if k != "status" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(r.Stdout, "  %s: %s\n", k, field(m, k))
	}
	return true
}

func (r *Renderer) register(inv call.Invocation, data json.RawMessage) bool {
	var m map[string]any
	if err := decode(data, &m); err != nil {
		return false
	}
	name := field(m, "name")
	if name == "" {
		return false
	}

	if _, resumed := inv.Arguments["name"]; resumed {
		fmt.Fprintf(r.Stdout, "Resumed as %s\n", name)
	} else {
		fmt.Fprintf(r.Stdout, "Registered as %s\n", name)
		fmt.Fprintf(r.Stdout, "  To resume later: agent-mail register --as %s\n", name)
	}
	if task := inv.String("task_description"); task != "" {
		fmt.Fprintf(r.Stdout, "  Task: %s\n", task)
	}
	fmt.Fprintf(r.Stdout, "  Session TTL: %ds (use 'agent-mail session heartbeat %s' to extend)\n",
		inv.LocalInt("ttl", int(session.DefaultTTL.Seconds())), name)
	return true
}

func (r *Renderer) session(spec registry.CommandSpec, inv call.Invocation, data json.RawMessage) bool {
	switch spec.Name {
	case "session heartbeat":
		var s session.Session
		if err := json.Unmarshal(data, &s); err != nil || s.Agent == "" {
			return false
		}
		fmt.Fprintf(r.Stdout, "Session extended for %s (TTL: %ds)\n", s.Agent, inv.LocalInt("ttl", int(session.DefaultTTL.Seconds())))
		return true

	case "session end":
		var res struct {
			Agent   string `json:"agent"`
			Cleared bool   `json:"cleared"`
		}
		if err := json.Unmarshal(data, &res); err != nil || res.Agent == "" {
			return false
		}
		if res.Cleared {
			fmt.Fprintf(r.Stdout, "Session ended for %s\n", res.Agent)
		} else {
			fmt.Fprintf(r.Stdout, "No active session for %s\n", res.Agent)
		}
		return true

	case "session status":
		if bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
			return r.sessionList(data)
		}
		return r.sessionStatus(data)
	}
	return false
}

func (r *Renderer) sessionStatus(data json.RawMessage) bool {
	var s struct {
		session.Session
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &s); err != nil || s.Agent == "" {
		return false
	}
	if s.Status == "inactive" {
		fmt.Fprintf(r.Stdout, "%s: no active session\n", s.Agent)
		return true
	}
	fmt.Fprintf(r.Stdout, "%s active (PID %d, expires %s)\n", s.Agent, s.PID, s.ExpiresIn(r.now()))
	return true
}

func (r *Renderer) sessionList(data json.RawMessage) bool {
	var sessions []session.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return false
	}
	if len(sessions) == 0 {
		fmt.Fprintln(r.Stdout, "No active sessions")
		return true
	}
	now := r.now()
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.Agent,
			strconv.Itoa(s.PID),
			s.ExpiresIn(now),
			s.StartedAt.UTC().Format("2006-01-02T15:04:05"),
		})
	}
	r.table([]string{"Agent", "PID", "Expires", "Started"}, rows)
	return true
}

// inboxStatus prints a reminder only when there is something to read, so
// hooks stay quiet otherwise.
func (r *Renderer) inboxStatus(inv call.Invocation, data json.RawMessage) bool {
	var m map[string]any
	if err := decode(data, &m); err != nil || m == nil {
		return false
	}
	project := inv.String("project_key")

	if field(m, "scope") == "agent" {
		unread := count(m, "unread_count")
		if unread <= 0 {
			return true
		}
		agent := field(m, "agent_name")
		if agent == "" {
			agent = inv.String("agent_name")
		}
		fmt.Fprintf(r.Stdout, "You have %d unread message(s) in this project.\n", unread)
		if since := inv.String("since_ts"); since != "" {
			if _, ok := m["new_since_count"]; ok {
				fmt.Fprintf(r.Stdout, "New since %s: %d\n", since, count(m, "new_since_count"))
			}
		}
		fmt.Fprintf(r.Stdout, "Check inbox: agent-mail inbox %s --project %s\n", agent, project)
		return true
	}

	recent := count(m, "recent_message_count")
	if recent <= 0 {
		return true
	}
	fmt.Fprintf(r.Stdout, "There are %d recent message(s) in this project.\n", recent)
	fmt.Fprintf(r.Stdout, "Check your inbox: agent-mail inbox <your-agent-name> --project %s\n", project)
	return true
}

func (r *Renderer) agents(data json.RawMessage) bool {
	records, ok := decodeRecords(data)
	if !ok {
		return false
	}
	if len(records) == 0 {
		fmt.Fprintln(r.Stdout, "No agents")
		return true
	}
	rows := make([][]string, 0, len(records))
	for _, a := range records {
		rows = append(rows, []string{
			field(a, "name"),
			truncate(field(a, "task_description"), 40),
			timestamp(field(a, "last_active_ts")),
		})
	}
	r.table([]string{"Name", "Task", "Last Active"}, rows)
	return true
}

func (r *Renderer) deleted(inv call.Invocation, data json.RawMessage) bool {
	var m map[string]any
	if err := decode(data, &m); err != nil || m == nil {
		return false
	}
	agent := inv.String("agent_name")

	if can, isCheck := m["can_delete"].(bool); isCheck {
		if can {
			fmt.Fprintf(r.Stdout, "Agent '%s' can be safely deleted\n", agent)
		} else {
			fmt.Fprintf(r.Stdout, "Agent '%s' has dependencies:\n", agent)
			if n := count(m, "unread_messages"); n > 0 {
				fmt.Fprintf(r.Stdout, "  %d unread message(s)\n", n)
			}
			if n := count(m, "active_reservations"); n > 0 {
				fmt.Fprintf(r.Stdout, "  %d active file reservation(s)\n", n)
			}
		}
		if n := count(m, "sent_messages"); n > 0 {
			fmt.Fprintf(r.Stdout, "  %d sent message(s) will be orphaned\n", n)
		}
		return true
	}

	fmt.Fprintf(r.Stdout, "Deleted agent '%s'\n", agent)
	for _, line := range []struct{ key, format string }{
		{"released_reservations", "  Released %d file reservation(s)\n"},
		{"removed_recipient_entries", "  Removed from %d message recipient(s)\n"},
		{"removed_links", "  Removed %d contact link(s)\n"},
		{"orphaned_sent_messages", "  %d sent message(s) now orphaned\n"},
	} {
		if n := count(m, line.key); n > 0 {
			fmt.Fprintf(r.Stdout, line.format, n)
		}
	}
	return true
}

func (r *Renderer) purged(inv call.Invocation, data json.RawMessage) bool {
	var m map[string]any
	if err := decode(data, &m); err != nil || m == nil {
		return false
	}
	if _, ok := m["purged_agents"]; !ok {
		return false
	}
	agents := count(m, "purged_agents")
	if agents == 0 {
		fmt.Fprintln(r.Stdout, "No soft-deleted agents to purge")
		return true
	}
	messages := count(m, "purged_messages")
	if dry, _ := inv.Arguments["dry_run"].(bool); dry {
		var names []string
		if list, ok := m["agents"].([]any); ok {
			for _, a := range list {
				names = append(names, scalar(a))
			}
		}
		fmt.Fprintln(r.Stdout, "Would purge:")
		fmt.Fprintf(r.Stdout, "  %d agent(s): %s\n", agents, strings.Join(names, ", "))
		fmt.Fprintf(r.Stdout, "  %d orphaned message(s)\n", messages)
		return true
	}
	fmt.Fprintf(r.Stdout, "Purged %d agent(s) and %d message(s)\n", agents, messages)
	return true
}

func (r *Renderer) table(headers []string, rows [][]string) {
	st := r.stdoutStyles()
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(st.NewStyle().Foreground(lipgloss.Color("8"))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			s := st.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return s.Bold(true)
			}
			return s
		})
	fmt.Fprintln(r.Stdout, t.Render())
}

// decode unmarshals data keeping numbers as json.Number.
func decode(data json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// decodeList accepts a JSON array, or an object holding one under a common
// list member. null is an empty list.
func decodeList(data json.RawMessage) ([]any, bool) {
	var v any
	if err := decode(data, &v); err != nil {
		return nil, false
	}
	switch t := v.(type) {
	case nil:
		return []any{}, true
	case []any:
		return t, true
	case map[string]any:
		for _, key := range listKeys {
			if list, ok := t[key].([]any); ok {
				return list, true
			}
		}
	}
	return nil, false
}

// decodeRecords is decodeList restricted to arrays of objects.
func decodeRecords(data json.RawMessage) ([]map[string]any, bool) {
	items, ok := decodeList(data)
	if !ok {
		return nil, false
	}
	records := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		records = append(records, m)
	}
	return records, true
}

func field(m map[string]any, key string) string {
	return scalar(m[key])
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(t); err != nil {
			return fmt.Sprint(t)
		}
		return strings.TrimSpace(buf.String())
	}
}

// count reads an integer member; anything else counts as zero.
func count(m map[string]any, key string) int {
	n, err := strconv.Atoi(field(m, key))
	if err != nil {
		return 0
	}
	return n
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "…"
	}
	return s
}

// timestamp trims an ISO-8601 timestamp to seconds.
func timestamp(ts string) string {
	if len(ts) > 19 {
		return ts[:19]
	}
	return ts
}
