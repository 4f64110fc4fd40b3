package cli

import (
	"encoding/json"
	"errors"
	"time"

	"agentmailcli/internal/call"
	"agentmailcli/internal/registry"
	"agentmailcli/internal/rpc"
	"agentmailcli/internal/session"
)

// runLocal serves the session subcommands from the local session store.
func runLocal(spec registry.CommandSpec, inv call.Invocation, opts Options) call.Result {
	store, err := opts.store()
	if err != nil {
		return call.Failure(call.Errorf(call.KindConfig, "cannot locate sessions directory: %v", err))
	}
	project := inv.String("project")
	agent := inv.String("agent")

	switch spec.Name {
	case "session heartbeat":
		return heartbeat(store, project, agent, inv.LocalInt("ttl", int(session.DefaultTTL.Seconds())), opts.pid())
	case "session status":
		return status(store, project, agent)
	case "session end":
		cleared, err := store.Clear(project, agent)
		if err != nil {
			return storeFailure(err)
		}
		return encode(map[string]any{"agent": agent, "cleared": cleared})
	}
	return call.Failure(call.Errorf(call.KindUnknownCommand, "unknown command: %s", spec.Name))
}

func heartbeat(store *session.Store, project, agent string, ttl, pid int) call.Result {
	existing, err := store.Read(project, agent)
	if err != nil {
		return storeFailure(err)
	}
	if existing == nil {
		return call.Failure(noSession(agent))
	}
	updated, err := store.Write(project, agent, time.Duration(ttl)*time.Second, pid)
	if err != nil {
		return storeFailure(err)
	}
	return encode(updated)
}

func status(store *session.Store, project, agent string) call.Result {
	if agent == "" {
		sessions, err := store.List(project)
		if err != nil {
			return storeFailure(err)
		}
		return encode(sessions)
	}

	sess, err := store.Read(project, agent)
	if err != nil {
		return storeFailure(err)
	}
	if sess == nil {
		return encode(map[string]any{"agent": agent, "status": "inactive"})
	}
	return encode(sess)
}

// checkConflict refuses to register a name whose session is held by another
// live process.
func checkConflict(store *session.Store, inv call.Invocation, pid int) *call.Error {
	name := inv.String("name")
	if name == "" {
		return nil
	}
	held, err := store.Conflict(inv.String("project_key"), name, pid)
	if err != nil {
		// An unreadable store must not block registration.
		return nil
	}
	if held == nil {
		return nil
	}
	detail, _ := json.Marshal(held)
	return call.Errorf(call.KindSessionConflict,
		"agent %s has an active session (PID %d, expires %s); use --force to take over",
		name, held.PID, held.ExpiresIn(store.Now())).WithDetail(detail)
}

// recordSession writes the session for the agent name the server
// registered, falling back to the requested name.
func recordSession(store *session.Store, inv call.Invocation, payload json.RawMessage, pid int) error {
	var registered struct {
		Name string `json:"name"`
	}
	_ = json.Unmarshal(rpc.Unwrap(payload), &registered)
	name := registered.Name
	if name == "" {
		name = inv.String("name")
	}
	if name == "" {
		return nil
	}
	ttl := inv.LocalInt("ttl", int(session.DefaultTTL.Seconds()))
	_, err := store.Write(inv.String("project_key"), name, time.Duration(ttl)*time.Second, pid)
	return err
}

func noSession(agent string) *call.Error {
	detail, _ := json.Marshal(map[string]string{"agent": agent})
	return call.Errorf(call.KindNoSession, "no active session for %s", agent).WithDetail(detail)
}

func storeFailure(err error) call.Result {
	if errors.Is(err, session.ErrInvalidPath) {
		return call.Failure(call.Errorf(call.KindMalformedArgument, "invalid agent name: %v", err))
	}
	return call.Failure(call.Errorf(call.KindConfig, "session store: %v", err))
}

func encode(v any) call.Result {
	data, err := json.Marshal(v)
	if err != nil {
		return storeFailure(err)
	}
	return call.Success(data)
}
