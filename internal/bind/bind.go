// Package bind validates command-line arguments against a CommandSpec and
// builds the tool invocation.
//
// Flags and positionals may be interleaved ("inbox BlueLake --limit 5"),
// which the standard flag package cannot parse, so tokens are scanned here
// against the spec directly.
package bind

import (
	"encoding/json"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"agentmailcli/internal/call"
	"agentmailcli/internal/registry"
)

// Options supplies the environment the binder may need.
type Options struct {
	// Cwd is the directory path parameters default to and relative paths
	// are resolved against.
	Cwd string

	// Stdin, when set, supplies parameters that accept it: an explicit "-"
	// value, or a required one that was not given. Nil means stdin is a
	// terminal or unavailable.
	Stdin io.Reader
}

// Bind maps args onto spec. The returned error is always a *call.Error of a
// validation kind.
func Bind(spec registry.CommandSpec, args []string, opts Options) (call.Invocation, *call.Error) {
	b := binder{spec: spec, opts: opts, values: map[string]any{}}
	if err := b.scan(args); err != nil {
		return call.Invocation{}, err
	}
	return b.finish()
}

type binder struct {
	spec      registry.CommandSpec
	opts      Options
	values    map[string]any // by ParamSpec.Key
	stdinUsed bool
}

func (b *binder) scan(args []string) *call.Error {
	var positionals []string
	flagsDone := false

	for i := 0; i < len(args); i++ {
		tok := args[i]
		if flagsDone || tok == "-" || !strings.HasPrefix(tok, "-") {
			positionals = append(positionals, tok)
			continue
		}
		if tok == "--" {
			flagsDone = true
			continue
		}

		name, value, hasValue := strings.Cut(strings.TrimLeft(tok, "-"), "=")
		p, ok := b.spec.Flag(name)
		if !ok {
			return argErr(call.KindUnknownArgument, flagDisplay(tok, name), "unknown argument: %s", flagDisplay(tok, name))
		}

		if p.Type == registry.Bool {
			v, err := boolValue(p, value, hasValue)
			if err != nil {
				return err
			}
			b.values[p.Key] = v
			continue
		}

		if !hasValue {
			if i+1 >= len(args) {
				return argErr(call.KindMissingArgument, display(p), "missing value for %s", display(p))
			}
			i++
			value = args[i]
		}
		if err := b.set(p, value, true); err != nil {
			return err
		}
	}

	return b.bindPositionals(positionals)
}

func (b *binder) bindPositionals(positionals []string) *call.Error {
	next := 0
	for _, p := range b.spec.Params {
		if !p.Positional {
			continue
		}
		if next >= len(positionals) {
			break
		}
		if p.Type == registry.List {
			for _, v := range positionals[next:] {
				if err := b.set(p, v, false); err != nil {
					return err
				}
			}
			next = len(positionals)
			break
		}
		if err := b.set(p, positionals[next], false); err != nil {
			return err
		}
		next++
	}
	if next < len(positionals) {
		return argErr(call.KindUnknownArgument, positionals[next], "unknown argument: %s", positionals[next])
	}
	return nil
}

// set converts raw to p's type and records it. Flag list values are split on
// commas; positional list values are kept whole.
func (b *binder) set(p registry.ParamSpec, raw string, fromFlag bool) *call.Error {
	switch p.Type {
	case registry.Int:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return argErr(call.KindMalformedArgument, display(p), "invalid value %q for %s: expected an integer", raw, display(p))
		}
		b.values[p.Key] = n
	case registry.List:
		list, _ := b.values[p.Key].([]string)
		if fromFlag {
			for _, part := range strings.Split(raw, ",") {
				if part = strings.TrimSpace(part); part != "" {
					list = append(list, part)
				}
			}
		} else {
			list = append(list, raw)
		}
		b.values[p.Key] = list
	case registry.Path:
		b.values[p.Key] = b.absPath(raw)
	default:
		if p.Stdin && raw == "-" {
			v, err := b.readStdin(p)
			if err != nil {
				return err
			}
			raw = v
		}
		b.values[p.Key] = raw
	}
	return nil
}

// readStdin consumes stdin for p. Stdin is read at most once, and an empty
// read counts as a missing value.
func (b *binder) readStdin(p registry.ParamSpec) (string, *call.Error) {
	if b.opts.Stdin == nil || b.stdinUsed {
		return "", argErr(call.KindMissingArgument, display(p), "missing value for %s: stdin is not available", display(p))
	}
	b.stdinUsed = true
	data, err := io.ReadAll(b.opts.Stdin)
	if err != nil {
		return "", argErr(call.KindMalformedArgument, display(p), "read %s from stdin: %v", display(p), err)
	}
	body := strings.TrimSuffix(strings.TrimSuffix(string(data), "\n"), "\r")
	if body == "" {
		return "", argErr(call.KindMissingArgument, display(p), "missing value for %s: stdin is empty", display(p))
	}
	return body, nil
}

func (b *binder) absPath(raw string) string {
	if !filepath.IsAbs(raw) && b.opts.Cwd != "" {
		raw = filepath.Join(b.opts.Cwd, raw)
	}
	return filepath.Clean(raw)
}

func (b *binder) finish() (call.Invocation, *call.Error) {
	inv := call.Invocation{
		Tool:      b.spec.Tool,
		Arguments: map[string]any{},
		Local:     map[string]any{},
	}

	for _, p := range b.spec.Params {
		v, ok := b.values[p.Key]
		if !ok && p.Required && p.Stdin && b.opts.Stdin != nil && !b.stdinUsed {
			s, err := b.readStdin(p)
			if err != nil {
				return call.Invocation{}, err
			}
			v, ok = s, true
		}
		if !ok {
			if p.Required {
				return call.Invocation{}, argErr(call.KindMissingArgument, display(p), "missing required argument: %s", display(p))
			}
			switch {
			case p.Default != nil:
				v = p.Default
			case p.Type == registry.Path && b.opts.Cwd != "":
				v = filepath.Clean(b.opts.Cwd)
			default:
				continue
			}
		}
		if list, isList := v.([]string); isList && len(list) == 0 {
			if p.Required {
				return call.Invocation{}, argErr(call.KindMissingArgument, display(p), "missing required argument: %s", display(p))
			}
			continue
		}

		if p.Local {
			inv.Local[p.Key] = v
		} else {
			inv.Arguments[p.Key] = v
		}
	}
	if b.spec.Adjust != nil {
		b.spec.Adjust(inv)
	}
	return inv, nil
}

func boolValue(p registry.ParamSpec, value string, hasValue bool) (bool, *call.Error) {
	v := true
	if hasValue {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return false, argErr(call.KindMalformedArgument, display(p), "invalid value %q for %s: expected true or false", value, display(p))
		}
		v = parsed
	}
	if p.Negate {
		v = !v
	}
	return v, nil
}

// argErr builds a validation error whose detail names the offending argument.
func argErr(kind call.Kind, arg, format string, args ...any) *call.Error {
	detail, _ := json.Marshal(map[string]string{"argument": arg})
	return call.Errorf(kind, format, args...).WithDetail(detail)
}

func display(p registry.ParamSpec) string {
	if p.Positional {
		return "<" + p.Flag + ">"
	}
	return "--" + p.Flag
}

func flagDisplay(tok, name string) string {
	if strings.HasPrefix(tok, "--") {
		return "--" + name
	}
	return "-" + name
}
