package config

import (
	"bufio"
	"io"
	"strings"
)

// KeyValueParser is an ff.ConfigFileParser for the agent-mail config file:
// one key=value per line, split on the first '='. Blank lines, '#' comments
// and lines without '=' are skipped.
func KeyValueParser(r io.Reader, set func(name, value string) error) error {
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}

		if err := set(key, strings.TrimSpace(value)); err != nil {
			return err
		}
	}
	return s.Err()
}

// TokenFileParser is an ff.ConfigFileParser that treats the whole file as
// the token value. Surrounding whitespace is trimmed; an empty file sets
// nothing.
func TokenFileParser(r io.Reader, set func(name, value string) error) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return nil
	}
	return set("token", token)
}
