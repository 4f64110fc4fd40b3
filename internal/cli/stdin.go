package cli

import (
	"io"
	"os"
)

// PipedStdin returns os.Stdin when it is a pipe or redirect, and nil when it
// is a terminal. Message bodies are only read from a piped stdin so that an
// interactive invocation never blocks waiting for input.
func PipedStdin() io.Reader {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return nil
	}
	if (stat.Mode() & os.ModeCharDevice) != 0 {
		return nil
	}
	return os.Stdin
}
