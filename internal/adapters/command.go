// Package adapters implements the pipeline's ports on top of external
// commands, a local Ollama server and trend files on disk.
package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrNoCommand is returned by command adapters built from an empty command line.
var ErrNoCommand = errors.New("no command configured")

// DefaultTimeout bounds a command when none is configured.
const DefaultTimeout = 2 * time.Minute

// Command is an external program invoked with a fixed argument list.
type Command struct {
	Argv    []string
	Timeout time.Duration
}

// ParseCommand splits a command line on whitespace. Single and double quotes
// group words; there is no shell expansion.
func ParseCommand(line string, timeout time.Duration) (Command, error) {
	argv, err := splitArgs(line)
	if err != nil {
		return Command{}, err
	}
	if len(argv) == 0 {
		return Command{}, ErrNoCommand
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return Command{Argv: argv, Timeout: timeout}, nil
}

func splitArgs(line string) ([]string, error) {
	var (
		args  []string
		cur   strings.Builder
		quote rune
		inArg bool
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inArg = true
		case r == ' ' || r == '\t' || r == '\n':
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote in command %q", quote, line)
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args, nil
}

// Expand returns argv with every {name} placeholder replaced from vars.
// Each argument is expanded on its own, so values never split into extra
// arguments.
func (c Command) Expand(vars map[string]string) Command {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	argv := make([]string, len(c.Argv))
	for i, a := range c.Argv {
		argv[i] = r.Replace(a)
	}
	return Command{Argv: argv, Timeout: c.Timeout}
}

// Run executes the command with stdin and returns its stdout. A non-zero
// exit is an error carrying the tail of stderr.
func (c Command) Run(ctx context.Context, stdin []byte) ([]byte, error) {
	if len(c.Argv) == 0 {
		return nil, ErrNoCommand
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return stdout.Bytes(), fmt.Errorf("%s timed out after %s", c.Argv[0], timeout)
		}
		return stdout.Bytes(), fmt.Errorf("%s: %w: %s", c.Argv[0], err, tail(stderr.String(), 300))
	}
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
