package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/tembridge/tembridge-go/pkg/client"
	"github.com/tembridge/tembridge-go/pkg/faults"
	"github.com/tembridge/tembridge-go/pkg/wire"
)

// caller is the part of client.Client the shell uses.
type caller interface {
	Do(ctx context.Context, cmd *wire.Command) (any, error)
}

var _ caller = (*client.Client)(nil)

// shell is an interactive session with one server.
type shell struct {
	client caller
	rl     *readline.Instance
}

func newShell(c caller, addr string) (*shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          addr + "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &shell{client: c, rl: rl}, nil
}

// Run reads commands until EOF, "exit", or ctx is cancelled.
func (s *shell) Run(ctx context.Context) error {
	defer s.rl.Close()

	printShellHelp(s.rl.Stdout())
	for ctx.Err() == nil {
		line, err := s.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			return nil
		}
		if !s.execute(ctx, s.rl.Stdout(), line) {
			return nil
		}
	}
	return nil
}

// execute runs one input line and reports whether the shell should go on.
func (s *shell) execute(ctx context.Context, w io.Writer, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}

	var cmd *wire.Command
	switch name := fields[0]; name {
	case "help", "?":
		printShellHelp(w)
		return true
	case "quit", "exit", "q":
		return false
	case "get":
		if len(fields) != 2 {
			fmt.Fprintln(w, "usage: get <attribute>")
			return true
		}
		cmd = wire.NewRead(fields[1])
	default:
		args, kwargs, err := splitShellArgs(fields[1:])
		if err != nil {
			fmt.Fprintln(w, err)
			return true
		}
		cmd = wire.NewInvoke(name, args, kwargs)
	}

	v, err := s.client.Do(ctx, cmd)
	if err != nil {
		var fe *faults.Error
		if errors.As(err, &fe) {
			fmt.Fprintf(w, "%s: %v\n", fe.Kind, fe.Args)
		} else {
			fmt.Fprintf(w, "error: %v\n", err)
		}
		return true
	}
	if err := printValue(w, v); err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
	}
	return true
}

func printShellHelp(w io.Writer) {
	fmt.Fprintln(w, `
Commands:
  <operation> [args...] [key=value...]  - Invoke an operation
  get <attribute>                       - Read an attribute
  help                                  - Show this help
  exit                                  - Close the session

Examples:
  getStagePosition
  setStagePosition x=10000 y=-5000 wait=true
  get wavelength`)
}
