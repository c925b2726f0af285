// Command tem-client talks to a tem-server.
//
// Usage:
//
//	tem-client [--addr HOST:PORT] [--serializer cbor|json] <command>
//
// Commands:
//
//	call <selector> [args...] [--kw key=value]  invoke an operation
//	get <attribute>                             read an attribute
//	shell                                       interactive session
//	log <file.tlog>                             print a protocol capture
//	browse                                      list bridges found over mDNS
//
// Arguments are parsed as YAML scalars, so 1 is an integer, 1.5 a float,
// true a boolean and [1, 2] a list. Quote a value to force a string.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tembridge/tembridge-go/pkg/client"
	"github.com/tembridge/tembridge-go/pkg/version"
	"github.com/tembridge/tembridge-go/pkg/wire"
)

// connOptions are the flags shared by commands that dial a server.
type connOptions struct {
	addr       string
	serializer string
	bufferSize int
	timeout    time.Duration
}

func (o *connOptions) dial(ctx context.Context) (*client.Client, error) {
	codec, err := wire.NewCodec(o.serializer)
	if err != nil {
		return nil, err
	}
	return client.Dial(ctx, o.addr, client.Config{
		Codec:      codec,
		BufferSize: o.bufferSize,
		Timeout:    o.timeout,
	})
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &connOptions{}

	root := &cobra.Command{
		Use:          "tem-client",
		Short:        "Send commands to a tem-server",
		Version:      version.String(),
		SilenceUsage: true,
	}
	root.CompletionOptions.HiddenDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVar(&opts.addr, "addr", "localhost:8088", "server address")
	pf.StringVar(&opts.serializer, "serializer", wire.SerializerCBOR, "wire serializer: cbor or json")
	pf.IntVar(&opts.bufferSize, "buffer-size", 1024, "server buffer_size")
	pf.DurationVar(&opts.timeout, "timeout", 30*time.Second, "round-trip timeout")

	root.AddCommand(
		newCallCmd(opts),
		newGetCmd(opts),
		newShellCmd(opts),
		newLogCmd(),
		newBrowseCmd(),
	)
	return root
}

func newCallCmd(opts *connOptions) *cobra.Command {
	var kw []string

	cmd := &cobra.Command{
		Use:   "call <selector> [args...]",
		Short: "Invoke an operation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			kwargs, err := parseKwargs(kw)
			if err != nil {
				return err
			}

			c, err := opts.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			v, err := c.Do(cmd.Context(), wire.NewInvoke(argv[0], parseArgs(argv[1:]), kwargs))
			if err != nil {
				return fmt.Errorf("remote error: %w", err)
			}
			return printValue(cmd.OutOrStdout(), v)
		},
	}
	cmd.Flags().StringArrayVar(&kw, "kw", nil, "keyword argument key=value (repeatable)")
	return cmd
}

func newGetCmd(opts *connOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <attribute>",
		Short: "Read an attribute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			c, err := opts.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			v, err := c.Get(cmd.Context(), argv[0])
			if err != nil {
				return fmt.Errorf("remote error: %w", err)
			}
			return printValue(cmd.OutOrStdout(), v)
		},
	}
}

func newShellCmd(opts *connOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Open an interactive session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			sh, err := newShell(c, opts.addr)
			if err != nil {
				return err
			}
			return sh.Run(cmd.Context())
		},
	}
}
