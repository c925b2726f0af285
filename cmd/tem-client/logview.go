package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tembridge/tembridge-go/pkg/log"
)

type logOptions struct {
	device    string
	connID    string
	selector  string
	layer     string
	direction string
	category  string
	stats     bool
}

func newLogCmd() *cobra.Command {
	opts := &logOptions{}

	cmd := &cobra.Command{
		Use:   "log <file.tlog>",
		Short: "Print a protocol capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			filter, err := opts.filter()
			if err != nil {
				return err
			}
			r, err := log.NewFilteredReader(argv[0], filter)
			if err != nil {
				return fmt.Errorf("opening capture: %w", err)
			}
			defer r.Close()

			if !opts.stats {
				return viewEvents(cmd.OutOrStdout(), r)
			}
			stats, err := collectStats(r)
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.device, "device", "", "only events of this device kind (tem, cam)")
	f.StringVar(&opts.connID, "conn-id", "", "only events of this connection")
	f.StringVar(&opts.selector, "selector", "", "only commands and results for this selector")
	f.StringVar(&opts.layer, "layer", "", "only this layer: transport, wire, dispatch")
	f.StringVar(&opts.direction, "direction", "", "only this direction: in, out")
	f.StringVar(&opts.category, "category", "", "only this category: message, control, state, error")
	f.BoolVar(&opts.stats, "stats", false, "print statistics instead of events")
	return cmd
}

func (o *logOptions) filter() (log.Filter, error) {
	f := log.Filter{
		Device:       o.device,
		ConnectionID: o.connID,
		Selector:     o.selector,
	}

	if o.layer != "" {
		var l log.Layer
		switch strings.ToLower(o.layer) {
		case "transport":
			l = log.LayerTransport
		case "wire":
			l = log.LayerWire
		case "dispatch":
			l = log.LayerDispatch
		default:
			return f, fmt.Errorf("invalid layer %q", o.layer)
		}
		f.Layer = &l
	}

	if o.direction != "" {
		var d log.Direction
		switch strings.ToLower(o.direction) {
		case "in":
			d = log.DirectionIn
		case "out":
			d = log.DirectionOut
		default:
			return f, fmt.Errorf("invalid direction %q", o.direction)
		}
		f.Direction = &d
	}

	if o.category != "" {
		var c log.Category
		switch strings.ToLower(o.category) {
		case "message":
			c = log.CategoryMessage
		case "control":
			c = log.CategoryControl
		case "state":
			c = log.CategoryState
		case "error":
			c = log.CategoryError
		default:
			return f, fmt.Errorf("invalid category %q", o.category)
		}
		f.Category = &c
	}
	return f, nil
}

// eventSource yields events until io.EOF.
type eventSource interface {
	Next() (log.Event, error)
}

func viewEvents(w io.Writer, src eventSource) error {
	for {
		event, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading capture: %w", err)
		}
		formatEvent(w, event)
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")

	var typeLabel string
	switch {
	case event.Chunk != nil:
		typeLabel = "Chunk"
	case event.Command != nil:
		typeLabel = "Command"
	case event.Result != nil:
		typeLabel = "Result"
	case event.StateChange != nil:
		typeLabel = "State"
	case event.Close != nil:
		typeLabel = "Close"
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	fmt.Fprintf(w, "%s %-3s [conn:%s] %-3s %s %s\n", ts, event.Device,
		shortenConnID(event.ConnectionID), event.Direction, event.Layer, typeLabel)

	switch {
	case event.Chunk != nil:
		formatChunkDetails(w, event.Chunk)
	case event.Command != nil:
		formatCommandDetails(w, event.RequestID, event.Command)
	case event.Result != nil:
		formatResultDetails(w, event.RequestID, event.Result)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Close != nil:
		fmt.Fprintf(w, "  Sentinel: %s\n", event.Close.Sentinel)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}
	if event.RemoteAddr != "" && event.StateChange != nil {
		fmt.Fprintf(w, "  Remote: %s\n", event.RemoteAddr)
	}

	fmt.Fprintln(w)
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatChunkDetails(w io.Writer, chunk *log.ChunkEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", chunk.Size)
	if len(chunk.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(chunk.Data))
		if chunk.Truncated {
			fmt.Fprint(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatCommandDetails(w io.Writer, id uint64, cmd *log.CommandEvent) {
	if id != 0 {
		fmt.Fprintf(w, "  RequestID: %d\n", id)
	}
	fmt.Fprintf(w, "  %s: %s\n", titleCase(cmd.Kind), cmd.Selector)
	if len(cmd.Args) > 0 {
		fmt.Fprintf(w, "  Args: %s\n", compactJSON(cmd.Args))
	}
	if len(cmd.Kwargs) > 0 {
		fmt.Fprintf(w, "  Kwargs: %s\n", compactJSON(cmd.Kwargs))
	}
}

func formatResultDetails(w io.Writer, id uint64, res *log.ResultEvent) {
	if id != 0 {
		fmt.Fprintf(w, "  RequestID: %d\n", id)
	}
	fmt.Fprintf(w, "  Selector: %s\n", res.Selector)
	fmt.Fprintf(w, "  Status: %d\n", res.Status)
	fmt.Fprintf(w, "  Duration: %s\n", formatDuration(res.Elapsed))
	if res.ErrorKind != "" {
		fmt.Fprintf(w, "  Error: %s %s\n", res.ErrorKind, compactJSON(res.ErrorArgs))
	} else if res.Value != nil {
		fmt.Fprintf(w, "  Value: %s\n", compactJSON(res.Value))
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity)
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, e *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", e.Layer)
	fmt.Fprintf(w, "  Message: %s\n", e.Message)
	if e.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", e.Context)
	}
}

// formatDuration prints sub-millisecond durations in microseconds.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dus", d.Microseconds())
	}
	return d.Round(10 * time.Microsecond).String()
}

func compactJSON(v any) string {
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}

func titleCase(s string) string {
	if s == "" {
		return "Selector"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
