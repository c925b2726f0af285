package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger at debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", Attrs(event)...)
}

// Attrs flattens an event into slog attributes.
func Attrs(event Event) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.ConnectionID != "" {
		attrs = append(attrs, slog.String("conn_id", event.ConnectionID))
	}
	if event.Device != "" {
		attrs = append(attrs, slog.String("device", event.Device))
	}
	if event.RequestID != 0 {
		attrs = append(attrs, slog.Uint64("request_id", event.RequestID))
	}

	switch {
	case event.Chunk != nil:
		attrs = append(attrs,
			slog.Int("chunk_size", event.Chunk.Size),
			slog.Bool("truncated", event.Chunk.Truncated),
		)
	case event.Command != nil:
		attrs = append(attrs,
			slog.String("selector", event.Command.Selector),
			slog.String("kind", event.Command.Kind),
			slog.Any("args", event.Command.Args),
		)
		if len(event.Command.Kwargs) > 0 {
			attrs = append(attrs, slog.Any("kwargs", event.Command.Kwargs))
		}
	case event.Result != nil:
		attrs = append(attrs,
			slog.String("selector", event.Result.Selector),
			slog.Int("status", int(event.Result.Status)),
			slog.Duration("elapsed", event.Result.Elapsed),
		)
		if event.Result.ErrorKind != "" {
			attrs = append(attrs,
				slog.String("error_kind", event.Result.ErrorKind),
				slog.Any("error_args", event.Result.ErrorArgs),
			)
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Close != nil:
		attrs = append(attrs, slog.String("sentinel", event.Close.Sentinel))
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
	}
	return attrs
}

var _ Logger = (*SlogAdapter)(nil)
