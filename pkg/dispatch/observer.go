package dispatch

import (
	"time"

	"github.com/tembridge/tembridge-go/pkg/session"
	"github.com/tembridge/tembridge-go/pkg/wire"
)

// Outcome describes one executed command.
type Outcome struct {
	Device    string
	RequestID uint64
	ConnID    string
	Command   *wire.Command
	Result    *wire.Result
	Started   time.Time
	Elapsed   time.Duration
}

// Observer is notified of loop activity. Calls are made from the loop
// goroutine and must not block.
type Observer interface {
	CommandCompleted(o Outcome)
	SessionStateChanged(device string, state session.State)
}
