// Package dispatch serializes commands against a single device session.
//
// A Loop owns one session.Session for its whole life and executes one
// command at a time. Connection handlers hand commands to the loop with
// Submit; every request carries its own correlation ID and reply slot, so a
// handler only ever sees the result of the command it submitted.
//
//	loop := dispatch.NewLoop(dispatch.Config{Device: "tem", Opener: open})
//	go loop.Run(ctx)
//	<-loop.Ready()
//	res, err := loop.Submit(ctx, connID, wire.NewInvoke("getStagePosition", nil, nil))
//
// Run returns only after ctx is cancelled, the command channel is empty and
// the session is closed.
package dispatch
