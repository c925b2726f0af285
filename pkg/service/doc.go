// Package service assembles the bridge processes.
//
// A DeviceServer runs one device kind: a dispatch loop that owns the
// instrument session, a TCP listener that feeds it, and optional mDNS
// advertisement, metrics and telemetry observers.
//
// A Bridge runs the microscope server and, when configured, the camera
// server. The camera starts only after the microscope session is ready, and
// only if that happens within the configured ready timeout.
//
// Example usage:
//
//	cfg, _ := config.Load(config.Dir(""), "")
//	bc, _ := service.Assemble(cfg, service.Extras{Logger: logger})
//	bridge, _ := service.NewBridge(bc)
//	err := bridge.Run(ctx) // returns after ctx is cancelled
package service
