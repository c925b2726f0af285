// Package faults defines the closed set of error kinds that can cross the
// bridge and the registry used to rebuild them on the receiving side.
//
// A failure inside a device operation is marshalled as a pair of an error
// kind name and its constructor arguments:
//
//	("DeviceFault", ("overheat",))
//
// The receiving side looks the name up in a Registry and reconstructs an
// *Error with the same Kind and Args, so callers can match it with errors.Is:
//
//	if errors.Is(err, faults.DeviceFault) { ... }
//
// Names that are not registered fall back to CommunicationError.
package faults
