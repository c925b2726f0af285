// Package simulate provides in-memory microscope and camera instruments.
//
// The simulated microscope keeps optics state and a goniometer stage that
// moves at a finite rate, so waits and speed settings take real time. The
// simulated camera returns synthetic frames after sleeping for the exposure.
// Neither type is safe for concurrent use; the dispatch loop owns them.
package simulate
