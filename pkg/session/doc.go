// Package session provides the handle a dispatch loop drives: a lazily
// opened instrument driver exposing named operations and attributes.
//
// A Driver describes its surface by registering selectors on a Registry
// when the session opens it:
//
//	func (m *Microscope) Register(r *session.Registry) error {
//	    if err := r.Operation("getStagePosition", m.stagePosition); err != nil {
//	        return err
//	    }
//	    return r.Value("wavelength", m.wavelength)
//	}
//
// A Session is not safe for concurrent use. Exactly one goroutine, the
// dispatch loop, owns it for its whole life.
package session
