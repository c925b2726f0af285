package wire

// Status is the first element of a response pair.
type Status uint16

const (
	// StatusOK indicates the payload is the return value.
	StatusOK Status = 200

	// StatusError indicates the payload is an (errorKind, args) pair.
	StatusError Status = 500
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusOK
}

// IsValid returns true for the two defined statuses.
func (s Status) IsValid() bool {
	return s == StatusOK || s == StatusError
}
