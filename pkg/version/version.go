// Package version reports the build version and parses protocol versions.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Build information, set at link time:
//
//	go build -ldflags "-X github.com/tembridge/tembridge-go/pkg/version.Version=1.2.0"
var (
	Version = "dev"
	Commit  = "unknown"
)

// Protocol is the wire protocol version spoken by this build. Peers are
// compatible when the major components match.
const Protocol = "1.0"

// ProtocolVersion is a parsed "major.minor" protocol version.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (ProtocolVersion, error) {
	major, minor, ok := strings.Cut(s, ".")
	if !ok || strings.Contains(minor, ".") {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	maj, err := strconv.ParseUint(major, 10, 16)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}
	mnr, err := strconv.ParseUint(minor, 10, 16)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return ProtocolVersion{Major: uint16(maj), Minor: uint16(mnr)}, nil
}

// Current returns the parsed Protocol version.
func Current() ProtocolVersion {
	v, err := Parse(Protocol)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as "major.minor".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible reports whether other has the same major version.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// String describes the build for --version output.
func String() string {
	return fmt.Sprintf("%s (commit %s, protocol %s)", Version, Commit, Protocol)
}
