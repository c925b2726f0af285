package discovery

import (
	"errors"
	"time"

	"github.com/tembridge/tembridge-go/pkg/version"
)

// Service constants.
const (
	// ServiceType is the DNS-SD service type of a bridge listener.
	ServiceType = "_tembridge._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// MaxInstanceNameLen is the DNS label limit for instance names.
	MaxInstanceNameLen = 63

	// BrowseTimeout is the default time spent browsing.
	BrowseTimeout = 3 * time.Second
)

// TXTVersion is written as the ver TXT record.
const TXTVersion = version.Protocol

// TXT record keys.
const (
	TXTKeyKind       = "kind"
	TXTKeyProfile    = "profile"
	TXTKeyCodec      = "codec"
	TXTKeyBufferSize = "bufsize"
	TXTKeyVersion    = "ver"
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("service not found")
	ErrIncompatible        = errors.New("incompatible protocol version")
)

// ServiceInfo describes an advertised listener.
type ServiceInfo struct {
	// Kind is the device kind abbreviation ("tem" or "cam").
	Kind string

	// Profile is the instrument profile name.
	Profile string

	// Codec is the serializer name.
	Codec string

	// BufferSize is the largest accepted message.
	BufferSize int

	// Port is the TCP port of the listener.
	Port int
}

// Service is a listener found by browsing.
type Service struct {
	ServiceInfo

	InstanceName string
	Host         string
	Addresses    []string
}

// ServiceEntry is a raw browse result, independent of the mDNS library.
type ServiceEntry struct {
	Instance string
	Host     string
	Port     int
	Text     []string
	Addrs    []string
}

// ToService decodes the entry's TXT records.
func (e *ServiceEntry) ToService() (*Service, error) {
	info, err := DecodeTXT(StringsToTXTRecords(e.Text))
	if err != nil {
		return nil, err
	}
	info.Port = e.Port
	return &Service{
		ServiceInfo:  *info,
		InstanceName: e.Instance,
		Host:         e.Host,
		Addresses:    e.Addrs,
	}, nil
}
