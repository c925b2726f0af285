package discovery

import (
	"context"
	"time"
)

// Advertiser publishes listeners over mDNS.
type Advertiser interface {
	// Advertise starts advertising a listener. An existing advertisement for
	// the same kind is replaced.
	Advertise(ctx context.Context, info *ServiceInfo) error

	// Stop withdraws the advertisement for kind.
	Stop(kind string) error

	// StopAll withdraws every advertisement.
	StopAll()
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface restricts advertising to one network interface.
	// Empty string means all interfaces.
	Interface string

	// Host is appended to instance names. Empty means os.Hostname.
	Host string

	// TTL for the DNS records. Zero uses the library default.
	TTL time.Duration
}

// Browser finds listeners over mDNS.
type Browser interface {
	// Browse emits each listener once as it is found. The channel is closed
	// when ctx ends.
	Browse(ctx context.Context) (<-chan *Service, error)

	// Find returns the first listener of the given kind.
	Find(ctx context.Context, kind string) (*Service, error)
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// Interface restricts browsing to one network interface.
	Interface string
}
