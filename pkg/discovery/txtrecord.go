package discovery

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tembridge/tembridge-go/pkg/version"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeTXT creates the TXT records for a listener.
func EncodeTXT(info *ServiceInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyKind:    info.Kind,
		TXTKeyProfile: info.Profile,
		TXTKeyCodec:   info.Codec,
		TXTKeyVersion: TXTVersion,
	}
	if info.BufferSize > 0 {
		txt[TXTKeyBufferSize] = strconv.Itoa(info.BufferSize)
	}
	return txt
}

// DecodeTXT parses listener TXT records.
func DecodeTXT(txt TXTRecordMap) (*ServiceInfo, error) {
	info := &ServiceInfo{}

	var ok bool
	if info.Kind, ok = txt[TXTKeyKind]; !ok || info.Kind == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyKind)
	}
	if info.Codec, ok = txt[TXTKeyCodec]; !ok || info.Codec == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyCodec)
	}

	info.Profile = txt[TXTKeyProfile]

	if s, ok := txt[TXTKeyVersion]; ok {
		v, err := version.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTXTRecord, err)
		}
		if !version.Current().Compatible(v) {
			return nil, fmt.Errorf("%w: %s", ErrIncompatible, s)
		}
	}

	if s, ok := txt[TXTKeyBufferSize]; ok {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: invalid %s %q", ErrInvalidTXTRecord, TXTKeyBufferSize, s)
		}
		info.BufferSize = n
	}
	return info, nil
}

// TXTRecordsToStrings converts a TXT record map to key=value strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	return result
}

// StringsToTXTRecords parses key=value strings. Entries without "=" are
// ignored.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap, len(strs))
	for _, s := range strs {
		k, v, ok := strings.Cut(s, "=")
		if !ok {
			continue
		}
		txt[k] = v
	}
	return txt
}

// InstanceName returns "<kind>-<profile>@<host>", truncated to the DNS label
// limit.
func InstanceName(kind, profile, host string) string {
	name := kind
	if profile != "" {
		name += "-" + profile
	}
	if host != "" {
		name += "@" + host
	}
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}

// ValidateInstanceName checks the DNS label limit.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: instance name", ErrMissingRequired)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
