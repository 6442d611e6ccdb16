package model

import (
	"errors"
	"strconv"
	"strings"
)

// NodeAddress errors.
var (
	// ErrInvalidNodeAddress is returned when the address format is invalid.
	ErrInvalidNodeAddress = errors.New("invalid node address: expected <v3-onion-host>:<port>")
	// ErrEmptyNodeAddress is returned when the address is empty.
	ErrEmptyNodeAddress = errors.New("node address cannot be empty")
)

const (
	// onionSuffix is the .onion TLD suffix.
	onionSuffix = ".onion"
	// v3HostLength is the length of a v3 onion hostname without the .onion suffix.
	v3HostLength = 56
)

// NodeAddress is an immutable value object identifying a peer's hidden
// endpoint: a v3 onion hostname plus the port the peer's service listens on.
//
// Two NodeAddress values are equal when host and port are equal; the struct
// is comparable, so == works and it can be used as a map key.
//
// Note: The constructor validates the structural form of the hostname
// (56 base32 characters + ".onion") but not the embedded ed25519 checksum.
// Full checksum verification happens at the dial boundary (tor package),
// the one place where a corrupt address would otherwise waste a circuit.
type NodeAddress struct {
	host string // Full onion hostname including .onion suffix
	port int    // Service port in [1, 65535]
}

// NewNodeAddress creates a NodeAddress from an onion hostname and a port.
// The hostname is normalized to lowercase; a missing ".onion" suffix is
// rejected rather than appended because a bare 56-character string is more
// likely a copy-paste error than an intentional short form.
func NewNodeAddress(host string, port int) (NodeAddress, error) {
	if host == "" {
		return NodeAddress{}, ErrEmptyNodeAddress
	}

	normalized := strings.ToLower(strings.TrimSpace(host))
	if !strings.HasSuffix(normalized, onionSuffix) {
		return NodeAddress{}, ErrInvalidNodeAddress
	}

	base := strings.TrimSuffix(normalized, onionSuffix)
	if len(base) != v3HostLength || !isValidBase32(base) {
		return NodeAddress{}, ErrInvalidNodeAddress
	}

	if port < 1 || port > 65535 {
		return NodeAddress{}, ErrInvalidNodeAddress
	}

	return NodeAddress{host: normalized, port: port}, nil
}

// ParseNodeAddress parses a "host:port" string into a NodeAddress.
func ParseNodeAddress(s string) (NodeAddress, error) {
	if s == "" {
		return NodeAddress{}, ErrEmptyNodeAddress
	}

	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return NodeAddress{}, ErrInvalidNodeAddress
	}

	port, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return NodeAddress{}, ErrInvalidNodeAddress
	}

	return NewNodeAddress(s[:idx], port)
}

// MustNodeAddress creates a NodeAddress or panics if invalid.
// Use only for known-valid addresses in tests or initialization.
func MustNodeAddress(host string, port int) NodeAddress {
	addr, err := NewNodeAddress(host, port)
	if err != nil {
		panic(err)
	}
	return addr
}

// isValidBase32 checks if a string contains only valid base32 characters.
func isValidBase32(s string) bool {
	for _, c := range s {
		isLowerLetter := c >= 'a' && c <= 'z'
		isBase32Digit := c >= '2' && c <= '7'
		if !isLowerLetter && !isBase32Digit {
			return false
		}
	}
	return true
}

// Host returns the onion hostname including the .onion suffix.
func (a NodeAddress) Host() string {
	return a.host
}

// Port returns the service port.
func (a NodeAddress) Port() int {
	return a.port
}

// String returns the address in "host:port" form.
func (a NodeAddress) String() string {
	if a.IsZero() {
		return ""
	}
	return a.host + ":" + strconv.Itoa(a.port)
}

// IsZero returns true if this is a zero value (empty) NodeAddress.
func (a NodeAddress) IsZero() bool {
	return a.host == ""
}

// Equals returns true if two NodeAddress values are equal.
func (a NodeAddress) Equals(other NodeAddress) bool {
	return a == other
}

// MarshalText implements encoding.TextMarshaler so the address serializes
// as "host:port" in JSON status output and YAML peer lists.
func (a NodeAddress) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *NodeAddress) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = NodeAddress{}
		return nil
	}
	parsed, err := ParseNodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
