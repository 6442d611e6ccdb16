package tor

import (
	"encoding/base32"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Onion address constants.
const (
	// OnionV3Length is the length of a v3 onion address without the ".onion"
	// suffix. V3 addresses are 56 characters of base32-encoded data.
	OnionV3Length = 56

	// OnionV3Version is the version byte for v3 onion addresses.
	OnionV3Version = 0x03

	// OnionSuffix is the common suffix for all onion addresses.
	OnionSuffix = ".onion"
)

// onionV3Pattern matches v3 onion addresses (56 base32 characters + .onion).
// Base32 uses lowercase a-z and digits 2-7 (no 0, 1, 8, 9 to avoid confusion).
var onionV3Pattern = regexp.MustCompile(`^[a-z2-7]{56}\.onion$`)

// checksumPrefix is the prefix used in v3 onion address checksum calculation.
// This is specified in the Tor rendezvous specification.
var checksumPrefix = []byte(".onion checksum")

// IsValidV3Address checks if the given hostname is a valid v3 onion address.
// It performs both format validation and checksum verification.
//
// Design decision: We perform full checksum validation rather than just
// pattern matching because:
// 1. It catches typos and corrupted addresses before wasting a circuit
// 2. It verifies the address was properly generated
// 3. It matches what Tor itself does when connecting
//
// The address should include the ".onion" suffix; case is normalized.
func IsValidV3Address(address string) bool {
	address = strings.ToLower(address)

	if !onionV3Pattern.MatchString(address) {
		return false
	}

	// Decode the base32 part (without .onion suffix).
	// The Tor spec uses standard base32 encoding (RFC 4648).
	onionPart := strings.TrimSuffix(address, OnionSuffix)
	decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(onionPart))
	if err != nil {
		return false
	}

	// Decoded data is exactly 35 bytes:
	// - 32 bytes: ed25519 public key
	// - 2 bytes: checksum
	// - 1 byte: version
	if len(decoded) != 35 {
		return false
	}

	pubkey := decoded[:32]
	checksum := decoded[32:34]
	version := decoded[34]

	if version != OnionV3Version {
		return false
	}

	// Checksum = first 2 bytes of SHA3-256(".onion checksum" || pubkey || version)
	expected := computeV3Checksum(pubkey, version)
	return checksum[0] == expected[0] && checksum[1] == expected[1]
}

// computeV3Checksum computes the checksum bytes for a v3 onion address.
func computeV3Checksum(pubkey []byte, version byte) []byte {
	data := make([]byte, 0, len(checksumPrefix)+len(pubkey)+1)
	data = append(data, checksumPrefix...)
	data = append(data, pubkey...)
	data = append(data, version)

	hash := sha3.Sum256(data)
	return hash[:2]
}

// ComputeV3AddressFromPublicKey computes the v3 onion address from an
// ed25519 public key. The node uses this to derive its own hostname from
// the persisted service key and to cross-check the ServiceID the control
// port returns from ADD_ONION.
//
// The public key must be exactly 32 bytes (ed25519 public key size).
func ComputeV3AddressFromPublicKey(pubkey []byte) (string, error) {
	if len(pubkey) != 32 {
		return "", ErrInvalidAddress
	}

	checksum := computeV3Checksum(pubkey, OnionV3Version)

	// Address data: pubkey (32) + checksum (2) + version (1)
	addressData := make([]byte, 35)
	copy(addressData[:32], pubkey)
	copy(addressData[32:34], checksum)
	addressData[34] = OnionV3Version

	encoded := base32.StdEncoding.EncodeToString(addressData)
	return strings.ToLower(encoded) + OnionSuffix, nil
}
