package tor

import (
	"strings"
	"testing"
)

// Test v3 onion addresses - these are valid addresses generated from
// deterministic public keys.
const (
	// Derived from the all-zero ed25519 public key.
	testOnionV3Addr1 = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaam2dqd.onion"

	// Derived from the public key with bytes 0x00, 0x01, ... 0x1F.
	testOnionV3Addr2 = "aaaqeayeaudaocajbifqydiob4ibceqtcqkrmfyydenbwha5dyp3kead.onion"
)

// TestIsValidV3Address tests v3 onion address validation.
func TestIsValidV3Address(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		address  string
		expected bool
	}{
		{
			name:     "valid v3 address",
			address:  testOnionV3Addr1,
			expected: true,
		},
		{
			name:     "valid v3 address with sequential key",
			address:  testOnionV3Addr2,
			expected: true,
		},
		{
			name:     "uppercase is normalized",
			address:  strings.ToUpper(testOnionV3Addr1[:56]) + ".onion",
			expected: true,
		},
		{
			name:     "corrupted checksum",
			address:  "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaam2dqe.onion",
			expected: false,
		},
		{
			name:     "v2 address",
			address:  "facebookcorewwwi.onion",
			expected: false,
		},
		{
			name:     "too short",
			address:  "abc.onion",
			expected: false,
		},
		{
			name:     "too long",
			address:  strings.Repeat("a", 57) + ".onion",
			expected: false,
		},
		{
			name:     "missing suffix",
			address:  testOnionV3Addr1[:56],
			expected: false,
		},
		{
			name:     "invalid base32 characters",
			address:  strings.Repeat("0", 56) + ".onion",
			expected: false,
		},
		{
			name:     "empty string",
			address:  "",
			expected: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := IsValidV3Address(tc.address); got != tc.expected {
				t.Errorf("IsValidV3Address(%q) = %v, expected %v", tc.address, got, tc.expected)
			}
		})
	}
}

// TestComputeV3AddressFromPublicKey tests address derivation from keys.
func TestComputeV3AddressFromPublicKey(t *testing.T) {
	t.Parallel()

	t.Run("all-zero key derives known address", func(t *testing.T) {
		t.Parallel()

		addr, err := ComputeV3AddressFromPublicKey(make([]byte, 32))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if addr != testOnionV3Addr1 {
			t.Errorf("derived %q, expected %q", addr, testOnionV3Addr1)
		}
	})

	t.Run("sequential key derives known address", func(t *testing.T) {
		t.Parallel()

		pubkey := make([]byte, 32)
		for i := range pubkey {
			pubkey[i] = byte(i)
		}

		addr, err := ComputeV3AddressFromPublicKey(pubkey)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if addr != testOnionV3Addr2 {
			t.Errorf("derived %q, expected %q", addr, testOnionV3Addr2)
		}
	})

	t.Run("derived address always validates", func(t *testing.T) {
		t.Parallel()

		pubkey := make([]byte, 32)
		for i := range pubkey {
			pubkey[i] = byte(255 - i)
		}

		addr, err := ComputeV3AddressFromPublicKey(pubkey)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !IsValidV3Address(addr) {
			t.Errorf("derived address %q does not validate", addr)
		}
	})

	t.Run("wrong key length is rejected", func(t *testing.T) {
		t.Parallel()

		if _, err := ComputeV3AddressFromPublicKey(make([]byte, 31)); err == nil {
			t.Error("expected error for 31-byte key")
		}
		if _, err := ComputeV3AddressFromPublicKey(nil); err == nil {
			t.Error("expected error for nil key")
		}
	})
}
