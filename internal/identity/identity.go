package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/onionwire/onionwire/internal/tor"
)

// File names inside the identity directory. The layout mirrors what tor
// itself writes into a HiddenServiceDir, which makes the directory
// recognizable to operators even though tor never reads it directly (the
// key travels over the control port instead).
const (
	// PrivateKeyFileName holds the base64 ED25519-V3 expanded key blob.
	PrivateKeyFileName = "ed25519_private_key"

	// PublicKeyFileName holds the base64 32-byte ed25519 public key.
	PublicKeyFileName = "ed25519_public_key"

	// HostnameFileName holds the derived .onion hostname. Informational:
	// the hostname is always re-derived from the public key on load.
	HostnameFileName = "hostname"
)

// expandedKeySize is the size of a tor expanded ed25519 private key:
// the clamped scalar followed by the PRF seed half of the SHA-512 digest.
const expandedKeySize = 64

// Identity errors.
var (
	// ErrNoIdentity is returned by Load when the identity directory holds
	// no key material yet.
	ErrNoIdentity = errors.New("no identity found")

	// ErrCorruptIdentity is returned when key material exists but cannot
	// be decoded or is internally inconsistent.
	ErrCorruptIdentity = errors.New("identity files are corrupt")
)

// Identity is the node's hidden-service identity: the expanded private key
// blob handed to ADD_ONION and the public half it was derived from.
//
// Design decision: the private key is stored as the tor expanded-key blob
// rather than the raw ed25519 seed. The blob is exactly what the control
// port consumes, so publishing never needs to re-derive key material, and
// an operator can migrate the file into a tor HiddenServiceDir unchanged.
// The public key is persisted alongside it because the expanded blob alone
// cannot be reversed into a public key without curve arithmetic the
// standard library does not expose.
type Identity struct {
	keyBlob   string
	publicKey ed25519.PublicKey
	onionHost string
}

// Generate creates a fresh random identity.
func Generate() (*Identity, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}
	return fromKeyPair(publicKey, privateKey.Seed())
}

// fromKeyPair builds an Identity from a public key and the matching seed.
func fromKeyPair(publicKey ed25519.PublicKey, seed []byte) (*Identity, error) {
	host, err := tor.ComputeV3AddressFromPublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	return &Identity{
		keyBlob:   base64.StdEncoding.EncodeToString(expandSeed(seed)),
		publicKey: append(ed25519.PublicKey(nil), publicKey...),
		onionHost: host,
	}, nil
}

// expandSeed derives the tor expanded private key from an ed25519 seed:
// SHA-512 of the seed with the scalar half clamped (RFC 8032 section 5.1.5).
func expandSeed(seed []byte) []byte {
	digest := sha512.Sum512(seed)
	digest[0] &= 248
	digest[31] &= 127
	digest[31] |= 64
	return digest[:expandedKeySize]
}

// Load reads an identity from dir. It returns ErrNoIdentity when the key
// file does not exist and ErrCorruptIdentity when files are present but
// undecodable or inconsistent.
func Load(dir string) (*Identity, error) {
	blobData, err := os.ReadFile(filepath.Join(dir, PrivateKeyFileName)) //nolint:gosec // Path is inside our own data dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoIdentity
		}
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}

	blob := strings.TrimSpace(string(blobData))
	rawKey, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: private key is not valid base64: %v", ErrCorruptIdentity, err)
	}
	if len(rawKey) != expandedKeySize {
		return nil, fmt.Errorf("%w: private key is %d bytes, expected %d", ErrCorruptIdentity, len(rawKey), expandedKeySize)
	}

	pubData, err := os.ReadFile(filepath.Join(dir, PublicKeyFileName)) //nolint:gosec // Path is inside our own data dir
	if err != nil {
		return nil, fmt.Errorf("%w: missing public key file: %v", ErrCorruptIdentity, err)
	}
	publicKey, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(pubData)))
	if err != nil {
		return nil, fmt.Errorf("%w: public key is not valid base64: %v", ErrCorruptIdentity, err)
	}
	if len(publicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key is %d bytes, expected %d", ErrCorruptIdentity, len(publicKey), ed25519.PublicKeySize)
	}

	host, err := tor.ComputeV3AddressFromPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIdentity, err)
	}

	// The hostname file is informational, but a mismatch means someone
	// edited the directory by hand; refuse to publish under a hostname
	// the keys cannot back.
	if hostData, err := os.ReadFile(filepath.Join(dir, HostnameFileName)); err == nil { //nolint:gosec // Path is inside our own data dir
		if recorded := strings.TrimSpace(string(hostData)); recorded != "" && recorded != host {
			return nil, fmt.Errorf("%w: hostname file says %q but keys derive %q", ErrCorruptIdentity, recorded, host)
		}
	}

	return &Identity{
		keyBlob:   blob,
		publicKey: publicKey,
		onionHost: host,
	}, nil
}

// LoadOrCreate loads the identity from dir, generating and persisting a
// fresh one when none exists. The returned bool is true when a new identity
// was created.
func LoadOrCreate(dir string) (*Identity, bool, error) {
	id, err := Load(dir)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, ErrNoIdentity) {
		return nil, false, err
	}

	id, err = Generate()
	if err != nil {
		return nil, false, err
	}
	if err := id.Save(dir); err != nil {
		return nil, false, err
	}
	return id, true, nil
}

// Save writes the identity files into dir, creating it if needed.
func (i *Identity) Save(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}

	files := []struct {
		name    string
		content string
	}{
		{PrivateKeyFileName, i.keyBlob + "\n"},
		{PublicKeyFileName, base64.StdEncoding.EncodeToString(i.publicKey) + "\n"},
		{HostnameFileName, i.onionHost + "\n"},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, []byte(f.content), 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}
	return nil
}

// KeyBlob returns the base64 expanded key blob, without the "ED25519-V3:"
// control-port prefix.
func (i *Identity) KeyBlob() string {
	return i.keyBlob
}

// PublicKey returns the ed25519 public key.
func (i *Identity) PublicKey() ed25519.PublicKey {
	return i.publicKey
}

// OnionHost returns the v3 onion hostname derived from the public key,
// including the ".onion" suffix.
func (i *Identity) OnionHost() string {
	return i.onionHost
}
