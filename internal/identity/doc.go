// Package identity manages the node's hidden-service key material: the
// ED25519-V3 expanded key blob the control port consumes, the derived onion
// hostname, and bounded rolling backups of the key file.
package identity
