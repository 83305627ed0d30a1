// Package crypto is the narrow signing/hashing surface consensus code depends on,
// threaded in explicitly rather than pulled from a package-level global.
package crypto

import "crypto/ecdsa"

// Provider is the capability interface consensus validation is built against, mirroring
// the way the reference node threads a CryptoProvider into consensus.ApplyBlock instead
// of calling a hash/signature library directly.
type Provider interface {
	// SHA256 returns the digest of input.
	SHA256(input []byte) [32]byte

	// Sign produces a fixed-width 64-byte r||s ECDSA-P256 signature over digest.
	Sign(priv *ecdsa.PrivateKey, digest [32]byte) ([]byte, error)

	// Verify checks a fixed-width 64-byte r||s signature against the public key
	// encoded in pubkeyDER (the §6 wire form).
	Verify(pubkeyDER []byte, sig []byte, digest [32]byte) bool

	// EncodePublicKey renders pub as a DER SubjectPublicKeyInfo (91 bytes for P-256).
	EncodePublicKey(pub *ecdsa.PublicKey) ([]byte, error)

	// DecodePublicKey parses the DER form back into a public key.
	DecodePublicKey(der []byte) (*ecdsa.PublicKey, error)
}
