package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"math/big"
)

// sigLen is the fixed width of an r||s ECDSA-P256 signature: two 32-byte big-endian
// field elements, never the variable-length ASN.1 DER form (spec.md §6, "unlock-sig").
const sigLen = 64
const fieldLen = 32

// StdProvider is the default Provider backend, built entirely on the standard
// library, the way the reference node's DevStdCryptoProvider is its unconditional
// development backend.
type StdProvider struct{}

func (StdProvider) SHA256(input []byte) [32]byte {
	return sha256.Sum256(input)
}

func (StdProvider) Sign(priv *ecdsa.PrivateKey, digest [32]byte) ([]byte, error) {
	if priv == nil {
		return nil, errors.New("crypto: nil private key")
	}
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, sigLen)
	r.FillBytes(out[:fieldLen])
	s.FillBytes(out[fieldLen:])
	return out, nil
}

func (StdProvider) Verify(pubkeyDER []byte, sig []byte, digest [32]byte) bool {
	if len(sig) != sigLen {
		return false
	}
	pub, err := (StdProvider{}).DecodePublicKey(pubkeyDER)
	if err != nil {
		return false
	}
	r := new(big.Int).SetBytes(sig[:fieldLen])
	s := new(big.Int).SetBytes(sig[fieldLen:])
	return ecdsa.Verify(pub, digest[:], r, s)
}

func (StdProvider) EncodePublicKey(pub *ecdsa.PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, errors.New("crypto: nil public key")
	}
	return x509.MarshalPKIXPublicKey(pub)
}

func (StdProvider) DecodePublicKey(der []byte) (*ecdsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("crypto: not an ECDSA public key")
	}
	if pub.Curve != elliptic.P256() {
		return nil, errors.New("crypto: not a P-256 key")
	}
	return pub, nil
}
