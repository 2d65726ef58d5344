package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// SigningKey is the long-lived Ed25519 private key behind a ServiceId.
type SigningKey struct {
	priv ed25519.PrivateKey
}

// VerifyingKey is the public half of a SigningKey.
type VerifyingKey struct {
	pub ed25519.PublicKey
}

// GenerateSigningKey draws a fresh Ed25519 keypair from crypto/rand.
func GenerateSigningKey() (SigningKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SigningKey{}, fmt.Errorf("generate signing key: %w", err)
	}
	return SigningKey{priv: priv}, nil
}

// NewSigningKeyFromSeed constructs a SigningKey from a 32-byte Ed25519 seed.
func NewSigningKeyFromSeed(seed [32]byte) SigningKey {
	return SigningKey{priv: ed25519.NewKeyFromSeed(seed[:])}
}

// VerifyingKey returns the public half of the key.
func (k SigningKey) VerifyingKey() VerifyingKey {
	return VerifyingKey{pub: k.priv.Public().(ed25519.PublicKey)}
}

// ServiceId returns the ServiceId derived from this key.
func (k SigningKey) ServiceId() ServiceId {
	return k.VerifyingKey().ServiceId()
}

// Sign produces a 64-byte Ed25519 signature over msg.
func (k SigningKey) Sign(msg []byte) [64]byte {
	var sig [64]byte
	copy(sig[:], ed25519.Sign(k.priv, msg))
	return sig
}

// ServiceId returns the ServiceId derived from this verifying key; a ServiceId
// and an Ed25519 public key are the same 32 bytes.
func (k VerifyingKey) ServiceId() ServiceId {
	var id ServiceId
	copy(id[:], k.pub)
	return id
}

// Verify checks a 64-byte Ed25519 signature over msg.
func (k VerifyingKey) Verify(msg []byte, sig [64]byte) bool {
	return ed25519.Verify(k.pub, msg, sig[:])
}
