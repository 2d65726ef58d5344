package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"math/big"

	"golang.org/x/crypto/curve25519"
)

// AuthPrivateKey is the onion-service client-auth private half: an x25519 seed
// that decrypts the descriptor's authorized-client entry (spec §3, AuthKeyPair).
type AuthPrivateKey [32]byte

// AuthPublicKey is the x25519 public half published to the listener.
type AuthPublicKey [32]byte

// GenerateAuthKeyPair draws a fresh client-auth keypair from crypto/rand.
func GenerateAuthKeyPair() (AuthPrivateKey, AuthPublicKey, error) {
	var seed AuthPrivateKey
	if _, err := rand.Read(seed[:]); err != nil {
		return AuthPrivateKey{}, AuthPublicKey{}, fmt.Errorf("generate auth key pair: %w", err)
	}
	pub, err := seed.PublicKey()
	if err != nil {
		return AuthPrivateKey{}, AuthPublicKey{}, err
	}
	return seed, pub, nil
}

// PublicKey derives the x25519 (Montgomery u-coordinate) public key for k.
func (k AuthPrivateKey) PublicKey() (AuthPublicKey, error) {
	scalar := clampedScalar(k[:])
	u, err := curve25519.X25519(scalar, curve25519.Basepoint)
	if err != nil {
		return AuthPublicKey{}, fmt.Errorf("derive x25519 public key: %w", err)
	}
	var pub AuthPublicKey
	copy(pub[:], u)
	return pub, nil
}

// SignMessage signs msg with the Ed25519-equivalent key of this x25519 private
// key, returning the signature and the Ed25519 sign bit that must accompany
// the Montgomery public key on the wire so a verifier can reconstruct the
// exact Edwards point (spec §4.2 step 4, §9 "Sign-bit encoding").
func (k AuthPrivateKey) SignMessage(msg []byte) (sig [64]byte, signBit bool, err error) {
	edPriv := ed25519.NewKeyFromSeed(k[:])
	copy(sig[:], ed25519.Sign(edPriv, msg))
	edPub := edPriv.Public().(ed25519.PublicKey)
	signBit = edPub[31]&0x80 != 0
	return sig, signBit, nil
}

// VerifyX25519 verifies a signature produced by AuthPrivateKey.SignMessage
// given only the Montgomery public key and the carried sign bit, by applying
// the birational map between Curve25519 and Ed25519 to reconstruct the
// compressed Edwards public key before delegating to crypto/ed25519.Verify.
func VerifyX25519(msg []byte, pub AuthPublicKey, signBit bool, sig [64]byte) bool {
	edPub, ok := montgomeryToEdwards(pub, signBit)
	if !ok {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(edPub[:]), msg, sig[:])
}

// clampedScalar applies the standard Curve25519/Ed25519 scalar clamp to the
// first 32 bytes of SHA-512(seed), exactly as crypto/ed25519.NewKeyFromSeed
// and X25519 key derivation do internally, so that the resulting scalar acts
// on both the Montgomery and Edwards basepoints as the same group element.
func clampedScalar(seed []byte) []byte {
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	scalar := make([]byte, 32)
	copy(scalar, h[:32])
	return scalar
}

// fieldPrime is 2^255 - 19, the Curve25519/Ed25519 field modulus.
var fieldPrime = func() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), 255)
	return p.Sub(p, big.NewInt(19))
}()

// montgomeryToEdwards converts a Curve25519 Montgomery u-coordinate plus a
// sign bit into the corresponding 32-byte compressed Edwards25519 public key,
// using the standard birational map y = (u-1)/(u+1) mod p.
func montgomeryToEdwards(u AuthPublicKey, signBit bool) ([32]byte, bool) {
	uInt := new(big.Int).SetBytes(reverseBytes(u[:]))
	uInt.Mod(uInt, fieldPrime)

	denom := new(big.Int).Add(uInt, big.NewInt(1))
	denom.Mod(denom, fieldPrime)
	if denom.Sign() == 0 {
		return [32]byte{}, false
	}
	denomInv := new(big.Int).ModInverse(denom, fieldPrime)
	if denomInv == nil {
		return [32]byte{}, false
	}

	numer := new(big.Int).Sub(uInt, big.NewInt(1))
	numer.Mod(numer, fieldPrime)

	y := new(big.Int).Mul(numer, denomInv)
	y.Mod(y, fieldPrime)

	yBytes := y.FillBytes(make([]byte, 32))
	reverseInPlace(yBytes) // big.Int is big-endian; the wire encoding is little-endian

	if signBit {
		yBytes[31] |= 0x80
	} else {
		yBytes[31] &^= 0x80
	}

	var out [32]byte
	copy(out[:], yBytes)
	return out, true
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}

func reverseInPlace(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
