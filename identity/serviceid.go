// Package identity implements the cryptographic identity material of the protocol:
// service IDs, signing/verifying keys, client-auth keypairs, per-handshake cookies,
// and the client-proof construction (spec §3, §4.1).
package identity

import (
	"fmt"

	"filippo.io/edwards25519"

	"github.com/pcwizz/gosling-go/onion"
)

// ServiceId is the 32-byte Ed25519 public key behind a v3 onion service identity.
// Its textual form is the 56-character base32 encoding used by onion addresses,
// without the ".onion" suffix or any separators.
type ServiceId [32]byte

// String returns the 56-character lowercase base32 textual form of the ServiceId,
// delegating to onion.EncodeOnion for the checksum construction shared with v3
// .onion addresses.
func (s ServiceId) String() string {
	return onion.EncodeOnion(s)
}

// ParseServiceId parses the 56-character textual form of a ServiceId. A trailing
// ".onion" suffix is tolerated for convenience but not required.
func ParseServiceId(text string) (ServiceId, error) {
	pubkey, err := onion.DecodeOnion(text)
	if err != nil {
		return ServiceId{}, fmt.Errorf("parse service id: %w", err)
	}
	return ServiceId(pubkey), nil
}

// VerifyingKey returns the Ed25519 verifying key corresponding to this ServiceId;
// a ServiceId and its Ed25519 public key are the same 32 bytes.
func (s ServiceId) VerifyingKey() VerifyingKey {
	return VerifyingKey{pub: append([]byte(nil), s[:]...)}
}

// validPoint reports whether s decodes to a valid point on the Ed25519 curve,
// the same check onion.DecodeOnion applies to addresses; torsion components are
// not checked.
func (s ServiceId) validPoint() bool {
	_, err := new(edwards25519.Point).SetBytes(s[:])
	return err == nil
}
