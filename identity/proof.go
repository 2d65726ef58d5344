package identity

import (
	"encoding/hex"
	"fmt"
)

// Domain separators distinguishing the identity and endpoint client-proofs
// from one another (spec §4.1), taken verbatim from the original protocol's
// DomainSeparator constants.
const (
	DomainIdentity = "gosling-identity"
	DomainEndpoint = "gosling-endpoint"
)

// ClientProof is the deterministic byte string both peers derive identically
// and that the client signs to prove control of its claimed identity in this
// session (spec §3, §4.1). It is never truncated, hashed, or compressed
// before signing.
type ClientProof []byte

// BuildClientProof constructs a ClientProof:
//
//	domain ‖ 0 ‖ request ‖ 0 ‖ clientID ‖ 0 ‖ serverID ‖ 0 ‖ hex(clientCookie) ‖ 0 ‖ hex(serverCookie)
//
// request must be ASCII; the zero-byte separators plus the fixed domain
// string make cross-protocol and cross-role confusion collisions unreachable
// without a cookie collision.
func BuildClientProof(domain, request string, clientID, serverID ServiceId, clientCookie, serverCookie [32]byte) (ClientProof, error) {
	if !isASCII(request) {
		return nil, fmt.Errorf("client proof: request name %q is not ASCII", request)
	}

	var proof ClientProof
	proof = append(proof, domain...)
	proof = append(proof, 0)
	proof = append(proof, request...)
	proof = append(proof, 0)
	proof = append(proof, clientID.String()...)
	proof = append(proof, 0)
	proof = append(proof, serverID.String()...)
	proof = append(proof, 0)
	proof = append(proof, hex.EncodeToString(clientCookie[:])...)
	proof = append(proof, 0)
	proof = append(proof, hex.EncodeToString(serverCookie[:])...)

	return proof, nil
}

// isASCII reports whether every byte of s is in the 7-bit ASCII range.
func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

// IsASCII reports whether s contains only 7-bit ASCII bytes. Exported for use
// by callers validating endpoint/channel names before constructing a proof.
func IsASCII(s string) bool {
	return isASCII(s)
}
