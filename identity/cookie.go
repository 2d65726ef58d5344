package identity

import (
	"crypto/rand"
	"fmt"
)

// Cookie is a 32-byte freshly generated random nonce, one per handshake,
// binding a signature to a specific session (spec §3, ClientCookie/ServerCookie).
type Cookie [32]byte

// NewCookie draws a fresh 32-byte cookie from crypto/rand. Cookies must never
// be reused across handshakes or roles.
func NewCookie() (Cookie, error) {
	var c Cookie
	if _, err := rand.Read(c[:]); err != nil {
		return Cookie{}, fmt.Errorf("generate cookie: %w", err)
	}
	return c, nil
}
