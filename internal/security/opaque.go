package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// OpaqueTokenBytes is the entropy of a refresh secret (256 bits).
const OpaqueTokenBytes = 32

// GenerateOpaqueToken returns a new random refresh secret, base64url-encoded without padding.
func GenerateOpaqueToken() (string, error) {
	b := make([]byte, OpaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate opaque token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns a SHA-256 hash of the token string, hex-encoded.
// Only this hash is ever persisted; the raw secret is returned to the client once.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenHashEqual performs constant-time comparison of the provided token's hash
// with the stored hash. Returns true only if they match.
func TokenHashEqual(providedToken, storedHash string) bool {
	providedHash := HashToken(providedToken)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}

// DeviceFingerprint derives a stable identifier for a client from its user agent and IP.
// It is a heuristic: clients behind the same NAT with the same browser collide, and a
// legitimate client that changes network gets a new fingerprint.
func DeviceFingerprint(userAgent, ipAddress string) string {
	return HashToken(userAgent + ":" + ipAddress)
}
