package security

import "time"

// testSecret is a fixed HS256 key for unit tests only. Do not use in production.
const testSecret = "test-secret-key-with-at-least-32-bytes!"

// NewTestTokenProvider returns a TokenProvider using the embedded test secret.
// For unit tests only. Callers must not use in production.
func NewTestTokenProvider() *TokenProvider {
	return NewTokenProvider([]byte(testSecret), "test-issuer", 15*time.Minute)
}
