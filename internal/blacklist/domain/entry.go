package domain

import "time"

// Entry marks an access token jti as revoked until the token's own expiry.
type Entry struct {
	JTI       string
	AccountID string
	TokenType string
	Reason    string
	RevokedAt time.Time
	ExpiresAt time.Time
}
