package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// PayloadMaxAge is how long a signed payload is accepted after signing.
const PayloadMaxAge = 24 * time.Hour

// ErrInvalidPayload is returned for any signed payload that fails verification.
var ErrInvalidPayload = errors.New("invalid signed payload")

// SessionInfo is the small client-held record that binds a browser to a session.
type SessionInfo struct {
	SessionID         string `json:"session_id"`
	DeviceFingerprint string `json:"device_fingerprint"`
	RememberMe        bool   `json:"remember_me"`
}

type signedEnvelope struct {
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
	Timestamp string          `json:"timestamp"`
}

// PayloadSigner signs and verifies SessionInfo with HMAC-SHA256.
type PayloadSigner struct {
	key  []byte
	nowF func() time.Time
}

// NewPayloadSigner returns a signer keyed with secret.
func NewPayloadSigner(secret []byte) *PayloadSigner {
	return &PayloadSigner{key: secret, nowF: func() time.Time { return time.Now().UTC() }}
}

// NewPayloadSignerWithClock returns a signer with an injected clock. For tests.
func NewPayloadSignerWithClock(secret []byte, nowF func() time.Time) *PayloadSigner {
	return &PayloadSigner{key: secret, nowF: nowF}
}

// Sign returns the base64 envelope {data, signature, timestamp}. The signature covers
// both the data and the timestamp.
func (s *PayloadSigner) Sign(info SessionInfo) (string, error) {
	data, err := json.Marshal(info)
	if err != nil {
		return "", err
	}
	ts := s.nowF().UTC().Format(time.RFC3339Nano)
	env := signedEnvelope{
		Data:      data,
		Signature: s.mac(data, ts),
		Timestamp: ts,
	}
	out, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// Verify decodes and checks a signed envelope. Any decoding problem, missing field,
// signature mismatch, or age above PayloadMaxAge yields ErrInvalidPayload.
func (s *PayloadSigner) Verify(signed string) (*SessionInfo, error) {
	raw, err := base64.StdEncoding.DecodeString(signed)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	var env signedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrInvalidPayload
	}
	if len(env.Data) == 0 || env.Signature == "" || env.Timestamp == "" {
		return nil, ErrInvalidPayload
	}
	expected := s.mac(env.Data, env.Timestamp)
	if !hmac.Equal([]byte(expected), []byte(env.Signature)) {
		return nil, ErrInvalidPayload
	}
	signedAt, err := time.Parse(time.RFC3339Nano, env.Timestamp)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	if s.nowF().Sub(signedAt) > PayloadMaxAge {
		return nil, ErrInvalidPayload
	}
	var info SessionInfo
	if err := json.Unmarshal(env.Data, &info); err != nil {
		return nil, ErrInvalidPayload
	}
	if info.SessionID == "" {
		return nil, ErrInvalidPayload
	}
	return &info, nil
}

func (s *PayloadSigner) mac(data []byte, ts string) string {
	m := hmac.New(sha256.New, s.key)
	m.Write(data)
	m.Write([]byte{'.'})
	m.Write([]byte(ts))
	return hex.EncodeToString(m.Sum(nil))
}
