// Package token issues HMAC-signed session tokens so the page can resume its
// coreg session without the server trusting a bare session id.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalid = errors.New("invalid token")
	ErrExpired = errors.New("token expired")
)

// MaxSessionIDLength bounds the session id carried in a token.
const MaxSessionIDLength = 64

// payload structure for encoding/decoding
type payload struct {
	SessionID string `json:"s"`
	VisitID   int64  `json:"v,omitempty"` // Registered visit, if any
	TS        int64  `json:"t"`
}

// Claims are the verified contents of a token.
type Claims struct {
	SessionID string
	VisitID   int64
	IssuedAt  time.Time
}

// Generate creates a signed token for sessionID.
func Generate(sessionID string, secret []byte) (string, error) {
	return GenerateWithVisit(sessionID, 0, secret)
}

// GenerateWithVisit creates a signed token binding sessionID to a registered visit.
func GenerateWithVisit(sessionID string, visitID int64, secret []byte) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("session id cannot be empty")
	}
	if len(sessionID) > MaxSessionIDLength {
		return "", fmt.Errorf("session id too long: %d chars, max %d", len(sessionID), MaxSessionIDLength)
	}
	data, err := json.Marshal(payload{SessionID: sessionID, VisitID: visitID, TS: time.Now().Unix()})
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	sig := mac.Sum(nil)

	enc := base64.RawURLEncoding
	return enc.EncodeToString(data) + "." + enc.EncodeToString(sig), nil
}

// Verify checks the token integrity and expiry and returns its claims.
func Verify(token string, secret []byte, ttl time.Duration) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return Claims{}, ErrInvalid
	}
	enc := base64.RawURLEncoding
	data, err := enc.DecodeString(parts[0])
	if err != nil {
		return Claims{}, ErrInvalid
	}
	sig, err := enc.DecodeString(parts[1])
	if err != nil {
		return Claims{}, ErrInvalid
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Claims{}, ErrInvalid
	}

	var pl payload
	if err := json.Unmarshal(data, &pl); err != nil || pl.SessionID == "" {
		return Claims{}, ErrInvalid
	}
	issued := time.Unix(pl.TS, 0)
	if ttl > 0 && time.Since(issued) > ttl {
		return Claims{}, ErrExpired
	}
	return Claims{SessionID: pl.SessionID, VisitID: pl.VisitID, IssuedAt: issued}, nil
}
