// Package sigauth verifies producer submissions: HMAC-SHA256 over
// "<timestamp>.<body>" with a shared secret, plus a timestamp window for
// replay protection.
package sigauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidTimestamp       = errors.New("invalid timestamp")
	ErrTimestampOutsideWindow = errors.New("timestamp outside allowed window")
	ErrInvalidSignature       = errors.New("invalid signature")
)

// Input carries everything needed to verify one submission
type Input struct {
	Secret          string
	TimestampHeader string
	SignatureHeader string
	Body            []byte
	Window          time.Duration
	Now             time.Time
}

// Verify checks the timestamp window and the hex HMAC-SHA256 signature
func Verify(in Input) error {
	tsHeader := strings.TrimSpace(in.TimestampHeader)
	sigHeader := strings.TrimSpace(in.SignatureHeader)

	tsInt, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	ts := time.Unix(tsInt, 0).UTC()

	now := in.Now.UTC()
	if ts.Before(now.Add(-in.Window)) || ts.After(now.Add(in.Window)) {
		return ErrTimestampOutsideWindow
	}

	providedSig, err := hex.DecodeString(sigHeader)
	if err != nil {
		return ErrInvalidSignature
	}

	expectedSig := sign(in.Secret, tsHeader, in.Body)

	if !hmac.Equal(providedSig, expectedSig) {
		return ErrInvalidSignature
	}
	return nil
}

// SignHex computes the hex signature for "<ts>.<body>"; used by tests and
// producer tooling.
func SignHex(secret string, timestampHeader string, body []byte) string {
	return hex.EncodeToString(sign(secret, timestampHeader, body))
}

func sign(secret, tsHeader string, body []byte) []byte {
	msg := make([]byte, 0, len(tsHeader)+1+len(body))
	msg = append(msg, []byte(tsHeader)...)
	msg = append(msg, '.')
	msg = append(msg, body...)

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(msg)
	return mac.Sum(nil)
}
