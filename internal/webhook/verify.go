package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderID        = "webhook-id"
	HeaderTimestamp = "webhook-timestamp"
	HeaderSignature = "webhook-signature"

	DefaultTolerance = 5 * time.Minute
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrStaleTimestamp   = errors.New("stale webhook timestamp")
)

// Verifier checks provider webhook signatures: HMAC-SHA256 over
// "{id}.{timestamp}.{body}" keyed with the base64 secret, matched against
// the space-separated "v1,<base64>" candidates in the signature header.
type Verifier struct {
	key       []byte
	tolerance time.Duration
}

func NewVerifier(secret string) (*Verifier, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(secret), "whsec_")
	if trimmed == "" {
		return nil, errors.New("webhook secret is required")
	}

	key, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode webhook secret: %w", err)
	}

	return &Verifier{key: key, tolerance: DefaultTolerance}, nil
}

func (v *Verifier) Verify(id, timestamp, signature string, body []byte, now time.Time) error {
	if id == "" || timestamp == "" || signature == "" {
		return ErrMissingSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}

	requestTime := time.Unix(ts, 0)
	if now.Sub(requestTime) > v.tolerance || requestTime.Sub(now) > v.tolerance {
		return ErrStaleTimestamp
	}

	expected := v.sign(id, timestamp, body)
	for _, candidate := range strings.Fields(signature) {
		value, ok := strings.CutPrefix(candidate, "v1,")
		if !ok {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}

	return ErrInvalidSignature
}

// VerifyRequest verifies against the standard webhook headers of r. The body
// must already be read out so the caller can reuse it after verification.
func (v *Verifier) VerifyRequest(r *http.Request, body []byte, now time.Time) error {
	return v.Verify(
		r.Header.Get(HeaderID),
		r.Header.Get(HeaderTimestamp),
		r.Header.Get(HeaderSignature),
		body,
		now,
	)
}

// Sign produces the "v1,<base64>" signature value for the given delivery.
func (v *Verifier) Sign(id, timestamp string, body []byte) string {
	return "v1," + base64.StdEncoding.EncodeToString(v.sign(id, timestamp, body))
}

func (v *Verifier) sign(id, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, v.key)
	_, _ = mac.Write([]byte(id))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}
