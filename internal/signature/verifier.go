// Package signature verifies the HMAC-SHA256 signatures providers attach to
// webhook deliveries.
package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"area-engine/internal/common/logging"
)

// Scheme describes how one provider signs deliveries.
type Scheme struct {
	Name string
	// Header carries Prefix followed by the hex digest.
	Header string
	Prefix string
	// Input builds the signed message.
	Input func(r *http.Request, body []byte) []byte
	// TimestampHeader, when set, is checked against MaxSkew to reject replays.
	TimestampHeader string
	MaxSkew         time.Duration
}

var (
	// GitHub signs the raw body: X-Hub-Signature-256: sha256=<hex>.
	GitHub = Scheme{
		Name:   "github",
		Header: "X-Hub-Signature-256",
		Prefix: "sha256=",
		Input:  func(_ *http.Request, body []byte) []byte { return body },
	}

	// Twitch signs message id + timestamp + body.
	Twitch = Scheme{
		Name:   "twitch",
		Header: "Twitch-Eventsub-Message-Signature",
		Prefix: "sha256=",
		Input: func(r *http.Request, body []byte) []byte {
			var buf bytes.Buffer
			buf.WriteString(r.Header.Get("Twitch-Eventsub-Message-Id"))
			buf.WriteString(r.Header.Get("Twitch-Eventsub-Message-Timestamp"))
			buf.Write(body)
			return buf.Bytes()
		},
		TimestampHeader: "Twitch-Eventsub-Message-Timestamp",
		MaxSkew:         10 * time.Minute,
	}

	// Slack signs "v0:{timestamp}:{body}".
	Slack = Scheme{
		Name:   "slack",
		Header: "X-Slack-Signature",
		Prefix: "v0=",
		Input: func(r *http.Request, body []byte) []byte {
			var buf bytes.Buffer
			buf.WriteString("v0:")
			buf.WriteString(r.Header.Get("X-Slack-Request-Timestamp"))
			buf.WriteByte(':')
			buf.Write(body)
			return buf.Bytes()
		},
		TimestampHeader: "X-Slack-Request-Timestamp",
		MaxSkew:         5 * time.Minute,
	}
)

// Verifier handles webhook signature verification
type Verifier struct {
	scheme Scheme
	logger logging.Logger
	nowFn  func() time.Time
}

// NewVerifier creates a new signature verifier
func NewVerifier(scheme Scheme, logger logging.Logger) *Verifier {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Verifier{
		scheme: scheme,
		logger: logger.WithFields(logging.Field{Key: "component", Value: "signature"}, logging.Field{Key: "scheme", Value: scheme.Name}),
		nowFn:  time.Now,
	}
}

// Verify checks the delivery's signature against secret.
func (v *Verifier) Verify(r *http.Request, body []byte, secret string) error {
	if secret == "" {
		return NewVerificationError(v.scheme.Header, "no signing secret configured")
	}

	if v.scheme.TimestampHeader != "" {
		if err := v.validateTimestamp(r); err != nil {
			v.logger.Warn("Rejected stale delivery", logging.Field{Key: "error", Value: err.Error()})
			return err
		}
	}

	headerValue := r.Header.Get(v.scheme.Header)
	if headerValue == "" {
		return NewVerificationError(v.scheme.Header, "missing signature header")
	}
	if !strings.HasPrefix(headerValue, v.scheme.Prefix) {
		return NewVerificationError(v.scheme.Header, "header value doesn't match format")
	}
	signature := strings.TrimPrefix(headerValue, v.scheme.Prefix)

	expected := compute(v.scheme.Input(r, body), secret)
	// Compare signatures (constant time)
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		v.logger.Debug("Signature mismatch")
		return NewVerificationError(v.scheme.Header, "signature mismatch")
	}
	return nil
}

// Sign returns the header value scheme would attach to r and body.
func Sign(scheme Scheme, r *http.Request, body []byte, secret string) string {
	return scheme.Prefix + compute(scheme.Input(r, body), secret)
}

func compute(input []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(input)
	return hex.EncodeToString(mac.Sum(nil))
}

// validateTimestamp accepts unix seconds or RFC 3339.
func (v *Verifier) validateTimestamp(r *http.Request) error {
	raw := r.Header.Get(v.scheme.TimestampHeader)
	if raw == "" {
		return NewVerificationError(v.scheme.TimestampHeader, "missing timestamp header")
	}

	var ts time.Time
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		ts = time.Unix(secs, 0)
	} else if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		ts = parsed
	} else {
		return NewVerificationError(v.scheme.TimestampHeader, "invalid timestamp format")
	}

	skew := v.nowFn().Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.scheme.MaxSkew {
		return NewVerificationError(v.scheme.TimestampHeader, "timestamp outside tolerance window")
	}
	return nil
}
