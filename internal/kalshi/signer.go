package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Header names expected by the trade API.
const (
	HeaderAccessKey = "KALSHI-ACCESS-KEY"
	HeaderSignature = "KALSHI-ACCESS-SIGNATURE"
	HeaderTimestamp = "KALSHI-ACCESS-TIMESTAMP"
)

var pssOptions = &rsa.PSSOptions{
	SaltLength: rsa.PSSSaltLengthEqualsHash,
	Hash:       crypto.SHA256,
}

// SignedRequest is the single-use authentication material for one call.
type SignedRequest struct {
	KeyID     string
	Method    string
	Path      string
	Timestamp string
	Signature string
}

// Apply writes the authentication headers onto h.
func (s SignedRequest) Apply(h http.Header) {
	h.Set(HeaderAccessKey, s.KeyID)
	h.Set(HeaderSignature, s.Signature)
	h.Set(HeaderTimestamp, s.Timestamp)
	h.Set("Content-Type", "application/json")
}

// StripQuery drops everything from the first '?' on.
func StripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}

// SigningMessage is timestamp || METHOD || path, without delimiters or query string.
func SigningMessage(timestamp, method, path string) string {
	return timestamp + strings.ToUpper(method) + StripQuery(path)
}

// TimestampMillis returns floor((now_seconds + offsetSeconds) * 1000).
func TimestampMillis(now time.Time, offsetSeconds int64) int64 {
	return now.UnixMilli() + offsetSeconds*1000
}

// Sign produces the RSA-PSS/SHA-256 signature for method and path at timestampMs.
func Sign(cred *Credential, method, path string, timestampMs int64) (SignedRequest, error) {
	if err := cred.usable(); err != nil {
		return SignedRequest{}, err
	}

	ts := strconv.FormatInt(timestampMs, 10)
	msg := SigningMessage(ts, method, path)
	digest := sha256.Sum256([]byte(msg))

	sig, err := rsa.SignPSS(rand.Reader, cred.key, crypto.SHA256, digest[:], pssOptions)
	if err != nil {
		return SignedRequest{}, &CredentialError{Reason: "sign request", Err: err}
	}

	return SignedRequest{
		KeyID:     cred.KeyID,
		Method:    strings.ToUpper(method),
		Path:      StripQuery(path),
		Timestamp: ts,
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// Verify checks a base64 signature against the message for timestamp, method and path.
func Verify(pub *rsa.PublicKey, timestamp, method, path, signature string) error {
	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	digest := sha256.Sum256([]byte(SigningMessage(timestamp, method, path)))
	return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], raw, pssOptions)
}

// PublicKey exposes the verifying half of the credential.
func (c *Credential) PublicKey() *rsa.PublicKey {
	if c == nil || c.key == nil {
		return nil
	}
	return &c.key.PublicKey
}
