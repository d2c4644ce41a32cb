package kalshi

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrCredential matches every CredentialError.
var ErrCredential = errors.New("kalshi: credential unusable")

// CredentialError reports an API key or private key that cannot sign requests.
// No request is sent when one is returned.
type CredentialError struct {
	Reason string
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("kalshi credential: %s: %v", e.Reason, e.Err)
	}
	return "kalshi credential: " + e.Reason
}

func (e *CredentialError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrCredential) match.
func (e *CredentialError) Is(target error) bool { return target == ErrCredential }

// Credential pairs the access key identifier with its RSA signing key.
type Credential struct {
	KeyID string
	key   *rsa.PrivateKey
}

// NewCredential parses a PEM encoded RSA key (PKCS#1 or PKCS#8).
func NewCredential(keyID string, pemBytes []byte) (*Credential, error) {
	if strings.TrimSpace(keyID) == "" {
		return nil, &CredentialError{Reason: "api key id missing"}
	}
	key, err := ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, err
	}
	return &Credential{KeyID: keyID, key: key}, nil
}

// LoadCredential reads the key from inlinePEM when set, otherwise from path.
func LoadCredential(keyID, path, inlinePEM string) (*Credential, error) {
	if inlinePEM != "" {
		// env vars commonly carry escaped newlines
		return NewCredential(keyID, []byte(strings.ReplaceAll(inlinePEM, `\n`, "\n")))
	}
	if path == "" {
		return nil, &CredentialError{Reason: "private key not configured"}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CredentialError{Reason: "read private key", Err: err}
	}
	return NewCredential(keyID, data)
}

// ParsePrivateKey decodes the first PEM block into an RSA private key.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, &CredentialError{Reason: "no PEM block found"}
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, &CredentialError{Reason: "parse private key", Err: err}
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, &CredentialError{Reason: fmt.Sprintf("unsupported key type %T", parsed)}
	}
	return key, nil
}

func (c *Credential) usable() error {
	if c == nil || c.key == nil {
		return &CredentialError{Reason: "no signing key loaded"}
	}
	if c.KeyID == "" {
		return &CredentialError{Reason: "api key id missing"}
	}
	return nil
}
