package kalshi

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

func testPrivateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = key
	})
	return testKey
}

func pkcs1PEM(t *testing.T) []byte {
	t.Helper()
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(testPrivateKey(t)),
	})
}

func testCredential(t *testing.T) *Credential {
	t.Helper()
	cred, err := NewCredential("key-123", pkcs1PEM(t))
	require.NoError(t, err)
	return cred
}

func TestSignVerifies(t *testing.T) {
	cred := testCredential(t)

	first, err := Sign(cred, "GET", "/trade-api/v2/portfolio/balance", 1700000000123)
	require.NoError(t, err)
	second, err := Sign(cred, "GET", "/trade-api/v2/portfolio/balance", 1700000000123)
	require.NoError(t, err)

	assert.Equal(t, "1700000000123", first.Timestamp)
	assert.Equal(t, "key-123", first.KeyID)
	require.NoError(t, Verify(cred.PublicKey(), first.Timestamp, "GET", "/trade-api/v2/portfolio/balance", first.Signature))
	require.NoError(t, Verify(cred.PublicKey(), second.Timestamp, "GET", "/trade-api/v2/portfolio/balance", second.Signature))
}

func TestSignRejectsTamperedMessage(t *testing.T) {
	cred := testCredential(t)

	signed, err := Sign(cred, "POST", "/trade-api/v2/portfolio/orders", 1700000000000)
	require.NoError(t, err)

	assert.Error(t, Verify(cred.PublicKey(), "1700000000001", "POST", "/trade-api/v2/portfolio/orders", signed.Signature))
	assert.Error(t, Verify(cred.PublicKey(), signed.Timestamp, "GET", "/trade-api/v2/portfolio/orders", signed.Signature))
}

func TestSigningMessageStripsQuery(t *testing.T) {
	withQuery := SigningMessage("1700000000000", "GET", "/v2/markets?status=open&limit=50")
	bare := SigningMessage("1700000000000", "GET", "/v2/markets")
	assert.Equal(t, bare, withQuery)
	assert.Equal(t, "1700000000000GET/v2/markets", bare)

	cred := testCredential(t)
	signed, err := Sign(cred, "GET", "/v2/markets?status=open&limit=50", 1700000000000)
	require.NoError(t, err)
	assert.Equal(t, "/v2/markets", signed.Path)
	require.NoError(t, Verify(cred.PublicKey(), signed.Timestamp, "GET", "/v2/markets", signed.Signature))
}

func TestTimestampMillisAppliesOffset(t *testing.T) {
	now := time.UnixMilli(1700000000999)
	assert.Equal(t, int64(1700000000999), TimestampMillis(now, 0))
	assert.Equal(t, int64(1700000002999), TimestampMillis(now, 2))
	assert.Equal(t, int64(1699999997999), TimestampMillis(now, -3))
}

func TestSignWithoutCredential(t *testing.T) {
	_, err := Sign(nil, "GET", "/v2/portfolio/balance", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCredential))

	var credErr *CredentialError
	assert.True(t, errors.As(err, &credErr))
}

func TestNewCredentialErrors(t *testing.T) {
	_, err := NewCredential("key", []byte("not a pem"))
	assert.ErrorIs(t, err, ErrCredential)

	_, err = NewCredential("", pkcs1PEM(t))
	assert.ErrorIs(t, err, ErrCredential)

	garbage := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte("garbage")})
	_, err = NewCredential("key", garbage)
	assert.ErrorIs(t, err, ErrCredential)
}

func TestNewCredentialPKCS8(t *testing.T) {
	der, err := x509.MarshalPKCS8PrivateKey(testPrivateKey(t))
	require.NoError(t, err)
	data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	cred, err := NewCredential("key-8", data)
	require.NoError(t, err)

	signed, err := Sign(cred, "DELETE", "/v2/portfolio/orders/abc", 42)
	require.NoError(t, err)
	assert.NoError(t, Verify(cred.PublicKey(), "42", "DELETE", "/v2/portfolio/orders/abc", signed.Signature))
}

func TestLoadCredentialInlineEscapedNewlines(t *testing.T) {
	escaped := ""
	for _, line := range strings.Split(strings.TrimRight(string(pkcs1PEM(t)), "\n"), "\n") {
		escaped += line + `\n`
	}

	cred, err := LoadCredential("key-inline", "", escaped)
	require.NoError(t, err)
	assert.Equal(t, "key-inline", cred.KeyID)

	_, err = LoadCredential("key", "", "")
	assert.ErrorIs(t, err, ErrCredential)

	_, err = LoadCredential("key", "/does/not/exist.pem", "")
	assert.ErrorIs(t, err, ErrCredential)
}

func TestSignedRequestApply(t *testing.T) {
	h := http.Header{}
	SignedRequest{KeyID: "k", Timestamp: strconv.Itoa(5), Signature: "sig"}.Apply(h)

	assert.Equal(t, "k", h.Get(HeaderAccessKey))
	assert.Equal(t, "sig", h.Get(HeaderSignature))
	assert.Equal(t, "5", h.Get(HeaderTimestamp))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
}
