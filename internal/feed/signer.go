package feed

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"time"
)

// Signer produces HMAC-SHA256 auth headers for the feed handshake.
type Signer struct {
	accessKey  string
	secretKey  string
	passphrase string
	now        func() time.Time
}

// NewSigner creates a new Signer instance
func NewSigner(accessKey, secretKey, passphrase string) *Signer {
	return &Signer{
		accessKey:  accessKey,
		secretKey:  secretKey,
		passphrase: passphrase,
		now:        time.Now,
	}
}

// Headers signs timestamp + method + path and returns the handshake headers.
// Timestamp is unix milliseconds.
func (s *Signer) Headers(method, path string) http.Header {
	timestamp := strconv.FormatInt(s.now().UnixMilli(), 10)
	sign := computeHmacSha256(timestamp+method+path, s.secretKey)

	h := make(http.Header)
	h.Set("ACCESS-KEY", s.accessKey)
	h.Set("ACCESS-SIGN", sign)
	h.Set("ACCESS-TIMESTAMP", timestamp)
	if s.passphrase != "" {
		h.Set("ACCESS-PASSPHRASE", s.passphrase)
	}
	return h
}

// Verify checks a signature produced by Headers.
func (s *Signer) Verify(h http.Header, method, path string) bool {
	want := computeHmacSha256(h.Get("ACCESS-TIMESTAMP")+method+path, s.secretKey)
	return hmac.Equal([]byte(want), []byte(h.Get("ACCESS-SIGN")))
}

func computeHmacSha256(message string, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
