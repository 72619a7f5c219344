package bitmex

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bhojpur/trades/pkg/clock"
)

// nonceValiditySeconds is how long a signed request stays valid; the
// nonce doubles as the api-expires header.
const nonceValiditySeconds = 5

// Signer produces BitMEX-compatible authentication headers. Keys are held
// as []byte so they can be wiped from memory.
type Signer struct {
	accessKey []byte
	secretKey []byte
	clk       clock.Clock
}

// NewSigner creates a new signer. String inputs are converted to []byte
// for internal safety.
func NewSigner(accessKey, secretKey string, clk clock.Clock) *Signer {
	return &Signer{
		accessKey: []byte(accessKey),
		secretKey: []byte(secretKey),
		clk:       clk,
	}
}

// Wipe clears the keys from memory.
func (s *Signer) Wipe() {
	if s == nil {
		return
	}
	wipeSlice(s.accessKey)
	wipeSlice(s.secretKey)
}

func wipeSlice(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Sign computes hex(HMAC-SHA256(secret, UPPER(method) + path[+"?"+query]
// + nonce + body)). Deterministic for identical inputs; byte bodies are
// treated as text.
func Sign(secret, method, rawURL string, nonce int64, body []byte) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse request url: %w", err)
	}

	path := parsed.Path
	if parsed.RawQuery != "" {
		path = path + "?" + parsed.RawQuery
	}

	message := upper(method) + path + fmt.Sprintf("%d", nonce) + string(body)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Nonce returns the signing nonce for a request issued now: the current
// Unix time plus the validity window.
func (s *Signer) Nonce() int64 {
	return s.clk.Now().Unix() + nonceValiditySeconds
}

// Authorize signs req and attaches the BitMEX header triple
// (api-key, api-expires, api-signature).
func (s *Signer) Authorize(req *http.Request, body []byte) error {
	nonce := s.Nonce()

	signature, err := Sign(string(s.secretKey), req.Method, req.URL.String(), nonce, body)
	if err != nil {
		return err
	}

	req.Header.Set("api-key", string(s.accessKey))
	req.Header.Set("api-expires", fmt.Sprintf("%d", nonce))
	req.Header.Set("api-signature", signature)
	return nil
}

func upper(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'a' && b[i] <= 'z' {
			b[i] -= 'a' - 'A'
		}
	}
	return string(b)
}
