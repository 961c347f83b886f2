// Package auth signs session logons.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"hft_go/pkg/quant"
)

// Signer produces HMAC-SHA256 logon signatures.
type Signer struct {
	apiKey     string
	secretKey  string
	passphrase string
}

// NewSigner creates a new Signer instance
func NewSigner(apiKey, secretKey, passphrase string) *Signer {
	return &Signer{
		apiKey:     apiKey,
		secretKey:  secretKey,
		passphrase: passphrase,
	}
}

func (s *Signer) APIKey() string { return s.apiKey }

// Sign returns the hex signature of timestamp + apiKey + passphrase.
// Hex keeps it within the 64-byte signature field of the binary protocol.
func (s *Signer) Sign(ts quant.TimeStamp) string {
	payload := strconv.FormatInt(int64(ts), 10) + s.apiKey + s.passphrase
	return computeHmacSha256(payload, s.secretKey)
}

// Verify checks a signature in constant time.
func (s *Signer) Verify(ts quant.TimeStamp, signature string) bool {
	want, err := hex.DecodeString(s.Sign(ts))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

func computeHmacSha256(message string, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}
