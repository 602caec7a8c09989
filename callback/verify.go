package callback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrBadSignature is returned when a callback signature does not match.
var ErrBadSignature = errors.New("callback: signature mismatch")

// SignaturePrefix precedes the hex digest in the signature header.
const SignaturePrefix = "sha256="

// Verifier checks callback signatures with a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier for secret. An empty secret disables
// verification.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign returns the signature header value for body.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks header against body in constant time.
func (v *Verifier) Verify(body []byte, header string) error {
	if len(v.secret) == 0 {
		return nil
	}
	digest, ok := strings.CutPrefix(header, SignaturePrefix)
	if !ok {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(digest)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}
