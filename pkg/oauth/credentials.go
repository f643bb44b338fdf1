package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

// PKCE challenge methods (RFC 7636).
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// Opaque credential entropy: 48 bytes is 384 bits, above the 288-bit floor.
const opaqueCredentialBytes = 48

// GenerateOpaque returns a fresh opaque credential: base64url without
// padding over CSPRNG bytes. The raw value exists only in memory and in the
// response body that carries it to the client.
func GenerateOpaque() (string, error) {
	buf := make([]byte, opaqueCredentialBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", ErrServerError(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// LookupHash is the fast deterministic hash used as the indexed lookup
// column for every stored credential, and as the verification hash for
// access tokens (checked on every request, so bcrypt is too slow there).
func LookupHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// SlowHash computes the bcrypt verification hash for authorization codes and
// refresh tokens. Opaque values are 64 chars, safely under bcrypt's input
// limit.
func SlowHash(raw string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(raw), cost)
	if err != nil {
		return "", ErrServerError(err)
	}
	return string(h), nil
}

// VerifySlow checks raw against a bcrypt verification hash. bcrypt's compare
// is constant time.
func VerifySlow(hash, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}

// VerifyFast compares two fast hashes in constant time.
func VerifyFast(storedHash, raw string) bool {
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(LookupHash(raw))) == 1
}

// ValidateChallenge checks a code_challenge parameter: 43-256 characters
// from the base64url alphabet.
func ValidateChallenge(challenge string) error {
	if len(challenge) < 43 || len(challenge) > 256 {
		return ErrInvalidRequest("code_challenge must be between 43 and 256 characters")
	}
	for _, r := range challenge {
		if !isBase64URLChar(r) {
			return ErrInvalidRequest("code_challenge contains invalid characters")
		}
	}
	return nil
}

// ValidateVerifier checks a code_verifier parameter per RFC 7636 §4.1.
func ValidateVerifier(verifier string) error {
	if len(verifier) < 43 || len(verifier) > 128 {
		return ErrInvalidGrant("Invalid code_verifier")
	}
	for _, r := range verifier {
		if !isVerifierChar(r) {
			return ErrInvalidGrant("Invalid code_verifier")
		}
	}
	return nil
}

// VerifyPKCE recomputes the challenge from the verifier and compares it to
// the stored challenge in constant time.
func VerifyPKCE(verifier, storedChallenge, method string) bool {
	if err := ValidateVerifier(verifier); err != nil {
		return false
	}
	var computed string
	switch method {
	case PKCEMethodS256:
		computed = oauth2.S256ChallengeFromVerifier(verifier)
	case PKCEMethodPlain:
		computed = verifier
	default:
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedChallenge)) == 1
}

// userCodeAlphabet avoids ambiguous characters (0/O, 1/I/L).
const userCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GenerateUserCode returns a human-enterable device flow code, "ABCD-1234"
// shaped, case-insensitive.
func GenerateUserCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", ErrServerError(err)
	}
	out := make([]byte, 9)
	for i := 0; i < 8; i++ {
		idx := i
		if i >= 4 {
			idx = i + 1
		}
		out[idx] = userCodeAlphabet[int(buf[i])%len(userCodeAlphabet)]
	}
	out[4] = '-'
	return string(out), nil
}

func isBase64URLChar(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	}
	return false
}

func isVerifierChar(r rune) bool {
	// unreserved = ALPHA / DIGIT / "-" / "." / "_" / "~"
	return isBase64URLChar(r) || r == '.' || r == '~'
}
