package auth

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Scheme identifies how a stored HASHED secret was produced. Stored values
// carry no algorithm tag, so the scheme is inferred from their shape.
type Scheme string

const (
	SchemeUnknown Scheme = ""
	SchemeBcrypt  Scheme = "bcrypt"
	SchemeMD5     Scheme = "md5"
	SchemeSHA256  Scheme = "sha256"
)

// ParseScheme accepts a scheme name as typed by a client.
func ParseScheme(name string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(name))) {
	case SchemeBcrypt, "":
		return SchemeBcrypt, nil
	case SchemeMD5:
		return SchemeMD5, nil
	case SchemeSHA256:
		return SchemeSHA256, nil
	}
	return SchemeUnknown, fmt.Errorf("unsupported hash algorithm %q", name)
}

// DetectScheme infers the scheme of a stored value: a "$2" prefix is bcrypt,
// 32 hex characters is MD5, 64 hex characters is SHA-256.
func DetectScheme(stored string) Scheme {
	switch {
	case strings.HasPrefix(stored, "$2"):
		return SchemeBcrypt
	case len(stored) == md5.Size*2 && isHex(stored):
		return SchemeMD5
	case len(stored) == sha256.Size*2 && isHex(stored):
		return SchemeSHA256
	}
	return SchemeUnknown
}

// DetectAndVerify reports whether secret matches the stored value under the
// scheme inferred by DetectScheme. Unknown shapes never match.
func DetectAndVerify(secret, stored string) bool {
	switch DetectScheme(stored) {
	case SchemeBcrypt:
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(secret)) == nil
	case SchemeMD5:
		sum := md5.Sum([]byte(secret))
		return hexEqual(sum[:], stored)
	case SchemeSHA256:
		sum := sha256.Sum256([]byte(secret))
		return hexEqual(sum[:], stored)
	}
	return false
}

// HashSecret produces a stored value for scheme that DetectScheme recognises.
func HashSecret(secret string, scheme Scheme) (string, error) {
	switch scheme {
	case SchemeBcrypt:
		return HashPassword(secret)
	case SchemeMD5:
		sum := md5.Sum([]byte(secret))
		return hex.EncodeToString(sum[:]), nil
	case SchemeSHA256:
		sum := sha256.Sum256([]byte(secret))
		return hex.EncodeToString(sum[:]), nil
	}
	return "", fmt.Errorf("unsupported hash algorithm %q", scheme)
}

// EqualPlaintext compares a presented secret with a stored plaintext one
// byte-for-byte in constant time.
func EqualPlaintext(presented, stored string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1
}

func hexEqual(digest []byte, stored string) bool {
	want := hex.EncodeToString(digest)
	return subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToLower(stored))) == 1
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}
