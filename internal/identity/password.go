package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	hashScheme     = "pbkdf2-sha256"
	hashSaltLength = 16
	hashIterations = 10000
	hashKeyLength  = 30

	tokenLength = 18
)

// HashPassword derives a salted hash in the form
// scheme$iterations$keylen$salt$key.
func HashPassword(password string) (string, error) {
	salt := make([]byte, hashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, hashIterations, hashKeyLength, sha256.New)
	return strings.Join([]string{
		hashScheme,
		strconv.Itoa(hashIterations),
		strconv.Itoa(hashKeyLength),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	}, "$"), nil
}

// CheckPassword reports whether password matches a hash produced by
// HashPassword. The stored iteration count and key length are honoured so
// older hashes keep working when the defaults change.
func CheckPassword(password, hash string) (bool, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 5 || parts[0] != hashScheme {
		return false, fmt.Errorf("unrecognised password hash")
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false, fmt.Errorf("invalid iteration count %q", parts[1])
	}
	keyLen, err := strconv.Atoi(parts[2])
	if err != nil || keyLen <= 0 {
		return false, fmt.Errorf("invalid key length %q", parts[2])
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return false, fmt.Errorf("decoding salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decoding key: %w", err)
	}

	got := pbkdf2.Key([]byte(password), salt, iterations, keyLen, sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// generateToken returns a random token value with the creation time
// appended for uniqueness.
func generateToken(now time.Time) (string, error) {
	b := make([]byte, tokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b) + strconv.FormatInt(now.UnixMilli(), 36), nil
}
