package services

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"regexp"

	"golang.org/x/crypto/blake2b"
)

const (
	codeBytes    = 24 // 192 bits
	subcodeBytes = 20 // 40 hex chars
)

var (
	codePattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
	subcodePattern = regexp.MustCompile(`^[A-Za-z0-9]{1,64}$`)
)

// NewCode mints a single-use approval code.
func NewCode() (string, error) {
	b := make([]byte, codeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewSubcode mints a 40 character subscriber code.
func NewSubcode() (string, error) {
	b := make([]byte, subcodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ValidCode reports whether s looks like an approval code.
func ValidCode(s string) bool { return codePattern.MatchString(s) }

// ValidSubcode reports whether s looks like a subscriber code.
func ValidSubcode(s string) bool { return subcodePattern.MatchString(s) }

// CodeDigester turns approval codes into the digests kept in storage, so a
// leaked table does not hand out working moderation links.
type CodeDigester struct {
	key []byte
}

// NewCodeDigester keys the digest with secret. blake2b accepts keys up to 64
// bytes; longer secrets are hashed down first.
func NewCodeDigester(secret string) *CodeDigester {
	key := []byte(secret)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	return &CodeDigester{key: key}
}

// Digest returns the hex blake2b-256 of code.
func (d *CodeDigester) Digest(code string) string {
	h, err := blake2b.New256(d.key)
	if err != nil {
		// key length is bounded in NewCodeDigester
		panic(err)
	}
	h.Write([]byte(code))
	return hex.EncodeToString(h.Sum(nil))
}
