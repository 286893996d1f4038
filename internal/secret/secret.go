package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// New returns a fresh opaque secret and its storage digest. The alphabet
// drops 0/O/1/I so staff can read a code to a parent over the phone without
// ambiguity; 20 characters of a 32-char alphabet is 100 bits.
func New() (plain, digest string, err error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	for i := range buf {
		buf[i] = alphabet[buf[i]%32]
	}
	plain = string(buf)
	return plain, Digest(plain), nil
}

// Digest returns the hex SHA-256 of a secret. Only digests are stored, so a
// leaked table never yields usable bearer credentials.
func Digest(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// Match compares a presented secret against a stored digest in constant time.
func Match(plain, digest string) bool {
	computed := Digest(plain)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}
