package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// SHA256 returns the SHA256 hash of the data.
func SHA256(data []byte) []byte {
	hasher := sha256.New()
	hasher.Write(data)
	hash := hasher.Sum(nil)
	return hash
}

// HMACSHA256 returns the keyed SHA256 digest of data.
func HMACSHA256(key []byte, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// EqualMAC compares two digests in constant time.
func EqualMAC(a, b []byte) bool {
	return hmac.Equal(a, b)
}
