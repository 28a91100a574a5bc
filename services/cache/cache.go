package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"
)

// CacheService represents a generic cache service
type CacheService interface {
	// Get retrieves a value from the cache
	Get(key string) ([]byte, error)

	// Set stores a value in the cache with an expiration time
	Set(key string, value []byte, expiration time.Duration) error

	// Delete removes a value from the cache
	Delete(key string) error
}

// maxKeyLength is memcached's key limit
const maxKeyLength = 250

// Key builds a cache key from a namespace and a free-form value such as a
// URL. Values that memcached would reject are replaced by their SHA-1.
func Key(namespace, value string) string {
	key := namespace + ":" + value
	if len(key) <= maxKeyLength && !strings.ContainsFunc(key, invalidKeyRune) {
		return key
	}
	sum := sha1.Sum([]byte(value))
	return namespace + ":" + hex.EncodeToString(sum[:])
}

func invalidKeyRune(r rune) bool {
	return r <= ' ' || r == 0x7f || r > 0x7e
}
