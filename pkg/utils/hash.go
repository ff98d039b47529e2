package utils

import (
	"crypto/md5"
	"fmt"
)

// HashBytes returns a hex digest used as a cache key for image payloads.
func HashBytes(input []byte) string {
	hash := md5.Sum(input)
	return fmt.Sprintf("%x", hash)
}

func HashString(input string) string {
	return HashBytes([]byte(input))
}
