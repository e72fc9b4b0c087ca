package helpers

import (
	"github.com/zeebo/blake3"
)

// TinyHash returns a short base62 token derived from the blake3 hash of the
// input. It is not collision resistant enough for anything but opaque keys.
func TinyHash(input string) string {
	return TinyHashN(input, 4)
}

// TinyHashN is TinyHash using the first n bytes (1..8) of the hash.
func TinyHashN(input string, n int) string {
	if n < 1 {
		n = 1
	}
	if n > 8 {
		n = 8
	}

	hash := blake3.Sum256([]byte(input))

	var hashInt uint64
	for i := 0; i < n; i++ {
		hashInt = hashInt<<8 | uint64(hash[i])
	}

	return base62Encode(hashInt)
}

func base62Encode(num uint64) string {
	const charset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	if num == 0 {
		return "0"
	}

	var result []byte
	for num > 0 {
		result = append([]byte{charset[num%62]}, result...)
		num /= 62
	}
	return string(result)
}
