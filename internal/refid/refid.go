package refid

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// suffix entropy: 6 random bytes, enough that two generations within the
// same millisecond colliding is a 2^48 birthday event.
const randomBytes = 6

// New generates a reference ID of the form ref_<unixMillis>_<base62 random>.
// The ID identifies one dispatch attempt and is the idempotency key under
// which both the synchronous result and any later provider callback are
// stored.
func New() string {
	return fmt.Sprintf("ref_%d_%s", time.Now().UnixMilli(), randomSuffix())
}

// IsRef reports whether s looks like a generated reference ID.
func IsRef(s string) bool {
	return strings.HasPrefix(s, "ref_")
}

func randomSuffix() string {
	buf := make([]byte, 8)
	// rand.Read never returns an error on supported platforms
	rand.Read(buf[8-randomBytes:])

	return base62Encode(binary.BigEndian.Uint64(buf))
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
