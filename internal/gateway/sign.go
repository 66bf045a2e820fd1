package gateway

import (
	"crypto/md5"
	"encoding/hex"
)

// Sign computes the provider's request signature: the hex MD5 digest of
// username + apiKey + refID. The per-attempt refID is part of the digest,
// so a signature cannot be replayed under a different reference ID.
func Sign(username, apiKey, refID string) string {
	sum := md5.Sum([]byte(username + apiKey + refID))
	return hex.EncodeToString(sum[:])
}
