package detection

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HeaderFingerprint hashes header names with truncated values so repeat
// visits from the same client stack can be grouped in analytics.
func HeaderFingerprint(headers Headers) string {
	var parts []string
	for _, key := range headers.Names() {
		value := headers.Get(key)
		if len(value) > 20 {
			value = value[:20] + "..."
		}
		parts = append(parts, key+":"+value)
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:8])
}
