package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func hashQuery(q string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(q))))
	return hex.EncodeToString(sum[:12])
}
