package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// GenerateKey produces a probabilistically unique object key of the form
// <prefix>/<unixMillis>-<randomHex>.<extension>. Uniqueness is best effort:
// there is no collision check, and callers needing a strict guarantee must
// layer their own.
func GenerateKey(prefix, extension string) string {
	random := make([]byte, 8)
	// crypto/rand.Read does not fail on supported platforms.
	_, _ = rand.Read(random)

	key := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), hex.EncodeToString(random))

	if ext := strings.TrimPrefix(extension, "."); ext != "" {
		key += "." + ext
	}
	if trimmed := strings.Trim(prefix, "/"); trimmed != "" {
		key = trimmed + "/" + key
	}
	return key
}
