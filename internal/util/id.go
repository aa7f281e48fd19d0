package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier, namespaced by an entity prefix
// ("prj", "act", "usr", "col") so ids are recognizable in logs and
// payloads. 12 random bytes keep collisions out of reach at board scale.
func NewID(prefix string) string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	id := hex.EncodeToString(buf)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
