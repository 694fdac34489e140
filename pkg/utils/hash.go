package utils

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// HashQuery produces a stable cache key for a question scoped to a
// subject. Questions are normalized so trivial whitespace and casing
// differences share a cache entry.
func HashQuery(question, subject string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(question), " "))
	sum := sha256.Sum256([]byte(normalized + "|" + strings.ToLower(subject)))
	return fmt.Sprintf("%x", sum[:16])
}
