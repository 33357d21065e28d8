// Package cache implements the keyed response cache with versioned
// invalidation. Two tiers: an optional shared redis backend and an
// in-process LRU; remote failures fall back to the local tier.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyPrefix namespaces all response cache keys.
const KeyPrefix = "response:"

// Normalize canonicalizes question text for key composition: lowercase,
// surrounding whitespace stripped. Requests differing only in case or
// surrounding whitespace must collide.
func Normalize(question string) string {
	return strings.ToLower(strings.TrimSpace(question))
}

// Key composes the cache key for (question, subject, active VKP version).
// The subject and version stay in clear text so a version bump can purge
// by prefix; the question is folded into the SHA-256 digest.
func Key(question, subjectID, vkpVersion string) string {
	sum := sha256.Sum256([]byte(Normalize(question) + ":" + subjectID + ":" + vkpVersion))
	return fmt.Sprintf("%sv=%s:%s:%s", KeyPrefix, subjectID, vkpVersion, hex.EncodeToString(sum[:]))
}

// SubjectPrefix returns the invalidation prefix for one subject+version.
func SubjectPrefix(subjectID, vkpVersion string) string {
	return fmt.Sprintf("%sv=%s:%s:", KeyPrefix, subjectID, vkpVersion)
}

// SubjectWildcard returns the prefix covering every version of one
// subject. Used on VKP install and rollback.
func SubjectWildcard(subjectID string) string {
	return fmt.Sprintf("%sv=%s:", KeyPrefix, subjectID)
}

// Wildcard matches every response cache key.
const Wildcard = KeyPrefix + "*"

// matchesPattern reports whether key falls under pattern. Patterns are
// either the wildcard or a literal prefix.
func matchesPattern(key, pattern string) bool {
	if pattern == Wildcard {
		return strings.HasPrefix(key, KeyPrefix)
	}
	return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
}
