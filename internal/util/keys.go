package util

import "strings"

const (
	// groupSep sits between the group and the member key in every scoped
	// storage key. Matching on "group + groupSep" is what keeps
	// DeleteGroup("foo") away from keys belonging to group "foo2".
	groupSep = ":"

	lockPrefix   = "lock_"
	expirySuffix = "_expiry"
)

// ScopedKey composes the storage key for (key, group).
func ScopedKey(group, key string) string {
	return group + groupSep + key
}

// GroupPrefix returns the prefix shared by every scoped key of a group,
// separator included.
func GroupPrefix(group string) string {
	return group + groupSep
}

// LockKey derives the lock slot name for a cache key.
func LockKey(key string) string {
	return lockPrefix + key
}

// ExpiryKey derives the expiry-marker name used by backends that cannot
// attach a TTL to the value row itself.
func ExpiryKey(scopedKey string) string {
	return scopedKey + expirySuffix
}

// EscapeLike escapes LIKE wildcards in s using esc as the escape rune, so a
// literal '%' or '_' in a group name cannot widen a pattern delete.
func EscapeLike(s string, esc rune) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == esc {
			b.WriteRune(esc)
		}
		b.WriteRune(r)
	}
	return b.String()
}
