// pkg/types/common.go
package types

import "strings"

// HashLen is the length of a hex-encoded SHA-1 object id.
const HashLen = 40

// Hash is a full object or document id (40 lowercase hex chars).
// It is a value type and should be treated as immutable.
type Hash string

func (h Hash) String() string { return string(h) }

func (h Hash) IsZero() bool  { return h == "" }
func (h Hash) IsValid() bool { return len(h) == HashLen && isHex(string(h)) }

// Short returns the abbreviated form used in CLI output.
func (h Hash) Short() string {
	if len(h) < 8 {
		return string(h)
	}
	return string(h[:8])
}

// HashPrefix is a possibly abbreviated id typed by a user.
type HashPrefix string

func (p HashPrefix) String() string { return string(p) }

// Normalize lowercases the prefix and reports whether it is plausible hex.
func (p HashPrefix) Normalize() (HashPrefix, bool) {
	s := strings.ToLower(strings.TrimSpace(string(p)))
	if s == "" || len(s) > HashLen || !isHex(s) {
		return HashPrefix(s), false
	}
	return HashPrefix(s), true
}

// IsFull reports whether the prefix already has full hash length.
func (p HashPrefix) IsFull() bool { return len(p) == HashLen }

type RepoPath string

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
