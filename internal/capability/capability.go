// Package capability implements the signed, scoped, time-bound permission
// records at the heart of the authorization engine, together with their
// encrypted persistence.
package capability

import (
	"strings"
	"time"
)

// WildcardScope on a capability matches any requested scope. A requested
// wildcard never matches a concrete capability scope.
const WildcardScope = "*"

// Capability is a signed permission record granting one named action for one
// scope. It is immutable once issued; any field mutation invalidates the
// signature.
type Capability struct {
	ID        string     `json:"id"`
	Action    string     `json:"action"`
	GameScope string     `json:"game_scope"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Signature string     `json:"signature"`
}

// Expired reports whether the capability's lifetime has elapsed at now.
// A capability without ExpiresAt never expires.
func (c Capability) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// MatchesScope reports whether the capability applies to the requested
// scope. The wildcard is only honored on the capability side.
func (c Capability) MatchesScope(scope string) bool {
	return c.GameScope == WildcardScope || c.GameScope == scope
}

// canonical builds the signing input. The field order is part of the
// contract: changing it breaks every existing signature.
func (c Capability) canonical() []byte {
	expires := ""
	if c.ExpiresAt != nil {
		expires = c.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	parts := []string{
		"v1",
		c.ID,
		c.Action,
		c.GameScope,
		c.IssuedAt.UTC().Format(time.RFC3339Nano),
		expires,
	}
	return []byte(strings.Join(parts, "|"))
}
