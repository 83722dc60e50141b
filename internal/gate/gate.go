// Package gate answers whether an identity holds the access credential
// required to join the event. The real check lives outside this service;
// the engine only consumes a boolean.
package gate

import "strings"

// TokenGate is the external access check consulted on every login.
type TokenGate interface {
	HasAccess(identity string) bool
}

// AllowList admits the identities it was built with. An empty list admits
// everyone, which stands in for the mocked on-chain check.
type AllowList struct {
	allowed map[string]struct{}
}

// NewAllowList builds a gate from identities; blank entries are ignored.
// Matching is exact after trimming, the same way the registry keys
// identities.
func NewAllowList(identities []string) *AllowList {
	allowed := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		id = strings.TrimSpace(id)
		if id != "" {
			allowed[id] = struct{}{}
		}
	}
	return &AllowList{allowed: allowed}
}

// HasAccess implements TokenGate.
func (g *AllowList) HasAccess(identity string) bool {
	if strings.TrimSpace(identity) == "" {
		return false
	}
	if len(g.allowed) == 0 {
		return true
	}
	_, ok := g.allowed[strings.TrimSpace(identity)]
	return ok
}
