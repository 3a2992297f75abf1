package service

// AccessPolicy decides whether a credential is let through.  It is built
// once from configuration and never mutated, so Evaluate needs no locking.
type AccessPolicy struct {
	allowed map[string]struct{}
}

// NewAccessPolicy copies credentials into an immutable set.  Entries are
// matched exactly: no trimming, no case folding.
func NewAccessPolicy(credentials []string) AccessPolicy {
	allowed := make(map[string]struct{}, len(credentials))
	for _, c := range credentials {
		allowed[c] = struct{}{}
	}
	return AccessPolicy{allowed: allowed}
}

// Evaluate reports whether credentialID is on the authorization list.
func (p AccessPolicy) Evaluate(credentialID string) bool {
	_, ok := p.allowed[credentialID]
	return ok
}

// Size is the number of authorized credentials.
func (p AccessPolicy) Size() int { return len(p.allowed) }
