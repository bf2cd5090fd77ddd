package gateway

import (
	"fmt"
	"strings"

	"github.com/Sternrassler/learnforge/pkg/admission"
)

// Resolver maps a presented credential to an identity. It never validates
// credentials; an unknown credential is simply anonymous.
type Resolver interface {
	Resolve(credential, remote string) admission.Identity
}

// Credential binds an API key to an identity and tier.
type Credential struct {
	Key      string `yaml:"key"`
	Identity string `yaml:"identity"`
	Tier     string `yaml:"tier"`
}

// StaticResolver resolves credentials from a fixed table.
type StaticResolver struct {
	byKey map[string]admission.Identity
}

// NewStaticResolver builds a resolver from creds.
func NewStaticResolver(creds []Credential) (*StaticResolver, error) {
	r := &StaticResolver{byKey: make(map[string]admission.Identity, len(creds))}
	for i, c := range creds {
		if c.Key == "" || c.Identity == "" {
			return nil, fmt.Errorf("identities[%d]: key and identity are required", i)
		}
		if strings.HasPrefix(c.Identity, anonymousPrefix) {
			return nil, fmt.Errorf("identities[%d]: identity must not start with %q", i, anonymousPrefix)
		}
		if _, dup := r.byKey[c.Key]; dup {
			return nil, fmt.Errorf("identities[%d]: duplicate key for %s", i, c.Identity)
		}
		r.byKey[c.Key] = admission.Identity{ID: c.Identity, Tier: c.Tier}
	}
	return r, nil
}

const anonymousPrefix = "anon:"

// Resolve returns the identity bound to credential, or an anonymous
// identity keyed by remote. Anonymous identities carry no tier, so the
// admission controller applies its anonymous tier.
func (r *StaticResolver) Resolve(credential, remote string) admission.Identity {
	if credential != "" {
		if id, ok := r.byKey[credential]; ok {
			return id
		}
	}
	if remote == "" {
		remote = "unknown"
	}
	return admission.Identity{ID: anonymousPrefix + remote}
}

// Len returns the number of known credentials.
func (r *StaticResolver) Len() int {
	return len(r.byKey)
}
