package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sort"
	"strings"
)

const (
	// RoleQueryRunner may load views, run, page and cancel queries and
	// export its own results.
	RoleQueryRunner = "query_runner"
	// RoleExplorerAdmin may additionally change preferences and manage every
	// principal's exports.
	RoleExplorerAdmin = "explorer_admin"
)

var knownRoles = map[string]struct{}{
	RoleQueryRunner:   {},
	RoleExplorerAdmin: {},
}

type Identity struct {
	Principal string
	Roles     []string
}

func (i Identity) HasRole(role string) bool {
	for _, candidate := range i.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

// Allows reports whether the identity may act with role. Admins hold every
// role.
func (i Identity) Allows(role string) bool {
	return i.HasRole(role) || i.HasRole(RoleExplorerAdmin)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type staticKey struct {
	key      []byte
	identity Identity
}

type StaticAPIKeyValidator struct {
	keys []staticKey
}

// NewStaticAPIKeyValidator parses comma separated key:principal:role|role
// entries.
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	seen := map[string]struct{}{}
	for _, entry := range strings.Split(spec, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:principal:role|role", entry)
		}
		key := strings.TrimSpace(parts[0])
		principal := strings.TrimSpace(parts[1])
		if key == "" || principal == "" {
			return nil, fmt.Errorf("invalid static key entry %q: empty key/principal", entry)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("invalid static key entry %q: duplicate key", entry)
		}
		seen[key] = struct{}{}

		var roles []string
		for _, role := range strings.Split(strings.TrimSpace(parts[2]), "|") {
			role = strings.TrimSpace(role)
			if role == "" {
				continue
			}
			if _, ok := knownRoles[role]; !ok {
				return nil, fmt.Errorf("invalid static key entry %q: unknown role %q", entry, role)
			}
			roles = append(roles, role)
		}
		if len(roles) == 0 {
			return nil, fmt.Errorf("invalid static key entry %q: at least one role is required", entry)
		}
		sort.Strings(roles)
		validator.keys = append(validator.keys, staticKey{key: []byte(key), identity: Identity{Principal: principal, Roles: roles}})
	}

	return validator, nil
}

// Validate compares apiKey against every configured key in constant time.
func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	candidate := []byte(apiKey)
	var match Identity
	found := false
	for _, entry := range v.keys {
		if subtle.ConstantTimeCompare(entry.key, candidate) == 1 {
			match = entry.identity
			found = true
		}
	}
	return match, found
}

func (v *StaticAPIKeyValidator) Len() int {
	return len(v.keys)
}
