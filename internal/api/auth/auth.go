// Package auth implements the bearer-token identity check shared by the
// REST and WebSocket adapters, adapted from the teacher's
// NewStreamAuthInterceptor shape (inspect credential, inject identity)
// from a gRPC stream interceptor into a plain function both HTTP
// middleware and the WS upgrade handler can call.
package auth

import "github.com/takrelay/aggregator/internal/config"

type Role string

const (
	RoleRead     Role = "read"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// Identity is the authenticated caller injected into the request context.
type Identity struct {
	Roles []string
}

func (i Identity) Has(role Role) bool {
	for _, r := range i.Roles {
		if Role(r) == role {
			return true
		}
	}
	return false
}

// Authenticator resolves a bearer token to its authorized roles.
type Authenticator struct {
	byToken map[string][]string
}

func New(cfg config.APIConfig) *Authenticator {
	a := &Authenticator{byToken: make(map[string][]string)}
	for _, t := range cfg.Tokens {
		a.byToken[t.Token] = t.Roles
	}
	return a
}

// Inspect validates token and returns the Identity it authorizes.
func (a *Authenticator) Inspect(token string) (Identity, bool) {
	roles, ok := a.byToken[token]
	if !ok || len(roles) == 0 {
		return Identity{}, false
	}
	return Identity{Roles: roles}, true
}
