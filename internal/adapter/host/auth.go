package host

import (
	"crypto/subtle"

	"hostbridge/internal/domain"
)

// PeerInfo describes an authenticated embedded app connected to the host.
type PeerInfo struct {
	ID        string // ULID assigned per connection
	Name      string
	Transport string // "memory", "websocket" or "grpc"
}

// Authenticator validates incoming peer connections.
type Authenticator interface {
	Authenticate(token string) (*PeerInfo, error)
}

// TokenEntry binds a static token to a peer name.
type TokenEntry struct {
	Token string
	Name  string
}

type authEntry struct {
	token []byte
	name  string
}

// StaticTokenAuth authenticates peers against a static token list
// using constant-time comparison.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from token entries.
func NewStaticTokenAuth(entries []TokenEntry) *StaticTokenAuth {
	a := &StaticTokenAuth{entries: make([]authEntry, len(entries))}
	for i, e := range entries {
		a.entries[i] = authEntry{token: []byte(e.Token), name: e.Name}
	}
	return a
}

// Authenticate returns a fresh PeerInfo if the token is valid. Every entry is
// compared so timing does not depend on which token matched.
func (s *StaticTokenAuth) Authenticate(token string) (*PeerInfo, error) {
	tokenBytes := []byte(token)
	var match *authEntry
	for i := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, s.entries[i].token) == 1 && match == nil {
			match = &s.entries[i]
		}
	}
	if match == nil {
		return nil, domain.ErrGatewayAuthFailed
	}
	return &PeerInfo{Name: match.name}, nil
}

// OpenAuth accepts every token. Used when the host runs without configured tokens.
type OpenAuth struct{}

// Authenticate implements Authenticator.
func (OpenAuth) Authenticate(string) (*PeerInfo, error) {
	return &PeerInfo{Name: "anonymous"}, nil
}
