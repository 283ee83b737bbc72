package credentials

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gosyncprogress/internal/utils"
)

// Source indicates where a token was found
type Source string

const (
	SourceKeyring Source = "keyring"
	SourceEnv     Source = "env"
	SourceConfig  Source = "config"
	SourceNone    Source = "none"
)

// Credentials represents a resolved bearer token
type Credentials struct {
	Username string
	Token    string
	Source   Source
}

// Request names the remote and the config-provided hints for resolution
type Request struct {
	Remote   string
	Username string
	// TokenEnv is an extra environment variable checked after the
	// GOSYNCPROGRESS_{REMOTE}_TOKEN convention
	TokenEnv string
	// ConfigToken is the plaintext token from the config file, if any
	ConfigToken string
}

// Resolver handles credential resolution from multiple sources with priority order
// Keyring > Environment Variables > Config
type Resolver struct {
	keyringAvailable func() bool
}

// NewResolver creates a new credential resolver
func NewResolver() *Resolver {
	return &Resolver{keyringAvailable: IsAvailable}
}

// Resolve attempts to find a token using the priority order:
// 1. Keyring (if a username is known)
// 2. Environment variables
// 3. Config file token
func (r *Resolver) Resolve(req Request) (*Credentials, error) {
	if req.Remote == "" {
		return nil, fmt.Errorf("remote name is required for credential resolution")
	}

	username := req.Username
	if username == "" {
		username = GetUsername(req.Remote)
	}

	if username != "" && r.keyringAvailable() {
		if token, err := Get(req.Remote, username); err == nil {
			return &Credentials{Username: username, Token: token, Source: SourceKeyring}, nil
		}
	}

	if token := GetToken(req.Remote); token != "" {
		return &Credentials{Username: username, Token: token, Source: SourceEnv}, nil
	}
	if req.TokenEnv != "" {
		if token := os.Getenv(req.TokenEnv); token != "" {
			return &Credentials{Username: username, Token: token, Source: SourceEnv}, nil
		}
	}

	if req.ConfigToken != "" {
		return &Credentials{Username: username, Token: req.ConfigToken, Source: SourceConfig}, nil
	}

	return nil, utils.ErrCredentialsNotFound(req.Remote, username)
}

// TokenSource caches a resolved token and re-resolves it on Refresh, so a
// token rotated in the keyring or environment is picked up after a 401.
type TokenSource struct {
	resolver *Resolver
	req      Request

	mu    sync.Mutex
	creds *Credentials
}

// NewTokenSource creates a token source for req
func NewTokenSource(resolver *Resolver, req Request) *TokenSource {
	if resolver == nil {
		resolver = NewResolver()
	}
	return &TokenSource{resolver: resolver, req: req}
}

// Token returns the cached token, resolving it on first use
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds != nil {
		return s.creds.Token, nil
	}
	return s.resolveLocked()
}

// Refresh drops the cached token and resolves it again
func (s *TokenSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	return s.resolveLocked()
}

// Source reports where the current token came from
func (s *TokenSource) Source() Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return SourceNone
	}
	return s.creds.Source
}

func (s *TokenSource) resolveLocked() (string, error) {
	creds, err := s.resolver.Resolve(s.req)
	if err != nil {
		return "", err
	}
	s.creds = creds
	return creds.Token, nil
}
