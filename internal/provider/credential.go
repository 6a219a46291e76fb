package provider

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/italolelis/model_provisioner/internal/logctx"
	"github.com/italolelis/model_provisioner/internal/transfer"
	"golang.org/x/oauth2"
)

// IdentityTimeout bounds a single token validation call.
const IdentityTimeout = 10 * time.Second

// Credential is the bearer token of a gated provider and the result of its
// validation for the current run.
type Credential struct {
	Kind  transfer.Kind
	Token string
	Valid bool

	checked bool
}

// Present reports whether a token is configured.
func (c *Credential) Present() bool {
	return c != nil && c.Token != ""
}

// Validator checks provider tokens against their identity endpoints and hands
// out the corresponding auth headers.
type Validator struct {
	client    *http.Client
	endpoints map[transfer.Kind]string
	timeout   time.Duration

	mu    sync.RWMutex
	creds map[transfer.Kind]*Credential
}

// NewValidator builds a validator for the given tokens and identity
// endpoints. Kinds without an endpoint are never validated.
func NewValidator(client *http.Client, tokens, endpoints map[transfer.Kind]string) *Validator {
	creds := make(map[transfer.Kind]*Credential, len(tokens))

	for kind, token := range tokens {
		if kind.Gated() {
			creds[kind] = &Credential{Kind: kind, Token: token}
		}
	}

	return &Validator{
		client:    client,
		endpoints: endpoints,
		timeout:   IdentityTimeout,
		creds:     creds,
	}
}

// Credential returns a copy of the credential for kind, or nil for a
// provider without a configured token.
func (v *Validator) Credential(kind transfer.Kind) *Credential {
	v.mu.RLock()
	defer v.mu.RUnlock()

	c, ok := v.creds[kind]
	if !ok || !c.Present() {
		return nil
	}

	cp := *c

	return &cp
}

// Validate reports whether the token for kind is accepted by its identity
// endpoint. A missing token yields false without any network call. The
// result is cached for the rest of the run.
func (v *Validator) Validate(ctx context.Context, kind transfer.Kind) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	c, ok := v.creds[kind]
	if !ok || !c.Present() {
		return false
	}

	if c.checked {
		return c.Valid
	}

	err := v.identify(ctx, kind, c.Token)
	if err != nil {
		logctx.LoggerFromContext(ctx).Debug("token validation failed", "provider", kind.String(), "err", err)
	}

	c.Valid = err == nil
	c.checked = true

	return c.Valid
}

// ValidateAll validates every configured token. An invalid token is only a
// warning: downloads are still attempted so public resources keep working.
func (v *Validator) ValidateAll(ctx context.Context) map[transfer.Kind]bool {
	logger := logctx.LoggerFromContext(ctx)
	result := make(map[transfer.Kind]bool)

	for _, kind := range transfer.Kinds {
		if !kind.Gated() {
			continue
		}

		if v.Credential(kind) == nil {
			logger.Debug("no token configured, gated downloads will be anonymous", "provider", kind.String())

			continue
		}

		valid := v.Validate(ctx, kind)
		result[kind] = valid

		if valid {
			logger.Info("token validated", "provider", kind.String())
		} else {
			logger.Warn("token is set but appears invalid", "provider", kind.String())
		}
	}

	return result
}

// AuthHeader returns the headers to attach to requests for kind. Only the
// registry and hub carry a bearer token, and only when one is configured.
func (v *Validator) AuthHeader(kind transfer.Kind) http.Header {
	h := make(http.Header)

	c := v.Credential(kind)
	if c == nil {
		return h
	}

	req := &http.Request{Header: h}
	bearer(c.Token).SetAuthHeader(req)

	return h
}

func (v *Validator) identify(ctx context.Context, kind transfer.Kind, token string) error {
	endpoint, ok := v.endpoints[kind]
	if !ok || endpoint == "" {
		return fmt.Errorf("no identity endpoint for provider %s", kind)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	bearer(token).SetAuthHeader(req)

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("identity check failed with status %d", resp.StatusCode)
	}

	return nil
}

func bearer(token string) *oauth2.Token {
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}
}
