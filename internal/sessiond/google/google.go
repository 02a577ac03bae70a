// Package google runs the authorization-code flow against Google and hands
// back a verified ID token for the identity backend's social login.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Issuer is Google's OpenID Connect issuer.
const Issuer = "https://accounts.google.com"

var (
	ErrNoIDToken     = errors.New("google: token response has no id_token")
	ErrNonceMismatch = errors.New("google: nonce mismatch")
)

// Config holds the OAuth client registered with Google.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Provider performs the code exchange and verifies the resulting ID token.
type Provider struct {
	oauth2   oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// New discovers Google's endpoints and keys.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	provider, err := oidc.NewProvider(ctx, Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover google provider: %w", err)
	}

	return NewWithVerifier(oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}, provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})), nil
}

// NewWithVerifier builds a Provider from explicit parts.
func NewWithVerifier(cfg oauth2.Config, verifier *oidc.IDTokenVerifier) *Provider {
	return &Provider{oauth2: cfg, verifier: verifier}
}

// AuthCodeURL is where the browser goes to consent. codeVerifier is the PKCE
// verifier kept server side until the callback.
func (p *Provider) AuthCodeURL(state, nonce, codeVerifier string) string {
	return p.oauth2.AuthCodeURL(state,
		oidc.Nonce(nonce),
		oauth2.S256ChallengeOption(codeVerifier),
	)
}

// Exchange trades the callback code for tokens and returns the raw ID token
// once its signature, audience, expiry and nonce check out.
func (p *Provider) Exchange(ctx context.Context, code, codeVerifier, nonce string) (string, error) {
	token, err := p.oauth2.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return "", fmt.Errorf("failed to exchange code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return "", ErrNoIDToken
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", fmt.Errorf("failed to verify id token: %w", err)
	}
	if idToken.Nonce != nonce {
		return "", ErrNonceMismatch
	}
	return rawIDToken, nil
}
