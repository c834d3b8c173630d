// Package auth owns the session lifecycle against the backend: login,
// token verification for the 401-refresh ladder, and logout with credential
// wipe.
package auth

import (
	"context"
	"fmt"

	"github.com/acencia/atlas/internal/credstore"
	"github.com/acencia/atlas/internal/httpcore"
)

// TokenStore is the credential persistence slice the session needs;
// satisfied by credstore.Store.
type TokenStore interface {
	Save(creds credstore.Credentials) error
	Load() (credstore.Credentials, error)
	Delete()
}

// Session binds the HTTP client to the stored credentials.
type Session struct {
	api   *httpcore.Client
	store TokenStore
}

func NewSession(api *httpcore.Client, store TokenStore) *Session {
	return &Session{api: api, store: store}
}

// Login exchanges username/password for a JWT, persists it and arms the
// client with it.
func (s *Session) Login(ctx context.Context, username, password string) (credstore.Credentials, error) {
	var resp struct {
		Token string         `json:"token"`
		User  map[string]any `json:"user"`
	}
	in := map[string]string{"username": username, "password": password}
	if err := s.api.PostJSON(ctx, "/auth/login", in, &resp); err != nil {
		return credstore.Credentials{}, fmt.Errorf("login: %w", err)
	}
	creds := credstore.Credentials{Token: resp.Token, User: resp.User}
	if err := s.store.Save(creds); err != nil {
		return credstore.Credentials{}, fmt.Errorf("persist token: %w", err)
	}
	s.api.SetToken(creds.Token)
	return creds, nil
}

// Refresh is the httpcore RefreshFunc: it re-validates the stored token
// against /auth/verify. A rejected or missing token is wiped from every
// backend so the next 401 forces a fresh login.
func (s *Session) Refresh(ctx context.Context) (string, error) {
	creds, err := s.store.Load()
	if err != nil {
		return "", fmt.Errorf("load stored token: %w", err)
	}
	s.api.SetToken(creds.Token)
	ok, err := s.api.Check(ctx, "/auth/verify")
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	if !ok {
		s.store.Delete()
		return "", fmt.Errorf("stored token rejected")
	}
	return creds.Token, nil
}

// Logout invalidates the session server-side (best effort) and wipes the
// stored credentials.
func (s *Session) Logout(ctx context.Context) {
	_ = s.api.PostJSON(ctx, "/auth/logout", nil, nil)
	s.store.Delete()
	s.api.SetToken("")
}
