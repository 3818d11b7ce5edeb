// Package account manages the pool of OAuth identities the proxy rotates
// across when talking to the CodeAssist service.
package account

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/poemonsense/geminicli-proxy-go/internal/config"
)

// Account is a single OAuth identity backed by a credential file. All
// mutation happens under the pool mutex; the onboarding mutex serialises the
// one-time CodeAssist handshake without blocking the pool.
type Account struct {
	// File is the source path; empty for credentials injected through the
	// environment, which are never persisted.
	File string

	ClientID     string
	ClientSecret string
	Token        string
	RefreshToken string
	Scopes       []string
	TokenURI     string
	Expiry       time.Time
	ProjectID    string

	Onboarded bool

	// dead marks an account whose refresh token was revoked; leases skip it
	// for the rest of the process lifetime.
	dead bool

	onboardMu sync.Mutex
}

// Name returns a stable identifier for logging (never the tokens)
func (a *Account) Name() string {
	if a.File == "" {
		return "<env>"
	}
	return filepath.Base(a.File)
}

// record is the on-disk JSON shape of a credential file
type record struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Token        string   `json:"token"`
	AccessToken  string   `json:"access_token,omitempty"`
	RefreshToken string   `json:"refresh_token"`
	Scopes       []string `json:"scopes,omitempty"`
	Scope        string   `json:"scope,omitempty"`
	TokenURI     string   `json:"token_uri,omitempty"`
	Expiry       string   `json:"expiry,omitempty"`
	ProjectID    string   `json:"project_id,omitempty"`
}

// parseRecord decodes a credential record, filling defaults for the optional
// fields the enrolment flow sometimes omits.
func parseRecord(data []byte, file string) (*Account, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse credential record: %w", err)
	}
	if rec.RefreshToken == "" {
		return nil, fmt.Errorf("credential record has no refresh_token")
	}

	// Normalize the field spellings the Google libraries emit
	if rec.Token == "" {
		rec.Token = rec.AccessToken
	}
	if len(rec.Scopes) == 0 && rec.Scope != "" {
		rec.Scopes = strings.Fields(rec.Scope)
	}

	acc := &Account{
		File:         file,
		ClientID:     rec.ClientID,
		ClientSecret: rec.ClientSecret,
		Token:        rec.Token,
		RefreshToken: rec.RefreshToken,
		Scopes:       rec.Scopes,
		TokenURI:     rec.TokenURI,
		ProjectID:    rec.ProjectID,
	}
	if acc.ClientID == "" {
		acc.ClientID = config.OAuthClientID
	}
	if acc.ClientSecret == "" {
		acc.ClientSecret = config.OAuthClientSecret
	}
	if len(acc.Scopes) == 0 {
		acc.Scopes = config.OAuthScopes
	}
	if acc.TokenURI == "" {
		acc.TokenURI = config.OAuthTokenURL
	}

	if rec.Expiry != "" {
		if ts, err := time.Parse(time.RFC3339, rec.Expiry); err == nil {
			acc.Expiry = ts.UTC()
		}
	}

	return acc, nil
}

// save writes the record back to its file atomically (temp file + rename).
// Accounts without a file are environment-injected and skipped.
func (a *Account) save() error {
	if a.File == "" {
		return nil
	}

	rec := record{
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		Token:        a.Token,
		RefreshToken: a.RefreshToken,
		Scopes:       a.Scopes,
		TokenURI:     a.TokenURI,
		ProjectID:    a.ProjectID,
	}
	if !a.Expiry.IsZero() {
		rec.Expiry = a.Expiry.UTC().Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	tmp := a.File + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, a.File)
}

// expiringSoon reports whether the access token is expired or within the
// refresh leeway of expiry.
func (a *Account) expiringSoon(now time.Time) bool {
	if a.Token == "" || a.Expiry.IsZero() {
		return true
	}
	return !a.Expiry.After(now.Add(config.TokenRefreshLeewaySec * time.Second))
}
