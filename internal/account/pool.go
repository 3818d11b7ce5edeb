package account

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/poemonsense/geminicli-proxy-go/internal/apierr"
	"github.com/poemonsense/geminicli-proxy-go/internal/config"
	"github.com/poemonsense/geminicli-proxy-go/internal/utils"
	"github.com/poemonsense/geminicli-proxy-go/pkg/redisstore"
)

// Outcome describes how a borrowed account fared. The pool does not
// currently quarantine on failure; the parameter reserves the interface.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeAuthFailure
	OutcomeUpstreamError
)

// Lease is a temporary exclusive assignment of an account to one request.
// Token is the access token snapshot taken inside the lease critical
// section; it is guaranteed non-expired at the moment of lease.
type Lease struct {
	Account *Account
	Index   int
	Token   string
}

// Pool is the ordered collection of accounts with a rotation cursor. One
// mutex covers the cursor and all per-account mutation; token refresh and
// file persistence happen inside the critical section so two concurrent
// leases can never race two refreshes of the same credential.
type Pool struct {
	mu       sync.Mutex
	accounts []*Account
	cursor   int

	refreshClient *http.Client
	tokenCache    *redisstore.TokenCache
	projectHint   string

	// Endpoint is the CodeAssist base URL used for onboarding calls;
	// overridable in tests.
	Endpoint string
}

// NewPool creates an empty pool. tokenCache may be nil.
func NewPool(tokenCache *redisstore.TokenCache, projectHint string) *Pool {
	return &Pool{
		refreshClient: &http.Client{
			Timeout: config.RefreshTimeoutSec * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: config.ConnectTimeoutSec * time.Second}).DialContext,
			},
		},
		tokenCache:  redisCacheOrNil(tokenCache),
		projectHint: projectHint,
		Endpoint:    config.CodeAssistEndpoint,
	}
}

func redisCacheOrNil(c *redisstore.TokenCache) *redisstore.TokenCache {
	if c == nil {
		return redisstore.NewTokenCache(nil)
	}
	return c
}

// LoadPool builds a pool from the configured account sources: the accounts
// directory, then the legacy single credential file, then the inline
// GEMINI_CREDENTIALS record. Unparseable files are logged and skipped; an
// empty pool is not an error, the server starts and leases fail.
func LoadPool(cfg *config.Config, tokenCache *redisstore.TokenCache) *Pool {
	p := NewPool(tokenCache, cfg.ProjectIDOverride)

	entries, err := filepath.Glob(filepath.Join(cfg.AccountsDir, "*.json"))
	if err == nil {
		sort.Strings(entries)
		for _, path := range entries {
			if err := p.Add(path); err != nil {
				utils.Warn("[Pool] Skipping %s: %v", filepath.Base(path), err)
			}
		}
	}

	if p.Count() == 0 {
		if _, err := os.Stat(cfg.LegacyCredFile); err == nil {
			if err := p.Add(cfg.LegacyCredFile); err != nil {
				utils.Warn("[Pool] Skipping legacy credentials %s: %v", cfg.LegacyCredFile, err)
			} else {
				utils.Info("[Pool] Loaded legacy credentials from %s", cfg.LegacyCredFile)
			}
		}
	}

	if p.Count() == 0 && cfg.InlineCredsJSON != "" {
		acc, err := parseRecord([]byte(cfg.InlineCredsJSON), "")
		if err != nil {
			utils.Warn("[Pool] Ignoring GEMINI_CREDENTIALS: %v", err)
		} else {
			p.mu.Lock()
			p.accounts = append(p.accounts, acc)
			p.mu.Unlock()
			utils.Info("[Pool] Loaded credentials from GEMINI_CREDENTIALS")
		}
	}

	utils.Info("[Pool] %d account(s) loaded", p.Count())
	return p
}

// Add loads one credential file into the pool
func (p *Pool) Add(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	acc, err := parseRecord(data, path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = append(p.accounts, acc)
	return nil
}

// Count reports the pool size, dead accounts included
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

// Lease atomically advances the rotation cursor, refreshes the selected
// account's access token if it is within the leeway of expiry, persists any
// refreshed token, and returns the account. Dead accounts are skipped.
func (p *Pool) Lease(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.accounts) == 0 {
		return nil, apierr.NoAccounts()
	}

	for tries := 0; tries < len(p.accounts); tries++ {
		idx := p.cursor % len(p.accounts)
		p.cursor = (p.cursor + 1) % len(p.accounts)
		acc := p.accounts[idx]

		if acc.dead {
			continue
		}

		if acc.expiringSoon(time.Now()) {
			if err := p.refreshLocked(ctx, acc); err != nil {
				if isInvalidGrant(err) {
					utils.Error("[Pool] Refresh token for %s revoked, marking account dead", acc.Name())
					acc.dead = true
					continue
				}
				if acc.Token == "" {
					utils.Warn("[Pool] Refresh failed for %s and no previous token: %v", acc.Name(), err)
					continue
				}
				// Transient failure: hand out the last known token
				utils.Warn("[Pool] Refresh failed for %s, using last known token: %v", acc.Name(), err)
			}
		}

		return &Lease{Account: acc, Index: idx, Token: acc.Token}, nil
	}

	return nil, apierr.NoAccounts()
}

// Release returns a borrowed account to the pool
func (p *Pool) Release(lease *Lease, outcome Outcome) {
	// Rotation already moved past this account; nothing to do yet. The
	// outcome parameter is where quarantine logic would hook in.
	_ = lease
	_ = outcome
}

// refreshLocked performs a refresh_token grant for acc. Callers must hold
// the pool mutex; holding it across the network call is what guarantees a
// single refresh per credential under concurrent leases.
func (p *Pool) refreshLocked(ctx context.Context, acc *Account) error {
	// Another process may have refreshed already
	if cached, err := p.tokenCache.Get(ctx, acc.Name()); err == nil && cached != nil {
		if cached.Expiry.After(time.Now().Add(config.TokenRefreshLeewaySec * time.Second)) {
			acc.Token = cached.AccessToken
			acc.Expiry = cached.Expiry
			return nil
		}
	}

	conf := &oauth2.Config{
		ClientID:     acc.ClientID,
		ClientSecret: acc.ClientSecret,
		Scopes:       acc.Scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL: acc.TokenURI,
			AuthURL:  config.OAuthAuthURL,
			// Google's token endpoint takes client credentials in the body;
			// pinning the style also avoids oauth2's two-request probe.
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	refreshCtx, cancel := context.WithTimeout(ctx, config.RefreshTimeoutSec*time.Second)
	defer cancel()
	refreshCtx = context.WithValue(refreshCtx, oauth2.HTTPClient, p.refreshClient)

	tok, err := conf.TokenSource(refreshCtx, &oauth2.Token{RefreshToken: acc.RefreshToken}).Token()
	if err != nil {
		return fmt.Errorf("token refresh for %s: %w", acc.Name(), err)
	}

	acc.Token = tok.AccessToken
	acc.Expiry = tok.Expiry.UTC()
	if tok.RefreshToken != "" {
		acc.RefreshToken = tok.RefreshToken
	}

	if err := acc.save(); err != nil {
		utils.Warn("[Pool] Failed to persist refreshed token for %s: %v", acc.Name(), err)
	}
	if err := p.tokenCache.Set(ctx, acc.Name(), acc.Token, acc.Expiry); err != nil {
		utils.Debug("[Pool] Token cache write failed for %s: %v", acc.Name(), err)
	}

	utils.Success("[Pool] Refreshed access token for %s", acc.Name())
	return nil
}

// isInvalidGrant reports whether a refresh failed because the grant itself
// was revoked (non-retryable), as opposed to a transient transport problem.
func isInvalidGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" {
			return true
		}
	}
	return false
}

// setProject records a discovered project id and persists it
func (p *Pool) setProject(acc *Account, projectID string, onboarded bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if projectID != "" {
		acc.ProjectID = projectID
	}
	if onboarded {
		acc.Onboarded = true
	}
	if err := acc.save(); err != nil {
		utils.Warn("[Pool] Failed to persist project id for %s: %v", acc.Name(), err)
	}
}

// snapshotOnboarded reads the onboarding state under the pool mutex
func (p *Pool) snapshotOnboarded(acc *Account) (onboarded bool, projectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return acc.Onboarded, acc.ProjectID
}
