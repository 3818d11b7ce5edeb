package account

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poemonsense/geminicli-proxy-go/internal/config"
)

// newTokenServer is a test double for the OAuth token endpoint
func newTokenServer(t *testing.T, calls *int32, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
}

func writeAccountFile(t *testing.T, dir, name, tokenURL string, expiry time.Time) string {
	t.Helper()
	rec := map[string]interface{}{
		"client_id":     "cid",
		"client_secret": "csec",
		"token":         "old-token",
		"refresh_token": "rt-1",
		"token_uri":     tokenURL,
		"expiry":        expiry.UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		AccountsDir:    dir,
		LegacyCredFile: filepath.Join(dir, "does-not-exist.json"),
	}
}

func TestLoadPoolSkipsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	writeAccountFile(t, dir, "good.json", "http://unused", time.Now().Add(time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "norefresh.json"), []byte(`{"token":"x"}`), 0o600))

	pool := LoadPool(testConfig(dir), nil)
	assert.Equal(t, 1, pool.Count())
}

func TestLoadPoolEmptyDirStillStarts(t *testing.T) {
	pool := LoadPool(testConfig(t.TempDir()), nil)
	assert.Equal(t, 0, pool.Count())

	_, err := pool.Lease(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no accounts")
}

func TestLoadPoolInlineCredentials(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.InlineCredsJSON = `{"refresh_token":"rt","token":"tok"}`
	pool := LoadPool(cfg, nil)
	assert.Equal(t, 1, pool.Count())
}

func TestLeaseReturnsFreshToken(t *testing.T) {
	dir := t.TempDir()
	var calls int32
	srv := newTokenServer(t, &calls, 200, `{"access_token":"fresh","expires_in":3600,"token_type":"Bearer"}`)
	defer srv.Close()

	writeAccountFile(t, dir, "a.json", srv.URL, time.Now().Add(-time.Minute))
	pool := LoadPool(testConfig(dir), nil)

	lease, err := pool.Lease(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", lease.Token)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// The returned account expiry must be beyond now plus a small epsilon
	assert.True(t, lease.Account.Expiry.After(time.Now().Add(10*time.Second)))
}

func TestLeaseSkipsRefreshForValidToken(t *testing.T) {
	dir := t.TempDir()
	var calls int32
	srv := newTokenServer(t, &calls, 200, `{"access_token":"fresh","expires_in":3600}`)
	defer srv.Close()

	writeAccountFile(t, dir, "a.json", srv.URL, time.Now().Add(time.Hour))
	pool := LoadPool(testConfig(dir), nil)

	lease, err := pool.Lease(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old-token", lease.Token)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestConcurrentLeasesRefreshOnce(t *testing.T) {
	dir := t.TempDir()
	var calls int32
	srv := newTokenServer(t, &calls, 200, `{"access_token":"fresh","expires_in":3600,"token_type":"Bearer"}`)
	defer srv.Close()

	path := writeAccountFile(t, dir, "a.json", srv.URL, time.Now().Add(-time.Minute))
	pool := LoadPool(testConfig(dir), nil)

	var wg sync.WaitGroup
	tokens := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lease, err := pool.Lease(context.Background())
			if err == nil {
				tokens[i] = lease.Token
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "exactly one refresh for concurrent leases")
	for i, tok := range tokens {
		assert.Equal(t, "fresh", tok, "lease %d", i)
	}

	// The on-disk file carries the refreshed token exactly once
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "fresh", rec["token"])
	assert.Equal(t, "rt-1", rec["refresh_token"])
}

func TestRoundRobinRotation(t *testing.T) {
	dir := t.TempDir()
	writeAccountFile(t, dir, "a.json", "http://unused", time.Now().Add(time.Hour))
	writeAccountFile(t, dir, "b.json", "http://unused", time.Now().Add(time.Hour))
	pool := LoadPool(testConfig(dir), nil)

	first, err := pool.Lease(context.Background())
	require.NoError(t, err)
	second, err := pool.Lease(context.Background())
	require.NoError(t, err)
	third, err := pool.Lease(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.Index, second.Index)
	assert.Equal(t, first.Index, third.Index)
}

func TestInvalidGrantMarksAccountDead(t *testing.T) {
	dir := t.TempDir()
	var deadCalls int32
	deadSrv := newTokenServer(t, &deadCalls, 400, `{"error":"invalid_grant","error_description":"revoked"}`)
	defer deadSrv.Close()

	var goodCalls int32
	goodSrv := newTokenServer(t, &goodCalls, 200, `{"access_token":"fresh","expires_in":3600}`)
	defer goodSrv.Close()

	writeAccountFile(t, dir, "a.json", deadSrv.URL, time.Now().Add(-time.Minute))
	writeAccountFile(t, dir, "b.json", goodSrv.URL, time.Now().Add(-time.Minute))
	pool := LoadPool(testConfig(dir), nil)

	// First lease hits the revoked account, marks it dead and moves on
	lease, err := pool.Lease(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b.json", lease.Account.Name())

	// Subsequent leases never touch the dead account again
	for i := 0; i < 4; i++ {
		lease, err := pool.Lease(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "b.json", lease.Account.Name())
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&deadCalls))
}

func TestTransientRefreshFailureKeepsLastToken(t *testing.T) {
	dir := t.TempDir()
	var calls int32
	srv := newTokenServer(t, &calls, 500, `boom`)
	defer srv.Close()

	writeAccountFile(t, dir, "a.json", srv.URL, time.Now().Add(-time.Minute))
	pool := LoadPool(testConfig(dir), nil)

	lease, err := pool.Lease(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old-token", lease.Token)
}

func TestAtomicPersistenceLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	var calls int32
	srv := newTokenServer(t, &calls, 200, `{"access_token":"fresh","expires_in":3600}`)
	defer srv.Close()

	writeAccountFile(t, dir, "a.json", srv.URL, time.Now().Add(-time.Minute))
	pool := LoadPool(testConfig(dir), nil)

	_, err := pool.Lease(context.Background())
	require.NoError(t, err)

	entries, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
