// Package modules provides feature modules layered on the proxy core.
package modules

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/poemonsense/geminicli-proxy-go/internal/utils"
)

// UsageStats tracks per-request counters (model, account, status, latency)
// in a local SQLite file. Only counters are stored; prompts and responses
// never touch the database.
type UsageStats struct {
	db       *sql.DB
	mu       sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
}

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         INTEGER NOT NULL,
	model      TEXT    NOT NULL,
	account    TEXT    NOT NULL,
	status     INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_ts ON requests(ts);
CREATE INDEX IF NOT EXISTS idx_requests_model ON requests(model);
`

// NewUsageStats opens (or creates) the stats database. An empty path
// disables the module; the returned nil value is safe to use.
func NewUsageStats(path string) (*UsageStats, error) {
	if path == "" {
		return nil, nil
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	u := &UsageStats{db: db, stopChan: make(chan struct{})}
	go u.backgroundPrune()

	utils.Info("[UsageStats] Recording usage to %s", path)
	return u, nil
}

// Close stops the module and closes the database
func (u *UsageStats) Close() {
	if u == nil {
		return
	}
	u.stopOnce.Do(func() { close(u.stopChan) })
	u.db.Close()
}

// Record stores one completed request
func (u *UsageStats) Record(model, account string, status int, latencyMs int64) {
	if u == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	_, err := u.db.Exec(
		"INSERT INTO requests (ts, model, account, status, latency_ms) VALUES (?, ?, ?, ?, ?)",
		time.Now().Unix(), model, account, status, latencyMs,
	)
	if err != nil {
		utils.Warn("[UsageStats] Failed to record request: %v", err)
	}
}

// ModelUsage is the aggregate for one model
type ModelUsage struct {
	Model        string `json:"model"`
	Requests     int64  `json:"requests"`
	Errors       int64  `json:"errors"`
	AvgLatencyMs int64  `json:"avg_latency_ms"`
}

// Snapshot aggregates recorded requests per model
func (u *UsageStats) Snapshot(ctx context.Context) ([]ModelUsage, error) {
	if u == nil {
		return nil, nil
	}

	rows, err := u.db.QueryContext(ctx, `
		SELECT model,
		       COUNT(*),
		       SUM(CASE WHEN status >= 400 THEN 1 ELSE 0 END),
		       CAST(AVG(latency_ms) AS INTEGER)
		FROM requests GROUP BY model ORDER BY model`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ModelUsage
	for rows.Next() {
		var m ModelUsage
		if err := rows.Scan(&m.Model, &m.Requests, &m.Errors, &m.AvgLatencyMs); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// backgroundPrune drops entries older than 30 days once an hour
func (u *UsageStats) backgroundPrune() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-u.stopChan:
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -30).Unix()
			u.mu.Lock()
			res, err := u.db.Exec("DELETE FROM requests WHERE ts < ?", cutoff)
			u.mu.Unlock()
			if err != nil {
				utils.Warn("[UsageStats] Failed to prune old stats: %v", err)
				continue
			}
			if pruned, _ := res.RowsAffected(); pruned > 0 {
				utils.Debug("[UsageStats] Pruned %d old entries", pruned)
			}
		}
	}
}
