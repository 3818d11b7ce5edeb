// Command server runs the geminicli proxy: an OpenAI-compatible and native
// Gemini HTTP front multiplexed over a pool of Google OAuth accounts.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/poemonsense/geminicli-proxy-go/internal/account"
	"github.com/poemonsense/geminicli-proxy-go/internal/cloudcode"
	"github.com/poemonsense/geminicli-proxy-go/internal/config"
	"github.com/poemonsense/geminicli-proxy-go/internal/modules"
	"github.com/poemonsense/geminicli-proxy-go/internal/server"
	"github.com/poemonsense/geminicli-proxy-go/internal/utils"
	"github.com/poemonsense/geminicli-proxy-go/pkg/redisstore"
)

func main() {
	// Optional .env next to the binary
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		utils.Error("[Main] Configuration error: %v", err)
		os.Exit(1)
	}
	utils.SetDebug(cfg.Debug)

	utils.Info("[Main] geminicli-proxy %s starting", config.Version)

	var tokenCache *redisstore.TokenCache
	if cfg.RedisURL != "" {
		redisClient, err := redisstore.NewClient(cfg.RedisURL)
		if err != nil {
			utils.Error("[Main] Redis connection failed: %v", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		tokenCache = redisstore.NewTokenCache(redisClient)
		utils.Info("[Main] Token cache backed by Redis")
	}

	if info, err := os.Stat(cfg.AccountsDir); err == nil && info.IsDir() {
		if _, err := os.ReadDir(cfg.AccountsDir); err != nil {
			utils.Error("[Main] Account directory %s is not readable: %v", cfg.AccountsDir, err)
			os.Exit(1)
		}
	}

	pool := account.LoadPool(cfg, tokenCache)
	if pool.Count() == 0 {
		utils.Warn("[Main] No accounts configured; requests will fail until %s/*.json exists", cfg.AccountsDir)
	}

	usage, err := modules.NewUsageStats(cfg.UsageDB)
	if err != nil {
		utils.Error("[Main] Failed to open usage database %s: %v", cfg.UsageDB, err)
		os.Exit(1)
	}
	defer usage.Close()

	client := cloudcode.NewClient(pool)
	srv := server.New(cfg, pool, client, usage)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		utils.Error("[Main] Server error: %v", err)
		os.Exit(1)
	}

	utils.Info("[Main] Shutdown complete")
}
