package main

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Sangram4321/kasturi-masale-sub000/pkg/logging"
	"github.com/Sangram4321/kasturi-masale-sub000/pkg/shutdown"

	courierpg "github.com/Sangram4321/kasturi-masale-sub000/internal/courier/infrastructure/postgres"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/config"
	referralapp "github.com/Sangram4321/kasturi-masale-sub000/internal/referral/application"
	referralpg "github.com/Sangram4321/kasturi-masale-sub000/internal/referral/infrastructure/postgres"
	walletpg "github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/infrastructure/postgres"
)

// One-shot housekeeping binary, run from cron: matures referral rewards past
// the return window, expires old coins, and prunes aged webhook logs.
func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config load failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	referralSvc := referralapp.NewService(log, referralpg.NewRepository(log, pool), referralapp.Config{
		MinCartValue:     decimal.RequireFromString(cfg.Business.ReferralMinCart),
		RewardCoins:      cfg.Business.ReferralRewardCoins,
		ReturnWindowDays: cfg.Business.ReturnWindowDays,
		CoinExpiryDays:   cfg.Business.CoinExpiryDays,
	})

	report, err := referralSvc.Mature(ctx, time.Now().UTC())
	if err != nil {
		log.Error("maturation sweep failed", "err", err)
		os.Exit(1)
	}
	log.Info("maturation sweep done",
		"examined", report.Examined, "credited", report.Credited, "voided", report.Voided)

	expired, err := walletpg.NewRepository(log, pool).ExpireCoins(ctx)
	if err != nil {
		log.Error("coin expiry failed", "err", err)
		os.Exit(1)
	}
	log.Info("coins expired", "count", expired)

	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.Business.WebhookRetainDays)
	pruned, err := courierpg.NewLogStore(log, pool).PruneOlderThan(ctx, cutoff)
	if err != nil {
		log.Error("webhook log prune failed", "err", err)
		os.Exit(1)
	}
	log.Info("webhook logs pruned", "count", pruned, "cutoff", cutoff)
}
