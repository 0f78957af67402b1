package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/Sangram4321/kasturi-masale-sub000/pkg/idempotency"
	"github.com/Sangram4321/kasturi-masale-sub000/pkg/logging"
	"github.com/Sangram4321/kasturi-masale-sub000/pkg/outbox"
	"github.com/Sangram4321/kasturi-masale-sub000/pkg/shutdown"
	"github.com/Sangram4321/kasturi-masale-sub000/pkg/tracing"

	courierapp "github.com/Sangram4321/kasturi-masale-sub000/internal/courier/application"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/courier/infrastructure/courierapi"
	courierhttp "github.com/Sangram4321/kasturi-masale-sub000/internal/courier/infrastructure/http"
	courierpg "github.com/Sangram4321/kasturi-masale-sub000/internal/courier/infrastructure/postgres"
	inventoryapp "github.com/Sangram4321/kasturi-masale-sub000/internal/inventory/application"
	inventoryhttp "github.com/Sangram4321/kasturi-masale-sub000/internal/inventory/infrastructure/http"
	inventorypg "github.com/Sangram4321/kasturi-masale-sub000/internal/inventory/infrastructure/postgres"
	orderapp "github.com/Sangram4321/kasturi-masale-sub000/internal/order/application"
	orderdom "github.com/Sangram4321/kasturi-masale-sub000/internal/order/domain"
	orderhttp "github.com/Sangram4321/kasturi-masale-sub000/internal/order/infrastructure/http"
	orderkafka "github.com/Sangram4321/kasturi-masale-sub000/internal/order/infrastructure/kafka"
	orderpg "github.com/Sangram4321/kasturi-masale-sub000/internal/order/infrastructure/postgres"
	paymentapp "github.com/Sangram4321/kasturi-masale-sub000/internal/payment/application"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/payment/infrastructure/gateway"
	paymenthttp "github.com/Sangram4321/kasturi-masale-sub000/internal/payment/infrastructure/http"
	paymentpg "github.com/Sangram4321/kasturi-masale-sub000/internal/payment/infrastructure/postgres"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/config"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/httpauth"
	referralapp "github.com/Sangram4321/kasturi-masale-sub000/internal/referral/application"
	referralpg "github.com/Sangram4321/kasturi-masale-sub000/internal/referral/infrastructure/postgres"
	walletapp "github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/application"
	walletdom "github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/domain"
	wallethttp "github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/infrastructure/http"
	walletpg "github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/infrastructure/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config load failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "fulfillment-service", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(ctx) }()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	writer := orderkafka.NewWriter(cfg.KafkaBrokers)
	defer writer.Close()

	rules := walletdom.Rules{
		MinRedeemCoins: cfg.Business.MinRedeemCoins,
		CoinValue:      decimal.RequireFromString(cfg.Business.CoinValue),
		CapPercent:     decimal.RequireFromString(cfg.Business.RedemptionCapPct),
		RewardPercent:  decimal.RequireFromString(cfg.Business.RewardPct),
	}
	rates := orderdom.FinancialRates{
		GSTRate:       decimal.RequireFromString(cfg.Business.GSTRate),
		ShippingFlat:  decimal.RequireFromString(cfg.Business.ShippingFlat),
		PackagingFlat: decimal.RequireFromString(cfg.Business.PackagingFlat),
		GatewayFeePct: decimal.RequireFromString(cfg.Business.GatewayFeePct),
	}

	// Repositories
	orderRepo := orderpg.NewRepository(log, pool, rates)
	walletRepo := walletpg.NewRepository(log, pool)
	batchRepo := inventorypg.NewRepository(log, pool)
	referralRepo := referralpg.NewRepository(log, pool)
	paymentRepo := paymentpg.NewRepository(log, pool, orderRepo)
	webhookLogs := courierpg.NewLogStore(log, pool)
	outboxStore := orderpg.NewOutboxStore(log, pool)

	// Outbox relay
	dispatch := outbox.NewDispatcher(log, writer, cfg.OutboxTopic)
	relay := outbox.NewRelay(log, outboxStore, dispatch, "fulfillment-relay")

	// External clients
	courierClient := courierapi.New(log, cfg.Courier.BaseURL, cfg.Courier.APIKey)
	refundClient := gateway.NewRefundClient(log, cfg.Payment.RefundURL, cfg.Payment.KeyID, cfg.Payment.KeySecret)

	// Services
	walletSvc := walletapp.NewService(log, walletRepo)
	referralSvc := referralapp.NewService(log, referralRepo, referralapp.Config{
		MinCartValue:     decimal.RequireFromString(cfg.Business.ReferralMinCart),
		RewardCoins:      cfg.Business.ReferralRewardCoins,
		ReturnWindowDays: cfg.Business.ReturnWindowDays,
		CoinExpiryDays:   cfg.Business.CoinExpiryDays,
	})
	orderSvc := orderapp.NewService(log, orderRepo, walletRepo, referralSvc, courierClient, refundClient, orderapp.Config{
		Rules:            rules,
		FinancialRates:   rates,
		CODFee:           decimal.RequireFromString(cfg.Business.CODFee),
		ReferralDiscount: decimal.RequireFromString(cfg.Business.ReferralDiscount),
		CoinExpiryDays:   cfg.Business.CoinExpiryDays,
	})
	inventorySvc := inventoryapp.NewService(log, batchRepo)
	paymentSvc := paymentapp.NewService(log, paymentRepo, cfg.Payment.WebhookSecret, rules, cfg.Business.CoinExpiryDays)

	dedup := idempotency.NewStore(rdb, 48*time.Hour)
	reconciler := courierapp.NewReconciler(log, orderSvc, webhookLogs, dedup)

	// HTTP surface
	admin := httpauth.Admin(cfg.AdminToken)
	r := chi.NewRouter()
	r.Mount("/", orderhttp.NewHandler(log, orderSvc).Routes(admin))
	r.Mount("/wallets", wallethttp.NewHandler(log, walletSvc).Routes(admin))
	r.Mount("/inventory", inventoryhttp.NewHandler(log, inventorySvc).Routes(admin))
	r.Mount("/payments", paymenthttp.NewHandler(log, paymentSvc).Routes())
	r.Mount("/couriers", courierhttp.NewHandler(log, reconciler, cfg.Courier.WebhookToken).Routes())

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Info("fulfillment-service shutdown complete")
}
