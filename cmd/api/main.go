package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hagerbet/internal/config"
	"hagerbet/internal/gateway"
	"hagerbet/internal/handler"
	"hagerbet/internal/infra/cache"
	"hagerbet/internal/infra/db"
	"hagerbet/internal/infra/events"
	"hagerbet/internal/infra/logger"
	infraRepo "hagerbet/internal/infra/repository"
	"hagerbet/internal/server"
	"hagerbet/internal/usecase"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type uuidGenerator struct{}

func (g *uuidGenerator) NewID() string {
	return uuid.NewString()
}

type realClock struct{}

func (c *realClock) Now() time.Time {
	return time.Now().UTC()
}

type notifier interface {
	usecase.EventNotifier
	Close() error
}

func main() {
	// .env は無くてもよい（本番は環境変数）
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("dev")
		bootLog.Fatal().Err(err).Msg("config load failed")
	}
	log := logger.New(cfg.GoEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	//DB接続
	gormDB, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(gormDB); err != nil {
		return err
	}

	//Repository（GORM実装）生成
	userRepo := infraRepo.NewUserGormRepository(gormDB)
	txm := infraRepo.NewTxManagerGorm(gormDB)

	//usecaseに渡す部品
	idGen := &uuidGenerator{}
	clock := &realClock{}

	var replay usecase.ReplayGuard
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		replay = cache.NewRedisReplayGuard(rdb, "hagerbet:webhook:")
	} else {
		replay = cache.NewMemoryReplayGuard()
	}

	var pub notifier
	if len(cfg.KafkaBrokers) > 0 {
		pub = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	} else {
		pub = events.NewLogPublisher(log)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			log.Warn().Err(err).Msg("event publisher close failed")
		}
	}()

	//決済ゲートウェイ。本番以外は署名なしのcallbackも受ける
	allowUnsigned := !cfg.IsProd()
	stripeGW := gateway.NewStripeGateway(cfg.Stripe, allowUnsigned, &http.Client{Timeout: cfg.GatewayTimeout})
	registry := gateway.NewRegistry(
		stripeGW,
		gateway.NewPayPalGateway(cfg.PayPal, allowUnsigned),
		gateway.NewCBEGateway(cfg.CBE, allowUnsigned),
		gateway.NewTeleBirrGateway(cfg.TeleBirr, allowUnsigned),
	)
	var intents usecase.StripeIntentCreator
	if cfg.Stripe.SecretKey != "" {
		intents = stripeGW
	}

	//Usecase生成
	orderUC := usecase.NewOrderUsecase(txm, pub, clock, log)
	adminOrderUC := usecase.NewAdminOrderUsecase(txm, pub, clock, log)
	carts := infraRepo.NewCartGormRepository(gormDB)
	cartUC := usecase.NewCartUsecase(carts, carts, infraRepo.NewProductGormRepository(gormDB))
	addressUC := usecase.NewAddressUsecase(infraRepo.NewAddressGormRepository(gormDB), clock)
	inventoryUC := usecase.NewInventoryUsecase(txm, clock, log)
	pm := usecase.NewPaymentManager(usecase.PaymentManagerDeps{
		Tx:       txm,
		Gateways: registry,
		Intents:  intents,
		Replay:   replay,
		Notifier: pub,
		Clock:    clock,
		IDs:      idGen,
		Log:      log,
		Timeout:  cfg.GatewayTimeout,
		Currency: cfg.Currency,
	})

	//Handler生成
	h := server.Handlers{
		Orders:      handler.NewOrderHandler(orderUC),
		AdminOrders: handler.NewAdminOrderHandler(adminOrderUC),
		Cart:        handler.NewCartHandler(cartUC),
		Addresses:   handler.NewAddressHandler(addressUC),
		Inventory:   handler.NewInventoryHandler(inventoryUC),
		Payments:    handler.NewPaymentHandler(pm),
		Webhooks:    handler.NewWebhookHandler(pm, log),
	}

	//Server起動
	e := server.New(cfg, log, userRepo, h)
	return server.Run(ctx, e, cfg, log)
}
