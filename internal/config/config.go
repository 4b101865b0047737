package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Configはアプリ全体の設定
type Config struct {
	Port string // サーバーポート（8080）

	PostgresUser     string // DBユーザー
	PostgresPassword string // DBパスワード
	PostgresDB       string // DB名
	PostgresHost     string // DBホスト（localhost）
	PostgresPort     int    // DBポート（5433）
	PostgresSSLMode  string

	JWTSecret string // JWT署名シークレット

	GoEnv     string // dev/prod
	APIDomain string // APIドメイン（cookieやCORSなどで使う）
	FEURL     string // フロントURL（CORSなどで使う）

	// 空ならメモリのreplay guardを使う
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// 空ならログに出すだけ
	KafkaBrokers []string
	KafkaTopic   string

	// 外部決済1回あたりの上限
	GatewayTimeout time.Duration
	Currency       string

	Stripe   StripeConfig
	PayPal   PayPalConfig
	CBE      CBEConfig
	TeleBirr TeleBirrConfig
}

type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
	// テストでhttptestを向ける
	APIURL string
}

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	APIURL       string // 空ならシミュレーション
	Sandbox      bool
}

type CBEConfig struct {
	MerchantID    string
	TerminalID    string
	SecretKey     string
	WebhookSecret string
	APIURL        string // 空ならシミュレーション
	CallbackURL   string
}

type TeleBirrConfig struct {
	AppID     string
	AppKey    string
	AppSecret string
	ShortCode string
	APIURL    string // 空ならシミュレーション
	NotifyURL string
	ReturnURL string
}

// 本番ではwebhookの署名なしを受け付けない
func (c Config) IsProd() bool {
	return c.GoEnv == "prod"
}

// Loadは環境変数
func Load() (Config, error) {
	pgPort, err := mustAtoi("POSTGRES_PORT")
	if err != nil {
		return Config{}, err
	}

	redisDB, err := atoiDefault("REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}

	timeout, err := durationDefault("GATEWAY_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port: os.Getenv("PORT"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     pgPort,
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", "disable"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		GoEnv:     os.Getenv("GO_ENV"),
		APIDomain: os.Getenv("API_DOMAIN"),
		FEURL:     os.Getenv("FE_URL"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getenv("KAFKA_TOPIC", "hagerbet.events"),

		GatewayTimeout: timeout,
		Currency:       getenv("DEFAULT_CURRENCY", "ETB"),

		Stripe: StripeConfig{
			SecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
			PublishableKey: os.Getenv("STRIPE_PUBLISHABLE_KEY"),
			WebhookSecret:  os.Getenv("STRIPE_WEBHOOK_SECRET"),
			APIURL:         os.Getenv("STRIPE_API_URL"),
		},
		PayPal: PayPalConfig{
			ClientID:     os.Getenv("PAYPAL_CLIENT_ID"),
			ClientSecret: os.Getenv("PAYPAL_CLIENT_SECRET"),
			WebhookID:    os.Getenv("PAYPAL_WEBHOOK_ID"),
			APIURL:       os.Getenv("PAYPAL_API_URL"),
			Sandbox:      getenv("PAYPAL_MODE", "sandbox") == "sandbox",
		},
		CBE: CBEConfig{
			MerchantID:    os.Getenv("CBE_MERCHANT_ID"),
			TerminalID:    os.Getenv("CBE_TERMINAL_ID"),
			SecretKey:     os.Getenv("CBE_SECRET_KEY"),
			WebhookSecret: os.Getenv("CBE_WEBHOOK_SECRET"),
			APIURL:        os.Getenv("CBE_API_URL"),
			CallbackURL:   os.Getenv("CBE_CALLBACK_URL"),
		},
		TeleBirr: TeleBirrConfig{
			AppID:     os.Getenv("TELEBIRR_APP_ID"),
			AppKey:    os.Getenv("TELEBIRR_APP_KEY"),
			AppSecret: os.Getenv("TELEBIRR_APP_SECRET"),
			ShortCode: os.Getenv("TELEBIRR_SHORT_CODE"),
			APIURL:    os.Getenv("TELEBIRR_API_URL"),
			NotifyURL: os.Getenv("TELEBIRR_NOTIFY_URL"),
			ReturnURL: os.Getenv("TELEBIRR_RETURN_URL"),
		},
	}

	//必須チェック
	if cfg.Port == "" {
		return Config{}, fmt.Errorf("PORT is required")
	}
	if cfg.PostgresUser == "" {
		return Config{}, fmt.Errorf("POSTGRES_USER is required")
	}
	if cfg.PostgresPassword == "" {
		return Config{}, fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	if cfg.PostgresDB == "" {
		return Config{}, fmt.Errorf("POSTGRES_DB is required")
	}
	if cfg.PostgresHost == "" {
		return Config{}, fmt.Errorf("POSTGRES_HOST is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.GoEnv == "" {
		return Config{}, fmt.Errorf("GO_ENV is required")
	}
	if cfg.APIDomain == "" {
		return Config{}, fmt.Errorf("API_DOMAIN is required")
	}
	if cfg.FEURL == "" {
		return Config{}, fmt.Errorf("FE_URL is required")
	}
	if cfg.GatewayTimeout <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}

	//本番は署名検証のシークレット必須
	if cfg.IsProd() {
		if cfg.Stripe.SecretKey != "" && cfg.Stripe.WebhookSecret == "" {
			return Config{}, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in prod")
		}
		if cfg.CBE.WebhookSecret == "" {
			return Config{}, fmt.Errorf("CBE_WEBHOOK_SECRET is required in prod")
		}
		if cfg.TeleBirr.AppSecret == "" {
			return Config{}, fmt.Errorf("TELEBIRR_APP_SECRET is required in prod")
		}
	}

	return cfg, nil
}

func mustAtoi(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func atoiDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

// "30s" 形式と秒数の両方を受ける
func durationDefault(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be duration: %w", key, err)
	}
	return d, nil
}

func getenv(key string, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
