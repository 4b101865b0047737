package db

import (
	"fmt"
	"os"

	"hagerbet/internal/config"
	"hagerbet/internal/domain/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Connect はDBに接続して *gorm.DB を返す。
func Connect(cfg config.Config) (*gorm.DB, error) {
	// DATABASE_URL があれば最優先で使う
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresSSLMode,
	)

	return gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
}

// Migrate はテーブルを作成・更新する。users は認証サービス側と共有
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.User{},
		&model.Address{},
		&model.Product{},
		&model.ProductVariant{},
		&model.InventoryHistory{},
		&model.Cart{},
		&model.CartItem{},
		&model.Order{},
		&model.OrderItem{},
		&model.OrderStatusHistory{},
		&model.Payment{},
		&model.Refund{},
		&model.CBETransaction{},
		&model.TeleBirrTransaction{},
		&model.ProviderEvent{},
		&model.AuditLog{},
	); err != nil {
		return err
	}

	// 冪等キーは(user_id, idempotency_key)で一意。旧い全体一意の索引は落とす
	m := db.Migrator()
	if m.HasIndex(&model.Order{}, "idx_orders_idempotency_key") {
		if err := m.DropIndex(&model.Order{}, "idx_orders_idempotency_key"); err != nil {
			return err
		}
	}
	return nil
}
