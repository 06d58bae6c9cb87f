package config

import (
	"fmt"
	"os"
	"time"

	"rewardengine/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds the postgres connection string from DB_* variables.
func DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_SSLMODE", "disable"),
		getEnv("SETTLEMENT_TIMEZONE", "Asia/Shanghai"),
	)
}

// InitDB opens the database and, unless DB_AUTO_MIGRATE=false, migrates the models.
func InitDB() (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)           // 设置空闲连接池中的最大连接数
	sqlDB.SetMaxOpenConns(50)           // 设置打开数据库连接的最大数量
	sqlDB.SetConnMaxLifetime(time.Hour) // 设置连接可复用的最大时间

	if getEnv("DB_AUTO_MIGRATE", "true") == "true" {
		if err := AutoMigrate(db); err != nil {
			return nil, err
		}
	}
	log.Info("Database connection initialized")
	return db, nil
}

// AutoMigrate creates or updates every engine table.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.DailySettlement{},
		&models.DistributionRecord{},
		&models.WalletCredit{},
		&models.UserActivity{},
		&models.FundPoolTransaction{},
		&models.FundPoolBalanceRow{},
		&models.CoinStats{},
	)
	if err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}
