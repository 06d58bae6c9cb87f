package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserActivity 用户每日活跃数据，由外部活动服务上报，重复上报会累加
type UserActivity struct {
	ID                   uint            `gorm:"primarykey" json:"id"`
	UserID               string          `gorm:"column:user_id;size:64;not null;uniqueIndex:idx_activity_user_date,priority:1" json:"user_id"`
	ActivityDate         string          `gorm:"column:activity_date;size:10;not null;uniqueIndex:idx_activity_user_date,priority:2;index" json:"activity_date"`
	GameCoinsEarned      decimal.Decimal `gorm:"column:game_coins_earned;type:decimal(38,8);not null" json:"game_coins_earned"`
	ComputingPowerEarned decimal.Decimal `gorm:"column:computing_power_earned;type:decimal(38,8);not null" json:"computing_power_earned"`
	TransactionVolume    decimal.Decimal `gorm:"column:transaction_volume;type:decimal(38,8);not null" json:"transaction_volume"`
	CreatedAt            time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (UserActivity) TableName() string {
	return "user_activities"
}
