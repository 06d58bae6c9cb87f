package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementStatus 每日结算状态
type SettlementStatus string

const (
	SettlementStatusReady              SettlementStatus = "ready"
	SettlementStatusProcessing         SettlementStatus = "processing"
	SettlementStatusCompleted          SettlementStatus = "completed"
	SettlementStatusFailed             SettlementStatus = "failed"
	SettlementStatusInsufficientIncome SettlementStatus = "insufficient_income"
)

// DateLayout is the calendar day key format used for settlements.
const DateLayout = "2006-01-02"

// DailySettlement 每日结算记录，每个日期唯一
type DailySettlement struct {
	ID                            uint             `gorm:"primarykey" json:"id"`
	Date                          string           `gorm:"column:date;size:10;uniqueIndex;not null" json:"date"`
	PlatformNetIncome             decimal.Decimal  `gorm:"column:platform_net_income;type:decimal(38,8);not null" json:"platform_net_income"`
	DistributionPool              decimal.Decimal  `gorm:"column:distribution_pool;type:decimal(38,8);not null" json:"distribution_pool"`
	TotalNetworkContributionScore decimal.Decimal  `gorm:"column:total_network_contribution_score;type:decimal(38,8);not null" json:"total_network_contribution_score"`
	ActiveUserCount               int              `gorm:"column:active_user_count;default:0" json:"active_user_count"`
	Status                        SettlementStatus `gorm:"column:status;size:32;index;not null" json:"status"`
	DistributedAmount             decimal.Decimal  `gorm:"column:distributed_amount;type:decimal(38,8);not null" json:"distributed_amount"`
	RecipientsCount               int              `gorm:"column:recipients_count;default:0" json:"recipients_count"`
	Attempts                      int              `gorm:"column:attempts;default:0" json:"attempts"`
	LastError                     string           `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	ProcessingStartedAt           *time.Time       `gorm:"column:processing_started_at" json:"processing_started_at,omitempty"`
	ExecutedAt                    *time.Time       `gorm:"column:executed_at" json:"executed_at,omitempty"`
	CreatedAt                     time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt                     time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (DailySettlement) TableName() string {
	return "daily_settlements"
}

// DistributionRecord 单个用户在某日结算中的分配结果，创建后不可修改
type DistributionRecord struct {
	ID                uint            `gorm:"primarykey" json:"id"`
	SettlementDate    string          `gorm:"column:settlement_date;size:10;not null;uniqueIndex:idx_distribution_date_user,priority:1" json:"settlement_date"`
	UserID            string          `gorm:"column:user_id;size:64;not null;uniqueIndex:idx_distribution_date_user,priority:2;index" json:"user_id"`
	ContributionScore decimal.Decimal `gorm:"column:contribution_score;type:decimal(38,8);not null" json:"contribution_score"`
	Ratio             decimal.Decimal `gorm:"column:ratio;type:decimal(38,18);not null" json:"ratio"`
	AmountCalculated  decimal.Decimal `gorm:"column:amount_calculated;type:decimal(38,8);not null" json:"amount_calculated"`
	AmountDistributed decimal.Decimal `gorm:"column:amount_distributed;type:decimal(38,8);not null" json:"amount_distributed"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (DistributionRecord) TableName() string {
	return "distribution_records"
}

// WalletCreditStatus 钱包入账状态
type WalletCreditStatus string

const (
	WalletCreditPending   WalletCreditStatus = "pending"
	WalletCreditDelivered WalletCreditStatus = "delivered"
)

// WalletCredit is the outbox row for one user's payout. It is written in the
// same commit as the ledger outcome and delivered to the wallet sink afterwards.
type WalletCredit struct {
	ID             string             `gorm:"column:id;primaryKey;size:36" json:"id"`
	SettlementDate string             `gorm:"column:settlement_date;size:10;not null;index" json:"settlement_date"`
	UserID         string             `gorm:"column:user_id;size:64;not null" json:"user_id"`
	Amount         decimal.Decimal    `gorm:"column:amount;type:decimal(38,8);not null" json:"amount"`
	Currency       Currency           `gorm:"column:currency;size:32;not null" json:"currency"`
	Reason         string             `gorm:"column:reason;size:128" json:"reason"`
	Status         WalletCreditStatus `gorm:"column:status;size:16;index;not null" json:"status"`
	Attempts       int                `gorm:"column:attempts;default:0" json:"attempts"`
	LastError      string             `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	DeliveredAt    *time.Time         `gorm:"column:delivered_at" json:"delivered_at,omitempty"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (WalletCredit) TableName() string {
	return "wallet_credits"
}
