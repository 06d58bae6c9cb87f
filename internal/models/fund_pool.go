package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType 资金池流水方向
type TransactionType string

const (
	TransactionIncome  TransactionType = "income"
	TransactionExpense TransactionType = "expense"
)

func (t TransactionType) Valid() bool {
	return t == TransactionIncome || t == TransactionExpense
}

// Ledger categories written by the engine itself.
const (
	CategoryGenesis           = "genesis"
	CategoryACoinDistribution = "a_coin_distribution"
	CategoryCommission        = "commission"
	CategoryRevenue           = "revenue"
)

// FundPoolTransaction 资金池流水，只追加不修改
type FundPoolTransaction struct {
	ID                   string          `gorm:"column:id;primaryKey;size:36" json:"id"`
	Type                 TransactionType `gorm:"column:type;size:16;not null" json:"type"`
	Category             string          `gorm:"column:category;size:64;not null;index" json:"category"`
	Currency             Currency        `gorm:"column:currency;size:32;not null;index" json:"currency"`
	Amount               decimal.Decimal `gorm:"column:amount;type:decimal(38,8);not null" json:"amount"`
	Source               string          `gorm:"column:source;size:128" json:"source"`
	RelatedTransactionID *string         `gorm:"column:related_transaction_id;size:36" json:"related_transaction_id,omitempty"`
	Meta                 JSONMap         `gorm:"column:meta;type:jsonb" json:"meta,omitempty"`
	Timestamp            time.Time       `gorm:"column:timestamp;not null;index" json:"timestamp"`
}

func (FundPoolTransaction) TableName() string {
	return "fund_pool_transactions"
}

// Signed returns the amount with the sign the transaction applies to its balance.
func (t FundPoolTransaction) Signed() decimal.Decimal {
	if t.Type == TransactionExpense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// FundPoolBalanceRow 每个币种一行的余额快照
type FundPoolBalanceRow struct {
	Currency  Currency        `gorm:"column:currency;primaryKey;autoIncrement:false;size:32" json:"currency"`
	Amount    decimal.Decimal `gorm:"column:amount;type:decimal(38,8);not null" json:"amount"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (FundPoolBalanceRow) TableName() string {
	return "fund_pool_balances"
}

// Balances holds one amount per currency.
type Balances [CurrencyCount]decimal.Decimal

func (b Balances) Get(c Currency) decimal.Decimal {
	return b[c]
}

// MarshalJSON renders balances keyed by currency name.
func (b Balances) MarshalJSON() ([]byte, error) {
	out := make(map[string]decimal.Decimal, CurrencyCount)
	for _, c := range Currencies() {
		out[c.String()] = b[c]
	}
	return json.Marshal(out)
}

func (b *Balances) UnmarshalJSON(data []byte) error {
	var in map[string]decimal.Decimal
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	for name, amount := range in {
		c, err := ParseCurrency(name)
		if err != nil {
			return err
		}
		b[c] = amount
	}
	return nil
}

// FundPoolBalance 公开资金池余额
type FundPoolBalance struct {
	Balances   Balances        `json:"balances"`
	TotalValue decimal.Decimal `json:"total_value"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// CoinStats 平台代币供应统计，A 币与 O 币各一行
type CoinStats struct {
	Coin              Currency        `gorm:"column:coin;primaryKey;autoIncrement:false;size:32" json:"coin"`
	TotalSupply       decimal.Decimal `gorm:"column:total_supply;type:decimal(38,8);not null" json:"total_supply"`
	CirculatingSupply decimal.Decimal `gorm:"column:circulating_supply;type:decimal(38,8);not null" json:"circulating_supply"`
	TotalDistributed  decimal.Decimal `gorm:"column:total_distributed;type:decimal(38,8);not null" json:"total_distributed"`
	HoldersCount      int64           `gorm:"column:holders_count;default:0" json:"holders_count"`
	LastPrice         decimal.Decimal `gorm:"column:last_price;type:decimal(38,8);not null" json:"last_price"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (CoinStats) TableName() string {
	return "coin_stats"
}
