package models

import (
	"database/sql/driver"
	"fmt"
)

// Currency is the closed set of assets the fund pool holds.
type Currency uint8

const (
	CurrencyCash Currency = iota
	CurrencyGameCoins
	CurrencyComputingPower
	CurrencyACoins
	CurrencyOCoins

	CurrencyCount
)

var currencyNames = [...]string{
	CurrencyCash:           "cash",
	CurrencyGameCoins:      "game_coins",
	CurrencyComputingPower: "computing_power",
	CurrencyACoins:         "a_coins",
	CurrencyOCoins:         "o_coins",
}

// Fails to compile when a currency is added without a name.
var _ = [1]struct{}{}[len(currencyNames)-int(CurrencyCount)]

// Currencies lists every supported currency in ledger order.
func Currencies() []Currency {
	out := make([]Currency, 0, CurrencyCount)
	for c := Currency(0); c < CurrencyCount; c++ {
		out = append(out, c)
	}
	return out
}

func (c Currency) Valid() bool {
	return c < CurrencyCount
}

// SupplyManaged reports whether the coin has a fixed total supply split
// between the pool and circulation.
func (c Currency) SupplyManaged() bool {
	return c == CurrencyACoins || c == CurrencyOCoins
}

func (c Currency) String() string {
	if !c.Valid() {
		return fmt.Sprintf("currency(%d)", uint8(c))
	}
	return currencyNames[c]
}

// ParseCurrency 根据名称解析币种
func ParseCurrency(name string) (Currency, error) {
	for i, n := range currencyNames {
		if n == name {
			return Currency(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidCurrency, name)
}

func (c Currency) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCurrency, uint8(c))
	}
	return []byte(currencyNames[c]), nil
}

func (c *Currency) UnmarshalText(text []byte) error {
	parsed, err := ParseCurrency(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Value 实现 driver.Valuer 接口，数据库中以名称存储
func (c Currency) Value() (driver.Value, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCurrency, uint8(c))
	}
	return currencyNames[c], nil
}

// Scan 实现 sql.Scanner 接口
func (c *Currency) Scan(value interface{}) error {
	switch v := value.(type) {
	case string:
		return c.UnmarshalText([]byte(v))
	case []byte:
		return c.UnmarshalText(v)
	default:
		return fmt.Errorf("%w: unsupported column type %T", ErrInvalidCurrency, value)
	}
}

// GormDataType stores the currency by name rather than by its ordinal.
func (Currency) GormDataType() string {
	return "varchar(32)"
}
