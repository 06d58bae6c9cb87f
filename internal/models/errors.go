package models

import "errors"

var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidCurrency        = errors.New("invalid currency")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrNegativeBalance        = errors.New("balance would become negative")
	ErrInvalidDate            = errors.New("invalid settlement date")
	ErrSettlementNotFound     = errors.New("settlement not found")
	ErrDuplicateSettlement    = errors.New("settlement already exists")
	ErrSettlementStateChanged = errors.New("settlement status changed concurrently")
	ErrNotStuck               = errors.New("settlement is not stuck in processing")
	ErrCoinStatsNotFound      = errors.New("coin stats not found")
	ErrSupplyExceeded         = errors.New("circulating supply would exceed total supply")
	ErrCirculationUnderflow   = errors.New("circulating supply would become negative")
)
