package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertRecord 记录一次已发出的机会告警, 用于审计。
type AlertRecord struct {
	ID           int64
	ObservedAt   time.Time
	EventTicker  string
	GapUSD       decimal.Decimal
	ThresholdUSD decimal.Decimal
	Direction    string
	Channels     []string
	CreatedAt    time.Time
}
