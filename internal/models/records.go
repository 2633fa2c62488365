package models

import "time"

// BotRecord 是持久化的机器人记录
type BotRecord struct {
	UUID           string         `json:"uuid"`
	UserID         int64          `json:"user_id"`
	BotType        BotType        `json:"bot_type"`
	PlatformName   string         `json:"platform_name"`
	AdditionalInfo map[string]any `json:"additional_info,omitempty"`
	Active         bool           `json:"active"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at,omitempty"`
	StoppedAt      time.Time      `json:"stopped_at,omitempty"`
}

// TransactionRecord 是持久化的一笔成交记录
type TransactionRecord struct {
	UUID           string         `json:"uuid"`
	Type           Side           `json:"transaction_type"`
	Amount         float64        `json:"transaction_amount"`
	Price          float64        `json:"transaction_price"`
	Pair           string         `json:"transaction_pair"`
	AdditionalInfo map[string]any `json:"additional_info,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
