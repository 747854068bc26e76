package models

import (
	"time"
)

type TradeSide string

const (
	SideLong  TradeSide = "LONG"
	SideShort TradeSide = "SHORT"
)

type TradeStatus string

const (
	StatusDraft     TradeStatus = "draft"
	StatusStaged    TradeStatus = "staged"
	StatusExecuted  TradeStatus = "executed"
	StatusCancelled TradeStatus = "cancelled"
	StatusExpired   TradeStatus = "expired"
)

// Valid reports whether s is one of the known lifecycle states.
func (s TradeStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusStaged, StatusExecuted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// PreparedTx is an unsigned contract call the wallet owner (or the agent) signs.
type PreparedTx struct {
	To      string `bson:"to" json:"to"`
	Data    string `bson:"data" json:"data"`   // 0x-prefixed calldata
	Value   string `bson:"value" json:"value"` // wei, base 10
	ChainID int64  `bson:"chain_id,omitempty" json:"chainId,omitempty"`
}

// TradeSuggestion is what the chat layer proposes before it lands in the ledger.
type TradeSuggestion struct {
	ID         string                 `bson:"id" json:"id"`
	Asset      string                 `bson:"asset" json:"asset"`
	Symbol     string                 `bson:"symbol" json:"symbol"`
	Side       TradeSide              `bson:"side" json:"side"`
	Leverage   float64                `bson:"leverage" json:"leverage"`
	Collateral float64                `bson:"collateral" json:"collateral"`
	EntryPrice float64                `bson:"entry_price" json:"entryPrice"`
	StopLoss   *float64               `bson:"stop_loss,omitempty" json:"stopLoss,omitempty"`
	TakeProfit *float64               `bson:"take_profit,omitempty" json:"takeProfit,omitempty"`
	Rationale  string                 `bson:"rationale" json:"rationale"`
	Confidence float64                `bson:"confidence" json:"confidence"`
	RiskReward float64                `bson:"risk_reward" json:"riskReward"`
	Metadata   map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

type Trade struct {
	TradeSuggestion `bson:",inline"`

	UserID          string      `bson:"user_id" json:"userId"`
	Status          TradeStatus `bson:"status" json:"status"`
	PreparedTx      *PreparedTx `bson:"prepared_tx,omitempty" json:"preparedTx,omitempty"`
	TransactionHash string      `bson:"transaction_hash,omitempty" json:"transactionHash,omitempty"`
	CreatedAt       time.Time   `bson:"created_at" json:"createdAt"`
	UpdatedAt       time.Time   `bson:"updated_at" json:"updatedAt"`
}

// Clone returns a deep copy so callers never share memory with the ledger.
func (t Trade) Clone() Trade {
	c := t
	c.StopLoss = copyFloat(t.StopLoss)
	c.TakeProfit = copyFloat(t.TakeProfit)
	if t.PreparedTx != nil {
		tx := *t.PreparedTx
		c.PreparedTx = &tx
	}
	if t.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// TradePatch is a partial update; nil fields are left untouched.
type TradePatch struct {
	Status          *TradeStatus `json:"status,omitempty"`
	StopLoss        *float64     `json:"stopLoss,omitempty"`
	TakeProfit      *float64     `json:"takeProfit,omitempty"`
	Leverage        *float64     `json:"leverage,omitempty"`
	Collateral      *float64     `json:"collateral,omitempty"`
	TransactionHash *string      `json:"transactionHash,omitempty"`
	PreparedTx      *PreparedTx  `json:"preparedTx,omitempty"`
}

// Apply merges the non-nil fields of p onto t.
func (p TradePatch) Apply(t *Trade) {
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.StopLoss != nil {
		t.StopLoss = copyFloat(p.StopLoss)
	}
	if p.TakeProfit != nil {
		t.TakeProfit = copyFloat(p.TakeProfit)
	}
	if p.Leverage != nil {
		t.Leverage = *p.Leverage
	}
	if p.Collateral != nil {
		t.Collateral = *p.Collateral
	}
	if p.TransactionHash != nil {
		t.TransactionHash = *p.TransactionHash
	}
	if p.PreparedTx != nil {
		tx := *p.PreparedTx
		t.PreparedTx = &tx
	}
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Float is a helper for optional price fields.
func Float(v float64) *float64 { return &v }

type PriceSample struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	FetchedAt time.Time `json:"fetchedAt"`
}

type MarketSnapshot struct {
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price"`
	Change24h  float64 `json:"change24h"`
	Volume24h  float64 `json:"volume24h"`
	RSI        float64 `json:"rsi"`
	Support    float64 `json:"support"`
	Resistance float64 `json:"resistance"`
}
