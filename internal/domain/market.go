package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusResolved MarketStatus = "resolved"
)

// Side identifies an option outcome.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Market groups the binary options of one prediction market. Initialized
// flips true once the market's options have liquidity parameters set; the
// risk monitor skips uninitialized markets.
type Market struct {
	ID          string
	CreatorID   string
	Question    string
	Status      MarketStatus
	Initialized bool
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// MarketOption is one two-sided (YES/NO) LMSR market. Quantities, liquidity,
// fees, and shares are all int64 micro-units; LiquidityParameter is the LMSR
// b in the same scale. Resolution fields are set exactly once.
type MarketOption struct {
	ID                 string
	MarketID           string
	Label              string
	YesQuantity        int64
	NoQuantity         int64
	LiquidityParameter int64
	PoolLiquidity      int64
	AccumulatedLPFees  int64
	TotalLPShares      int64
	Resolved           bool
	WinningSide        Side
	CreatedAt          time.Time
	ResolvedAt         *time.Time
}

// SharePosition tracks one holder's outstanding YES/NO shares in an option.
type SharePosition struct {
	OptionID  string
	OwnerID   string
	YesShares int64
	NoShares  int64
	UpdatedAt time.Time
}

// LiquidityPosition is a provider's proportional stake in an option's pool.
// The row is deleted outright when the last share is burned.
type LiquidityPosition struct {
	OptionID   string
	ProviderID string
	Shares     int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AlertType classifies liquidity alerts.
type AlertType string

const (
	AlertLowLiquidity   AlertType = "low_liquidity"
	AlertInsolvencyRisk AlertType = "insolvency_risk"
)

// AlertSeverity grades liquidity alerts.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// LiquidityAlert records a breached reserve-ratio threshold. At most one
// unresolved alert exists per (market, type); repeated breaches update the
// existing row in place. Resolution is an explicit operator action.
type LiquidityAlert struct {
	ID                string
	MarketID          string
	Type              AlertType
	Severity          AlertSeverity
	ObservedRatio     float64
	RequiredLiquidity int64
	CurrentLiquidity  int64
	Resolved          bool
	ResolvedBy        string
	ResolvedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
