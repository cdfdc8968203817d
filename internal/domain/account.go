package domain

import "time"

// TreasuryOwner is the wallet owner id that collects protocol fees.
const TreasuryOwner = "treasury"

// CurveReserveOwner returns the wallet owner id of the escrow that backs a
// trader's bonding curve. Key buy base costs accumulate here and fund sell
// payouts.
func CurveReserveOwner(traderID string) string {
	return "reserve:" + traderID
}

// Trader is a creator whose keys trade on the bonding curve. KeysSupply is
// the cumulative issued supply in micro-units and never drops below one whole
// unit: the creator always holds one unsellable founder unit.
type Trader struct {
	ID          string
	DisplayName string
	KeysSupply  int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Wallet is a settlement-currency balance in micro-units. Balances are only
// mutated inside a ledger transaction and never go negative.
type Wallet struct {
	OwnerID   string
	Balance   int64
	UpdatedAt time.Time
}

// KeyHolding records how many of a trader's keys a holder owns, in
// micro-units. The creator's founder holding is implicit (supply minus the
// sum of tracked holdings) and never stored as a row.
type KeyHolding struct {
	TraderID  string
	HolderID  string
	Quantity  int64
	UpdatedAt time.Time
}

// TradeDirection distinguishes buys from sells in audit rows.
type TradeDirection string

const (
	DirectionBuy  TradeDirection = "buy"
	DirectionSell TradeDirection = "sell"
)

// KeyTransaction is the immutable audit row written for every completed key
// trade. Append-only; supply before/after pin the curve interval the trade
// covered.
type KeyTransaction struct {
	ID             string
	TraderID       string
	CounterpartyID string
	Direction      TradeDirection
	Quantity       int64
	AveragePrice   int64
	TotalValue     int64
	SupplyBefore   int64
	SupplyAfter    int64
	CreatedAt      time.Time
}
