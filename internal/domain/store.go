package domain

import (
	"context"
	"time"
)

// Ledger is the transactional boundary for every state-mutating operation.
// All balance reads, balance writes, supply/pool updates, and audit inserts
// for one operation happen inside a single WithinTx call: either everything
// commits or nothing does.
type Ledger interface {
	// WithinTx runs fn inside one store transaction. A non-nil error from fn
	// rolls the whole transaction back and is returned unmodified.
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error

	// EnsureWallet creates a wallet row with the given starting balance if
	// none exists for the owner. Existing wallets are left untouched.
	EnsureWallet(ctx context.Context, ownerID string, initialBalance int64) error
}

// LedgerTx exposes the row operations available inside a ledger transaction.
//
// Locking protocol: the Lock* methods take pessimistic row locks and must be
// called before any locked value feeds a computation. Lock acquisition order
// is canonical across all operations: the supply or option row first, then
// wallet rows. LockWallets locks every requested wallet in ascending owner
// order in a single call regardless of the order the caller names them, so
// opposite-direction trades cannot deadlock.
//
// The Adjust*/Apply* methods write relative deltas under the held locks;
// they never read-modify-write outside the lock's protection.
type LedgerTx interface {
	LockTrader(ctx context.Context, traderID string) (Trader, error)
	LockOption(ctx context.Context, optionID string) (MarketOption, error)
	LockWallets(ctx context.Context, ownerIDs ...string) (map[string]int64, error)
	LockHolding(ctx context.Context, traderID, holderID string) (int64, error)
	LockSharePosition(ctx context.Context, optionID, ownerID string) (SharePosition, error)
	LockLiquidityPosition(ctx context.Context, optionID, providerID string) (int64, error)

	// SumHoldings totals all tracked holdings of a trader's keys. Stable for
	// the duration of the transaction because every supply mutation locks the
	// trader row first.
	SumHoldings(ctx context.Context, traderID string) (int64, error)

	// AdjustWallet applies a relative delta and fails the transaction if the
	// balance would go negative.
	AdjustWallet(ctx context.Context, ownerID string, delta int64) error
	AdjustSupply(ctx context.Context, traderID string, delta int64) error
	// AdjustHolding applies a delta to a (trader, holder) pair, creating the
	// row on first purchase and deleting it when the quantity reaches zero.
	AdjustHolding(ctx context.Context, traderID, holderID string, delta int64) error
	AdjustSharePosition(ctx context.Context, optionID, ownerID string, yesDelta, noDelta int64) error

	// ApplyOptionTrade moves outstanding quantities, pool liquidity, and
	// accrued LP fees for one trade in a single statement.
	ApplyOptionTrade(ctx context.Context, optionID string, yesDelta, noDelta, poolDelta, lpFeeDelta int64) error
	// ApplyLiquidityChange moves pool liquidity, accumulated fees, and total
	// LP shares for a deposit or withdrawal.
	ApplyLiquidityChange(ctx context.Context, optionID string, poolDelta, feeDelta, sharesDelta int64) error
	// SetLiquidityPosition upserts a provider's share count; zero deletes the
	// row (full burn).
	SetLiquidityPosition(ctx context.Context, optionID, providerID string, shares int64) error

	InsertKeyTransaction(ctx context.Context, txn KeyTransaction) error
	// InsertAudit appends a generic audit entry for non-key operations.
	InsertAudit(ctx context.Context, event string, detail map[string]any) error
}

// MarketStore provides non-locking reads and entity provisioning. Reads made
// outside a ledger transaction see a consistent but possibly stale snapshot;
// the risk monitor relies on exactly that.
type MarketStore interface {
	CreateTrader(ctx context.Context, t Trader) error
	GetTrader(ctx context.Context, traderID string) (Trader, error)

	CreateMarket(ctx context.Context, m Market) error
	GetMarket(ctx context.Context, marketID string) (Market, error)
	ListOpenMarkets(ctx context.Context) ([]Market, error)

	CreateOption(ctx context.Context, o MarketOption) error
	GetOption(ctx context.Context, optionID string) (MarketOption, error)
	ListOptionsByMarket(ctx context.Context, marketID string) ([]MarketOption, error)
	// ResolveOption sets the resolution fields exactly once; resolving an
	// already-resolved option fails with ErrMarketResolved.
	ResolveOption(ctx context.Context, optionID string, winning Side) error
	// ResolveMarket flips the market status once every option is resolved.
	ResolveMarket(ctx context.Context, marketID string) error

	GetWallet(ctx context.Context, ownerID string) (Wallet, error)
	GetHolding(ctx context.Context, traderID, holderID string) (KeyHolding, error)
	GetSharePosition(ctx context.Context, optionID, ownerID string) (SharePosition, error)
	GetLiquidityPosition(ctx context.Context, optionID, providerID string) (LiquidityPosition, error)
}

// AlertStore persists liquidity alerts with idempotent upsert semantics.
type AlertStore interface {
	// UpsertUnresolved updates the unresolved alert of the same
	// (market, type) in place, or inserts one if none exists. It returns the
	// persisted row.
	UpsertUnresolved(ctx context.Context, alert LiquidityAlert) (LiquidityAlert, error)
	GetAlert(ctx context.Context, alertID string) (LiquidityAlert, error)
	// ListUnresolved returns unresolved alerts, optionally filtered to one
	// market when marketID is non-empty.
	ListUnresolved(ctx context.Context, marketID string) ([]LiquidityAlert, error)
	// ResolveAlert records who resolved the alert and when.
	ResolveAlert(ctx context.Context, alertID, operator string) error
}

// KeyTransactionLog provides time-ranged read and prune access to the key
// transaction audit trail, used by the archiver.
type KeyTransactionLog interface {
	ListKeyTransactionsBefore(ctx context.Context, before time.Time) ([]KeyTransaction, error)
	PruneKeyTransactionsBefore(ctx context.Context, before time.Time) (int64, error)
}
