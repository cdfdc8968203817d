package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hypemarket/engine/internal/domain"
)

// LedgerStore implements domain.Ledger and domain.KeyTransactionLog using
// PostgreSQL transactions with pessimistic row locks.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedger creates a LedgerStore backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// WithinTx runs fn inside a single database transaction. Any error from fn
// rolls everything back and is returned unmodified; commit errors are
// wrapped.
func (s *LedgerStore) WithinTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit ledger tx: %w", err)
	}
	return nil
}

// EnsureWallet creates a wallet row if the owner has none.
func (s *LedgerStore) EnsureWallet(ctx context.Context, ownerID string, initialBalance int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallets (owner_id, balance) VALUES ($1, $2)
		 ON CONFLICT (owner_id) DO NOTHING`,
		ownerID, initialBalance)
	if err != nil {
		return fmt.Errorf("postgres: ensure wallet %s: %w", ownerID, err)
	}
	return nil
}

// ListKeyTransactionsBefore returns key transactions created strictly before
// the cutoff, oldest first.
func (s *LedgerStore) ListKeyTransactionsBefore(ctx context.Context, before time.Time) ([]domain.KeyTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, trader_id, counterparty_id, direction, quantity,
		        average_price, total_value, supply_before, supply_after, created_at
		 FROM key_transactions WHERE created_at < $1 ORDER BY created_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list key transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.KeyTransaction
	for rows.Next() {
		var t domain.KeyTransaction
		var direction string
		if err := rows.Scan(
			&t.ID, &t.TraderID, &t.CounterpartyID, &direction, &t.Quantity,
			&t.AveragePrice, &t.TotalValue, &t.SupplyBefore, &t.SupplyAfter, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan key transaction: %w", err)
		}
		t.Direction = domain.TradeDirection(direction)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// PruneKeyTransactionsBefore deletes archived rows older than the cutoff and
// returns the count removed.
func (s *LedgerStore) PruneKeyTransactionsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM key_transactions WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune key transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ---------------------------------------------------------------------------
// ledgerTx
// ---------------------------------------------------------------------------

// ledgerTx implements domain.LedgerTx over one pgx transaction. All Lock*
// methods use SELECT ... FOR UPDATE so no second transaction can compute
// against a stale snapshot of the same rows.
type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) LockTrader(ctx context.Context, traderID string) (domain.Trader, error) {
	var tr domain.Trader
	err := t.tx.QueryRow(ctx,
		`SELECT id, display_name, keys_supply, created_at, updated_at
		 FROM traders WHERE id = $1 FOR UPDATE`, traderID,
	).Scan(&tr.ID, &tr.DisplayName, &tr.KeysSupply, &tr.CreatedAt, &tr.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trader{}, fmt.Errorf("trader %s: %w", traderID, domain.ErrNotFound)
		}
		return domain.Trader{}, fmt.Errorf("postgres: lock trader %s: %w", traderID, err)
	}
	return tr, nil
}

func (t *ledgerTx) LockOption(ctx context.Context, optionID string) (domain.MarketOption, error) {
	var o domain.MarketOption
	var winning *string
	err := t.tx.QueryRow(ctx,
		`SELECT id, market_id, label, yes_quantity, no_quantity, liquidity_parameter,
		        pool_liquidity, accumulated_lp_fees, total_lp_shares,
		        resolved, winning_side, created_at, resolved_at
		 FROM market_options WHERE id = $1 FOR UPDATE`, optionID,
	).Scan(&o.ID, &o.MarketID, &o.Label, &o.YesQuantity, &o.NoQuantity, &o.LiquidityParameter,
		&o.PoolLiquidity, &o.AccumulatedLPFees, &o.TotalLPShares,
		&o.Resolved, &winning, &o.CreatedAt, &o.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketOption{}, fmt.Errorf("option %s: %w", optionID, domain.ErrNotFound)
		}
		return domain.MarketOption{}, fmt.Errorf("postgres: lock option %s: %w", optionID, err)
	}
	if winning != nil {
		o.WinningSide = domain.Side(*winning)
	}
	return o, nil
}

// LockWallets locks all requested wallet rows in a single statement. Missing
// rows are created first so escrow wallets appear on first use. The ORDER BY
// inside the locking SELECT fixes the acquisition order to ascending owner
// id no matter how the caller listed the owners.
func (t *ledgerTx) LockWallets(ctx context.Context, ownerIDs ...string) (map[string]int64, error) {
	if len(ownerIDs) == 0 {
		return map[string]int64{}, nil
	}

	ids := append([]string(nil), ownerIDs...)
	sort.Strings(ids)

	for _, id := range ids {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO wallets (owner_id, balance) VALUES ($1, 0)
			 ON CONFLICT (owner_id) DO NOTHING`, id); err != nil {
			return nil, fmt.Errorf("postgres: ensure wallet %s: %w", id, err)
		}
	}

	rows, err := t.tx.Query(ctx,
		`SELECT owner_id, balance FROM wallets
		 WHERE owner_id = ANY($1) ORDER BY owner_id FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: lock wallets: %w", err)
	}
	defer rows.Close()

	balances := make(map[string]int64, len(ids))
	for rows.Next() {
		var owner string
		var balance int64
		if err := rows.Scan(&owner, &balance); err != nil {
			return nil, fmt.Errorf("postgres: scan wallet: %w", err)
		}
		balances[owner] = balance
	}
	return balances, rows.Err()
}

func (t *ledgerTx) LockHolding(ctx context.Context, traderID, holderID string) (int64, error) {
	var quantity int64
	err := t.tx.QueryRow(ctx,
		`SELECT quantity FROM key_holdings
		 WHERE trader_id = $1 AND holder_id = $2 FOR UPDATE`,
		traderID, holderID).Scan(&quantity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: lock holding %s/%s: %w", traderID, holderID, err)
	}
	return quantity, nil
}

func (t *ledgerTx) LockSharePosition(ctx context.Context, optionID, ownerID string) (domain.SharePosition, error) {
	pos := domain.SharePosition{OptionID: optionID, OwnerID: ownerID}
	err := t.tx.QueryRow(ctx,
		`SELECT yes_shares, no_shares, updated_at FROM share_positions
		 WHERE option_id = $1 AND owner_id = $2 FOR UPDATE`,
		optionID, ownerID).Scan(&pos.YesShares, &pos.NoShares, &pos.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pos, nil
		}
		return pos, fmt.Errorf("postgres: lock share position %s/%s: %w", optionID, ownerID, err)
	}
	return pos, nil
}

func (t *ledgerTx) LockLiquidityPosition(ctx context.Context, optionID, providerID string) (int64, error) {
	var shares int64
	err := t.tx.QueryRow(ctx,
		`SELECT shares FROM liquidity_positions
		 WHERE option_id = $1 AND provider_id = $2 FOR UPDATE`,
		optionID, providerID).Scan(&shares)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: lock liquidity position %s/%s: %w", optionID, providerID, err)
	}
	return shares, nil
}

func (t *ledgerTx) SumHoldings(ctx context.Context, traderID string) (int64, error) {
	var sum int64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM key_holdings WHERE trader_id = $1`,
		traderID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum holdings %s: %w", traderID, err)
	}
	return sum, nil
}

// AdjustWallet applies a relative delta under the held row lock. The WHERE
// guard is the hard backstop for the never-negative invariant; services
// check affordability against the locked balance before writing.
func (t *ledgerTx) AdjustWallet(ctx context.Context, ownerID string, delta int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE wallets SET balance = balance + $2, updated_at = NOW()
		 WHERE owner_id = $1 AND balance + $2 >= 0`, ownerID, delta)
	if err != nil {
		return fmt.Errorf("postgres: adjust wallet %s by %d: %w", ownerID, delta, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %s delta %d: %w", ownerID, delta, domain.ErrInsufficientBalance)
	}
	return nil
}

// AdjustSupply moves a trader's issued supply. The guard enforces the
// one-unit founder floor at the storage layer.
func (t *ledgerTx) AdjustSupply(ctx context.Context, traderID string, delta int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE traders SET keys_supply = keys_supply + $2, updated_at = NOW()
		 WHERE id = $1 AND keys_supply + $2 >= $3`, traderID, delta, domain.Precision)
	if err != nil {
		return fmt.Errorf("postgres: adjust supply %s by %d: %w", traderID, delta, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trader %s delta %d: %w", traderID, delta, domain.ErrFounderReserve)
	}
	return nil
}

func (t *ledgerTx) AdjustHolding(ctx context.Context, traderID, holderID string, delta int64) error {
	if delta > 0 {
		_, err := t.tx.Exec(ctx,
			`INSERT INTO key_holdings (trader_id, holder_id, quantity)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (trader_id, holder_id)
			 DO UPDATE SET quantity = key_holdings.quantity + EXCLUDED.quantity,
			               updated_at = NOW()`,
			traderID, holderID, delta)
		if err != nil {
			return fmt.Errorf("postgres: add holding %s/%s: %w", traderID, holderID, err)
		}
		return nil
	}

	// Selling down: delete the row only when the balance lands exactly on
	// zero. An over-sell must not match either statement, so it surfaces as
	// ErrInsufficientHolding below instead of a silent row delete.
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM key_holdings
		 WHERE trader_id = $1 AND holder_id = $2 AND quantity + $3 = 0`,
		traderID, holderID, delta)
	if err != nil {
		return fmt.Errorf("postgres: clear holding %s/%s: %w", traderID, holderID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	tag, err = t.tx.Exec(ctx,
		`UPDATE key_holdings SET quantity = quantity + $3, updated_at = NOW()
		 WHERE trader_id = $1 AND holder_id = $2 AND quantity + $3 > 0`,
		traderID, holderID, delta)
	if err != nil {
		return fmt.Errorf("postgres: reduce holding %s/%s: %w", traderID, holderID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("holding %s/%s: %w", traderID, holderID, domain.ErrInsufficientHolding)
	}
	return nil
}

func (t *ledgerTx) AdjustSharePosition(ctx context.Context, optionID, ownerID string, yesDelta, noDelta int64) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO share_positions (option_id, owner_id, yes_shares, no_shares)
		 VALUES ($1, $2, GREATEST($3, 0), GREATEST($4, 0))
		 ON CONFLICT (option_id, owner_id)
		 DO UPDATE SET yes_shares = share_positions.yes_shares + $3,
		               no_shares  = share_positions.no_shares + $4,
		               updated_at = NOW()`,
		optionID, ownerID, yesDelta, noDelta)
	if err != nil {
		return fmt.Errorf("postgres: adjust share position %s/%s: %w", optionID, ownerID, err)
	}

	_, err = t.tx.Exec(ctx,
		`DELETE FROM share_positions
		 WHERE option_id = $1 AND owner_id = $2 AND yes_shares = 0 AND no_shares = 0`,
		optionID, ownerID)
	if err != nil {
		return fmt.Errorf("postgres: clean share position %s/%s: %w", optionID, ownerID, err)
	}
	return nil
}

func (t *ledgerTx) ApplyOptionTrade(ctx context.Context, optionID string, yesDelta, noDelta, poolDelta, lpFeeDelta int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE market_options SET
			yes_quantity        = yes_quantity + $2,
			no_quantity         = no_quantity + $3,
			pool_liquidity      = pool_liquidity + $4,
			accumulated_lp_fees = accumulated_lp_fees + $5
		 WHERE id = $1
		   AND yes_quantity + $2 >= 0
		   AND no_quantity + $3 >= 0
		   AND pool_liquidity + $4 >= 0`,
		optionID, yesDelta, noDelta, poolDelta, lpFeeDelta)
	if err != nil {
		return fmt.Errorf("postgres: apply option trade %s: %w", optionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("option %s trade (%d, %d, %d): %w",
			optionID, yesDelta, noDelta, poolDelta, domain.ErrInsufficientPool)
	}
	return nil
}

func (t *ledgerTx) ApplyLiquidityChange(ctx context.Context, optionID string, poolDelta, feeDelta, sharesDelta int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE market_options SET
			pool_liquidity      = pool_liquidity + $2,
			accumulated_lp_fees = accumulated_lp_fees + $3,
			total_lp_shares     = total_lp_shares + $4
		 WHERE id = $1
		   AND pool_liquidity + $2 >= 0
		   AND accumulated_lp_fees + $3 >= 0
		   AND total_lp_shares + $4 >= 0`,
		optionID, poolDelta, feeDelta, sharesDelta)
	if err != nil {
		return fmt.Errorf("postgres: apply liquidity change %s: %w", optionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("option %s liquidity (%d, %d, %d): %w",
			optionID, poolDelta, feeDelta, sharesDelta, domain.ErrInsufficientPool)
	}
	return nil
}

func (t *ledgerTx) SetLiquidityPosition(ctx context.Context, optionID, providerID string, shares int64) error {
	if shares <= 0 {
		_, err := t.tx.Exec(ctx,
			`DELETE FROM liquidity_positions WHERE option_id = $1 AND provider_id = $2`,
			optionID, providerID)
		if err != nil {
			return fmt.Errorf("postgres: burn liquidity position %s/%s: %w", optionID, providerID, err)
		}
		return nil
	}

	_, err := t.tx.Exec(ctx,
		`INSERT INTO liquidity_positions (option_id, provider_id, shares)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (option_id, provider_id)
		 DO UPDATE SET shares = EXCLUDED.shares, updated_at = NOW()`,
		optionID, providerID, shares)
	if err != nil {
		return fmt.Errorf("postgres: set liquidity position %s/%s: %w", optionID, providerID, err)
	}
	return nil
}

func (t *ledgerTx) InsertKeyTransaction(ctx context.Context, txn domain.KeyTransaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO key_transactions (
			id, trader_id, counterparty_id, direction, quantity,
			average_price, total_value, supply_before, supply_after, created_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		txn.ID, txn.TraderID, txn.CounterpartyID, string(txn.Direction), txn.Quantity,
		txn.AveragePrice, txn.TotalValue, txn.SupplyBefore, txn.SupplyAfter, txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert key transaction %s: %w", txn.ID, err)
	}
	return nil
}

func (t *ledgerTx) InsertAudit(ctx context.Context, event string, detail map[string]any) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO audit_log (event, detail) VALUES ($1, $2)`,
		event, payload); err != nil {
		return fmt.Errorf("postgres: insert audit %s: %w", event, err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ domain.Ledger            = (*LedgerStore)(nil)
	_ domain.LedgerTx          = (*ledgerTx)(nil)
	_ domain.KeyTransactionLog = (*LedgerStore)(nil)
)
