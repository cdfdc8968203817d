package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hypemarket/engine/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Its reads run
// at the pool's normal isolation level without explicit locks; the risk
// monitor depends on these being consistent-but-possibly-stale snapshots.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const optionSelectCols = `id, market_id, label, yes_quantity, no_quantity,
	liquidity_parameter, pool_liquidity, accumulated_lp_fees, total_lp_shares,
	resolved, winning_side, created_at, resolved_at`

func scanOption(row pgx.Row) (domain.MarketOption, error) {
	var o domain.MarketOption
	var winning *string
	err := row.Scan(&o.ID, &o.MarketID, &o.Label, &o.YesQuantity, &o.NoQuantity,
		&o.LiquidityParameter, &o.PoolLiquidity, &o.AccumulatedLPFees, &o.TotalLPShares,
		&o.Resolved, &winning, &o.CreatedAt, &o.ResolvedAt)
	if err != nil {
		return domain.MarketOption{}, err
	}
	if winning != nil {
		o.WinningSide = domain.Side(*winning)
	}
	return o, nil
}

// CreateTrader inserts a new trader. Supply below the founder unit is
// rejected before it can reach the schema constraint.
func (s *MarketStore) CreateTrader(ctx context.Context, t domain.Trader) error {
	if t.KeysSupply < domain.Precision {
		return fmt.Errorf("%w: trader supply %d below founder unit", domain.ErrInvalidArgument, t.KeysSupply)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO traders (id, display_name, keys_supply) VALUES ($1, $2, $3)`,
		t.ID, t.DisplayName, t.KeysSupply)
	if err != nil {
		return fmt.Errorf("postgres: create trader %s: %w", t.ID, err)
	}
	return nil
}

func (s *MarketStore) GetTrader(ctx context.Context, traderID string) (domain.Trader, error) {
	var t domain.Trader
	err := s.pool.QueryRow(ctx,
		`SELECT id, display_name, keys_supply, created_at, updated_at
		 FROM traders WHERE id = $1`, traderID,
	).Scan(&t.ID, &t.DisplayName, &t.KeysSupply, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trader{}, fmt.Errorf("trader %s: %w", traderID, domain.ErrNotFound)
		}
		return domain.Trader{}, fmt.Errorf("postgres: get trader %s: %w", traderID, err)
	}
	return t, nil
}

func (s *MarketStore) CreateMarket(ctx context.Context, m domain.Market) error {
	status := m.Status
	if status == "" {
		status = domain.MarketStatusOpen
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, creator_id, question, status, initialized)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.CreatorID, m.Question, string(status), m.Initialized)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

func (s *MarketStore) GetMarket(ctx context.Context, marketID string) (domain.Market, error) {
	var m domain.Market
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, creator_id, question, status, initialized, created_at, resolved_at
		 FROM markets WHERE id = $1`, marketID,
	).Scan(&m.ID, &m.CreatorID, &m.Question, &status, &m.Initialized, &m.CreatedAt, &m.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("market %s: %w", marketID, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", marketID, err)
	}
	m.Status = domain.MarketStatus(status)
	return m, nil
}

// ListOpenMarkets returns every open, initialized market for the monitor's
// full sweep.
func (s *MarketStore) ListOpenMarkets(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, creator_id, question, status, initialized, created_at, resolved_at
		 FROM markets WHERE status = 'open' AND initialized ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		var m domain.Market
		var status string
		if err := rows.Scan(&m.ID, &m.CreatorID, &m.Question, &status,
			&m.Initialized, &m.CreatedAt, &m.ResolvedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		m.Status = domain.MarketStatus(status)
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func (s *MarketStore) CreateOption(ctx context.Context, o domain.MarketOption) error {
	if o.LiquidityParameter <= 0 {
		return fmt.Errorf("%w: b=%d", domain.ErrInvalidLiquidity, o.LiquidityParameter)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO market_options (
			id, market_id, label, yes_quantity, no_quantity, liquidity_parameter,
			pool_liquidity, accumulated_lp_fees, total_lp_shares
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.MarketID, o.Label, o.YesQuantity, o.NoQuantity, o.LiquidityParameter,
		o.PoolLiquidity, o.AccumulatedLPFees, o.TotalLPShares)
	if err != nil {
		return fmt.Errorf("postgres: create option %s: %w", o.ID, err)
	}
	return nil
}

func (s *MarketStore) GetOption(ctx context.Context, optionID string) (domain.MarketOption, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+optionSelectCols+` FROM market_options WHERE id = $1`, optionID)
	o, err := scanOption(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketOption{}, fmt.Errorf("option %s: %w", optionID, domain.ErrNotFound)
		}
		return domain.MarketOption{}, fmt.Errorf("postgres: get option %s: %w", optionID, err)
	}
	return o, nil
}

func (s *MarketStore) ListOptionsByMarket(ctx context.Context, marketID string) ([]domain.MarketOption, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+optionSelectCols+` FROM market_options
		 WHERE market_id = $1 ORDER BY created_at`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list options for %s: %w", marketID, err)
	}
	defer rows.Close()

	var options []domain.MarketOption
	for rows.Next() {
		o, err := scanOption(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan option: %w", err)
		}
		options = append(options, o)
	}
	return options, rows.Err()
}

// ResolveOption sets the resolution fields exactly once. A second resolution
// attempt matches zero rows and reports the conflict.
func (s *MarketStore) ResolveOption(ctx context.Context, optionID string, winning domain.Side) error {
	if winning != domain.SideYes && winning != domain.SideNo {
		return fmt.Errorf("%w: winning side %q", domain.ErrInvalidArgument, winning)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE market_options SET resolved = TRUE, winning_side = $2, resolved_at = NOW()
		 WHERE id = $1 AND NOT resolved`, optionID, string(winning))
	if err != nil {
		return fmt.Errorf("postgres: resolve option %s: %w", optionID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetOption(ctx, optionID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("option %s: %w", optionID, domain.ErrMarketResolved)
	}
	return nil
}

// ResolveMarket flips a market to resolved once all of its options are.
func (s *MarketStore) ResolveMarket(ctx context.Context, marketID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = 'resolved', resolved_at = NOW()
		 WHERE id = $1 AND status = 'open'
		   AND NOT EXISTS (
				SELECT 1 FROM market_options WHERE market_id = $1 AND NOT resolved
		   )`, marketID)
	if err != nil {
		return fmt.Errorf("postgres: resolve market %s: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetMarket(ctx, marketID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("market %s has open options or is already resolved: %w",
			marketID, domain.ErrMarketNotResolved)
	}
	return nil
}

func (s *MarketStore) GetWallet(ctx context.Context, ownerID string) (domain.Wallet, error) {
	var w domain.Wallet
	err := s.pool.QueryRow(ctx,
		`SELECT owner_id, balance, updated_at FROM wallets WHERE owner_id = $1`, ownerID,
	).Scan(&w.OwnerID, &w.Balance, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Wallet{}, fmt.Errorf("wallet %s: %w", ownerID, domain.ErrNotFound)
		}
		return domain.Wallet{}, fmt.Errorf("postgres: get wallet %s: %w", ownerID, err)
	}
	return w, nil
}

func (s *MarketStore) GetHolding(ctx context.Context, traderID, holderID string) (domain.KeyHolding, error) {
	h := domain.KeyHolding{TraderID: traderID, HolderID: holderID}
	err := s.pool.QueryRow(ctx,
		`SELECT quantity, updated_at FROM key_holdings
		 WHERE trader_id = $1 AND holder_id = $2`, traderID, holderID,
	).Scan(&h.Quantity, &h.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return h, nil
		}
		return h, fmt.Errorf("postgres: get holding %s/%s: %w", traderID, holderID, err)
	}
	return h, nil
}

func (s *MarketStore) GetSharePosition(ctx context.Context, optionID, ownerID string) (domain.SharePosition, error) {
	pos := domain.SharePosition{OptionID: optionID, OwnerID: ownerID}
	err := s.pool.QueryRow(ctx,
		`SELECT yes_shares, no_shares, updated_at FROM share_positions
		 WHERE option_id = $1 AND owner_id = $2`, optionID, ownerID,
	).Scan(&pos.YesShares, &pos.NoShares, &pos.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pos, nil
		}
		return pos, fmt.Errorf("postgres: get share position %s/%s: %w", optionID, ownerID, err)
	}
	return pos, nil
}

func (s *MarketStore) GetLiquidityPosition(ctx context.Context, optionID, providerID string) (domain.LiquidityPosition, error) {
	pos := domain.LiquidityPosition{OptionID: optionID, ProviderID: providerID}
	err := s.pool.QueryRow(ctx,
		`SELECT shares, created_at, updated_at FROM liquidity_positions
		 WHERE option_id = $1 AND provider_id = $2`, optionID, providerID,
	).Scan(&pos.Shares, &pos.CreatedAt, &pos.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pos, nil
		}
		return pos, fmt.Errorf("postgres: get liquidity position %s/%s: %w", optionID, providerID, err)
	}
	return pos, nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
