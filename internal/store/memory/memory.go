// Package memory provides an in-memory implementation of the domain stores
// with copy-on-write transaction semantics: WithinTx runs against a deep copy
// of the state and only swaps it in on success, so a failed operation leaves
// no partial writes behind. Intended for tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hypemarket/engine/internal/domain"
)

// AuditEntry is one recorded audit event.
type AuditEntry struct {
	Event  string
	Detail map[string]any
}

type state struct {
	traders   map[string]domain.Trader
	wallets   map[string]int64
	holdings  map[string]map[string]int64            // trader -> holder -> quantity
	positions map[string]map[string]domain.SharePosition // option -> owner
	liquidity map[string]map[string]int64            // option -> provider -> shares
	markets   map[string]domain.Market
	options   map[string]domain.MarketOption
	alerts    map[string]domain.LiquidityAlert
	keyTxns   []domain.KeyTransaction
	audits    []AuditEntry
}

func newState() *state {
	return &state{
		traders:   map[string]domain.Trader{},
		wallets:   map[string]int64{},
		holdings:  map[string]map[string]int64{},
		positions: map[string]map[string]domain.SharePosition{},
		liquidity: map[string]map[string]int64{},
		markets:   map[string]domain.Market{},
		options:   map[string]domain.MarketOption{},
		alerts:    map[string]domain.LiquidityAlert{},
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.traders {
		c.traders[k] = v
	}
	for k, v := range st.wallets {
		c.wallets[k] = v
	}
	for k, inner := range st.holdings {
		m := map[string]int64{}
		for k2, v := range inner {
			m[k2] = v
		}
		c.holdings[k] = m
	}
	for k, inner := range st.positions {
		m := map[string]domain.SharePosition{}
		for k2, v := range inner {
			m[k2] = v
		}
		c.positions[k] = m
	}
	for k, inner := range st.liquidity {
		m := map[string]int64{}
		for k2, v := range inner {
			m[k2] = v
		}
		c.liquidity[k] = m
	}
	for k, v := range st.markets {
		c.markets[k] = v
	}
	for k, v := range st.options {
		c.options[k] = v
	}
	for k, v := range st.alerts {
		c.alerts[k] = v
	}
	c.keyTxns = append([]domain.KeyTransaction(nil), st.keyTxns...)
	c.audits = append([]AuditEntry(nil), st.audits...)
	return c
}

// Store implements domain.Ledger, domain.MarketStore, domain.AlertStore, and
// domain.KeyTransactionLog in memory.
type Store struct {
	mu sync.Mutex
	st *state
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{st: newState()}
}

// --- domain.Ledger ---

func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	working := s.st.clone()
	if err := fn(&memTx{st: working}); err != nil {
		return err
	}
	s.st = working
	return nil
}

func (s *Store) EnsureWallet(_ context.Context, ownerID string, initialBalance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.wallets[ownerID]; !ok {
		s.st.wallets[ownerID] = initialBalance
	}
	return nil
}

// memTx applies writes to the working copy of the state. There is no real
// locking to do: the store mutex serializes whole transactions.
type memTx struct {
	st *state
}

func (t *memTx) LockTrader(_ context.Context, traderID string) (domain.Trader, error) {
	tr, ok := t.st.traders[traderID]
	if !ok {
		return domain.Trader{}, fmt.Errorf("trader %s: %w", traderID, domain.ErrNotFound)
	}
	return tr, nil
}

func (t *memTx) LockOption(_ context.Context, optionID string) (domain.MarketOption, error) {
	o, ok := t.st.options[optionID]
	if !ok {
		return domain.MarketOption{}, fmt.Errorf("option %s: %w", optionID, domain.ErrNotFound)
	}
	return o, nil
}

func (t *memTx) LockWallets(_ context.Context, ownerIDs ...string) (map[string]int64, error) {
	balances := make(map[string]int64, len(ownerIDs))
	for _, id := range ownerIDs {
		if _, ok := t.st.wallets[id]; !ok {
			t.st.wallets[id] = 0
		}
		balances[id] = t.st.wallets[id]
	}
	return balances, nil
}

func (t *memTx) LockHolding(_ context.Context, traderID, holderID string) (int64, error) {
	return t.st.holdings[traderID][holderID], nil
}

func (t *memTx) LockSharePosition(_ context.Context, optionID, ownerID string) (domain.SharePosition, error) {
	pos, ok := t.st.positions[optionID][ownerID]
	if !ok {
		return domain.SharePosition{OptionID: optionID, OwnerID: ownerID}, nil
	}
	return pos, nil
}

func (t *memTx) LockLiquidityPosition(_ context.Context, optionID, providerID string) (int64, error) {
	return t.st.liquidity[optionID][providerID], nil
}

func (t *memTx) SumHoldings(_ context.Context, traderID string) (int64, error) {
	var total int64
	for _, qty := range t.st.holdings[traderID] {
		total += qty
	}
	return total, nil
}

func (t *memTx) AdjustWallet(_ context.Context, ownerID string, delta int64) error {
	next := t.st.wallets[ownerID] + delta
	if next < 0 {
		return domain.NewShortfall(domain.ErrInsufficientBalance, "wallet "+ownerID, -delta, t.st.wallets[ownerID])
	}
	t.st.wallets[ownerID] = next
	return nil
}

func (t *memTx) AdjustSupply(_ context.Context, traderID string, delta int64) error {
	tr, ok := t.st.traders[traderID]
	if !ok {
		return fmt.Errorf("trader %s: %w", traderID, domain.ErrNotFound)
	}
	next := tr.KeysSupply + delta
	if next < domain.Precision {
		return fmt.Errorf("supply %d after delta %d: %w", tr.KeysSupply, delta, domain.ErrFounderReserve)
	}
	tr.KeysSupply = next
	tr.UpdatedAt = time.Now().UTC()
	t.st.traders[traderID] = tr
	return nil
}

func (t *memTx) AdjustHolding(_ context.Context, traderID, holderID string, delta int64) error {
	inner, ok := t.st.holdings[traderID]
	if !ok {
		inner = map[string]int64{}
		t.st.holdings[traderID] = inner
	}
	next := inner[holderID] + delta
	if next < 0 {
		return domain.NewShortfall(domain.ErrInsufficientHolding, "key holding", -delta, inner[holderID])
	}
	if next == 0 {
		delete(inner, holderID)
		return nil
	}
	inner[holderID] = next
	return nil
}

func (t *memTx) AdjustSharePosition(_ context.Context, optionID, ownerID string, yesDelta, noDelta int64) error {
	inner, ok := t.st.positions[optionID]
	if !ok {
		inner = map[string]domain.SharePosition{}
		t.st.positions[optionID] = inner
	}
	pos, ok := inner[ownerID]
	if !ok {
		pos = domain.SharePosition{OptionID: optionID, OwnerID: ownerID}
	}
	pos.YesShares += yesDelta
	pos.NoShares += noDelta
	if pos.YesShares < 0 || pos.NoShares < 0 {
		return domain.NewShortfall(domain.ErrInsufficientHolding, "share position", 0, 0)
	}
	pos.UpdatedAt = time.Now().UTC()
	if pos.YesShares == 0 && pos.NoShares == 0 {
		delete(inner, ownerID)
		return nil
	}
	inner[ownerID] = pos
	return nil
}

func (t *memTx) ApplyOptionTrade(_ context.Context, optionID string, yesDelta, noDelta, poolDelta, lpFeeDelta int64) error {
	o, ok := t.st.options[optionID]
	if !ok {
		return fmt.Errorf("option %s: %w", optionID, domain.ErrNotFound)
	}
	o.YesQuantity += yesDelta
	o.NoQuantity += noDelta
	o.PoolLiquidity += poolDelta
	o.AccumulatedLPFees += lpFeeDelta
	if o.YesQuantity < 0 || o.NoQuantity < 0 || o.PoolLiquidity < 0 || o.AccumulatedLPFees < 0 {
		return domain.NewShortfall(domain.ErrInsufficientPool, "option "+optionID, 0, 0)
	}
	t.st.options[optionID] = o
	return nil
}

func (t *memTx) ApplyLiquidityChange(_ context.Context, optionID string, poolDelta, feeDelta, sharesDelta int64) error {
	o, ok := t.st.options[optionID]
	if !ok {
		return fmt.Errorf("option %s: %w", optionID, domain.ErrNotFound)
	}
	o.PoolLiquidity += poolDelta
	o.AccumulatedLPFees += feeDelta
	o.TotalLPShares += sharesDelta
	if o.PoolLiquidity < 0 || o.AccumulatedLPFees < 0 || o.TotalLPShares < 0 {
		return domain.NewShortfall(domain.ErrInsufficientPool, "option "+optionID, 0, 0)
	}
	t.st.options[optionID] = o
	return nil
}

func (t *memTx) SetLiquidityPosition(_ context.Context, optionID, providerID string, shares int64) error {
	if shares < 0 {
		return fmt.Errorf("%w: negative shares %d", domain.ErrInvalidArgument, shares)
	}
	inner, ok := t.st.liquidity[optionID]
	if !ok {
		inner = map[string]int64{}
		t.st.liquidity[optionID] = inner
	}
	if shares == 0 {
		delete(inner, providerID)
		return nil
	}
	inner[providerID] = shares
	return nil
}

func (t *memTx) InsertKeyTransaction(_ context.Context, txn domain.KeyTransaction) error {
	t.st.keyTxns = append(t.st.keyTxns, txn)
	return nil
}

func (t *memTx) InsertAudit(_ context.Context, event string, detail map[string]any) error {
	t.st.audits = append(t.st.audits, AuditEntry{Event: event, Detail: detail})
	return nil
}

// --- domain.MarketStore ---

func (s *Store) CreateTrader(_ context.Context, tr domain.Trader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tr.KeysSupply < domain.Precision {
		return fmt.Errorf("%w: trader supply %d below founder unit", domain.ErrInvalidArgument, tr.KeysSupply)
	}
	if _, ok := s.st.traders[tr.ID]; ok {
		return fmt.Errorf("%w: trader %s exists", domain.ErrInvalidArgument, tr.ID)
	}
	now := time.Now().UTC()
	tr.CreatedAt, tr.UpdatedAt = now, now
	s.st.traders[tr.ID] = tr
	return nil
}

func (s *Store) GetTrader(_ context.Context, traderID string) (domain.Trader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.st.traders[traderID]
	if !ok {
		return domain.Trader{}, fmt.Errorf("trader %s: %w", traderID, domain.ErrNotFound)
	}
	return tr, nil
}

func (s *Store) CreateMarket(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Status == "" {
		m.Status = domain.MarketStatusOpen
	}
	m.CreatedAt = time.Now().UTC()
	s.st.markets[m.ID] = m
	return nil
}

func (s *Store) GetMarket(_ context.Context, marketID string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.st.markets[marketID]
	if !ok {
		return domain.Market{}, fmt.Errorf("market %s: %w", marketID, domain.ErrNotFound)
	}
	return m, nil
}

func (s *Store) ListOpenMarkets(_ context.Context) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var markets []domain.Market
	for _, m := range s.st.markets {
		if m.Status == domain.MarketStatusOpen && m.Initialized {
			markets = append(markets, m)
		}
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].ID < markets[j].ID })
	return markets, nil
}

func (s *Store) CreateOption(_ context.Context, o domain.MarketOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.LiquidityParameter <= 0 {
		return fmt.Errorf("%w: b=%d", domain.ErrInvalidLiquidity, o.LiquidityParameter)
	}
	o.CreatedAt = time.Now().UTC()
	s.st.options[o.ID] = o
	return nil
}

func (s *Store) GetOption(_ context.Context, optionID string) (domain.MarketOption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.options[optionID]
	if !ok {
		return domain.MarketOption{}, fmt.Errorf("option %s: %w", optionID, domain.ErrNotFound)
	}
	return o, nil
}

func (s *Store) ListOptionsByMarket(_ context.Context, marketID string) ([]domain.MarketOption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var options []domain.MarketOption
	for _, o := range s.st.options {
		if o.MarketID == marketID {
			options = append(options, o)
		}
	}
	sort.Slice(options, func(i, j int) bool { return options[i].ID < options[j].ID })
	return options, nil
}

func (s *Store) ResolveOption(_ context.Context, optionID string, winning domain.Side) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if winning != domain.SideYes && winning != domain.SideNo {
		return fmt.Errorf("%w: winning side %q", domain.ErrInvalidArgument, winning)
	}
	o, ok := s.st.options[optionID]
	if !ok {
		return fmt.Errorf("option %s: %w", optionID, domain.ErrNotFound)
	}
	if o.Resolved {
		return fmt.Errorf("option %s: %w", optionID, domain.ErrMarketResolved)
	}
	now := time.Now().UTC()
	o.Resolved = true
	o.WinningSide = winning
	o.ResolvedAt = &now
	s.st.options[optionID] = o
	return nil
}

func (s *Store) ResolveMarket(_ context.Context, marketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.st.markets[marketID]
	if !ok {
		return fmt.Errorf("market %s: %w", marketID, domain.ErrNotFound)
	}
	for _, o := range s.st.options {
		if o.MarketID == marketID && !o.Resolved {
			return fmt.Errorf("market %s has open options: %w", marketID, domain.ErrMarketNotResolved)
		}
	}
	if m.Status != domain.MarketStatusOpen {
		return fmt.Errorf("market %s: %w", marketID, domain.ErrMarketNotResolved)
	}
	now := time.Now().UTC()
	m.Status = domain.MarketStatusResolved
	m.ResolvedAt = &now
	s.st.markets[marketID] = m
	return nil
}

func (s *Store) GetWallet(_ context.Context, ownerID string) (domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.st.wallets[ownerID]
	if !ok {
		return domain.Wallet{}, fmt.Errorf("wallet %s: %w", ownerID, domain.ErrNotFound)
	}
	return domain.Wallet{OwnerID: ownerID, Balance: balance}, nil
}

func (s *Store) GetHolding(_ context.Context, traderID, holderID string) (domain.KeyHolding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.KeyHolding{
		TraderID: traderID,
		HolderID: holderID,
		Quantity: s.st.holdings[traderID][holderID],
	}, nil
}

func (s *Store) GetSharePosition(_ context.Context, optionID, ownerID string) (domain.SharePosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.st.positions[optionID][ownerID]
	if !ok {
		return domain.SharePosition{OptionID: optionID, OwnerID: ownerID}, nil
	}
	return pos, nil
}

func (s *Store) GetLiquidityPosition(_ context.Context, optionID, providerID string) (domain.LiquidityPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.LiquidityPosition{
		OptionID:   optionID,
		ProviderID: providerID,
		Shares:     s.st.liquidity[optionID][providerID],
	}, nil
}

// --- domain.AlertStore ---

func (s *Store) UpsertUnresolved(_ context.Context, alert domain.LiquidityAlert) (domain.LiquidityAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for id, existing := range s.st.alerts {
		if existing.MarketID == alert.MarketID && existing.Type == alert.Type && !existing.Resolved {
			existing.Severity = alert.Severity
			existing.ObservedRatio = alert.ObservedRatio
			existing.RequiredLiquidity = alert.RequiredLiquidity
			existing.CurrentLiquidity = alert.CurrentLiquidity
			existing.UpdatedAt = now
			s.st.alerts[id] = existing
			return existing, nil
		}
	}
	alert.CreatedAt, alert.UpdatedAt = now, now
	s.st.alerts[alert.ID] = alert
	return alert, nil
}

func (s *Store) GetAlert(_ context.Context, alertID string) (domain.LiquidityAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.alerts[alertID]
	if !ok {
		return domain.LiquidityAlert{}, fmt.Errorf("alert %s: %w", alertID, domain.ErrNotFound)
	}
	return a, nil
}

func (s *Store) ListUnresolved(_ context.Context, marketID string) ([]domain.LiquidityAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var alerts []domain.LiquidityAlert
	for _, a := range s.st.alerts {
		if a.Resolved {
			continue
		}
		if marketID != "" && a.MarketID != marketID {
			continue
		}
		alerts = append(alerts, a)
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].ID < alerts[j].ID })
	return alerts, nil
}

func (s *Store) ResolveAlert(_ context.Context, alertID, operator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.alerts[alertID]
	if !ok || a.Resolved {
		return fmt.Errorf("alert %s: %w", alertID, domain.ErrNotFound)
	}
	now := time.Now().UTC()
	a.Resolved = true
	a.ResolvedBy = operator
	a.ResolvedAt = &now
	a.UpdatedAt = now
	s.st.alerts[alertID] = a
	return nil
}

// --- domain.KeyTransactionLog ---

func (s *Store) ListKeyTransactionsBefore(_ context.Context, before time.Time) ([]domain.KeyTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.KeyTransaction
	for _, txn := range s.st.keyTxns {
		if txn.CreatedAt.Before(before) {
			out = append(out, txn)
		}
	}
	return out, nil
}

func (s *Store) PruneKeyTransactionsBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.st.keyTxns[:0:0]
	var pruned int64
	for _, txn := range s.st.keyTxns {
		if txn.CreatedAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, txn)
	}
	s.st.keyTxns = kept
	return pruned, nil
}

// KeyTransactions returns a copy of the recorded key transactions, for tests.
func (s *Store) KeyTransactions() []domain.KeyTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.KeyTransaction(nil), s.st.keyTxns...)
}

// Audits returns a copy of the recorded audit entries, for tests.
func (s *Store) Audits() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEntry(nil), s.st.audits...)
}

// Compile-time interface checks.
var (
	_ domain.Ledger            = (*Store)(nil)
	_ domain.LedgerTx          = (*memTx)(nil)
	_ domain.MarketStore       = (*Store)(nil)
	_ domain.AlertStore        = (*Store)(nil)
	_ domain.KeyTransactionLog = (*Store)(nil)
)
