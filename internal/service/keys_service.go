// Package service implements the engine's operation contracts over the
// domain stores: key trades on the bonding curve, option share trades under
// LMSR, liquidity pool deposits/withdrawals, the liquidity risk monitor, and
// audit archival. Every state-mutating operation runs inside one ledger
// transaction; network side effects (event publishing, price cache writes)
// happen only after commit.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hypemarket/engine/internal/curve"
	"github.com/hypemarket/engine/internal/domain"
	"github.com/hypemarket/engine/internal/fees"
)

// Post-commit fan-out targets: an ephemeral pub/sub channel for live
// consumers plus a durable trimmed stream for replay after reconnect.
const (
	tradeChannel = "trades"
	tradeStream  = "events:trades"
	alertChannel = "alerts"
	alertStream  = "events:alerts"
)

// KeysService prices and settles creator key trades on the bonding curve.
type KeysService struct {
	ledger domain.Ledger
	curve  curve.Curve
	fees   fees.Schedule
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewKeysService creates a KeysService. bus may be nil when event fan-out is
// disabled.
func NewKeysService(
	ledger domain.Ledger,
	c curve.Curve,
	schedule fees.Schedule,
	bus domain.SignalBus,
	logger *slog.Logger,
) *KeysService {
	return &KeysService{
		ledger: ledger,
		curve:  c,
		fees:   schedule,
		bus:    bus,
		logger: logger,
	}
}

// KeyBuyResult reports a completed key purchase.
type KeyBuyResult struct {
	Quantity        int64
	TotalCost       int64
	AveragePrice    int64
	NewSupply       int64
	NewBuyerBalance int64
}

// KeySellResult reports a completed key sale.
type KeySellResult struct {
	Quantity         int64
	TotalPayout      int64
	AveragePrice     int64
	NewSupply        int64
	NewSellerBalance int64
}

// BuyKey purchases quantity micro-units of the trader's keys for the buyer.
// The base cost is the curve integral over [supply, supply+quantity]; fees
// are added on top. The buyer pays base plus fees, the base lands in the
// trader's curve reserve, and the fee components route to the creator and
// the protocol treasury.
func (s *KeysService) BuyKey(ctx context.Context, traderID, buyerID string, quantity int64) (KeyBuyResult, error) {
	if quantity <= 0 {
		return KeyBuyResult{}, fmt.Errorf("keys_service: %w: quantity %d", domain.ErrInvalidArgument, quantity)
	}
	if buyerID == traderID {
		return KeyBuyResult{}, fmt.Errorf("keys_service: buyer %s: %w", buyerID, domain.ErrSelfTrade)
	}

	var result KeyBuyResult
	err := s.ledger.WithinTx(ctx, func(tx domain.LedgerTx) error {
		trader, err := tx.LockTrader(ctx, traderID)
		if err != nil {
			return err
		}

		baseCost, err := s.curve.BuyCost(trader.KeysSupply, quantity)
		if err != nil {
			return err
		}
		split := s.fees.Apply(baseCost)
		totalCost := baseCost + split.Total()

		reserve := domain.CurveReserveOwner(traderID)
		balances, err := tx.LockWallets(ctx, buyerID, reserve, traderID, domain.TreasuryOwner)
		if err != nil {
			return err
		}
		if balances[buyerID] < totalCost {
			return domain.NewShortfall(domain.ErrInsufficientBalance, "buyer balance", totalCost, balances[buyerID])
		}

		if err := tx.AdjustWallet(ctx, buyerID, -totalCost); err != nil {
			return err
		}
		if err := tx.AdjustWallet(ctx, reserve, baseCost); err != nil {
			return err
		}
		if split.Creator > 0 {
			if err := tx.AdjustWallet(ctx, traderID, split.Creator); err != nil {
				return err
			}
		}
		if split.Protocol > 0 {
			if err := tx.AdjustWallet(ctx, domain.TreasuryOwner, split.Protocol); err != nil {
				return err
			}
		}

		if err := tx.AdjustSupply(ctx, traderID, quantity); err != nil {
			return err
		}
		if err := tx.AdjustHolding(ctx, traderID, buyerID, quantity); err != nil {
			return err
		}

		avg := domain.AveragePrice(baseCost, quantity)
		if err := tx.InsertKeyTransaction(ctx, domain.KeyTransaction{
			ID:             uuid.NewString(),
			TraderID:       traderID,
			CounterpartyID: buyerID,
			Direction:      domain.DirectionBuy,
			Quantity:       quantity,
			AveragePrice:   avg,
			TotalValue:     totalCost,
			SupplyBefore:   trader.KeysSupply,
			SupplyAfter:    trader.KeysSupply + quantity,
			CreatedAt:      time.Now().UTC(),
		}); err != nil {
			return err
		}

		result = KeyBuyResult{
			Quantity:        quantity,
			TotalCost:       totalCost,
			AveragePrice:    avg,
			NewSupply:       trader.KeysSupply + quantity,
			NewBuyerBalance: balances[buyerID] - totalCost,
		}
		return nil
	})
	if err != nil {
		return KeyBuyResult{}, err
	}

	s.publishKeyTrade(ctx, "key_buy", traderID, buyerID, quantity, result.TotalCost, result.NewSupply)

	s.logger.InfoContext(ctx, "keys_service: key buy settled",
		slog.String("trader", traderID),
		slog.String("buyer", buyerID),
		slog.Int64("quantity", quantity),
		slog.Int64("total_cost", result.TotalCost),
		slog.Int64("new_supply", result.NewSupply),
	)
	return result, nil
}

// SellKey sells quantity micro-units of the trader's keys from the seller's
// holding back into the curve. The trader may sell their own implicit
// founder stake but never below the one-unit reserve; third parties sell
// only from their recorded holding, down to zero.
func (s *KeysService) SellKey(ctx context.Context, traderID, sellerID string, quantity int64) (KeySellResult, error) {
	if quantity <= 0 {
		return KeySellResult{}, fmt.Errorf("keys_service: %w: quantity %d", domain.ErrInvalidArgument, quantity)
	}

	var result KeySellResult
	err := s.ledger.WithinTx(ctx, func(tx domain.LedgerTx) error {
		trader, err := tx.LockTrader(ctx, traderID)
		if err != nil {
			return err
		}

		if sellerID == traderID {
			if trader.KeysSupply-quantity < domain.Precision {
				return fmt.Errorf("supply %d selling %d: %w",
					trader.KeysSupply, quantity, domain.ErrFounderReserve)
			}
			tracked, err := tx.SumHoldings(ctx, traderID)
			if err != nil {
				return err
			}
			implicit := trader.KeysSupply - tracked
			if implicit < quantity {
				return domain.NewShortfall(domain.ErrInsufficientHolding, "founder holding", quantity, implicit)
			}
		} else {
			held, err := tx.LockHolding(ctx, traderID, sellerID)
			if err != nil {
				return err
			}
			if held < quantity {
				return domain.NewShortfall(domain.ErrInsufficientHolding, "key holding", quantity, held)
			}
		}

		grossPayout, err := s.curve.SellPayout(trader.KeysSupply, quantity)
		if err != nil {
			return err
		}
		split := s.fees.Apply(grossPayout)
		netPayout := grossPayout - split.Total()
		if netPayout < 0 {
			netPayout = 0
		}

		reserve := domain.CurveReserveOwner(traderID)
		balances, err := tx.LockWallets(ctx, sellerID, reserve, traderID, domain.TreasuryOwner)
		if err != nil {
			return err
		}
		if balances[reserve] < grossPayout {
			return domain.NewShortfall(domain.ErrInsufficientBalance, "curve reserve", grossPayout, balances[reserve])
		}

		if err := tx.AdjustSupply(ctx, traderID, -quantity); err != nil {
			return err
		}
		if sellerID != traderID {
			if err := tx.AdjustHolding(ctx, traderID, sellerID, -quantity); err != nil {
				return err
			}
		}

		if err := tx.AdjustWallet(ctx, reserve, -grossPayout); err != nil {
			return err
		}
		if netPayout > 0 {
			if err := tx.AdjustWallet(ctx, sellerID, netPayout); err != nil {
				return err
			}
		}
		if split.Creator > 0 {
			if err := tx.AdjustWallet(ctx, traderID, split.Creator); err != nil {
				return err
			}
		}
		if split.Protocol > 0 {
			if err := tx.AdjustWallet(ctx, domain.TreasuryOwner, split.Protocol); err != nil {
				return err
			}
		}

		avg := domain.AveragePrice(grossPayout, quantity)
		if err := tx.InsertKeyTransaction(ctx, domain.KeyTransaction{
			ID:             uuid.NewString(),
			TraderID:       traderID,
			CounterpartyID: sellerID,
			Direction:      domain.DirectionSell,
			Quantity:       quantity,
			AveragePrice:   avg,
			TotalValue:     netPayout,
			SupplyBefore:   trader.KeysSupply,
			SupplyAfter:    trader.KeysSupply - quantity,
			CreatedAt:      time.Now().UTC(),
		}); err != nil {
			return err
		}

		sellerBalance := balances[sellerID] + netPayout
		if sellerID == traderID {
			sellerBalance += split.Creator
		}
		result = KeySellResult{
			Quantity:         quantity,
			TotalPayout:      netPayout,
			AveragePrice:     avg,
			NewSupply:        trader.KeysSupply - quantity,
			NewSellerBalance: sellerBalance,
		}
		return nil
	})
	if err != nil {
		return KeySellResult{}, err
	}

	s.publishKeyTrade(ctx, "key_sell", traderID, sellerID, quantity, result.TotalPayout, result.NewSupply)

	s.logger.InfoContext(ctx, "keys_service: key sell settled",
		slog.String("trader", traderID),
		slog.String("seller", sellerID),
		slog.Int64("quantity", quantity),
		slog.Int64("net_payout", result.TotalPayout),
		slog.Int64("new_supply", result.NewSupply),
	)
	return result, nil
}

// publishKeyTrade emits a best-effort post-commit event. Failures are logged,
// never propagated: the trade has already settled.
func (s *KeysService) publishKeyTrade(ctx context.Context, event, traderID, counterpartyID string, quantity, value, newSupply int64) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"event":        event,
		"trader":       traderID,
		"counterparty": counterpartyID,
		"quantity":     quantity,
		"value":        value,
		"new_supply":   newSupply,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
	if err := s.bus.Publish(ctx, tradeChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "keys_service: publish event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, tradeStream, payload); err != nil {
		s.logger.WarnContext(ctx, "keys_service: stream append failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
