package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hypemarket/engine/internal/domain"
	"github.com/hypemarket/engine/internal/fees"
	"github.com/hypemarket/engine/internal/lmsr"
)

// SharesService quotes and settles YES/NO share trades against option pools
// under the LMSR cost function.
type SharesService struct {
	ledger  domain.Ledger
	markets domain.MarketStore
	fees    fees.Schedule
	prices  domain.PriceCache
	bus     domain.SignalBus
	logger  *slog.Logger
}

// NewSharesService creates a SharesService. prices and bus may be nil when
// the read-side cache or event fan-out is disabled.
func NewSharesService(
	ledger domain.Ledger,
	markets domain.MarketStore,
	schedule fees.Schedule,
	prices domain.PriceCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *SharesService {
	return &SharesService{
		ledger:  ledger,
		markets: markets,
		fees:    schedule,
		prices:  prices,
		bus:     bus,
		logger:  logger,
	}
}

// ShareQuote is a non-binding price preview for a prospective trade. Buy
// quotes populate TotalCost; sell quotes populate NetPayout.
type ShareQuote struct {
	BaseAmount  int64
	LPFee       int64
	ProtocolFee int64
	CreatorFee  int64
	TotalCost   int64
	NetPayout   int64
	PriceYes    float64
	PriceNo     float64
}

// BuySharesRequest describes a share purchase. At most one of MaxCost and
// SlippageBps should be set; MaxCost wins when both are. LimitPrice, when
// non-zero, is an externally supplied scaled price checked against the
// fair-value band before the trade executes.
type BuySharesRequest struct {
	OptionID    string
	BuyerID     string
	Yes         int64
	No          int64
	MaxCost     int64
	SlippageBps int64
	LimitPrice  int64
}

// SellSharesRequest mirrors BuySharesRequest for sales; MinPayout is the
// floor on the net payout.
type SellSharesRequest struct {
	OptionID    string
	SellerID    string
	Yes         int64
	No          int64
	MinPayout   int64
	SlippageBps int64
	LimitPrice  int64
}

// ShareTradeResult reports a settled share trade.
type ShareTradeResult struct {
	Yes        int64
	No         int64
	BaseAmount int64
	TotalFee   int64
	// TotalCost is what the buyer paid; NetPayout what the seller received.
	TotalCost  int64
	NetPayout  int64
	NewBalance int64
	PriceYes   float64
	PriceNo    float64
}

// QuoteBuy prices a prospective purchase against the current pool snapshot
// without locking anything.
func (s *SharesService) QuoteBuy(ctx context.Context, optionID string, buyYes, buyNo int64) (ShareQuote, error) {
	o, err := s.markets.GetOption(ctx, optionID)
	if err != nil {
		return ShareQuote{}, err
	}
	maker, err := lmsr.New(o.LiquidityParameter)
	if err != nil {
		return ShareQuote{}, err
	}
	base, err := maker.BuyCost(o.YesQuantity, o.NoQuantity, buyYes, buyNo)
	if err != nil {
		return ShareQuote{}, err
	}
	split := s.fees.Apply(base)
	newYes, newNo := o.YesQuantity+buyYes, o.NoQuantity+buyNo
	return ShareQuote{
		BaseAmount:  base,
		LPFee:       split.LP,
		ProtocolFee: split.Protocol,
		CreatorFee:  split.Creator,
		TotalCost:   base + split.Total(),
		PriceYes:    maker.PriceYes(newYes, newNo),
		PriceNo:     maker.PriceNo(newYes, newNo),
	}, nil
}

// QuoteSell prices a prospective sale against the current pool snapshot.
func (s *SharesService) QuoteSell(ctx context.Context, optionID string, sellYes, sellNo int64) (ShareQuote, error) {
	o, err := s.markets.GetOption(ctx, optionID)
	if err != nil {
		return ShareQuote{}, err
	}
	maker, err := lmsr.New(o.LiquidityParameter)
	if err != nil {
		return ShareQuote{}, err
	}
	gross, err := maker.SellPayout(o.YesQuantity, o.NoQuantity, sellYes, sellNo)
	if err != nil {
		return ShareQuote{}, err
	}
	split := s.fees.Apply(gross)
	net := gross - split.Total()
	if net < 0 {
		net = 0
	}
	newYes, newNo := o.YesQuantity-sellYes, o.NoQuantity-sellNo
	return ShareQuote{
		BaseAmount:  gross,
		LPFee:       split.LP,
		ProtocolFee: split.Protocol,
		CreatorFee:  split.Creator,
		NetPayout:   net,
		PriceYes:    maker.PriceYes(newYes, newNo),
		PriceNo:     maker.PriceNo(newYes, newNo),
	}, nil
}

// BuyShares executes a purchase: the buyer pays base cost plus fees, the base
// and the LP fee enter the pool state, protocol and creator fees route to
// their wallets, and the position grows. The cost is recomputed under the row
// lock; a stale quote can only fail the slippage bound, never mischarge.
func (s *SharesService) BuyShares(ctx context.Context, req BuySharesRequest) (ShareTradeResult, error) {
	bound := req.MaxCost
	if bound == 0 && req.SlippageBps > 0 {
		q, err := s.QuoteBuy(ctx, req.OptionID, req.Yes, req.No)
		if err != nil {
			return ShareTradeResult{}, err
		}
		bound = q.TotalCost + domain.BpsOf(q.TotalCost, req.SlippageBps)
	}

	opt, err := s.markets.GetOption(ctx, req.OptionID)
	if err != nil {
		return ShareTradeResult{}, err
	}
	market, err := s.markets.GetMarket(ctx, opt.MarketID)
	if err != nil {
		return ShareTradeResult{}, err
	}

	var result ShareTradeResult
	err = s.ledger.WithinTx(ctx, func(tx domain.LedgerTx) error {
		o, err := tx.LockOption(ctx, req.OptionID)
		if err != nil {
			return err
		}
		if o.Resolved {
			return fmt.Errorf("option %s: %w", o.ID, domain.ErrMarketResolved)
		}
		maker, err := lmsr.New(o.LiquidityParameter)
		if err != nil {
			return err
		}
		if req.LimitPrice > 0 {
			if err := lmsr.ValidateBand(o.YesQuantity, o.NoQuantity, req.LimitPrice); err != nil {
				return err
			}
		}

		base, err := maker.BuyCost(o.YesQuantity, o.NoQuantity, req.Yes, req.No)
		if err != nil {
			return err
		}
		split := s.fees.Apply(base)
		totalCost := base + split.Total()
		if bound > 0 && totalCost > bound {
			return &domain.SlippageError{Bound: bound, Actual: totalCost, Buy: true}
		}

		balances, err := tx.LockWallets(ctx, req.BuyerID, market.CreatorID, domain.TreasuryOwner)
		if err != nil {
			return err
		}
		if balances[req.BuyerID] < totalCost {
			return domain.NewShortfall(domain.ErrInsufficientBalance, "buyer balance", totalCost, balances[req.BuyerID])
		}

		if err := tx.AdjustWallet(ctx, req.BuyerID, -totalCost); err != nil {
			return err
		}
		if split.Creator > 0 {
			if err := tx.AdjustWallet(ctx, market.CreatorID, split.Creator); err != nil {
				return err
			}
		}
		if split.Protocol > 0 {
			if err := tx.AdjustWallet(ctx, domain.TreasuryOwner, split.Protocol); err != nil {
				return err
			}
		}
		if err := tx.ApplyOptionTrade(ctx, o.ID, req.Yes, req.No, base, split.LP); err != nil {
			return err
		}
		if err := tx.AdjustSharePosition(ctx, o.ID, req.BuyerID, req.Yes, req.No); err != nil {
			return err
		}

		newYes, newNo := o.YesQuantity+req.Yes, o.NoQuantity+req.No
		result = ShareTradeResult{
			Yes:        req.Yes,
			No:         req.No,
			BaseAmount: base,
			TotalFee:   split.Total(),
			TotalCost:  totalCost,
			NewBalance: balances[req.BuyerID] - totalCost,
			PriceYes:   maker.PriceYes(newYes, newNo),
			PriceNo:    maker.PriceNo(newYes, newNo),
		}
		return tx.InsertAudit(ctx, "shares_buy", map[string]any{
			"option":     o.ID,
			"buyer":      req.BuyerID,
			"yes":        req.Yes,
			"no":         req.No,
			"base_cost":  base,
			"total_cost": totalCost,
		})
	})
	if err != nil {
		return ShareTradeResult{}, err
	}

	s.afterTrade(ctx, "shares_buy", req.OptionID, req.BuyerID, result)
	return result, nil
}

// SellShares executes a sale out of the seller's position. The pool pays the
// gross LMSR payout; fees come out of it, so the pool's cash change equals
// net payout plus fees and money is conserved.
func (s *SharesService) SellShares(ctx context.Context, req SellSharesRequest) (ShareTradeResult, error) {
	bound := req.MinPayout
	if bound == 0 && req.SlippageBps > 0 {
		q, err := s.QuoteSell(ctx, req.OptionID, req.Yes, req.No)
		if err != nil {
			return ShareTradeResult{}, err
		}
		bound = q.NetPayout - domain.BpsOf(q.NetPayout, req.SlippageBps)
	}

	opt, err := s.markets.GetOption(ctx, req.OptionID)
	if err != nil {
		return ShareTradeResult{}, err
	}
	market, err := s.markets.GetMarket(ctx, opt.MarketID)
	if err != nil {
		return ShareTradeResult{}, err
	}

	var result ShareTradeResult
	err = s.ledger.WithinTx(ctx, func(tx domain.LedgerTx) error {
		o, err := tx.LockOption(ctx, req.OptionID)
		if err != nil {
			return err
		}
		if o.Resolved {
			return fmt.Errorf("option %s: %w", o.ID, domain.ErrMarketResolved)
		}
		maker, err := lmsr.New(o.LiquidityParameter)
		if err != nil {
			return err
		}
		if req.LimitPrice > 0 {
			if err := lmsr.ValidateBand(o.YesQuantity, o.NoQuantity, req.LimitPrice); err != nil {
				return err
			}
		}

		pos, err := tx.LockSharePosition(ctx, o.ID, req.SellerID)
		if err != nil {
			return err
		}
		if pos.YesShares < req.Yes {
			return domain.NewShortfall(domain.ErrInsufficientHolding, "yes shares", req.Yes, pos.YesShares)
		}
		if pos.NoShares < req.No {
			return domain.NewShortfall(domain.ErrInsufficientHolding, "no shares", req.No, pos.NoShares)
		}

		gross, err := maker.SellPayout(o.YesQuantity, o.NoQuantity, req.Yes, req.No)
		if err != nil {
			return err
		}
		if gross > o.PoolLiquidity {
			return domain.NewShortfall(domain.ErrInsufficientPool, "pool liquidity", gross, o.PoolLiquidity)
		}
		split := s.fees.Apply(gross)
		net := gross - split.Total()
		if net < 0 {
			net = 0
		}
		if net < bound {
			return &domain.SlippageError{Bound: bound, Actual: net, Buy: false}
		}

		balances, err := tx.LockWallets(ctx, req.SellerID, market.CreatorID, domain.TreasuryOwner)
		if err != nil {
			return err
		}

		if err := tx.ApplyOptionTrade(ctx, o.ID, -req.Yes, -req.No, -gross, split.LP); err != nil {
			return err
		}
		if err := tx.AdjustSharePosition(ctx, o.ID, req.SellerID, -req.Yes, -req.No); err != nil {
			return err
		}
		if net > 0 {
			if err := tx.AdjustWallet(ctx, req.SellerID, net); err != nil {
				return err
			}
		}
		if split.Creator > 0 {
			if err := tx.AdjustWallet(ctx, market.CreatorID, split.Creator); err != nil {
				return err
			}
		}
		if split.Protocol > 0 {
			if err := tx.AdjustWallet(ctx, domain.TreasuryOwner, split.Protocol); err != nil {
				return err
			}
		}

		newYes, newNo := o.YesQuantity-req.Yes, o.NoQuantity-req.No
		result = ShareTradeResult{
			Yes:        req.Yes,
			No:         req.No,
			BaseAmount: gross,
			TotalFee:   split.Total(),
			NetPayout:  net,
			NewBalance: balances[req.SellerID] + net,
			PriceYes:   maker.PriceYes(newYes, newNo),
			PriceNo:    maker.PriceNo(newYes, newNo),
		}
		return tx.InsertAudit(ctx, "shares_sell", map[string]any{
			"option":       o.ID,
			"seller":       req.SellerID,
			"yes":          req.Yes,
			"no":           req.No,
			"gross_payout": gross,
			"net_payout":   net,
		})
	})
	if err != nil {
		return ShareTradeResult{}, err
	}

	s.afterTrade(ctx, "shares_sell", req.OptionID, req.SellerID, result)
	return result, nil
}

// afterTrade runs the post-commit side effects: refresh the price cache and
// publish the trade event. Both are best-effort.
func (s *SharesService) afterTrade(ctx context.Context, event, optionID, accountID string, result ShareTradeResult) {
	now := time.Now().UTC()
	if s.prices != nil {
		if err := s.prices.SetPrice(ctx, optionID, result.PriceYes, result.PriceNo, now); err != nil {
			s.logger.WarnContext(ctx, "shares_service: price cache update failed",
				slog.String("option", optionID),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"event":     event,
			"option":    optionID,
			"account":   accountID,
			"yes":       result.Yes,
			"no":        result.No,
			"value":     result.TotalCost + result.NetPayout,
			"price_yes": result.PriceYes,
			"price_no":  result.PriceNo,
			"timestamp": now.Format(time.RFC3339),
		})
		if err := s.bus.Publish(ctx, tradeChannel, payload); err != nil {
			s.logger.WarnContext(ctx, "shares_service: publish event failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
		if err := s.bus.StreamAppend(ctx, tradeStream, payload); err != nil {
			s.logger.WarnContext(ctx, "shares_service: stream append failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "shares_service: trade settled",
		slog.String("event", event),
		slog.String("option", optionID),
		slog.String("account", accountID),
		slog.Int64("yes", result.Yes),
		slog.Int64("no", result.No),
		slog.Float64("price_yes", result.PriceYes),
	)
}
