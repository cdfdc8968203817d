package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hypemarket/engine/internal/domain"
)

// UnleveragedRatio is the reserve ratio reported when a market owes nothing:
// the pool is by definition fully covered.
const UnleveragedRatio = 100.0

// MonitorConfig holds the risk monitor's thresholds.
type MonitorConfig struct {
	// CriticalRatio is the reserve ratio below which a market is flagged as
	// an insolvency risk.
	CriticalRatio float64
	// WarningRatio is the reserve ratio below which a market is flagged as
	// low on liquidity.
	WarningRatio float64
	// TargetRatio is the provisioning floor reported alongside breaches. It
	// never triggers alerts.
	TargetRatio float64
	// MaxConcurrent bounds how many markets a full sweep evaluates at once.
	MaxConcurrent int
}

// DefaultMonitorConfig returns the standard 1.05 / 1.20 thresholds with a
// 1.10 provisioning target and a sweep concurrency of 8.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{CriticalRatio: 1.05, WarningRatio: 1.20, TargetRatio: 1.10, MaxConcurrent: 8}
}

// MonitorService evaluates market liquidity coverage and raises alerts when
// the reserve ratio breaches configured thresholds. It reads pool state
// without locks; a slightly stale snapshot only delays an alert by one sweep.
type MonitorService struct {
	markets domain.MarketStore
	alerts  domain.AlertStore
	bus     domain.SignalBus
	cfg     MonitorConfig
	logger  *slog.Logger
}

// NewMonitorService creates a MonitorService. bus may be nil.
func NewMonitorService(
	markets domain.MarketStore,
	alerts domain.AlertStore,
	bus domain.SignalBus,
	cfg MonitorConfig,
	logger *slog.Logger,
) *MonitorService {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMonitorConfig().MaxConcurrent
	}
	return &MonitorService{markets: markets, alerts: alerts, bus: bus, cfg: cfg, logger: logger}
}

// LiquidityReport is the outcome of one market check.
type LiquidityReport struct {
	MarketID          string
	RequiredLiquidity int64
	CurrentLiquidity  int64
	Ratio             float64
	Alert             *domain.LiquidityAlert
}

// CheckMarket computes the market's reserve ratio and upserts an alert if a
// threshold is breached. Required liquidity is the larger of what resolved
// options already owe and the worst-case obligation across unresolved ones.
func (s *MonitorService) CheckMarket(ctx context.Context, marketID string) (LiquidityReport, error) {
	m, err := s.markets.GetMarket(ctx, marketID)
	if err != nil {
		return LiquidityReport{}, err
	}
	if m.Status != domain.MarketStatusOpen || !m.Initialized {
		return LiquidityReport{MarketID: marketID, Ratio: UnleveragedRatio}, nil
	}

	options, err := s.markets.ListOptionsByMarket(ctx, marketID)
	if err != nil {
		return LiquidityReport{}, err
	}

	var winningOwed, maxPotential, current int64
	for _, o := range options {
		current += o.PoolLiquidity
		if o.Resolved {
			if o.WinningSide == domain.SideYes {
				winningOwed += o.YesQuantity
			} else {
				winningOwed += o.NoQuantity
			}
			continue
		}
		if o.YesQuantity > o.NoQuantity {
			maxPotential += o.YesQuantity
		} else {
			maxPotential += o.NoQuantity
		}
	}
	required := winningOwed
	if maxPotential > required {
		required = maxPotential
	}

	ratio := UnleveragedRatio
	if required > 0 {
		ratio = float64(current) / float64(required)
	}

	report := LiquidityReport{
		MarketID:          marketID,
		RequiredLiquidity: required,
		CurrentLiquidity:  current,
		Ratio:             ratio,
	}

	var alertType domain.AlertType
	var severity domain.AlertSeverity
	switch {
	case ratio < s.cfg.CriticalRatio:
		alertType, severity = domain.AlertInsolvencyRisk, domain.SeverityCritical
	case ratio < s.cfg.WarningRatio:
		alertType, severity = domain.AlertLowLiquidity, domain.SeverityWarning
	default:
		return report, nil
	}

	persisted, err := s.alerts.UpsertUnresolved(ctx, domain.LiquidityAlert{
		ID:                uuid.NewString(),
		MarketID:          marketID,
		Type:              alertType,
		Severity:          severity,
		ObservedRatio:     ratio,
		RequiredLiquidity: required,
		CurrentLiquidity:  current,
	})
	if err != nil {
		return report, fmt.Errorf("monitor_service: raise alert for %s: %w", marketID, err)
	}
	report.Alert = &persisted

	s.logger.WarnContext(ctx, "monitor_service: liquidity threshold breached",
		slog.String("market", marketID),
		slog.String("alert_type", string(alertType)),
		slog.String("severity", string(severity)),
		slog.Float64("ratio", ratio),
		slog.Float64("target_ratio", s.cfg.TargetRatio),
		slog.Int64("required", required),
		slog.Int64("current", current),
	)
	s.publishAlert(ctx, persisted)
	return report, nil
}

// CheckAll sweeps every open, initialized market concurrently and returns the
// number of alerts raised. Individual market failures abort the sweep.
func (s *MonitorService) CheckAll(ctx context.Context) (int, error) {
	markets, err := s.markets.ListOpenMarkets(ctx)
	if err != nil {
		return 0, err
	}

	var raised atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrent)
	for _, m := range markets {
		g.Go(func() error {
			report, err := s.CheckMarket(gctx, m.ID)
			if err != nil {
				return err
			}
			if report.Alert != nil {
				raised.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(raised.Load()), err
	}

	s.logger.InfoContext(ctx, "monitor_service: sweep complete",
		slog.Int("markets", len(markets)),
		slog.Int64("alerts_raised", raised.Load()),
	)
	return int(raised.Load()), nil
}

// ResolveAlert marks an open alert as handled by the given operator.
func (s *MonitorService) ResolveAlert(ctx context.Context, alertID, operator string) error {
	if err := s.alerts.ResolveAlert(ctx, alertID, operator); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "monitor_service: alert resolved",
		slog.String("alert", alertID),
		slog.String("operator", operator),
	)
	return nil
}

func (s *MonitorService) publishAlert(ctx context.Context, alert domain.LiquidityAlert) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"event":     "liquidity_alert",
		"market":    alert.MarketID,
		"type":      string(alert.Type),
		"severity":  string(alert.Severity),
		"ratio":     alert.ObservedRatio,
		"required":  alert.RequiredLiquidity,
		"current":   alert.CurrentLiquidity,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err := s.bus.Publish(ctx, alertChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "monitor_service: publish alert failed",
			slog.String("market", alert.MarketID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, alertStream, payload); err != nil {
		s.logger.WarnContext(ctx, "monitor_service: alert stream append failed",
			slog.String("market", alert.MarketID),
			slog.String("error", err.Error()),
		)
	}
}
