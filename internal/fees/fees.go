// Package fees splits trade amounts into liquidity-provider, protocol, and
// creator components by basis points. Each component floors independently;
// the remainder stays with the payer.
package fees

import (
	"fmt"

	"github.com/hypemarket/engine/internal/domain"
)

// Schedule is a basis-point fee schedule. Key markets run with LPBps = 0
// (there is no key pool); option markets use all three components.
type Schedule struct {
	LPBps       int64
	ProtocolBps int64
	CreatorBps  int64
}

// Validate rejects negative components and schedules that would consume the
// whole amount.
func (s Schedule) Validate() error {
	if s.LPBps < 0 || s.ProtocolBps < 0 || s.CreatorBps < 0 {
		return fmt.Errorf("%w: negative fee bps", domain.ErrInvalidArgument)
	}
	if total := s.LPBps + s.ProtocolBps + s.CreatorBps; total >= domain.BpsDenominator {
		return fmt.Errorf("%w: fee schedule %d bps would consume the trade", domain.ErrInvalidArgument, total)
	}
	return nil
}

// Split is the floored fee breakdown of one trade amount.
type Split struct {
	LP       int64
	Protocol int64
	Creator  int64
}

// Total is the sum of all components.
func (sp Split) Total() int64 {
	return sp.LP + sp.Protocol + sp.Creator
}

// Apply computes the floored components for the given amount.
func (s Schedule) Apply(amount int64) Split {
	return Split{
		LP:       domain.BpsOf(amount, s.LPBps),
		Protocol: domain.BpsOf(amount, s.ProtocolBps),
		Creator:  domain.BpsOf(amount, s.CreatorBps),
	}
}
