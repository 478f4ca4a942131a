// Package clob is the Order Executor: the shared contract the Trading
// State Machine calls, plus a DryRunExecutor and a LiveExecutor against
// Polymarket's CLOB. Grounded on the donor's internal/arbitrage/clob.go
// (CLOBClient: order placement, book fetch, L2 signing) and
// execution/executor.go (the dual-mode dry-run/live dispatch shape), with
// the "ambient mutable singleton for authentication" redesign flag
// applied: the donor's lazily-initialized, package-level auth handle
// becomes an explicit AuthSession value owned by LiveExecutor and passed
// down the call stack, not process-wide state.
package clob

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ot-clark/cryptoedge/internal/domain"
	"github.com/shopspring/decimal"
)

// Order is everything the Order Executor needs to fill one open or close
// leg: which outcome token to trade, which side, and the notional to
// spend. ReferencePrice is the market's current polymarketProb, used by
// the dry-run implementation as the fill price.
type Order struct {
	MarketID       string
	YesTokenID     string
	NoTokenID      string
	Side           domain.PositionSide
	Notional       decimal.Decimal
	ReferencePrice decimal.Decimal
}

// Fill is the result of a successful order: the price it filled at and
// an opaque id for the resulting order/trade.
type Fill struct {
	FilledPrice decimal.Decimal
	OrderID     string
}

// Executor is the abstract capability the Trading State Machine depends
// on. The loop never branches on which implementation is active beyond
// this contract.
type Executor interface {
	Execute(ctx context.Context, order Order) (Fill, error)
}

// DryRunExecutor fills immediately at the market's current reference
// price and mints a synthetic order id. Grounded on the donor's
// execution/executor.go simulateFill, except the donor minted ids with
// fmt.Sprintf("sim-%d", time.Now().UnixNano()); this uses
// github.com/google/uuid instead, the id convention the rest of the
// retrieval pack uses for order/position identifiers.
type DryRunExecutor struct{}

// NewDryRunExecutor builds a DryRunExecutor.
func NewDryRunExecutor() *DryRunExecutor { return &DryRunExecutor{} }

// Execute fills order.Notional at order.ReferencePrice when that price is
// strictly between 0 and 1; any other reference price is an error.
func (e *DryRunExecutor) Execute(_ context.Context, order Order) (Fill, error) {
	if order.ReferencePrice.LessThanOrEqual(decimal.Zero) || order.ReferencePrice.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Fill{}, fmt.Errorf("dry run: reference price %s outside (0,1)", order.ReferencePrice)
	}
	return Fill{
		FilledPrice: order.ReferencePrice,
		OrderID:     "dryrun-" + uuid.NewString(),
	}, nil
}
