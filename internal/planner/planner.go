// Package planner implements the Order Planner (spec §4.4, §4.5), the
// Pending-Order Walker (§4.7), the Close-By Protocol (§4.8), and
// Pending-Order Mirroring (§4.9). Grounded on
// original_source/order_manager.py's OrderManager, translated into the
// broker-gateway/correspondence-map vocabulary the rest of this module
// uses.
package planner

import (
	"context"
	"time"

	"fx-copier/internal/lotsize"
	"fx-copier/pkg/types"
)

// ClientGateway is the subset of *gateway.ClientView the planner needs.
// Expressed as an interface so tests can supply a fake.
type ClientGateway interface {
	ListPositions(ctx context.Context) ([]types.ClientPosition, error)
	PositionByTicket(ctx context.Context, ticket int64) (types.ClientPosition, error)
	ListOrders(ctx context.Context) ([]types.ClientPendingOrder, error)
	OrderByTicket(ctx context.Context, ticket int64) (types.ClientPendingOrder, error)
	AccountInfo(ctx context.Context) (types.AccountInfo, error)
	Submit(ctx context.Context, req types.OrderRequest) (types.SubmitResult, error)
	Tick(ctx context.Context, symbol string) (types.Tick, error)
	SymbolCheck(ctx context.Context, symbol string) (types.SymbolInfo, bool, error)
	DealByOrder(ctx context.Context, orderTicket int64) (int64, bool, error)
}

// CopyStyle selects how a copy is opened or closed (spec §4.4/§4.5).
type CopyStyle int

const (
	StyleMarket CopyStyle = iota
	StyleLimit
)

// Config bundles the per-cycle parameters the planner needs, sourced from
// order_config in app_config.json.
type Config struct {
	Magic            int64
	CopyDonorMagic   bool
	Style            CopyStyle
	OptimizeToMarket bool
	OffsetPoints     float64
	MaxRetries       int
	CopySLTP         bool
	Lot              lotsize.Config
	SettleDelay      time.Duration
	// Sleep is overridable for tests; defaults to time.Sleep.
	Sleep func(time.Duration)
}

func (c Config) sleep(d time.Duration) {
	if c.Sleep != nil {
		c.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (c Config) settleDelay() time.Duration {
	if c.SettleDelay > 0 {
		return c.SettleDelay
	}
	return 300 * time.Millisecond
}

func oppositeDirection(d types.Direction) types.Direction {
	if d == types.BUY {
		return types.SELL
	}
	return types.BUY
}
