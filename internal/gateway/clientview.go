package gateway

import (
	"context"
	"errors"

	"fx-copier/pkg/types"
)

// ErrNotFound is returned by the ticket/symbol lookup helpers when nothing
// matches (spec §4.1 "ClientPosition or not-found").
var ErrNotFound = errors.New("gateway: not found")

// ClientView adapts a Gateway's raw SessionPosition/SessionOrder results
// into the ClientPosition/ClientPendingOrder view the Order Planner and
// Pending-Order Walker operate on. Positions are filtered to the engine's
// magic tag; pending orders are returned unfiltered, since SessionOrder
// carries no magic tag (ClientPendingOrder.MagicTag is left zero). magic is
// a pointer so "no filter" (magic == nil) can be expressed, in which case
// every position is returned.
type ClientView struct {
	gw    *Gateway
	magic *int64
}

func NewClientView(gw *Gateway, magic *int64) *ClientView {
	return &ClientView{gw: gw, magic: magic}
}

func (v *ClientView) matches(m int64) bool {
	return v.magic == nil || *v.magic == m
}

func (v *ClientView) ListPositions(ctx context.Context) ([]types.ClientPosition, error) {
	raw, err := v.gw.Positions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.ClientPosition, 0, len(raw))
	for _, p := range raw {
		if !v.matches(p.Magic) {
			continue
		}
		out = append(out, toClientPosition(p))
	}
	return out, nil
}

func (v *ClientView) PositionByTicket(ctx context.Context, ticket int64) (types.ClientPosition, error) {
	positions, err := v.ListPositions(ctx)
	if err != nil {
		return types.ClientPosition{}, err
	}
	for _, p := range positions {
		if p.Ticket == ticket {
			return p, nil
		}
	}
	return types.ClientPosition{}, ErrNotFound
}

func (v *ClientView) PositionBySymbol(ctx context.Context, symbol string) (types.ClientPosition, error) {
	positions, err := v.ListPositions(ctx)
	if err != nil {
		return types.ClientPosition{}, err
	}
	for _, p := range positions {
		if p.Symbol == symbol {
			return p, nil
		}
	}
	return types.ClientPosition{}, ErrNotFound
}

func (v *ClientView) ListOrders(ctx context.Context) ([]types.ClientPendingOrder, error) {
	raw, err := v.gw.Orders(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.ClientPendingOrder, 0, len(raw))
	for _, o := range raw {
		out = append(out, toClientOrder(o))
	}
	return out, nil
}

func (v *ClientView) OrderByTicket(ctx context.Context, ticket int64) (types.ClientPendingOrder, error) {
	orders, err := v.ListOrders(ctx)
	if err != nil {
		return types.ClientPendingOrder{}, err
	}
	for _, o := range orders {
		if o.Ticket == ticket {
			return o, nil
		}
	}
	return types.ClientPendingOrder{}, ErrNotFound
}

func (v *ClientView) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	return v.gw.AccountInfo(ctx)
}

func (v *ClientView) Submit(ctx context.Context, req types.OrderRequest) (types.SubmitResult, error) {
	return v.gw.Submit(ctx, req)
}

func (v *ClientView) Tick(ctx context.Context, symbol string) (types.Tick, error) {
	return v.gw.Tick(ctx, symbol)
}

func (v *ClientView) SymbolCheck(ctx context.Context, symbol string) (types.SymbolInfo, bool, error) {
	return v.gw.SymbolCheck(ctx, symbol)
}

func (v *ClientView) DealByOrder(ctx context.Context, orderTicket int64) (int64, bool, error) {
	return v.gw.DealByOrder(ctx, orderTicket)
}

func toClientPosition(p SessionPosition) types.ClientPosition {
	return types.ClientPosition{
		Ticket:       p.Ticket,
		Symbol:       p.Symbol,
		Direction:    p.Direction,
		Volume:       p.Volume,
		PriceOpen:    p.PriceOpen,
		PriceCurrent: p.PriceCurrent,
		Profit:       p.Profit,
		TimeOpened:   p.Time,
		MagicTag:     p.Magic,
		Comment:      p.Comment,
	}
}

func toClientOrder(o SessionOrder) types.ClientPendingOrder {
	return types.ClientPendingOrder{
		Ticket:    o.Ticket,
		Symbol:    o.Symbol,
		Kind:      o.Kind,
		Volume:    o.VolumeCurrent,
		Price:     o.PriceOpen,
		TimeSetup: o.TimeSetup,
	}
}
