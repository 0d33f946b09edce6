package planner

import (
	"context"
	"log/slog"

	"fx-copier/internal/correspondence"
	"fx-copier/internal/pricing"
	"fx-copier/pkg/types"
)

// WalkOpenOrders attempts a single one-point repricing step for every live
// open-order-link entry (spec §4.7). Entries whose ticket has vanished are
// either a fill (promoted to pos_link, spec §3 "Lifecycles"/§8 scenario 1)
// or a cancel/reject (dropped outright) — promoteVanishedOpenOrder tells
// the two apart.
func WalkOpenOrders(ctx context.Context, cfg Config, corrMap *correspondence.Map, gw ClientGateway, logger *slog.Logger) error {
	orders, err := gw.ListOrders(ctx)
	if err != nil {
		return err
	}
	live := make(map[int64]types.ClientPendingOrder, len(orders))
	for _, o := range orders {
		live[o.Ticket] = o
	}

	_, openOrders, _, _, _, _ := corrMap.Snapshot()
	for ticket, info := range openOrders {
		order, ok := live[ticket]
		if !ok {
			if err := promoteVanishedOpenOrder(ctx, corrMap, gw, ticket, info, logger); err != nil {
				return err
			}
			continue
		}
		if err := walkOne(ctx, cfg, gw, ticket, order.Price, info.Kind, info.OriginalPrice, info.Symbol, logger); err != nil {
			return err
		}
	}
	return nil
}

// promoteVanishedOpenOrder confirms whether a vanished open-order ticket
// filled into a client position and, if so, migrates it from
// open_order_link to pos_link (spec §3 "Lifecycles", §8 scenario 1:
// "Fill arrives next cycle -> pos_link[donor_ticket] = client_ticket").
// The deal lookup is the primary confirmation path (SPEC_FULL.md
// §SUPPLEMENTED item 3); the symbol+direction match against unlinked
// client positions is the fallback for brokers that haven't recorded the
// deal yet. If neither finds a resulting position, the order was
// cancelled or rejected rather than filled, and the entry is dropped.
func promoteVanishedOpenOrder(ctx context.Context, corrMap *correspondence.Map, gw ClientGateway, ticket int64, info correspondence.OpenOrderInfo, logger *slog.Logger) error {
	if posTicket, found, err := gw.DealByOrder(ctx, ticket); err == nil && found {
		return corrMap.PromoteOpenOrderToPosition(ticket, posTicket)
	}

	wantDirection := types.BUY
	if info.Kind == types.SellLimit {
		wantDirection = types.SELL
	}
	positions, err := gw.ListPositions(ctx)
	if err != nil {
		return err
	}
	for _, p := range positions {
		if p.Symbol != info.Symbol || p.Direction != wantDirection {
			continue
		}
		if _, linked := corrMap.DonorForClientTicket(p.Ticket); linked {
			continue
		}
		return corrMap.PromoteOpenOrderToPosition(ticket, p.Ticket)
	}

	corrMap.RemoveOpenOrder(ticket)
	logger.Debug("open order vanished with no resulting position; treating as cancelled", "ticket", ticket, "donor", info.DonorKey)
	return nil
}

// WalkCloseOrders is the close-order counterpart of WalkOpenOrders.
func WalkCloseOrders(ctx context.Context, cfg Config, corrMap *correspondence.Map, gw ClientGateway, logger *slog.Logger) error {
	orders, err := gw.ListOrders(ctx)
	if err != nil {
		return err
	}
	live := make(map[int64]types.ClientPendingOrder, len(orders))
	for _, o := range orders {
		live[o.Ticket] = o
	}

	_, _, closeOrderLink, closeOrderInfo, _, _ := corrMap.Snapshot()
	for _, ticket := range closeOrderLink {
		info, ok := closeOrderInfo[ticket]
		if !ok {
			continue
		}
		order, ok := live[ticket]
		if !ok {
			// vanished: either filled (handled by the close-by protocol
			// next cycle) or cancelled externally. Either way the walker
			// has nothing to reprice.
			continue
		}
		if err := walkOne(ctx, cfg, gw, ticket, order.Price, info.Kind, info.OriginalClosePrice, info.Symbol, logger); err != nil {
			return err
		}
	}
	return nil
}

// walkOne implements the actual one-step repricing algorithm shared by
// opens and closes (spec §4.7): try a single point-sized step toward the
// target; if no step is legal, fall back to directly computing the optimal
// allowed price at offset 0 and accept it only if it strictly improves.
func walkOne(ctx context.Context, cfg Config, gw ClientGateway, ticket int64, currentPrice float64, kind types.OrderKind, anchorPrice float64, symbol string, logger *slog.Logger) error {
	info, ok, err := gw.SymbolCheck(ctx, symbol)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	point := pricing.PointSize(info.Digits)

	tick, err := gw.Tick(ctx, symbol)
	if err != nil {
		return err
	}

	target := anchorPrice
	if cfg.OptimizeToMarket {
		if kind == types.BuyLimit {
			target = tick.Ask
		} else {
			target = tick.Bid
		}
	}

	newPrice, improved := stepToward(kind, currentPrice, target, anchorPrice, tick, point, cfg.OptimizeToMarket)
	if !improved {
		candidate := pricing.LimitPrice(kind, marketRefFor(kind, tick), anchorPrice, 0, info.Digits)
		if !strictlyCloser(candidate, currentPrice, target) {
			return nil
		}
		if !legalAgainstBroker(kind, candidate, tick) {
			return nil
		}
		newPrice = candidate
		improved = true
	}
	if !improved {
		return nil
	}

	result, err := gw.Submit(ctx, types.OrderRequest{Action: types.ActionModify, Ticket: ticket, Symbol: symbol, Price: newPrice})
	if err != nil {
		return err
	}
	if result.RetCode != types.RetOK {
		logger.Debug("walker modify rejected", "ticket", ticket, "retcode", result.RetCode)
	}
	return nil
}

func marketRefFor(kind types.OrderKind, tick types.Tick) float64 {
	if kind == types.BuyLimit {
		return tick.Ask
	}
	return tick.Bid
}

// stepToward tries a single point-sized step. Returns the candidate price
// and whether it is legal and an improvement.
func stepToward(kind types.OrderKind, current, target, anchor float64, tick types.Tick, point float64, optimizeToMarket bool) (float64, bool) {
	switch kind {
	case types.BuyLimit:
		candidate := current + point
		if !strictlyCloser(candidate, current, target) {
			return 0, false
		}
		if candidate >= tick.Bid {
			return 0, false
		}
		if !optimizeToMarket && candidate > anchor {
			return 0, false
		}
		return candidate, true
	case types.SellLimit:
		candidate := current - point
		if !strictlyCloser(candidate, current, target) {
			return 0, false
		}
		if candidate <= tick.Ask {
			return 0, false
		}
		if !optimizeToMarket && candidate < anchor {
			return 0, false
		}
		return candidate, true
	default:
		return 0, false
	}
}

func strictlyCloser(candidate, current, target float64) bool {
	return absDiff(candidate, target) < absDiff(current, target)
}

func legalAgainstBroker(kind types.OrderKind, price float64, tick types.Tick) bool {
	if kind == types.BuyLimit {
		return price < tick.Bid
	}
	return price > tick.Ask
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
