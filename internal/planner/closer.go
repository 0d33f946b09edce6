package planner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"fx-copier/internal/correspondence"
	"fx-copier/internal/gateway"
	"fx-copier/internal/pricing"
	"fx-copier/pkg/types"
)

// lateMatchWindow bounds how recently a client position must have opened to
// be retroactively linked to a donor the engine missed (spec §4.5 step 3).
const lateMatchWindow = 60 * time.Second

// CloseCopy reacts to a donor ticket the monitor reports as closed
// (spec §4.5). lastKnown is the donor's last observed snapshot before it
// disappeared; it is used only for late matching (step 3) when the ticket
// was never linked at all. When it is nil, late matching is skipped and the
// close is only logged. The engine's cycle always passes nil, since it keeps
// no donor snapshot from the prior cycle.
func CloseCopy(ctx context.Context, cfg Config, corrMap *correspondence.Map, gw ClientGateway, donorKey types.DonorKey, lastKnown *types.DonorPosition, nowUnix int64, logger *slog.Logger) error {
	if ticket, _, ok := corrMap.OpenOrderByDonor(donorKey); ok {
		order, err := gw.OrderByTicket(ctx, ticket)
		if err == nil {
			if _, err := gw.Submit(ctx, types.OrderRequest{Action: types.ActionDelete, Ticket: ticket, Symbol: order.Symbol}); err != nil {
				return err
			}
		}
		corrMap.RemoveOpenOrder(ticket)
		return nil
	}

	clientTicket, ok := corrMap.ClientTicketForDonor(donorKey)
	if !ok {
		if lastKnown == nil {
			logger.Warn("donor closed but never linked; no late-match context available", "donor", donorKey)
			return nil
		}
		return lateMatchAndClose(ctx, cfg, corrMap, gw, donorKey, lastKnown.Symbol, lastKnown.Direction, nowUnix, logger)
	}

	pos, err := gw.PositionByTicket(ctx, clientTicket)
	if errors.Is(err, gateway.ErrNotFound) {
		corrMap.UnlinkPosition(donorKey)
		return nil
	}
	if err != nil {
		return err
	}

	if cfg.Style == StyleMarket {
		return closeMarket(ctx, gw, corrMap, donorKey, pos, cfg.Magic)
	}
	return closeLimit(ctx, cfg, gw, corrMap, donorKey, pos, logger)
}

// lateMatchAndClose implements spec §4.5 step 3: the engine never saw this
// donor ticket open (missed cycle, restart gap, …). If a same-symbol,
// same-direction, unlinked client position opened within the retroactive
// matching window, link it and then proceed with the normal close path.
func lateMatchAndClose(ctx context.Context, cfg Config, corrMap *correspondence.Map, gw ClientGateway, donorKey types.DonorKey, symbol string, direction types.Direction, nowUnix int64, logger *slog.Logger) error {
	positions, err := gw.ListPositions(ctx)
	if err != nil {
		return err
	}
	var candidate *types.ClientPosition
	for i := range positions {
		p := &positions[i]
		if p.Symbol != symbol || p.Direction != direction {
			continue
		}
		if _, linked := corrMap.DonorForClientTicket(p.Ticket); linked {
			continue
		}
		if nowUnix-p.TimeOpened > int64(lateMatchWindow.Seconds()) {
			continue
		}
		candidate = p
		break
	}
	if candidate == nil {
		logger.Warn("late match found no candidate client position", "donor", donorKey, "symbol", symbol)
		return nil
	}
	if err := corrMap.LinkPosition(donorKey, candidate.Ticket); err != nil {
		return err
	}
	if cfg.Style == StyleMarket {
		return closeMarket(ctx, gw, corrMap, donorKey, *candidate, cfg.Magic)
	}
	return closeLimit(ctx, cfg, gw, corrMap, donorKey, *candidate, logger)
}

// closeMarket does not consult DealByOrder: that lookup resolves an order
// ticket to the position ticket it produced, and a market close removes a
// position rather than creating one. retcode alone is the confirmation here,
// matching the original's close_position_by_market.
func closeMarket(ctx context.Context, gw ClientGateway, corrMap *correspondence.Map, donorKey types.DonorKey, pos types.ClientPosition, magic int64) error {
	result, err := gw.Submit(ctx, types.OrderRequest{
		Action:    types.ActionPlaceMarket,
		Symbol:    pos.Symbol,
		Direction: oppositeDirection(pos.Direction),
		Volume:    pos.Volume,
		Magic:     magic,
		ClosePos:  pos.Ticket,
	})
	if err != nil {
		return err
	}
	if result.RetCode != types.RetOK {
		return nil
	}
	corrMap.UnlinkPosition(donorKey)
	return nil
}

func closeLimit(ctx context.Context, cfg Config, gw ClientGateway, corrMap *correspondence.Map, donorKey types.DonorKey, pos types.ClientPosition, logger *slog.Logger) error {
	info, ok, err := gw.SymbolCheck(ctx, pos.Symbol)
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn("symbol unavailable while closing, leaving link intact for retry", "symbol", pos.Symbol)
		return nil
	}

	// closing a BUY needs a SELL_LIMIT; closing a SELL needs a BUY_LIMIT.
	kind := types.SellLimit
	if pos.Direction == types.SELL {
		kind = types.BuyLimit
	}
	point := pricing.PointSize(info.Digits)

	tick, err := gw.Tick(ctx, pos.Symbol)
	if err != nil {
		return err
	}
	var closeAnchor float64
	if kind == types.SellLimit {
		closeAnchor = tick.Bid
	} else {
		closeAnchor = tick.Ask
	}

	marketRef := func() (float64, error) {
		t, err := gw.Tick(ctx, pos.Symbol)
		if err != nil {
			return 0, err
		}
		if kind == types.BuyLimit {
			return t.Ask, nil
		}
		return t.Bid, nil
	}
	submit := func(price float64) (types.SubmitResult, error) {
		return gw.Submit(ctx, types.OrderRequest{
			Action:   types.ActionPlacePending,
			Symbol:   pos.Symbol,
			Kind:     kind,
			Volume:   pos.Volume,
			Price:    price,
			Magic:    cfg.Magic,
			ClosePos: pos.Ticket,
		})
	}

	result, err := pricing.PlaceWithRetry(kind, closeAnchor, cfg.OffsetPoints, point, info.Digits, cfg.MaxRetries, marketRef, submit)
	if err != nil {
		return err
	}
	if result.RetCode != types.RetOK {
		logger.Warn("close-limit exhausted retries", "donor", donorKey, "retcode", result.RetCode)
		return nil
	}
	// the donor leaves pos_link the moment a closing order is in flight for
	// it, so it never appears in both relations at once (non-overlap).
	corrMap.UnlinkPosition(donorKey)
	corrMap.AddCloseOrder(donorKey, result.Ticket, correspondence.CloseOrderInfo{
		DonorKey:             donorKey,
		Symbol:               pos.Symbol,
		Kind:                 kind,
		OriginalClosePrice:   closeAnchor,
		ClientPositionTicket: pos.Ticket,
	})
	return nil
}
