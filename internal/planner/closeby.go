package planner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"fx-copier/internal/correspondence"
	"fx-copier/internal/gateway"
	"fx-copier/pkg/types"
)

// closeBySettleDelay is the brief wait after a closing limit order
// disappears before the counter-position is expected to be visible
// (spec §4.8, §5 "settle delay ≈ 300 ms"; grounded on
// original_source/main.py's close-by settle wait of 0.3 s).
const closeBySettleDelay = 300 * time.Millisecond

// RunCloseByProtocol walks every close_order_link entry once per cycle,
// detecting fills of the closing limit order and netting the resulting
// counter-position via the broker's close-by primitive (spec §4.8).
func RunCloseByProtocol(ctx context.Context, cfg Config, corrMap *correspondence.Map, gw ClientGateway, logger *slog.Logger) error {
	_, _, closeOrderLink, closeOrderInfo, _, _ := corrMap.Snapshot()

	orders, err := gw.ListOrders(ctx)
	if err != nil {
		return err
	}
	liveOrders := make(map[int64]bool, len(orders))
	for _, o := range orders {
		liveOrders[o.Ticket] = true
	}

	for donorKey, closeTicket := range closeOrderLink {
		if liveOrders[closeTicket] {
			continue // still pending, nothing to do this cycle
		}
		info, ok := closeOrderInfo[closeTicket]
		if !ok {
			continue
		}
		if err := settleCloseByPair(ctx, cfg, corrMap, gw, donorKey, closeTicket, info, logger); err != nil {
			return err
		}
	}
	return nil
}

func settleCloseByPair(ctx context.Context, cfg Config, corrMap *correspondence.Map, gw ClientGateway, donorKey types.DonorKey, closeTicket int64, info correspondence.CloseOrderInfo, logger *slog.Logger) error {
	cfg.sleep(closeBySettleDelay)

	original, err := gw.PositionByTicket(ctx, info.ClientPositionTicket)
	if errors.Is(err, gateway.ErrNotFound) {
		// the original position is already gone: the broker netted it
		// automatically, or it was closed by other means.
		corrMap.RemoveCloseOrder(donorKey, closeTicket)
		return nil
	}
	if err != nil {
		return err
	}

	positions, err := gw.ListPositions(ctx)
	if err != nil {
		return err
	}
	opposite := oppositeDirection(original.Direction)
	var counterTicket int64
	for _, p := range positions {
		if p.Symbol == original.Symbol && p.Direction == opposite && p.Ticket != original.Ticket {
			counterTicket = p.Ticket
			break
		}
	}
	if counterTicket == 0 {
		logger.Debug("close-by counter-position not yet visible, retrying next cycle", "donor", donorKey, "original", original.Ticket)
		return nil
	}

	result, err := gw.Submit(ctx, types.OrderRequest{
		Action:     types.ActionCloseBy,
		Symbol:     original.Symbol,
		ClosePos:   original.Ticket,
		CloseByPos: counterTicket,
	})
	if err != nil {
		return err
	}
	if result.RetCode != types.RetOK {
		logger.Warn("close-by failed", "donor", donorKey, "original", original.Ticket, "opposite", counterTicket, "retcode", result.RetCode)
		return nil
	}

	corrMap.RemoveCloseOrder(donorKey, closeTicket)
	return nil
}
