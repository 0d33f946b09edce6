package planner

import (
	"context"
	"log/slog"

	"fx-copier/internal/correspondence"
	"fx-copier/internal/lotsize"
	"fx-copier/pkg/types"
)

// MirrorNewPendingOrder mirrors a donor pending order that is not yet in
// pending_order_link by placing an identically-priced, volume-scaled
// client pending order of the same kind (spec §4.9).
func MirrorNewPendingOrder(ctx context.Context, cfg Config, corrMap *correspondence.Map, gw ClientGateway, donorOrder types.DonorPendingOrder, logger *slog.Logger) error {
	donorKey := donorOrder.Key()
	if _, ok := corrMap.PendingOrderLink(donorKey); ok {
		return nil
	}
	if corrMap.IsSkipped(donorOrder.Symbol) {
		return nil
	}

	info, ok, err := gw.SymbolCheck(ctx, donorOrder.Symbol)
	if err != nil {
		return err
	}
	if !ok {
		corrMap.SkipSymbol(donorOrder.Symbol)
		return nil
	}

	account, err := gw.AccountInfo(ctx)
	if err != nil {
		return err
	}
	lot, err := lotsize.Calculate(cfg.Lot, donorOrder.Volume, account.Balance, info.VolumeStep)
	if err != nil {
		return err
	}

	req := types.OrderRequest{
		Action: types.ActionPlacePending,
		Symbol: donorOrder.Symbol,
		Kind:   donorOrder.Kind,
		Volume: lot,
		Price:  donorOrder.Price,
		Magic:  cfg.Magic,
	}
	if cfg.CopySLTP {
		req.SL = donorOrder.SL
		req.TP = donorOrder.TP
	}

	result, err := gw.Submit(ctx, req)
	if err != nil {
		return err
	}
	if result.RetCode != types.RetOK {
		logger.Warn("pending-order mirror rejected", "donor", donorKey, "retcode", result.RetCode)
		return nil
	}
	corrMap.AddPendingOrderLink(donorKey, result.Ticket)
	return nil
}

// ReconcileVanishedPendingOrder handles a donor pending order that
// disappeared since the last cycle (spec §4.9). If the donor ticket now
// appears among donor positions at the same ticket, the order filled: the
// engine adopts the client side on the next OpenCopy pass (it leaves the
// link in place for OpenCopy's adoption step). Otherwise the donor
// cancelled the order: the client counterpart is cancelled and the link
// dropped.
func ReconcileVanishedPendingOrder(ctx context.Context, corrMap *correspondence.Map, gw ClientGateway, donorKey types.DonorKey, filledOnDonorSide bool, logger *slog.Logger) error {
	clientOrderTicket, ok := corrMap.PendingOrderLink(donorKey)
	if !ok {
		return nil
	}
	if filledOnDonorSide {
		// leave pending_order_link intact; OpenCopy's adoption step will
		// promote it into pos_link once the client order fills too.
		return nil
	}

	order, err := gw.OrderByTicket(ctx, clientOrderTicket)
	if err == nil {
		if _, err := gw.Submit(ctx, types.OrderRequest{Action: types.ActionDelete, Ticket: clientOrderTicket, Symbol: order.Symbol}); err != nil {
			return err
		}
	}
	corrMap.RemovePendingOrderLink(donorKey)
	logger.Debug("dropped pending-order mirror after donor cancel", "donor", donorKey)
	return nil
}
