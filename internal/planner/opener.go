package planner

import (
	"context"
	"fmt"
	"log/slog"

	"fx-copier/internal/correspondence"
	"fx-copier/internal/lotsize"
	"fx-copier/internal/pricing"
	"fx-copier/pkg/types"
)

// OpenCopy mirrors one newly-observed donor position onto the client
// account (spec §4.4).
func OpenCopy(ctx context.Context, cfg Config, corrMap *correspondence.Map, gw ClientGateway, donorPos types.DonorPosition, logger *slog.Logger) error {
	if corrMap.IsSkipped(donorPos.Symbol) {
		return nil
	}
	donorKey := donorPos.Key()

	magic := cfg.Magic
	if cfg.CopyDonorMagic && donorPos.MagicTag != nil {
		magic = *donorPos.MagicTag
	}

	if clientOrderTicket, ok := corrMap.PendingOrderLink(donorKey); ok {
		adopted, err := adoptMirroredOrder(ctx, gw, clientOrderTicket, donorPos)
		if err != nil {
			return err
		}
		if adopted != 0 {
			corrMap.RemovePendingOrderLink(donorKey)
			return corrMap.LinkPosition(donorKey, adopted)
		}
		// still pending on the client side: defer to a later cycle.
		return nil
	}

	info, ok, err := gw.SymbolCheck(ctx, donorPos.Symbol)
	if err != nil {
		return err
	}
	if !ok {
		corrMap.SkipSymbol(donorPos.Symbol)
		logger.Warn("symbol unavailable, skipping", "symbol", donorPos.Symbol)
		return nil
	}

	account, err := gw.AccountInfo(ctx)
	if err != nil {
		return err
	}
	lot, err := lotsize.Calculate(cfg.Lot, donorPos.Volume, account.Balance, info.VolumeStep)
	if err != nil {
		return err
	}

	if cfg.Style == StyleMarket {
		return openMarket(ctx, cfg, corrMap, gw, donorPos, donorKey, lot, magic, logger)
	}
	return openLimit(ctx, cfg, corrMap, gw, donorPos, donorKey, info, lot, magic, logger)
}

// adoptMirroredOrder checks whether a previously mirrored pending order
// (§4.9) has filled into a position. It returns the resulting client
// ticket, or 0 if the order is still pending.
func adoptMirroredOrder(ctx context.Context, gw ClientGateway, clientOrderTicket int64, donorPos types.DonorPosition) (int64, error) {
	if _, err := gw.OrderByTicket(ctx, clientOrderTicket); err == nil {
		return 0, nil // still pending
	}
	positions, err := gw.ListPositions(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range positions {
		if p.Symbol == donorPos.Symbol && p.Direction == donorPos.Direction {
			return p.Ticket, nil
		}
	}
	return 0, nil
}

func openMarket(ctx context.Context, cfg Config, corrMap *correspondence.Map, gw ClientGateway, donorPos types.DonorPosition, donorKey types.DonorKey, lot float64, magic int64, logger *slog.Logger) error {
	req := types.OrderRequest{
		Action:    types.ActionPlaceMarket,
		Symbol:    donorPos.Symbol,
		Direction: donorPos.Direction,
		Volume:    lot,
		Magic:     magic,
	}
	if cfg.CopySLTP {
		req.SL = donorPos.SL
		req.TP = donorPos.TP
	}

	result, err := gw.Submit(ctx, req)
	if err != nil {
		return err
	}
	if result.RetCode != types.RetOK {
		logger.Warn("market open rejected", "donor", donorKey, "retcode", result.RetCode)
		return nil
	}

	// result.Ticket is the broker's order ticket, which on some platforms
	// (MT5) differs from the resulting position ticket. DealByOrder is the
	// primary way to resolve one to the other (SPEC_FULL.md §SUPPLEMENTED
	// item 3); brokers that hand back the position ticket directly (no
	// deal recorded yet) fall through to using it as-is, and the
	// symbol+direction scan is the last-resort fallback when even that
	// isn't available yet.
	ticket := int64(0)
	if result.Ticket != 0 {
		if posTicket, found, err := gw.DealByOrder(ctx, result.Ticket); err == nil && found {
			ticket = posTicket
		} else {
			ticket = result.Ticket
		}
	}
	if ticket == 0 {
		cfg.sleep(cfg.settleDelay())
		positions, err := gw.ListPositions(ctx)
		if err != nil {
			return err
		}
		for _, p := range positions {
			if p.Symbol == donorPos.Symbol && p.Direction == donorPos.Direction {
				ticket = p.Ticket
				break
			}
		}
	}
	if ticket == 0 {
		return fmt.Errorf("planner: market open for donor %s succeeded but no resulting position was found", donorKey)
	}
	return corrMap.LinkPosition(donorKey, ticket)
}

func openLimit(ctx context.Context, cfg Config, corrMap *correspondence.Map, gw ClientGateway, donorPos types.DonorPosition, donorKey types.DonorKey, info types.SymbolInfo, lot float64, magic int64, logger *slog.Logger) error {
	kind := types.BuyLimit
	if donorPos.Direction == types.SELL {
		kind = types.SellLimit
	}
	point := pricing.PointSize(info.Digits)

	marketRef := func() (float64, error) {
		tick, err := gw.Tick(ctx, donorPos.Symbol)
		if err != nil {
			return 0, err
		}
		if kind == types.BuyLimit {
			return tick.Ask, nil
		}
		return tick.Bid, nil
	}
	submit := func(price float64) (types.SubmitResult, error) {
		req := types.OrderRequest{
			Action: types.ActionPlacePending,
			Symbol: donorPos.Symbol,
			Kind:   kind,
			Volume: lot,
			Price:  price,
			Magic:  magic,
		}
		if cfg.CopySLTP {
			req.SL = donorPos.SL
			req.TP = donorPos.TP
		}
		return gw.Submit(ctx, req)
	}

	result, err := pricing.PlaceWithRetry(kind, donorPos.PriceOpen, cfg.OffsetPoints, point, info.Digits, cfg.MaxRetries, marketRef, submit)
	if err != nil {
		return err
	}
	if result.RetCode != types.RetOK {
		logger.Warn("limit open exhausted retries", "donor", donorKey, "retcode", result.RetCode)
		return nil
	}
	return corrMap.AddOpenOrder(result.Ticket, correspondence.OpenOrderInfo{
		DonorKey:      donorKey,
		Symbol:        donorPos.Symbol,
		Kind:          kind,
		OriginalPrice: donorPos.PriceOpen,
	})
}
