package donor

import (
	"context"
	"log/slog"

	"fx-copier/pkg/types"
)

// Aggregator fans out a list of configured donor sources and, per cycle,
// concatenates their position/order lists, tagging each item with its
// source id (spec §4.2). There is no cross-source deduplication. Grounded
// on original_source/donors/donor_manager.py's DonorManager.
type Aggregator struct {
	sources []Source
	logger  *slog.Logger
}

func NewAggregator(logger *slog.Logger) *Aggregator {
	return &Aggregator{logger: logger.With("component", "donor-aggregator")}
}

// Add connects src and, on success, registers it. A source that fails to
// connect is logged, not registered, and its error is returned; the engine
// calls Add once per source at startup, so such a source stays out of the
// aggregation. A registered source handles its own reconnects (SocketFeed
// runs its own reconnect loop).
func (a *Aggregator) Add(ctx context.Context, src Source) error {
	if err := src.Connect(ctx); err != nil {
		a.logger.Error("donor failed to connect", "source", src.ID(), "error", err)
		return err
	}
	a.sources = append(a.sources, src)
	a.logger.Info("donor connected", "source", src.ID())
	return nil
}

// Positions unions every connected source's positions. A failing source
// (error) is logged and skipped for this cycle; its items are simply
// absent until it recovers (spec §4.2, §7 "Donor source disconnect").
func (a *Aggregator) Positions() []types.DonorPosition {
	var all []types.DonorPosition
	for _, src := range a.sources {
		if !src.IsConnected() {
			continue
		}
		positions, err := src.Positions()
		if err != nil {
			a.logger.Error("error fetching donor positions", "source", src.ID(), "error", err)
			continue
		}
		all = append(all, positions...)
	}
	return all
}

func (a *Aggregator) Orders() []types.DonorPendingOrder {
	var all []types.DonorPendingOrder
	for _, src := range a.sources {
		if !src.IsConnected() {
			continue
		}
		orders, err := src.Orders()
		if err != nil {
			a.logger.Error("error fetching donor orders", "source", src.ID(), "error", err)
			continue
		}
		all = append(all, orders...)
	}
	return all
}

// ConnectedCount reports how many donor sources are currently connected.
func (a *Aggregator) ConnectedCount() int {
	n := 0
	for _, src := range a.sources {
		if src.IsConnected() {
			n++
		}
	}
	return n
}

// Sources returns the configured donor sources (for status reporting).
func (a *Aggregator) Sources() []Source {
	return a.sources
}

// DisconnectAll tears down every source in reverse order of registration.
func (a *Aggregator) DisconnectAll() {
	for i := len(a.sources) - 1; i >= 0; i-- {
		if err := a.sources[i].Disconnect(); err != nil {
			a.logger.Error("error disconnecting donor", "source", a.sources[i].ID(), "error", err)
		}
	}
	a.sources = nil
}
