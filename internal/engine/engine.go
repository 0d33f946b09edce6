// Package engine is the central orchestrator of the reconciliation
// engine. It wires every subsystem into one cooperative loop:
//
//	Donor Aggregator -> Position Monitor -> Order Planner ->
//	Pending-Order Walker -> fill/cancel checks -> State Persistor (on change)
//
// Lifecycle: New() -> Start() -> [runs until context cancellation] -> Stop().
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fx-copier/internal/config"
	"fx-copier/internal/correspondence"
	"fx-copier/internal/donor"
	"fx-copier/internal/gateway"
	"fx-copier/internal/lotsize"
	"fx-copier/internal/matcher"
	"fx-copier/internal/monitor"
	"fx-copier/internal/persist"
	"fx-copier/internal/planner"
	"fx-copier/internal/pricing"
	"fx-copier/internal/status"
	"fx-copier/pkg/types"
)

// symbolPointCache remembers a symbol's point size for one reconciliation
// cycle so the Matcher (which scores every donor/client pair up front) does
// not need its own gateway round-trips per pair.
type symbolPointCache struct {
	client ClientGatewayReader
	cache  map[string]float64
}

// ClientGatewayReader is the subset of the client gateway the engine itself
// (outside the planner) needs directly.
type ClientGatewayReader interface {
	SymbolCheck(ctx context.Context, symbol string) (types.SymbolInfo, bool, error)
}

func newSymbolPointCache(client ClientGatewayReader) *symbolPointCache {
	return &symbolPointCache{client: client, cache: make(map[string]float64)}
}

func (c *symbolPointCache) point(ctx context.Context, symbol string) float64 {
	if p, ok := c.cache[symbol]; ok {
		return p
	}
	info, ok, err := c.client.SymbolCheck(ctx, symbol)
	if err != nil || !ok {
		return 0.00001 // fall back to a conservative 5-digit point
	}
	p := pricing.PointSize(info.Digits)
	c.cache[symbol] = p
	return p
}

// Engine owns every component's lifecycle and drives the reconciliation
// loop.
type Engine struct {
	cfg    config.EngineConfig
	logger *slog.Logger

	clientGW *gateway.Gateway
	client   *gateway.ClientView

	aggregator *donor.Aggregator
	mon        *monitor.Monitor
	corrMap    *correspondence.Map
	persistor  *persist.Persistor
	plannerCfg planner.Config

	statusServer *status.Server
	notifier     *status.Notifier

	donorMeta     map[types.SourceID]DonorMeta // source id -> descriptive info, for status snapshots
	lastConnected map[types.SourceID]bool      // tracks connect/disconnect transitions for the webhook notifier

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DonorMeta is the purely informational donor config detail surfaced in
// status snapshots (supplemented from donor_manager.py's add_donor).
type DonorMeta struct {
	Type        string
	Description string
}

// New wires every component together but does not start the loop.
// clientGW is an already-constructed gateway (its session pointed at the
// client terminal); the caller owns constructing the environment-specific
// BrokerSession it wraps, and the donor Sources passed in separately.
func New(cfg config.EngineConfig, sources []donor.Source, clientGW *gateway.Gateway, statePath string, logger *slog.Logger, donorMeta map[types.SourceID]DonorMeta) (*Engine, error) {
	logger = logger.With("component", "engine")

	var magicPtr *int64
	if !cfg.OrderConfig.CopyDonorMagic {
		m := cfg.OrderConfig.Magic
		magicPtr = &m
	}
	client := gateway.NewClientView(clientGW, magicPtr)

	style := planner.StyleMarket
	if cfg.CopyStyle == "by_limits" {
		style = planner.StyleLimit
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		clientGW:   clientGW,
		client:     client,
		aggregator: donor.NewAggregator(logger),
		mon:        monitor.New(),
		corrMap:    correspondence.New(),
		persistor:  persist.New(statePath, logger),
		donorMeta:  donorMeta,

		lastConnected: make(map[types.SourceID]bool, len(sources)),
		plannerCfg: planner.Config{
			Magic:            cfg.OrderConfig.Magic,
			CopyDonorMagic:   cfg.OrderConfig.CopyDonorMagic,
			Style:            style,
			OptimizeToMarket: cfg.OrderConfig.OptimizeToMarket,
			OffsetPoints:     cfg.OrderConfig.LimitOffsetPoints,
			MaxRetries:       cfg.OrderConfig.MaxRetries,
			CopySLTP:         cfg.OrderConfig.CopySLTP,
			Lot: lotsize.Config{
				Mode:   lotsize.Mode(cfg.LotConfig.Mode),
				Value:  cfg.LotConfig.Value,
				MinLot: cfg.LotConfig.MinLot,
				MaxLot: cfg.LotConfig.MaxLot,
			},
		},
	}

	if cfg.Status.Enabled {
		e.statusServer = status.NewServer(cfg.Status.Port, cfg.Status.AllowedOrigins, e, logger)
	}
	e.notifier = status.NewNotifier(cfg.Status.WebhookURL, logger)

	ctx, cancel := context.WithCancel(context.Background())
	e.ctx, e.cancel = ctx, cancel

	for _, src := range sources {
		if err := e.aggregator.Add(ctx, src); err != nil {
			logger.Warn("donor source failed to connect at startup", "source", src.ID(), "error", err)
		}
	}

	return e, nil
}

// Start restores correspondence from disk (spec §4.10 steps 1-3), then
// launches the status server (if enabled) and the main reconciliation
// loop.
func (e *Engine) Start() error {
	if err := e.restoreCorrespondence(e.ctx); err != nil {
		return err
	}

	if e.statusServer != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.statusServer.Start(); err != nil {
				e.logger.Error("status server failed", "error", err)
			}
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run()
	}()

	return nil
}

// Stop cancels the loop, joins every goroutine, and disconnects resources
// in reverse acquisition order (spec §5 "Resource policy").
func (e *Engine) Stop() {
	e.logger.Info("shutting down")
	e.cancel()
	e.wg.Wait()

	if e.statusServer != nil {
		if err := e.statusServer.Stop(); err != nil {
			e.logger.Error("failed to stop status server", "error", err)
		}
	}

	e.aggregator.DisconnectAll()
	e.clientGW.Stop()

	e.logger.Info("shutdown complete")
}

// run is the single-threaded cooperative reconciliation loop (spec §5).
func (e *Engine) run() {
	interval := e.cfg.CheckInterval
	if interval <= 0 {
		interval = time.Second
	}

	for {
		if err := e.cycle(e.ctx); err != nil {
			e.logger.Error("reconciliation cycle failed", "error", err)
		}

		select {
		case <-e.ctx.Done():
			e.persist(context.Background())
			return
		case <-time.After(interval):
		}
	}
}

// cycle runs exactly one pass of the control flow named in spec §2:
// Donor Aggregator -> Position Monitor -> Order Planner -> Pending-Order
// Walker -> fill/cancel checks -> State Persistor (on change).
func (e *Engine) cycle(ctx context.Context) error {
	e.checkDonorConnections(ctx)

	donorPositions := e.aggregator.Positions()
	donorOrders := e.aggregator.Orders()

	changed := false

	for _, p := range e.mon.NewDonorPositions(donorPositions) {
		if err := planner.OpenCopy(ctx, e.plannerCfg, e.corrMap, e.client, p, e.logger); err != nil {
			return err
		}
		changed = true
	}

	var lastKnown map[types.DonorKey]types.DonorPosition
	for _, p := range donorPositions {
		if lastKnown == nil {
			lastKnown = make(map[types.DonorKey]types.DonorPosition, len(donorPositions))
		}
		lastKnown[p.Key()] = p
	}
	// lastKnown holds only this cycle's donor positions, and a closed key is
	// by definition absent from it, so CloseCopy receives nil here and its
	// late-matching step does not run for tickets that were never linked.
	for _, key := range e.mon.ClosedDonorTickets(donorPositions) {
		var known *types.DonorPosition
		if p, ok := lastKnown[key]; ok {
			known = &p
		}
		if err := planner.CloseCopy(ctx, e.plannerCfg, e.corrMap, e.client, key, known, time.Now().Unix(), e.logger); err != nil {
			return err
		}
		e.mon.RemoveDonorState(key)
		changed = true
	}

	if e.cfg.OrderConfig.CopyPendingOrders {
		seenPendingDonorKeys := make(map[types.DonorKey]bool, len(donorOrders))
		for _, o := range donorOrders {
			seenPendingDonorKeys[o.Key()] = true
			if err := planner.MirrorNewPendingOrder(ctx, e.plannerCfg, e.corrMap, e.client, o, e.logger); err != nil {
				return err
			}
		}
		_, _, _, _, pendingOrderLink, _ := e.corrMap.Snapshot()
		for donorKey := range pendingOrderLink {
			if seenPendingDonorKeys[donorKey] {
				continue
			}
			_, filledOnDonorSide := lastKnown[donorKey]
			if err := planner.ReconcileVanishedPendingOrder(ctx, e.corrMap, e.client, donorKey, filledOnDonorSide, e.logger); err != nil {
				return err
			}
			changed = true
		}
	}

	if err := planner.WalkOpenOrders(ctx, e.plannerCfg, e.corrMap, e.client, e.logger); err != nil {
		return err
	}
	if err := planner.WalkCloseOrders(ctx, e.plannerCfg, e.corrMap, e.client, e.logger); err != nil {
		return err
	}
	if err := planner.RunCloseByProtocol(ctx, e.plannerCfg, e.corrMap, e.client, e.logger); err != nil {
		return err
	}

	clientPositions, err := e.client.ListPositions(ctx)
	if err != nil {
		return err
	}
	for _, ch := range e.mon.VolumeChangesDonor(donorPositions) {
		e.logger.Debug("donor volume changed", "donor", ch.Key, "old", ch.OldVolume, "new", ch.NewVolume)
	}
	for _, ch := range e.mon.VolumeChangesClient(clientPositions) {
		e.logger.Debug("client volume changed", "ticket", ch.Ticket, "old", ch.OldVolume, "new", ch.NewVolume)
	}

	if changed {
		e.persist(ctx)
	}
	if e.statusServer != nil {
		e.statusServer.Broadcast(e.Snapshot())
	}
	return nil
}

// checkDonorConnections fires a best-effort webhook notification on every
// true->false transition of a donor source's connection state, so an
// operator watching the webhook learns about a dropped feed without
// polling the status server.
func (e *Engine) checkDonorConnections(ctx context.Context) {
	for _, src := range e.aggregator.Sources() {
		id := src.ID()
		connected := src.IsConnected()
		was, known := e.lastConnected[id]
		e.lastConnected[id] = connected
		if known && was && !connected {
			e.notifier.NotifyDonorDisconnect(ctx, string(id), "donor source disconnected")
		}
	}
}

// restoreCorrespondence implements spec §4.10's startup sequence: load the
// persisted map, validate each saved pos_link against live state, then run
// the Matcher over whatever remains unlinked (Open Question #2: the
// engine treats donor positions still unlinked after restoration exactly
// like newly-observed positions on the first cycle — no separate
// "initial copy" code path is needed).
func (e *Engine) restoreCorrespondence(ctx context.Context) error {
	loaded, err := e.persistor.Load()
	if err != nil {
		return err
	}
	if loaded == nil {
		// no usable state file: nothing to validate, rely on the Matcher alone.
		loaded = &persist.Loaded{}
	}

	donorPositions := e.aggregator.Positions()
	donorByKey := make(map[types.DonorKey]types.DonorPosition, len(donorPositions))
	for _, p := range donorPositions {
		donorByKey[p.Key()] = p
	}

	clientPositions, err := e.client.ListPositions(ctx)
	if err != nil {
		return err
	}
	clientByTicket := make(map[int64]types.ClientPosition, len(clientPositions))
	for _, p := range clientPositions {
		clientByTicket[p.Ticket] = p
	}

	savedPairs := make(map[types.DonorKey]int64, len(loaded.PosLink))
	linkedDonor := make(map[types.DonorKey]bool)
	linkedClient := make(map[int64]bool)

	for donorKey, snap := range loaded.PosLink {
		savedPairs[donorKey] = snap.ClientTicket

		donorPos, donorLive := donorByKey[donorKey]
		clientPos, clientLive := clientByTicket[snap.ClientTicket]
		if !donorLive || !clientLive {
			continue
		}
		if donorPos.Symbol != clientPos.Symbol || donorPos.Direction != clientPos.Direction {
			continue
		}
		if err := e.corrMap.LinkPosition(donorKey, snap.ClientTicket); err != nil {
			e.logger.Warn("discarding saved linkage that violates an invariant", "donor", donorKey, "error", err)
			continue
		}
		linkedDonor[donorKey] = true
		linkedClient[snap.ClientTicket] = true
		e.mon.InitializeDonorState(donorKey, donorPos.Volume)
		e.mon.InitializeClientState(snap.ClientTicket, clientPos.Volume)
	}

	for ticket, info := range loaded.OpenOrderLink {
		if _, err := e.client.OrderByTicket(ctx, ticket); err != nil {
			continue
		}
		if err := e.corrMap.AddOpenOrder(ticket, info); err != nil {
			e.logger.Warn("discarding saved open-order link that violates an invariant", "ticket", ticket, "error", err)
			continue
		}
		linkedDonor[info.DonorKey] = true
	}
	for donorKey, ticket := range loaded.CloseOrderLink {
		info, ok := loaded.CloseOrderInfo[ticket]
		if !ok {
			continue
		}
		if _, err := e.client.OrderByTicket(ctx, ticket); err != nil {
			continue
		}
		e.corrMap.AddCloseOrder(donorKey, ticket, info)
		linkedDonor[donorKey] = true
	}
	for donorKey, ticket := range loaded.PendingOrderLink {
		if _, err := e.client.OrderByTicket(ctx, ticket); err != nil {
			continue
		}
		e.corrMap.AddPendingOrderLink(donorKey, ticket)
	}

	var unmatchedDonors []types.DonorPosition
	for key, p := range donorByKey {
		if !linkedDonor[key] {
			unmatchedDonors = append(unmatchedDonors, p)
		}
	}
	var unmatchedClients []types.ClientPosition
	for ticket, p := range clientByTicket {
		if !linkedClient[ticket] {
			unmatchedClients = append(unmatchedClients, p)
		}
	}

	// donor positions still unlinked after matching are left untracked:
	// the first call to cycle's Monitor.NewDonorPositions will report them
	// as new and OpenCopy will mirror them, exactly like any position
	// observed for the first time after startup.
	e.runMatcher(ctx, unmatchedDonors, unmatchedClients, savedPairs)
	return nil
}

// runMatcher groups candidates by symbol (so each pair is scored with its
// own point size) and feeds the results into the Correspondence Map,
// seeding Monitor baselines for every accepted pairing so it is never
// mistaken for a brand-new position on cycle 1.
func (e *Engine) runMatcher(ctx context.Context, donors []types.DonorPosition, clients []types.ClientPosition, savedPairs map[types.DonorKey]int64) {
	if len(donors) == 0 || len(clients) == 0 {
		return
	}

	points := newSymbolPointCache(e.client)
	bySymbol := make(map[string][]types.DonorPosition)
	for _, d := range donors {
		bySymbol[d.Symbol] = append(bySymbol[d.Symbol], d)
	}
	clientsBySymbol := make(map[string][]types.ClientPosition)
	for _, c := range clients {
		clientsBySymbol[c.Symbol] = append(clientsBySymbol[c.Symbol], c)
	}

	for symbol, dPositions := range bySymbol {
		cPositions := clientsBySymbol[symbol]
		if len(cPositions) == 0 {
			continue
		}
		point := points.point(ctx, symbol)
		matched, _, _ := matcher.Match(dPositions, cPositions, point, e.cfg.OrderConfig.CopyDonorMagic, savedPairs)
		for _, cand := range matched {
			if err := e.corrMap.LinkPosition(cand.DonorKey, cand.ClientPos.Ticket); err != nil {
				e.logger.Warn("matcher candidate violates an invariant, discarding", "donor", cand.DonorKey, "error", err)
				continue
			}
			for _, d := range dPositions {
				if d.Key() == cand.DonorKey {
					e.mon.InitializeDonorState(cand.DonorKey, d.Volume)
					break
				}
			}
			e.mon.InitializeClientState(cand.ClientPos.Ticket, cand.ClientPos.Volume)
			e.logger.Info("matcher restored correspondence", "donor", cand.DonorKey, "client", cand.ClientPos.Ticket, "score", cand.Score, "saved", cand.SavedLinked)
		}
	}
}

// persist writes the current Correspondence Map plus enough position
// metadata to re-match on restart (spec §4.10).
func (e *Engine) persist(ctx context.Context) {
	posLink, openOrderLink, closeOrderLink, closeOrderInfo, pendingOrderLink, _ := e.corrMap.Snapshot()

	donorPositions := e.aggregator.Positions()
	donorByKey := make(map[types.DonorKey]types.DonorPosition, len(donorPositions))
	for _, p := range donorPositions {
		donorByKey[p.Key()] = p
	}

	clientPositions, err := e.client.ListPositions(ctx)
	if err != nil {
		e.logger.Error("failed to list client positions for persistence", "error", err)
		return
	}
	clientByTicket := make(map[int64]types.ClientPosition, len(clientPositions))
	for _, p := range clientPositions {
		clientByTicket[p.Ticket] = p
	}

	if err := e.persistor.Save(persist.BuildInput{
		PosLink:                 posLink,
		OpenOrderLink:           openOrderLink,
		CloseOrderLink:          closeOrderLink,
		CloseOrderInfo:          closeOrderInfo,
		PendingOrderLink:        pendingOrderLink,
		DonorPositionsByKey:     donorByKey,
		ClientPositionsByTicket: clientByTicket,
		NowUnix:                 time.Now().Unix(),
	}); err != nil {
		e.logger.Error("failed to persist correspondence state", "error", err)
	}
}

// Snapshot implements status.Provider: a read-only view of engine state
// for the optional status server.
func (e *Engine) Snapshot() status.Snapshot {
	posLink, openOrderLink, closeOrderLink, _, pendingOrderLink, skippedSymbols := e.corrMap.Snapshot()

	var donors []status.DonorStatus
	for _, src := range e.aggregator.Sources() {
		meta := e.donorMeta[src.ID()]
		donors = append(donors, status.DonorStatus{
			SourceID:    string(src.ID()),
			Type:        meta.Type,
			Connected:   src.IsConnected(),
			Description: meta.Description,
		})
	}

	return status.Snapshot{
		Timestamp:         time.Now(),
		Donors:            donors,
		PosLinkCount:      len(posLink),
		OpenOrderCount:    len(openOrderLink),
		CloseOrderCount:   len(closeOrderLink),
		PendingOrderCount: len(pendingOrderLink),
		SkippedSymbols:    skippedSymbols,
	}
}
