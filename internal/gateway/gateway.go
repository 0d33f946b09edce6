// Package gateway implements the Broker Gateway: a per-account isolated
// worker that owns one broker-library session and serves a request/response
// command channel (spec §4.1, §5). cmd/copier constructs one Gateway
// against the client terminal (read/write) and one per in-process donor
// account (read-only use), each linearizing every command against its
// own session so broker-library state mutation is never touched
// concurrently from two goroutines.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/conc"

	"fx-copier/pkg/types"
)

// SessionPosition and SessionOrder are the broker-library's raw position/
// order shape (spec §6: "the engine depends on operations to ... fetch
// positions/orders/deals/account info"). Gateway does not interpret magic
// tags or source ids itself — that shaping is the caller's job (see
// ClientView for the client-side magic filter, and internal/donor/inprocess.go
// for the donor-side mapping into types.DonorPosition).
type SessionPosition struct {
	Ticket       int64
	Symbol       string
	Direction    types.Direction
	Volume       float64
	PriceOpen    float64
	PriceCurrent float64
	Profit       float64
	Time         int64
	Magic        int64
	Comment      string
}

type SessionOrder struct {
	Ticket          int64
	Symbol          string
	Kind            types.OrderKind
	VolumeInitial   float64
	VolumeCurrent   float64
	PriceOpen       float64
	TimeSetup       int64
}

// BrokerSession is the opaque broker terminal library surface the engine
// consumes (spec §6). The concrete implementation (MT4/MT5 terminal
// bindings, or any other broker API) is environmental and supplied by the
// caller; Gateway only serializes access to it.
type BrokerSession interface {
	Positions(ctx context.Context) ([]SessionPosition, error)
	Orders(ctx context.Context) ([]SessionOrder, error)
	AccountInfo(ctx context.Context) (types.AccountInfo, error)
	Submit(ctx context.Context, req types.OrderRequest) (types.SubmitResult, error)
	Tick(ctx context.Context, symbol string) (types.Tick, error)
	SymbolCheck(ctx context.Context, symbol string) (types.SymbolInfo, bool, error)
	DealByOrder(ctx context.Context, orderTicket int64) (positionTicket int64, found bool, err error)
	Close() error
}

type requestKind int

const (
	reqPositions requestKind = iota
	reqOrders
	reqAccountInfo
	reqSubmit
	reqTick
	reqSymbolCheck
	reqDealByOrder
	reqShutdown
)

type response struct {
	positions []SessionPosition
	orders    []SessionOrder
	account   types.AccountInfo
	result    types.SubmitResult
	tick      types.Tick
	symbol    types.SymbolInfo
	symbolOK  bool
	dealPos   int64
	dealFound bool
	err       error
}

type request struct {
	kind      requestKind
	symbol    string
	orderReq  types.OrderRequest
	dealOrder int64
	reply     chan response
}

// Gateway serializes every command against one BrokerSession in FIFO order
// (spec §4.1 "critical contract"), so all mutation of a given account is
// totally ordered.
type Gateway struct {
	name    string
	session BrokerSession
	logger  *slog.Logger

	reqCh  chan request
	cancel context.CancelFunc
	wg     conc.WaitGroup
}

// New creates a Gateway over session. Call Start to begin serving commands.
func New(name string, session BrokerSession, logger *slog.Logger) *Gateway {
	return &Gateway{
		name:    name,
		session: session,
		logger:  logger.With("component", "gateway", "account", name),
		reqCh:   make(chan request),
	}
}

// Start spawns the single worker goroutine that owns the broker session.
func (g *Gateway) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.wg.Go(func() { g.loop(ctx) })
}

// Stop sends an explicit shutdown command, then cancels the worker context
// as a backstop, and joins (spec §5 "Cancellation").
func (g *Gateway) Stop() {
	select {
	case g.reqCh <- request{kind: reqShutdown, reply: make(chan response, 1)}:
	default:
	}
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
}

func (g *Gateway) loop(ctx context.Context) {
	defer func() {
		if err := g.session.Close(); err != nil {
			g.logger.Warn("error closing broker session", "error", err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-g.reqCh:
			if req.kind == reqShutdown {
				req.reply <- response{}
				return
			}
			req.reply <- g.handle(ctx, req)
		}
	}
}

func (g *Gateway) handle(ctx context.Context, req request) response {
	switch req.kind {
	case reqPositions:
		pos, err := g.session.Positions(ctx)
		return response{positions: pos, err: err}
	case reqOrders:
		ord, err := g.session.Orders(ctx)
		return response{orders: ord, err: err}
	case reqAccountInfo:
		acc, err := g.session.AccountInfo(ctx)
		return response{account: acc, err: err}
	case reqSubmit:
		res, err := g.session.Submit(ctx, req.orderReq)
		return response{result: res, err: err}
	case reqTick:
		t, err := g.session.Tick(ctx, req.symbol)
		return response{tick: t, err: err}
	case reqSymbolCheck:
		info, ok, err := g.session.SymbolCheck(ctx, req.symbol)
		return response{symbol: info, symbolOK: ok, err: err}
	case reqDealByOrder:
		pos, found, err := g.session.DealByOrder(ctx, req.dealOrder)
		return response{dealPos: pos, dealFound: found, err: err}
	default:
		return response{err: fmt.Errorf("gateway: unknown request kind %d", req.kind)}
	}
}

func (g *Gateway) call(ctx context.Context, req request) (response, error) {
	req.reply = make(chan response, 1)
	select {
	case g.reqCh <- req:
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	select {
	case resp := <-req.reply:
		return resp, resp.err
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// Positions returns every open position on the account (unfiltered; the
// client-side magic filter is applied by ClientView, not here).
func (g *Gateway) Positions(ctx context.Context) ([]SessionPosition, error) {
	resp, err := g.call(ctx, request{kind: reqPositions})
	return resp.positions, err
}

// Orders returns every pending order on the account (unfiltered).
func (g *Gateway) Orders(ctx context.Context) ([]SessionOrder, error) {
	resp, err := g.call(ctx, request{kind: reqOrders})
	return resp.orders, err
}

func (g *Gateway) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	resp, err := g.call(ctx, request{kind: reqAccountInfo})
	return resp.account, err
}

func (g *Gateway) Submit(ctx context.Context, order types.OrderRequest) (types.SubmitResult, error) {
	resp, err := g.call(ctx, request{kind: reqSubmit, orderReq: order})
	return resp.result, err
}

func (g *Gateway) Tick(ctx context.Context, symbol string) (types.Tick, error) {
	resp, err := g.call(ctx, request{kind: reqTick, symbol: symbol})
	return resp.tick, err
}

// SymbolCheck selects the symbol into the active watch list, fetches its
// metadata, then a tick; the underlying session implements that three-step
// sequence (spec §4.1 "Symbol selection"). ok is false when the symbol is
// unavailable for trading.
func (g *Gateway) SymbolCheck(ctx context.Context, symbol string) (types.SymbolInfo, bool, error) {
	resp, err := g.call(ctx, request{kind: reqSymbolCheck, symbol: symbol})
	return resp.symbol, resp.symbolOK, err
}

// DealByOrder maps a filled order's deal back to the resulting position
// ticket (supplemented from original_source/terminal_worker.py's
// get_deal_by_order; used by the Order Planner's fill-confirmation step).
func (g *Gateway) DealByOrder(ctx context.Context, orderTicket int64) (int64, bool, error) {
	resp, err := g.call(ctx, request{kind: reqDealByOrder, dealOrder: orderTicket})
	return resp.dealPos, resp.dealFound, err
}
