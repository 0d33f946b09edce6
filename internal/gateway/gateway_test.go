package gateway

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"fx-copier/pkg/types"
)

type fakeSession struct {
	positions []SessionPosition
	orders    []SessionOrder
	submitFn  func(types.OrderRequest) (types.SubmitResult, error)
	closed    bool
}

func (f *fakeSession) Positions(ctx context.Context) ([]SessionPosition, error) { return f.positions, nil }
func (f *fakeSession) Orders(ctx context.Context) ([]SessionOrder, error)       { return f.orders, nil }
func (f *fakeSession) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	return types.AccountInfo{Login: 1, Balance: 1000}, nil
}
func (f *fakeSession) Submit(ctx context.Context, req types.OrderRequest) (types.SubmitResult, error) {
	if f.submitFn != nil {
		return f.submitFn(req)
	}
	return types.SubmitResult{RetCode: types.RetOK, Ticket: 99}, nil
}
func (f *fakeSession) Tick(ctx context.Context, symbol string) (types.Tick, error) {
	return types.Tick{Bid: 1.1, Ask: 1.1002}, nil
}
func (f *fakeSession) SymbolCheck(ctx context.Context, symbol string) (types.SymbolInfo, bool, error) {
	return types.SymbolInfo{Symbol: symbol, Digits: 5}, true, nil
}
func (f *fakeSession) DealByOrder(ctx context.Context, orderTicket int64) (int64, bool, error) {
	return 0, false, nil
}
func (f *fakeSession) Close() error { f.closed = true; return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGateway_PositionsRoundTrip(t *testing.T) {
	session := &fakeSession{positions: []SessionPosition{
		{Ticket: 1, Symbol: "EURUSD", Magic: 234000},
		{Ticket: 2, Symbol: "GBPUSD", Magic: 111},
	}}
	gw := New("client", session, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.Start(ctx)
	defer gw.Stop()

	magic := int64(234000)
	view := NewClientView(gw, &magic)

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	positions, err := view.ListPositions(ctx2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 1 || positions[0].Ticket != 1 {
		t.Errorf("got %+v, want one position with ticket 1", positions)
	}
}

func TestGateway_NilMagicSeesEverything(t *testing.T) {
	session := &fakeSession{positions: []SessionPosition{
		{Ticket: 1, Magic: 1}, {Ticket: 2, Magic: 2},
	}}
	gw := New("donor", session, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.Start(ctx)
	defer gw.Stop()

	view := NewClientView(gw, nil)
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	positions, err := view.ListPositions(ctx2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 2 {
		t.Errorf("got %d positions, want 2", len(positions))
	}
}

func TestGateway_PositionByTicketNotFound(t *testing.T) {
	session := &fakeSession{}
	gw := New("client", session, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.Start(ctx)
	defer gw.Stop()

	view := NewClientView(gw, nil)
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if _, err := view.PositionByTicket(ctx2, 999); err != ErrNotFound {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestGateway_SerializesCommands(t *testing.T) {
	// Submits issued one after another from a single goroutine reach the
	// session one at a time, in the order sent (spec §4.1 FIFO).
	var order []int
	ch := make(chan int, 10)
	session := &fakeSession{submitFn: func(req types.OrderRequest) (types.SubmitResult, error) {
		ch <- int(req.Ticket)
		return types.SubmitResult{RetCode: types.RetOK}, nil
	}}
	gw := New("client", session, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.Start(ctx)
	defer gw.Stop()

	for i := 1; i <= 5; i++ {
		ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
		_, err := gw.Submit(ctx2, types.OrderRequest{Ticket: int64(i)})
		cancel2()
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	close(ch)
	for v := range ch {
		order = append(order, v)
	}
	for i, v := range order {
		if v != i+1 {
			t.Errorf("commands out of order: %v", order)
			break
		}
	}
}

func TestGateway_StopClosesSession(t *testing.T) {
	session := &fakeSession{}
	gw := New("client", session, testLogger())
	ctx := context.Background()
	gw.Start(ctx)
	gw.Stop()
	if !session.closed {
		t.Error("expected session to be closed after Stop")
	}
}
