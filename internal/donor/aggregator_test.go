package donor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"fx-copier/pkg/types"
)

type fakeSource struct {
	id        types.SourceID
	connected bool
	positions []types.DonorPosition
	orders    []types.DonorPendingOrder
	posErr    error
}

func (f *fakeSource) ID() types.SourceID            { return f.id }
func (f *fakeSource) Connect(ctx context.Context) error { f.connected = true; return nil }
func (f *fakeSource) Disconnect() error              { f.connected = false; return nil }
func (f *fakeSource) IsConnected() bool              { return f.connected }
func (f *fakeSource) Positions() ([]types.DonorPosition, error) {
	if f.posErr != nil {
		return nil, f.posErr
	}
	return f.positions, nil
}
func (f *fakeSource) Orders() ([]types.DonorPendingOrder, error)     { return f.orders, nil }
func (f *fakeSource) AccountInfo() (types.AccountInfo, error) { return types.AccountInfo{}, nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAggregator_UnionsAcrossSources(t *testing.T) {
	a := NewAggregator(testLogger())
	s1 := &fakeSource{id: "A", connected: true, positions: []types.DonorPosition{{Ticket: 1, SourceID: "A"}}}
	s2 := &fakeSource{id: "B", connected: true, positions: []types.DonorPosition{{Ticket: 1, SourceID: "B"}}}
	a.Add(context.Background(), s1)
	a.Add(context.Background(), s2)

	positions := a.Positions()
	if len(positions) != 2 {
		t.Fatalf("got %d positions, want 2 (no cross-source dedup)", len(positions))
	}
	seen := map[types.DonorKey]bool{}
	for _, p := range positions {
		seen[p.Key()] = true
	}
	if !seen[types.DonorKey{SourceID: "A", Ticket: 1}] || !seen[types.DonorKey{SourceID: "B", Ticket: 1}] {
		t.Error("expected both (A,1) and (B,1) as distinct keys")
	}
}

func TestAggregator_SkipsDisconnectedSource(t *testing.T) {
	a := NewAggregator(testLogger())
	s1 := &fakeSource{id: "A", connected: false, positions: []types.DonorPosition{{Ticket: 1}}}
	a.Add(context.Background(), s1)
	s1.connected = false // Add() connects it; simulate later disconnect

	if got := len(a.Positions()); got != 0 {
		t.Errorf("got %d positions from disconnected source, want 0", got)
	}
}

func TestAggregator_SkipsErroringSource(t *testing.T) {
	a := NewAggregator(testLogger())
	s1 := &fakeSource{id: "A", connected: true, posErr: errors.New("boom")}
	s2 := &fakeSource{id: "B", connected: true, positions: []types.DonorPosition{{Ticket: 5}}}
	a.Add(context.Background(), s1)
	a.Add(context.Background(), s2)

	positions := a.Positions()
	if len(positions) != 1 || positions[0].Ticket != 5 {
		t.Errorf("got %+v, want only source B's position", positions)
	}
}

func TestAggregator_ConnectedCount(t *testing.T) {
	a := NewAggregator(testLogger())
	a.Add(context.Background(), &fakeSource{id: "A", connected: true})
	s2 := &fakeSource{id: "B"}
	a.sources = append(a.sources, s2) // connected=false, bypass Connect
	if got := a.ConnectedCount(); got != 1 {
		t.Errorf("got %d, want 1", got)
	}
}
