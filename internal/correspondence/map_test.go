package correspondence

import (
	"errors"
	"testing"

	"fx-copier/pkg/types"
)

func TestMap_LinkPosition_Injective(t *testing.T) {
	m := New()
	d1 := types.DonorKey{SourceID: "A", Ticket: 1}
	d2 := types.DonorKey{SourceID: "A", Ticket: 2}

	if err := m.LinkPosition(d1, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.LinkPosition(d2, 100); !errors.Is(err, ErrViolatesInvariant) {
		t.Errorf("expected invariant violation linking two donors to the same client ticket, got %v", err)
	}
}

func TestMap_LinkPosition_NonOverlapWithOpenOrder(t *testing.T) {
	m := New()
	d1 := types.DonorKey{SourceID: "A", Ticket: 1}
	if err := m.AddOpenOrder(500, OpenOrderInfo{DonorKey: d1, Symbol: "EURUSD"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.LinkPosition(d1, 100); !errors.Is(err, ErrViolatesInvariant) {
		t.Errorf("expected non-overlap violation, got %v", err)
	}
}

func TestMap_PromoteOpenOrderToPosition(t *testing.T) {
	m := New()
	d1 := types.DonorKey{SourceID: "A", Ticket: 1}
	if err := m.AddOpenOrder(500, OpenOrderInfo{DonorKey: d1, Symbol: "EURUSD", OriginalPrice: 1.1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.PromoteOpenOrderToPosition(500, 600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := m.OpenOrder(500); ok {
		t.Error("expected open order to be removed after promotion")
	}
	ticket, ok := m.ClientTicketForDonor(d1)
	if !ok || ticket != 600 {
		t.Errorf("got (%d, %v), want (600, true)", ticket, ok)
	}
}

func TestMap_CloseOrderLifecycle(t *testing.T) {
	m := New()
	d1 := types.DonorKey{SourceID: "A", Ticket: 1}
	m.AddCloseOrder(d1, 700, CloseOrderInfo{DonorKey: d1, ClientPositionTicket: 600})

	if _, ok := m.CloseOrderTicket(d1); !ok {
		t.Error("expected close order ticket present")
	}
	if _, ok := m.CloseOrderInfo(700); !ok {
		t.Error("expected close order info present")
	}

	m.RemoveCloseOrder(d1, 700)
	if _, ok := m.CloseOrderTicket(d1); ok {
		t.Error("expected close order link removed")
	}
	if _, ok := m.CloseOrderInfo(700); ok {
		t.Error("expected close order info removed")
	}
}

func TestMap_SkippedSymbols(t *testing.T) {
	m := New()
	if m.IsSkipped("EURUSD") {
		t.Error("expected EURUSD not skipped initially")
	}
	m.SkipSymbol("EURUSD")
	if !m.IsSkipped("EURUSD") {
		t.Error("expected EURUSD skipped after SkipSymbol")
	}
}

func TestMap_Validate_DetectsOverlap(t *testing.T) {
	m := New()
	d1 := types.DonorKey{SourceID: "A", Ticket: 1}
	m.posLink[d1] = 100
	m.openOrderLink[999] = OpenOrderInfo{DonorKey: d1}
	if err := m.Validate(); !errors.Is(err, ErrViolatesInvariant) {
		t.Errorf("expected Validate to detect overlap, got %v", err)
	}
}

func TestMap_Snapshot_IsACopy(t *testing.T) {
	m := New()
	d1 := types.DonorKey{SourceID: "A", Ticket: 1}
	m.LinkPosition(d1, 100)
	posLink, _, _, _, _, _ := m.Snapshot()
	posLink[d1] = 999 // mutate the copy
	ticket, _ := m.ClientTicketForDonor(d1)
	if ticket != 100 {
		t.Error("expected Snapshot to return an independent copy")
	}
}
