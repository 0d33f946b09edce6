package persist

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"fx-copier/internal/correspondence"
	"fx-copier/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func magic(v int64) *int64 { return &v }

func TestPersistor_SaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync_state.json")
	p := New(path, testLogger())

	donorKey := types.DonorKey{SourceID: "A", Ticket: 1}
	in := BuildInput{
		PosLink: map[types.DonorKey]int64{donorKey: 600},
		OpenOrderLink: map[int64]correspondence.OpenOrderInfo{
			601: {DonorKey: types.DonorKey{SourceID: "A", Ticket: 2}, Symbol: "EURUSD", Kind: types.BuyLimit, OriginalPrice: 1.2345},
		},
		CloseOrderLink: map[types.DonorKey]int64{
			{SourceID: "A", Ticket: 3}: 602,
		},
		CloseOrderInfo: map[int64]correspondence.CloseOrderInfo{
			602: {DonorKey: types.DonorKey{SourceID: "A", Ticket: 3}, Symbol: "GBPUSD", Kind: types.SellLimit, OriginalClosePrice: 1.5, ClientPositionTicket: 603},
		},
		PendingOrderLink: map[types.DonorKey]int64{
			{SourceID: "A", Ticket: 4}: 604,
		},
		DonorPositionsByKey: map[types.DonorKey]types.DonorPosition{
			donorKey: {Ticket: 1, SourceID: "A", Symbol: "EURUSD", Direction: types.BUY, Volume: 0.1, PriceOpen: 1.1000, TimeOpened: 1000, MagicTag: magic(42), Comment: "donor"},
		},
		ClientPositionsByTicket: map[int64]types.ClientPosition{
			600: {Ticket: 600, Symbol: "EURUSD", Direction: types.BUY, Volume: 0.1, PriceOpen: 1.1001, TimeOpened: 1001, MagicTag: 99, Comment: "client"},
		},
		NowUnix: 123456,
	}

	if err := p.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := p.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected non-nil Loaded after Save")
	}
	if loaded.Timestamp != 123456 {
		t.Errorf("got timestamp %d, want 123456", loaded.Timestamp)
	}

	snap, ok := loaded.PosLink[donorKey]
	if !ok {
		t.Fatal("expected pos_link entry for donor key")
	}
	if snap.ClientTicket != 600 || snap.Symbol != "EURUSD" || snap.Direction != types.BUY {
		t.Errorf("got %+v", snap)
	}
	if snap.DonorMagic == nil || *snap.DonorMagic != 42 {
		t.Errorf("got DonorMagic %v, want 42", snap.DonorMagic)
	}
	if snap.ClientMagic != 99 || snap.DonorComment != "donor" || snap.ClientComment != "client" {
		t.Errorf("got %+v", snap)
	}

	openInfo, ok := loaded.OpenOrderLink[601]
	if !ok || openInfo.Symbol != "EURUSD" || openInfo.Kind != types.BuyLimit {
		t.Errorf("got %+v, ok=%v", openInfo, ok)
	}
	if openInfo.DonorKey != (types.DonorKey{SourceID: "A", Ticket: 2}) {
		t.Errorf("got donor key %v", openInfo.DonorKey)
	}

	closeTicket, ok := loaded.CloseOrderLink[types.DonorKey{SourceID: "A", Ticket: 3}]
	if !ok || closeTicket != 602 {
		t.Errorf("got (%d, %v), want (602, true)", closeTicket, ok)
	}

	closeInfo, ok := loaded.CloseOrderInfo[602]
	if !ok || closeInfo.ClientPositionTicket != 603 || closeInfo.Kind != types.SellLimit {
		t.Errorf("got %+v, ok=%v", closeInfo, ok)
	}

	pendingTicket, ok := loaded.PendingOrderLink[types.DonorKey{SourceID: "A", Ticket: 4}]
	if !ok || pendingTicket != 604 {
		t.Errorf("got (%d, %v), want (604, true)", pendingTicket, ok)
	}
}

func TestPersistor_Load_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	p := New(path, testLogger())

	loaded, err := p.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil Loaded for a missing file, got %+v", loaded)
	}
}

func TestPersistor_Load_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sync_state.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	p := New(path, testLogger())
	loaded, err := p.Load()
	if err != nil {
		t.Fatalf("expected corrupt file to be handled without error, got %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil Loaded for a corrupt file, got %+v", loaded)
	}
}

func TestPersistor_Save_IsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sync_state.json")
	p := New(path, testLogger())

	if err := p.Save(BuildInput{NowUnix: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("expected temp file to be renamed away, found %s", e.Name())
		}
	}
}
