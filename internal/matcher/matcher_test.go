package matcher

import (
	"testing"

	"fx-copier/pkg/types"
)

func magic(v int64) *int64 { return &v }

func baseDonor() types.DonorPosition {
	return types.DonorPosition{
		Ticket: 1, SourceID: "A", Symbol: "EURUSD", Direction: types.BUY,
		Volume: 0.1, PriceOpen: 1.10000, TimeOpened: 1000,
	}
}

func baseClient() types.ClientPosition {
	return types.ClientPosition{
		Ticket: 600, Symbol: "EURUSD", Direction: types.BUY,
		Volume: 0.01, PriceOpen: 1.10000, TimeOpened: 1000,
	}
}

func TestScore_RejectsSymbolMismatch(t *testing.T) {
	d := baseDonor()
	c := baseClient()
	c.Symbol = "GBPUSD"
	if _, ok := Score(Input{Donor: d, Client: c, Point: 0.00001}); ok {
		t.Error("expected reject on symbol mismatch")
	}
}

func TestScore_RejectsDirectionMismatch(t *testing.T) {
	d := baseDonor()
	c := baseClient()
	c.Direction = types.SELL
	if _, ok := Score(Input{Donor: d, Client: c, Point: 0.00001}); ok {
		t.Error("expected reject on direction mismatch")
	}
}

func TestScore_RejectsMagicMismatchWhenCopyDonorMagicEnabled(t *testing.T) {
	d := baseDonor()
	d.MagicTag = magic(111)
	c := baseClient()
	c.MagicTag = 222
	if _, ok := Score(Input{Donor: d, Client: c, Point: 0.00001, CopyDonorMagic: true}); ok {
		t.Error("expected hard reject on magic mismatch with copy_donor_magic enabled")
	}
}

func TestScore_ExactMagicBeatsNoMagic(t *testing.T) {
	d := baseDonor()
	d.MagicTag = magic(111)

	withMagic := baseClient()
	withMagic.MagicTag = 111

	withoutMagic := baseClient()
	withoutMagic.Ticket = 601
	withoutMagic.MagicTag = 999

	scoreWith, ok := Score(Input{Donor: d, Client: withMagic, Point: 0.00001})
	if !ok {
		t.Fatal("expected accept")
	}
	scoreWithout, ok := Score(Input{Donor: d, Client: withoutMagic, Point: 0.00001})
	if !ok {
		t.Fatal("expected accept")
	}
	if scoreWith <= scoreWithout {
		t.Errorf("exact-magic score %v should exceed no-magic score %v", scoreWith, scoreWithout)
	}
}

func TestScore_OpenTimeDeltaPenalizesFarApart(t *testing.T) {
	d := baseDonor()
	d.TimeOpened = 0

	near := baseClient()
	near.TimeOpened = 30 // within 60s band

	far := baseClient()
	far.Ticket = 601
	far.TimeOpened = 90000 // > 86400s band

	scoreNear, ok := Score(Input{Donor: d, Client: near, Point: 0.00001})
	if !ok {
		t.Fatal("expected accept")
	}
	scoreFar, ok := Score(Input{Donor: d, Client: far, Point: 0.00001})
	if !ok {
		t.Fatal("expected accept")
	}
	if scoreFar >= scoreNear {
		t.Errorf("far-apart score %v should be strictly less than near score %v", scoreFar, scoreNear)
	}
}

func TestScore_PriceProximityWithinToleranceIsPositive(t *testing.T) {
	d := baseDonor()
	c := baseClient()
	c.PriceOpen = 1.10000 + 0.0005 // within max(100*point, 0.01) = 0.01

	score, ok := Score(Input{Donor: d, Client: c, Point: 0.00001})
	if !ok {
		t.Fatal("expected accept")
	}
	if score <= 20 {
		t.Errorf("expected score above the 20-point baseline, got %v", score)
	}
}

func TestScore_SavedPairingBonus(t *testing.T) {
	d := baseDonor()
	c := baseClient()

	plain, _ := Score(Input{Donor: d, Client: c, Point: 0.00001})
	saved, _ := Score(Input{Donor: d, Client: c, Point: 0.00001, SavedPairing: true})
	if saved != plain+10 {
		t.Errorf("got saved=%v plain=%v, want saved == plain+10", saved, plain)
	}
}

func TestMatch_GreedyConsumesHighestScoreFirst(t *testing.T) {
	donor := baseDonor()
	donor.MagicTag = magic(111)

	exact := baseClient()
	exact.MagicTag = 111

	weaker := baseClient()
	weaker.Ticket = 601
	weaker.MagicTag = 999
	weaker.TimeOpened = 5000

	matched, unmatchedDonors, unmatchedClients := Match(
		[]types.DonorPosition{donor},
		[]types.ClientPosition{weaker, exact}, // weaker listed first
		0.00001, false, nil,
	)
	if len(matched) != 1 {
		t.Fatalf("got %d matches, want 1", len(matched))
	}
	if matched[0].ClientPos.Ticket != exact.Ticket {
		t.Errorf("expected the exact-magic client to win, got ticket %d", matched[0].ClientPos.Ticket)
	}
	if len(unmatchedDonors) != 0 {
		t.Errorf("expected no unmatched donors, got %v", unmatchedDonors)
	}
	if len(unmatchedClients) != 1 || unmatchedClients[0].Ticket != weaker.Ticket {
		t.Errorf("expected weaker client left unmatched, got %v", unmatchedClients)
	}
}

func TestMatch_NoDonorOrClientUsedTwice(t *testing.T) {
	d1 := baseDonor()
	d2 := baseDonor()
	d2.Ticket = 2

	c := baseClient()

	matched, _, unmatchedClients := Match([]types.DonorPosition{d1, d2}, []types.ClientPosition{c}, 0.00001, false, nil)
	if len(matched) != 1 {
		t.Fatalf("got %d matches, want 1 (client can only be consumed once)", len(matched))
	}
	if len(unmatchedClients) != 0 {
		t.Errorf("client was consumed, should not also appear unmatched: %v", unmatchedClients)
	}
}

func TestMatch_BelowThresholdRejected(t *testing.T) {
	d := baseDonor()
	d.TimeOpened = 0

	c := baseClient()
	c.TimeOpened = 200000 // far beyond all time bands: scores 0 bonus
	c.PriceOpen = 2.0      // wildly off: heavy price penalty

	matched, unmatchedDonors, unmatchedClients := Match([]types.DonorPosition{d}, []types.ClientPosition{c}, 0.00001, false, nil)
	if len(matched) != 0 {
		t.Errorf("expected no match below threshold, got %v", matched)
	}
	if len(unmatchedDonors) != 1 || len(unmatchedClients) != 1 {
		t.Errorf("expected both sides left unmatched, got donors=%v clients=%v", unmatchedDonors, unmatchedClients)
	}
}
