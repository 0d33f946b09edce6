package pricing

import (
	"errors"
	"testing"

	"fx-copier/pkg/types"
)

func TestLimitPrice_BuyLimit_ScenarioFromSpec(t *testing.T) {
	// Donor opens BUY 0.10 EURUSD at 1.10000. Client bid=1.10020, ask=1.10025.
	// offset_points=2, point=0.00001 -> offset = 0.00002
	got := LimitPrice(types.BuyLimit, 1.10025, 1.10000, 0.00002, 5)
	want := 1.10000
	if diff(got, want) > 1e-9 {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLimitPrice_SellLimit(t *testing.T) {
	got := LimitPrice(types.SellLimit, 1.10000, 1.10010, 0.00002, 5)
	want := 1.10010
	if diff(got, want) > 1e-9 {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDominance_Reflexive(t *testing.T) {
	point := 0.00001
	for _, kind := range []types.OrderKind{types.BuyLimit, types.SellLimit} {
		if !Dominance(1.10000, 1.10000, kind, point) {
			t.Errorf("Dominance not reflexive for %v", kind)
		}
	}
}

func TestDominance_BuyLimit(t *testing.T) {
	point := 0.00001
	if !Dominance(1.09999, 1.10000, types.BuyLimit, point) {
		t.Error("a cheaper BUY_LIMIT price should dominate")
	}
	if Dominance(1.10010, 1.10000, types.BuyLimit, point) {
		t.Error("a pricier BUY_LIMIT price should not dominate")
	}
}

func TestLimitPrice_Monotone(t *testing.T) {
	// increasing the offset never produces a price worse for the client.
	market := 1.10025
	original := 1.10000
	point := 0.00001
	prev := LimitPrice(types.BuyLimit, market, original, 1*point, 5)
	for i := 2; i <= 20; i++ {
		cur := LimitPrice(types.BuyLimit, market, original, float64(i)*point, 5)
		if cur > prev+1e-9 {
			t.Fatalf("offset %d: price %v worse than previous %v", i, cur, prev)
		}
		prev = cur
	}
}

func TestPlaceWithRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	result, err := PlaceWithRetry(
		types.BuyLimit, 1.10000, 2, 0.00001, 5, 10,
		func() (float64, error) { return 1.10025, nil },
		func(price float64) (types.SubmitResult, error) {
			calls++
			return types.SubmitResult{RetCode: types.RetOK, Ticket: 42}, nil
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Ticket != 42 {
		t.Errorf("got ticket %d, want 42", result.Ticket)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestPlaceWithRetry_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	result, err := PlaceWithRetry(
		types.BuyLimit, 1.10000, 2, 0.00001, 5, 10,
		func() (float64, error) { return 1.10025, nil },
		func(price float64) (types.SubmitResult, error) {
			calls++
			if calls < 3 {
				return types.SubmitResult{RetCode: types.RetInvalidPrice}, nil
			}
			return types.SubmitResult{RetCode: types.RetOK, Ticket: 7}, nil
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Ticket != 7 || calls != 3 {
		t.Errorf("got ticket=%d calls=%d, want ticket=7 calls=3", result.Ticket, calls)
	}
}

func TestPlaceWithRetry_ExhaustsRetries(t *testing.T) {
	result, err := PlaceWithRetry(
		types.BuyLimit, 1.10000, 2, 0.00001, 5, 3,
		func() (float64, error) { return 1.10025, nil },
		func(price float64) (types.SubmitResult, error) {
			return types.SubmitResult{RetCode: types.RetInvalidPrice}, nil
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RetCode == types.RetOK {
		t.Error("expected exhaustion, got success")
	}
}

func TestPlaceWithRetry_MarketLookupFails(t *testing.T) {
	wantErr := errors.New("gateway timeout")
	_, err := PlaceWithRetry(
		types.BuyLimit, 1.10000, 2, 0.00001, 5, 3,
		func() (float64, error) { return 0, wantErr },
		func(price float64) (types.SubmitResult, error) {
			t.Fatal("submit should not be called when market lookup fails")
			return types.SubmitResult{}, nil
		},
	)
	if !errors.Is(err, wantErr) {
		t.Errorf("got err %v, want %v", err, wantErr)
	}
}

func diff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
