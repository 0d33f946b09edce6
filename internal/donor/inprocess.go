package donor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"fx-copier/internal/gateway"
	"fx-copier/pkg/types"
)

// readTimeout bounds every in-process donor round trip (spec §5: "5s for
// reads").
const readTimeout = 5 * time.Second

// InProcess is the in-process donor variant: it owns its own Broker Gateway
// equivalent opened against a specific donor account and queries it with
// synchronous round-trips (spec §4.2).
type InProcess struct {
	sourceID types.SourceID
	gw       *gateway.Gateway
	connected atomic.Bool
}

// NewInProcess wires an already-constructed Gateway (its session pointed at
// the donor account) into a Source.
func NewInProcess(sourceID types.SourceID, gw *gateway.Gateway) *InProcess {
	return &InProcess{sourceID: sourceID, gw: gw}
}

func (s *InProcess) ID() types.SourceID { return s.sourceID }

func (s *InProcess) Connect(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	if _, err := s.gw.AccountInfo(callCtx); err != nil {
		return fmt.Errorf("donor %s: connect: %w", s.sourceID, err)
	}
	s.connected.Store(true)
	return nil
}

func (s *InProcess) Disconnect() error {
	s.connected.Store(false)
	s.gw.Stop()
	return nil
}

func (s *InProcess) IsConnected() bool { return s.connected.Load() }

func (s *InProcess) Positions() ([]types.DonorPosition, error) {
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()
	raw, err := s.gw.Positions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.DonorPosition, 0, len(raw))
	for _, p := range raw {
		out = append(out, types.DonorPosition{
			Ticket:       p.Ticket,
			Symbol:       p.Symbol,
			Direction:    p.Direction,
			Volume:       p.Volume,
			PriceOpen:    p.PriceOpen,
			PriceCurrent: p.PriceCurrent,
			Profit:       p.Profit,
			TimeOpened:   p.Time,
			SourceID:     s.sourceID,
			MagicTag:     ptr(p.Magic),
			Comment:      p.Comment,
		})
	}
	return out, nil
}

func (s *InProcess) Orders() ([]types.DonorPendingOrder, error) {
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()
	raw, err := s.gw.Orders(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.DonorPendingOrder, 0, len(raw))
	for _, o := range raw {
		out = append(out, types.DonorPendingOrder{
			Ticket:    o.Ticket,
			Symbol:    o.Symbol,
			Kind:      o.Kind,
			Volume:    o.VolumeCurrent,
			Price:     o.PriceOpen,
			TimeSetup: o.TimeSetup,
			SourceID:  s.sourceID,
		})
	}
	return out, nil
}

func (s *InProcess) AccountInfo() (types.AccountInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()
	return s.gw.AccountInfo(ctx)
}

func ptr(v int64) *int64 { return &v }
