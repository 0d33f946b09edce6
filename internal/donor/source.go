// Package donor implements the Donor Source polymorphism and the Donor
// Aggregator (spec §4.2): an in-process variant backed by a Broker Gateway,
// and a socket variant reading length-prefixed JSON frames from an external
// terminal agent. Both the MT4 and MT5 socket variants share this same wire
// format and are represented as the same type, differing only in the
// logging label attached at construction (spec §9 "Polymorphic donor
// sources").
package donor

import (
	"context"

	"fx-copier/pkg/types"
)

// Source is the capability set every donor variant implements (spec §4.2).
type Source interface {
	ID() types.SourceID
	Connect(ctx context.Context) error
	Disconnect() error
	Positions() ([]types.DonorPosition, error)
	Orders() ([]types.DonorPendingOrder, error)
	AccountInfo() (types.AccountInfo, error)
	IsConnected() bool
}
