// Package brokersession is the single wiring point for gateway.BrokerSession,
// the broker terminal library the engine depends on but never implements
// itself (spec §6: "the exact library is environmental; only this operation
// surface is consumed"). Dial is deliberately unimplemented here — a
// deployment supplies its own terminal binding (an MT4/MT5 manager API, a
// vendor SDK, whatever the broker publishes) by replacing this package's
// Dial function, not by extending the engine.
package brokersession

import (
	"fmt"

	"fx-copier/internal/gateway"
)

// Dial opens a BrokerSession pointed at the terminal installation for the
// given account number. The stock implementation always fails: plugging in
// a real terminal binding is a deployment concern, never a reconciliation
// concern, so there is nothing generic to fall back to.
func Dial(accountNumber int64) (gateway.BrokerSession, error) {
	return nil, fmt.Errorf("brokersession: no terminal binding registered for account %d (supply a concrete gateway.BrokerSession for this deployment's broker library)", accountNumber)
}
