// Package monitor implements the Position Monitor: a snapshot differ that
// maintains last-seen donor/client state and emits {new, closed,
// volume-changed} deltas per cycle (spec §4.3). Grounded on
// original_source/position_monitor.py's PositionMonitor.
package monitor

import "fx-copier/pkg/types"

// volumeChangeThreshold is the minimum per-ticket volume delta considered
// significant (spec §4.3): SL/TP and price drift are explicitly ignored.
const volumeChangeThreshold = 0.001

// DonorVolumeChange records a significant volume delta on a tracked donor
// position.
type DonorVolumeChange struct {
	Key       types.DonorKey
	OldVolume float64
	NewVolume float64
}

// ClientVolumeChange records a significant volume delta on a tracked client
// position.
type ClientVolumeChange struct {
	Ticket    int64
	OldVolume float64
	NewVolume float64
}

// Monitor holds the two last-seen state maps and the tracked-donor-ticket
// set (spec §4.3).
type Monitor struct {
	trackedDonor     map[types.DonorKey]bool
	lastDonorVolume  map[types.DonorKey]float64
	lastClientVolume map[int64]float64
}

func New() *Monitor {
	return &Monitor{
		trackedDonor:     make(map[types.DonorKey]bool),
		lastDonorVolume:  make(map[types.DonorKey]float64),
		lastClientVolume: make(map[int64]float64),
	}
}

// NewDonorPositions returns positions present in current but not yet in
// the tracked set, and marks them tracked (spec §4.3
// "new_donor_positions()").
func (m *Monitor) NewDonorPositions(current []types.DonorPosition) []types.DonorPosition {
	var fresh []types.DonorPosition
	for _, p := range current {
		key := p.Key()
		if m.trackedDonor[key] {
			continue
		}
		m.trackedDonor[key] = true
		m.lastDonorVolume[key] = p.Volume
		fresh = append(fresh, p)
	}
	return fresh
}

// ClosedDonorTickets returns tracked donor keys absent from current, and
// stops tracking them (spec §4.3 "closed_donor_tickets()"). Callers that
// also want the last-known volume baseline forgotten should follow up with
// RemoveDonorState once the close has been fully processed.
func (m *Monitor) ClosedDonorTickets(current []types.DonorPosition) []types.DonorKey {
	live := make(map[types.DonorKey]bool, len(current))
	for _, p := range current {
		live[p.Key()] = true
	}
	var closed []types.DonorKey
	for key := range m.trackedDonor {
		if !live[key] {
			closed = append(closed, key)
			delete(m.trackedDonor, key)
		}
	}
	return closed
}

// VolumeChangesDonor reports per-ticket volume deltas exceeding the
// threshold and overwrites the stored baseline with the fresh snapshot
// (spec §4.3 "volume_changes_donor()"). Positions not yet tracked (i.e.
// brand new this cycle) are not reported here — NewDonorPositions already
// seeded their baseline.
func (m *Monitor) VolumeChangesDonor(current []types.DonorPosition) []DonorVolumeChange {
	var changes []DonorVolumeChange
	for _, p := range current {
		key := p.Key()
		old, known := m.lastDonorVolume[key]
		if known && absDiff(p.Volume, old) > volumeChangeThreshold {
			changes = append(changes, DonorVolumeChange{Key: key, OldVolume: old, NewVolume: p.Volume})
		}
		m.lastDonorVolume[key] = p.Volume
	}
	return changes
}

// VolumeChangesClient is the client-side counterpart of VolumeChangesDonor.
func (m *Monitor) VolumeChangesClient(current []types.ClientPosition) []ClientVolumeChange {
	var changes []ClientVolumeChange
	for _, p := range current {
		old, known := m.lastClientVolume[p.Ticket]
		if known && absDiff(p.Volume, old) > volumeChangeThreshold {
			changes = append(changes, ClientVolumeChange{Ticket: p.Ticket, OldVolume: old, NewVolume: p.Volume})
		}
		m.lastClientVolume[p.Ticket] = p.Volume
	}
	return changes
}

// RemoveDonorState forgets the volume baseline and tracked-ticket status
// for a donor key whose close has been fully processed.
func (m *Monitor) RemoveDonorState(key types.DonorKey) {
	delete(m.trackedDonor, key)
	delete(m.lastDonorVolume, key)
}

// RemoveClientState forgets the volume baseline for a client ticket whose
// close has been fully processed.
func (m *Monitor) RemoveClientState(ticket int64) {
	delete(m.lastClientVolume, ticket)
}

// InitializeDonorState seeds the tracked set and volume baseline for a
// donor position recovered from the State Persistor on startup, so it is
// not mistaken for "new" on the first post-restart cycle.
func (m *Monitor) InitializeDonorState(key types.DonorKey, volume float64) {
	m.trackedDonor[key] = true
	m.lastDonorVolume[key] = volume
}

// InitializeClientState seeds the client volume baseline the same way.
func (m *Monitor) InitializeClientState(ticket int64, volume float64) {
	m.lastClientVolume[ticket] = volume
}

// IsTrackedDonor reports whether a donor key is currently tracked.
func (m *Monitor) IsTrackedDonor(key types.DonorKey) bool {
	return m.trackedDonor[key]
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
