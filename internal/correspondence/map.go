// Package correspondence implements the Correspondence Store: the
// in-memory bidirectional maps between donor and client tickets that the
// Order Planner, Pending-Order Walker, and Close-By Protocol all read and
// mutate (spec §3, §4.10). The Map enforces the non-overlap and injective
// invariants at the point of mutation so a caller cannot silently violate
// them.
package correspondence

import (
	"fmt"
	"sync"

	"fx-copier/pkg/types"
)

// OpenOrderInfo is the value of open_order_link: a client pending order
// placed to open a copy, plus enough of the donor's original intent to
// validate dominance and re-derive the link on restart (spec §3).
type OpenOrderInfo struct {
	DonorKey      types.DonorKey
	Symbol        string
	Kind          types.OrderKind
	OriginalPrice float64
}

// CloseOrderInfo is the value of close_order_info: a client pending order
// placed to close a copy via the close-by protocol (spec §3, §4.8).
type CloseOrderInfo struct {
	DonorKey             types.DonorKey
	Symbol               string
	Kind                 types.OrderKind
	OriginalClosePrice   float64
	ClientPositionTicket int64
}

// ErrViolatesInvariant is returned when a mutation would break the
// injective or non-overlap invariants of spec §3.
var ErrViolatesInvariant = fmt.Errorf("correspondence: mutation violates an invariant")

// Map holds the five relations of spec §3's Correspondence Map.
type Map struct {
	mu sync.RWMutex

	posLink       map[types.DonorKey]int64 // donor -> client position ticket
	posLinkRev    map[int64]types.DonorKey // client ticket -> donor (injective check)

	openOrderLink map[int64]OpenOrderInfo // client open-order ticket -> info

	closeOrderLink map[types.DonorKey]int64    // donor -> client close-order ticket
	closeOrderInfo map[int64]CloseOrderInfo    // client close-order ticket -> info

	pendingOrderLink map[types.DonorKey]int64 // donor order -> client order ticket

	skippedSymbols map[string]bool
}

func New() *Map {
	return &Map{
		posLink:          make(map[types.DonorKey]int64),
		posLinkRev:       make(map[int64]types.DonorKey),
		openOrderLink:    make(map[int64]OpenOrderInfo),
		closeOrderLink:   make(map[types.DonorKey]int64),
		closeOrderInfo:   make(map[int64]CloseOrderInfo),
		pendingOrderLink: make(map[types.DonorKey]int64),
		skippedSymbols:   make(map[string]bool),
	}
}

// donorBusy reports whether donorKey already appears in pos_link,
// open_order_link, or close_order_link (invariant 2, non-overlap).
func (m *Map) donorBusy(donorKey types.DonorKey) bool {
	if _, ok := m.posLink[donorKey]; ok {
		return true
	}
	if _, ok := m.closeOrderLink[donorKey]; ok {
		return true
	}
	for _, info := range m.openOrderLink {
		if info.DonorKey == donorKey {
			return true
		}
	}
	return false
}

// LinkPosition records donorKey -> clientTicket in pos_link. Fails if the
// client ticket is already linked to a different donor (injective) or the
// donor key is already linked elsewhere (non-overlap).
func (m *Map) LinkPosition(donorKey types.DonorKey, clientTicket int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.posLinkRev[clientTicket]; ok && existing != donorKey {
		return fmt.Errorf("%w: client ticket %d already linked to %s", ErrViolatesInvariant, clientTicket, existing)
	}
	if m.donorBusy(donorKey) {
		return fmt.Errorf("%w: donor %s already linked elsewhere", ErrViolatesInvariant, donorKey)
	}
	m.posLink[donorKey] = clientTicket
	m.posLinkRev[clientTicket] = donorKey
	return nil
}

func (m *Map) UnlinkPosition(donorKey types.DonorKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ticket, ok := m.posLink[donorKey]; ok {
		delete(m.posLinkRev, ticket)
	}
	delete(m.posLink, donorKey)
}

func (m *Map) ClientTicketForDonor(donorKey types.DonorKey) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.posLink[donorKey]
	return t, ok
}

func (m *Map) DonorForClientTicket(clientTicket int64) (types.DonorKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.posLinkRev[clientTicket]
	return k, ok
}

// AddOpenOrder records an in-flight opening limit order.
func (m *Map) AddOpenOrder(clientOrderTicket int64, info OpenOrderInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.donorBusy(info.DonorKey) {
		return fmt.Errorf("%w: donor %s already linked elsewhere", ErrViolatesInvariant, info.DonorKey)
	}
	m.openOrderLink[clientOrderTicket] = info
	return nil
}

func (m *Map) OpenOrder(clientOrderTicket int64) (OpenOrderInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.openOrderLink[clientOrderTicket]
	return info, ok
}

// OpenOrderByDonor finds the in-flight open order for a donor key, if any.
func (m *Map) OpenOrderByDonor(donorKey types.DonorKey) (int64, OpenOrderInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for ticket, info := range m.openOrderLink {
		if info.DonorKey == donorKey {
			return ticket, info, true
		}
	}
	return 0, OpenOrderInfo{}, false
}

func (m *Map) RemoveOpenOrder(clientOrderTicket int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.openOrderLink, clientOrderTicket)
}

// PromoteOpenOrderToPosition migrates an open_order_link entry to pos_link
// once the order fills (spec §3 "Lifecycles").
func (m *Map) PromoteOpenOrderToPosition(clientOrderTicket, clientPositionTicket int64) error {
	m.mu.Lock()
	info, ok := m.openOrderLink[clientOrderTicket]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("correspondence: no open order %d to promote", clientOrderTicket)
	}
	delete(m.openOrderLink, clientOrderTicket)
	m.mu.Unlock()
	return m.LinkPosition(info.DonorKey, clientPositionTicket)
}

// AddCloseOrder records an in-flight closing limit order (spec §4.5, §4.8).
func (m *Map) AddCloseOrder(donorKey types.DonorKey, clientOrderTicket int64, info CloseOrderInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeOrderLink[donorKey] = clientOrderTicket
	m.closeOrderInfo[clientOrderTicket] = info
}

func (m *Map) CloseOrderTicket(donorKey types.DonorKey) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.closeOrderLink[donorKey]
	return t, ok
}

func (m *Map) CloseOrderInfo(clientOrderTicket int64) (CloseOrderInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.closeOrderInfo[clientOrderTicket]
	return info, ok
}

// RemoveCloseOrder drops both the link and its info together (spec §3:
// "leave together when the close completes").
func (m *Map) RemoveCloseOrder(donorKey types.DonorKey, clientOrderTicket int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.closeOrderLink, donorKey)
	delete(m.closeOrderInfo, clientOrderTicket)
}

func (m *Map) AddPendingOrderLink(donorKey types.DonorKey, clientOrderTicket int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingOrderLink[donorKey] = clientOrderTicket
}

func (m *Map) PendingOrderLink(donorKey types.DonorKey) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.pendingOrderLink[donorKey]
	return t, ok
}

func (m *Map) RemovePendingOrderLink(donorKey types.DonorKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pendingOrderLink, donorKey)
}

func (m *Map) SkipSymbol(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skippedSymbols[symbol] = true
}

func (m *Map) IsSkipped(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.skippedSymbols[symbol]
}

// Snapshot returns copies of every relation for persistence or inspection.
func (m *Map) Snapshot() (
	posLink map[types.DonorKey]int64,
	openOrderLink map[int64]OpenOrderInfo,
	closeOrderLink map[types.DonorKey]int64,
	closeOrderInfo map[int64]CloseOrderInfo,
	pendingOrderLink map[types.DonorKey]int64,
	skippedSymbols []string,
) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	posLink = make(map[types.DonorKey]int64, len(m.posLink))
	for k, v := range m.posLink {
		posLink[k] = v
	}
	openOrderLink = make(map[int64]OpenOrderInfo, len(m.openOrderLink))
	for k, v := range m.openOrderLink {
		openOrderLink[k] = v
	}
	closeOrderLink = make(map[types.DonorKey]int64, len(m.closeOrderLink))
	for k, v := range m.closeOrderLink {
		closeOrderLink[k] = v
	}
	closeOrderInfo = make(map[int64]CloseOrderInfo, len(m.closeOrderInfo))
	for k, v := range m.closeOrderInfo {
		closeOrderInfo[k] = v
	}
	pendingOrderLink = make(map[types.DonorKey]int64, len(m.pendingOrderLink))
	for k, v := range m.pendingOrderLink {
		pendingOrderLink[k] = v
	}
	for s := range m.skippedSymbols {
		skippedSymbols = append(skippedSymbols, s)
	}
	return
}

// Validate checks invariants 1 and 2 of spec §3 against the current state:
// pos_link is injective, and no donor key in pos_link also appears in
// open_order_link or close_order_link. Type parity (invariant 3) is not
// checked, since the map records no symbol or direction for pos_link
// entries, and overlap between open_order_link and close_order_link is not
// checked either.
func (m *Map) Validate() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seenClient := make(map[int64]types.DonorKey, len(m.posLink))
	for donorKey, clientTicket := range m.posLink {
		if other, ok := seenClient[clientTicket]; ok {
			return fmt.Errorf("%w: client ticket %d linked to both %s and %s", ErrViolatesInvariant, clientTicket, other, donorKey)
		}
		seenClient[clientTicket] = donorKey
	}

	seenDonor := make(map[types.DonorKey]bool, len(m.posLink)+len(m.openOrderLink)+len(m.closeOrderLink))
	for donorKey := range m.posLink {
		seenDonor[donorKey] = true
	}
	for _, info := range m.openOrderLink {
		if seenDonor[info.DonorKey] {
			return fmt.Errorf("%w: donor %s in both pos_link and open_order_link", ErrViolatesInvariant, info.DonorKey)
		}
	}
	for donorKey := range m.closeOrderLink {
		if seenDonor[donorKey] {
			return fmt.Errorf("%w: donor %s in both pos_link and close_order_link", ErrViolatesInvariant, donorKey)
		}
	}
	return nil
}
