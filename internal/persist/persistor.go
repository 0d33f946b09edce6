// Package persist implements the State Persistor (spec §4.10, §6): it
// serializes the Correspondence Map plus enough position metadata to
// re-match on restart to sync_state.json, and loads it back at startup.
// Writes are atomic (write-to-temp-then-rename) and flushed-and-closed on
// every write so a crash never observes a partial file (spec §5 "Resource
// policy"), grounded on the teacher's internal/store/store.go.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"fx-copier/internal/correspondence"
	"fx-copier/pkg/types"
)

// PosLinkSnapshot is the rich per-link metadata spec §4.10 requires so a
// restart can both verify each link and re-derive missing ones.
type PosLinkSnapshot struct {
	ClientTicket    int64
	Symbol          string
	Direction       types.Direction
	DonorPriceOpen  float64
	ClientPriceOpen float64
	DonorTime       int64
	ClientTime      int64
	DonorMagic      *int64
	ClientMagic     int64
	DonorComment    string
	ClientComment   string
}

// BuildInput is everything the engine gathers in one cycle that the
// Persistor needs to write a full snapshot.
type BuildInput struct {
	PosLink                 map[types.DonorKey]int64
	OpenOrderLink           map[int64]correspondence.OpenOrderInfo
	CloseOrderLink          map[types.DonorKey]int64
	CloseOrderInfo          map[int64]correspondence.CloseOrderInfo
	PendingOrderLink        map[types.DonorKey]int64
	DonorPositionsByKey     map[types.DonorKey]types.DonorPosition
	ClientPositionsByTicket map[int64]types.ClientPosition
	NowUnix                 int64
}

// Loaded is the parsed contents of a previously persisted file.
type Loaded struct {
	Timestamp        int64
	PosLink          map[types.DonorKey]PosLinkSnapshot
	OpenOrderLink    map[int64]correspondence.OpenOrderInfo
	CloseOrderLink   map[types.DonorKey]int64
	CloseOrderInfo   map[int64]correspondence.CloseOrderInfo
	PendingOrderLink map[types.DonorKey]int64
}

// on-disk schema (spec §6): string-keyed maps throughout because JSON
// mandates string keys.
type wirePosLink struct {
	ClientTicket    int64   `json:"client_ticket"`
	Symbol          string  `json:"symbol"`
	Direction       string  `json:"direction"`
	DonorPriceOpen  float64 `json:"donor_price_open"`
	ClientPriceOpen float64 `json:"client_price_open"`
	DonorTime       int64   `json:"donor_time"`
	ClientTime      int64   `json:"client_time"`
	DonorMagic      *int64  `json:"donor_magic,omitempty"`
	ClientMagic     int64   `json:"client_magic"`
	DonorComment    string  `json:"donor_comment,omitempty"`
	ClientComment   string  `json:"client_comment,omitempty"`
}

type wireOpenOrder struct {
	Symbol        string  `json:"symbol"`
	OrderKind     string  `json:"order_kind"`
	OriginalPrice float64 `json:"original_price"`
}

type wireCloseOrderInfo struct {
	DonorTicket          string  `json:"donor_ticket"`
	Symbol               string  `json:"symbol"`
	OrderKind            string  `json:"order_kind"`
	OriginalClosePrice   float64 `json:"original_close_price"`
	ClientPositionTicket int64   `json:"client_position_ticket_to_close"`
}

type wireFile struct {
	Timestamp                  int64                         `json:"timestamp"`
	ClientPositions            map[string]wirePosLink         `json:"client_positions"`
	PendingOrders              map[string]wireOpenOrder       `json:"pending_orders"`
	PendingCloseOrders         map[string]string              `json:"pending_close_orders"`
	PendingCloseOrdersInfo     map[string]wireCloseOrderInfo  `json:"pending_close_orders_info"`
	CloseOrderToClientPosition map[string]string              `json:"close_order_to_client_position"`
	DonorPendingOrders         map[string]string              `json:"donor_pending_orders"`
}

// Persistor writes sync_state.json and reads it back.
type Persistor struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

func New(path string, logger *slog.Logger) *Persistor {
	return &Persistor{path: path, logger: logger.With("component", "state-persistor")}
}

// Save writes the full correspondence snapshot, atomically (spec §5).
func (p *Persistor) Save(in BuildInput) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	file := wireFile{
		Timestamp:                  in.NowUnix,
		ClientPositions:            make(map[string]wirePosLink, len(in.PosLink)),
		PendingOrders:              make(map[string]wireOpenOrder, len(in.OpenOrderLink)),
		PendingCloseOrders:         make(map[string]string, len(in.CloseOrderLink)),
		PendingCloseOrdersInfo:     make(map[string]wireCloseOrderInfo, len(in.CloseOrderInfo)),
		CloseOrderToClientPosition: make(map[string]string, len(in.CloseOrderInfo)),
		DonorPendingOrders:         make(map[string]string, len(in.PendingOrderLink)),
	}

	for donorKey, clientTicket := range in.PosLink {
		donorPos := in.DonorPositionsByKey[donorKey]
		clientPos := in.ClientPositionsByTicket[clientTicket]
		file.ClientPositions[donorKey.String()] = wirePosLink{
			ClientTicket:    clientTicket,
			Symbol:          donorPos.Symbol,
			Direction:       donorPos.Direction.String(),
			DonorPriceOpen:  donorPos.PriceOpen,
			ClientPriceOpen: clientPos.PriceOpen,
			DonorTime:       donorPos.TimeOpened,
			ClientTime:      clientPos.TimeOpened,
			DonorMagic:      donorPos.MagicTag,
			ClientMagic:     clientPos.MagicTag,
			DonorComment:    donorPos.Comment,
			ClientComment:   clientPos.Comment,
		}
	}
	// open_order_link's natural key is the client ticket, but persistence
	// also needs the donor side to rebuild the link on restart, so the
	// wire key embeds both (see donorOrderCompositeKey).
	for clientOrderTicket, info := range in.OpenOrderLink {
		file.PendingOrders[donorOrderCompositeKey(info.DonorKey, clientOrderTicket)] = wireOpenOrder{
			Symbol:        info.Symbol,
			OrderKind:     info.Kind.String(),
			OriginalPrice: info.OriginalPrice,
		}
	}

	for donorKey, clientOrderTicket := range in.CloseOrderLink {
		file.PendingCloseOrders[donorKey.String()] = strconv.FormatInt(clientOrderTicket, 10)
	}
	for clientOrderTicket, info := range in.CloseOrderInfo {
		key := strconv.FormatInt(clientOrderTicket, 10)
		file.PendingCloseOrdersInfo[key] = wireCloseOrderInfo{
			DonorTicket:          info.DonorKey.String(),
			Symbol:               info.Symbol,
			OrderKind:            info.Kind.String(),
			OriginalClosePrice:   info.OriginalClosePrice,
			ClientPositionTicket: info.ClientPositionTicket,
		}
		file.CloseOrderToClientPosition[key] = strconv.FormatInt(info.ClientPositionTicket, 10)
	}
	for donorKey, clientOrderTicket := range in.PendingOrderLink {
		file.DonorPendingOrders[donorKey.String()] = strconv.FormatInt(clientOrderTicket, 10)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: marshal: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("persist: mkdir %s: %w", dir, err)
	}

	tmp := p.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("persist: create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("persist: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("persist: sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("persist: close temp file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("persist: rename into place: %w", err)
	}
	return nil
}

// donorOrderCompositeKey embeds both the donor key and the client ticket so
// an open-order entry survives a round trip even though the wire schema
// doesn't carry a dedicated donor-ticket field per entry.
func donorOrderCompositeKey(donorKey types.DonorKey, clientTicket int64) string {
	return donorKey.String() + "|" + strconv.FormatInt(clientTicket, 10)
}

func parseDonorOrderCompositeKey(key string) (types.DonorKey, int64, error) {
	parts := strings.SplitN(key, "|", 2)
	if len(parts) != 2 {
		return types.DonorKey{}, 0, fmt.Errorf("persist: malformed pending-order key %q", key)
	}
	donorKey, err := parseDonorKey(parts[0])
	if err != nil {
		return types.DonorKey{}, 0, err
	}
	ticket, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return types.DonorKey{}, 0, fmt.Errorf("persist: malformed client ticket in key %q: %w", key, err)
	}
	return donorKey, ticket, nil
}

func parseDonorKey(s string) (types.DonorKey, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return types.DonorKey{}, fmt.Errorf("persist: malformed donor key %q", s)
	}
	ticket, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil {
		return types.DonorKey{}, fmt.Errorf("persist: malformed donor key %q: %w", s, err)
	}
	return types.DonorKey{SourceID: types.SourceID(s[:idx]), Ticket: ticket}, nil
}

func parseDirection(s string) types.Direction {
	if s == "SELL" {
		return types.SELL
	}
	return types.BUY
}

func parseOrderKind(s string) types.OrderKind {
	switch s {
	case "SELL_LIMIT":
		return types.SellLimit
	case "BUY_STOP":
		return types.BuyStop
	case "SELL_STOP":
		return types.SellStop
	case "BUY_STOP_LIMIT":
		return types.BuyStopLimit
	case "SELL_STOP_LIMIT":
		return types.SellStopLimit
	default:
		return types.BuyLimit
	}
}

// Load reads sync_state.json. A missing or corrupt file is not an error —
// per spec §7 the engine logs and proceeds with an empty map, relying on
// the Matcher — so Load returns (nil, nil) in both cases.
func (p *Persistor) Load() (*Loaded, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("persist: read: %w", err)
	}

	var file wireFile
	if err := json.Unmarshal(data, &file); err != nil {
		p.logger.Warn("state file corrupt, proceeding with empty correspondence map", "error", err, "path", p.path)
		return nil, nil
	}

	loaded := &Loaded{
		Timestamp:        file.Timestamp,
		PosLink:          make(map[types.DonorKey]PosLinkSnapshot, len(file.ClientPositions)),
		OpenOrderLink:    make(map[int64]correspondence.OpenOrderInfo, len(file.PendingOrders)),
		CloseOrderLink:   make(map[types.DonorKey]int64, len(file.PendingCloseOrders)),
		CloseOrderInfo:   make(map[int64]correspondence.CloseOrderInfo, len(file.PendingCloseOrdersInfo)),
		PendingOrderLink: make(map[types.DonorKey]int64, len(file.DonorPendingOrders)),
	}

	for keyStr, w := range file.ClientPositions {
		donorKey, err := parseDonorKey(keyStr)
		if err != nil {
			p.logger.Warn("skipping malformed client_positions entry", "key", keyStr, "error", err)
			continue
		}
		loaded.PosLink[donorKey] = PosLinkSnapshot{
			ClientTicket:    w.ClientTicket,
			Symbol:          w.Symbol,
			Direction:       parseDirection(w.Direction),
			DonorPriceOpen:  w.DonorPriceOpen,
			ClientPriceOpen: w.ClientPriceOpen,
			DonorTime:       w.DonorTime,
			ClientTime:      w.ClientTime,
			DonorMagic:      w.DonorMagic,
			ClientMagic:     w.ClientMagic,
			DonorComment:    w.DonorComment,
			ClientComment:   w.ClientComment,
		}
	}
	for keyStr, w := range file.PendingOrders {
		donorKey, clientTicket, err := parseDonorOrderCompositeKey(keyStr)
		if err != nil {
			p.logger.Warn("skipping malformed pending_orders entry", "key", keyStr, "error", err)
			continue
		}
		loaded.OpenOrderLink[clientTicket] = correspondence.OpenOrderInfo{
			DonorKey:      donorKey,
			Symbol:        w.Symbol,
			Kind:          parseOrderKind(w.OrderKind),
			OriginalPrice: w.OriginalPrice,
		}
	}
	for keyStr, ticketStr := range file.PendingCloseOrders {
		donorKey, err := parseDonorKey(keyStr)
		if err != nil {
			p.logger.Warn("skipping malformed pending_close_orders entry", "key", keyStr, "error", err)
			continue
		}
		ticket, err := strconv.ParseInt(ticketStr, 10, 64)
		if err != nil {
			p.logger.Warn("skipping malformed pending_close_orders value", "value", ticketStr, "error", err)
			continue
		}
		loaded.CloseOrderLink[donorKey] = ticket
	}
	for keyStr, w := range file.PendingCloseOrdersInfo {
		clientOrderTicket, err := strconv.ParseInt(keyStr, 10, 64)
		if err != nil {
			p.logger.Warn("skipping malformed pending_close_orders_info key", "key", keyStr, "error", err)
			continue
		}
		donorKey, err := parseDonorKey(w.DonorTicket)
		if err != nil {
			p.logger.Warn("skipping malformed pending_close_orders_info entry", "key", keyStr, "error", err)
			continue
		}
		loaded.CloseOrderInfo[clientOrderTicket] = correspondence.CloseOrderInfo{
			DonorKey:             donorKey,
			Symbol:               w.Symbol,
			Kind:                 parseOrderKind(w.OrderKind),
			OriginalClosePrice:   w.OriginalClosePrice,
			ClientPositionTicket: w.ClientPositionTicket,
		}
	}
	for keyStr, ticketStr := range file.DonorPendingOrders {
		donorKey, err := parseDonorKey(keyStr)
		if err != nil {
			p.logger.Warn("skipping malformed donor_pending_orders entry", "key", keyStr, "error", err)
			continue
		}
		ticket, err := strconv.ParseInt(ticketStr, 10, 64)
		if err != nil {
			p.logger.Warn("skipping malformed donor_pending_orders value", "value", ticketStr, "error", err)
			continue
		}
		loaded.PendingOrderLink[donorKey] = ticket
	}

	return loaded, nil
}
