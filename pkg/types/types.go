// Package types defines the donor/client domain vocabulary shared across
// the reconciliation engine: positions, pending orders, and the broker
// gateway's request/response contracts. Nothing here does I/O; it is pure
// data plus the small enums the rest of the engine switches on.
package types

import "fmt"

// Direction is a position or market-order side.
type Direction int

const (
	BUY Direction = iota
	SELL
)

func (d Direction) String() string {
	if d == SELL {
		return "SELL"
	}
	return "BUY"
}

// OrderKind enumerates the pending-order types a broker terminal supports.
// Its values (0..5) differ from the socket donor wire encoding (§6), where
// BUY/SELL positions are type 0/1 and pending-order kinds occupy 2..7;
// orderKindFromWireType in internal/donor translates between the two.
type OrderKind int

const (
	BuyLimit OrderKind = iota
	SellLimit
	BuyStop
	SellStop
	BuyStopLimit
	SellStopLimit
)

func (k OrderKind) String() string {
	switch k {
	case BuyLimit:
		return "BUY_LIMIT"
	case SellLimit:
		return "SELL_LIMIT"
	case BuyStop:
		return "BUY_STOP"
	case SellStop:
		return "SELL_STOP"
	case BuyStopLimit:
		return "BUY_STOP_LIMIT"
	case SellStopLimit:
		return "SELL_STOP_LIMIT"
	default:
		return fmt.Sprintf("OrderKind(%d)", int(k))
	}
}

// Direction returns the implied market direction of a pending-order kind
// (BUY_LIMIT/BUY_STOP/BUY_STOP_LIMIT open a BUY; the rest a SELL).
func (k OrderKind) Direction() Direction {
	switch k {
	case BuyLimit, BuyStop, BuyStopLimit:
		return BUY
	default:
		return SELL
	}
}

// SourceID identifies one configured donor source (one entry of
// donors_config.json). DonorKey pairs it with a broker ticket so that
// two donor sources emitting numerically identical tickets never collide
// (see SPEC_FULL.md's "multi-source ticket collision" decision).
type SourceID string

// DonorKey is the composite identity of anything a donor source produces.
type DonorKey struct {
	SourceID SourceID
	Ticket   int64
}

func (k DonorKey) String() string {
	return fmt.Sprintf("%s:%d", k.SourceID, k.Ticket)
}

// DonorPosition is a live position reported by a donor source.
type DonorPosition struct {
	Ticket       int64
	Symbol       string
	Direction    Direction
	Volume       float64
	PriceOpen    float64
	PriceCurrent float64
	Profit       float64
	TimeOpened   int64 // unix seconds
	SourceID     SourceID
	MagicTag     *int64
	Comment      string
	SL           *float64
	TP           *float64
}

// Key returns the composite identity used by the Correspondence Map.
func (p DonorPosition) Key() DonorKey { return DonorKey{p.SourceID, p.Ticket} }

// DonorPendingOrder is a live pending order reported by a donor source.
type DonorPendingOrder struct {
	Ticket    int64
	Symbol    string
	Kind      OrderKind
	Volume    float64
	Price     float64
	TimeSetup int64
	SourceID  SourceID
	SL        *float64
	TP        *float64
}

func (o DonorPendingOrder) Key() DonorKey { return DonorKey{o.SourceID, o.Ticket} }

// ClientPosition and ClientPendingOrder are structurally identical to their
// donor counterparts but live on the single client account and carry a
// magic tag identifying which program placed them (spec §3).
type ClientPosition struct {
	Ticket       int64
	Symbol       string
	Direction    Direction
	Volume       float64
	PriceOpen    float64
	PriceCurrent float64
	Profit       float64
	TimeOpened   int64
	MagicTag     int64
	Comment      string
}

type ClientPendingOrder struct {
	Ticket    int64
	Symbol    string
	Kind      OrderKind
	Volume    float64
	Price     float64
	TimeSetup int64
	MagicTag  int64
}

// AccountInfo is the broker gateway's account_info response (spec §4.1).
type AccountInfo struct {
	Login      int64
	Balance    float64
	Equity     float64
	FreeMargin float64
	Currency   string
	Server     string
}

// Tick is the broker gateway's tick response.
type Tick struct {
	Bid    float64
	Ask    float64
	Last   float64
	Volume float64
	Time   int64
}

// SymbolInfo is the broker gateway's symbol_check response.
type SymbolInfo struct {
	Symbol     string
	Digits     int
	Point      float64
	TradeMode  int
	VolumeMin  float64
	VolumeMax  float64
	VolumeStep float64
}

// SubmitAction enumerates the broker gateway's order-mutation primitives.
type SubmitAction int

const (
	ActionPlacePending SubmitAction = iota
	ActionPlaceMarket
	ActionModify
	ActionDelete
	ActionCloseBy
)

// OrderRequest is the payload of a `submit` gateway command.
type OrderRequest struct {
	Action     SubmitAction
	Symbol     string
	Kind       OrderKind // meaningful for ActionPlacePending/ActionModify
	Direction  Direction // meaningful for ActionPlaceMarket
	Volume     float64
	Price      float64 // limit/stop price, or modify target price
	Ticket     int64   // meaningful for ActionModify/ActionDelete
	Magic      int64
	Comment    string
	SL         *float64
	TP         *float64
	ClosePos   int64 // ActionCloseBy: ticket of the position to close
	CloseByPos int64 // ActionCloseBy: ticket of the opposing position
}

// SubmitResult is the broker gateway's response to a `submit` command.
type SubmitResult struct {
	RetCode RetCode
	Ticket  int64
	Deal    int64
	Message string
}

// RetCode classifies a broker's order-submission return code into the
// buckets the Order Planner and Price Calculator retry logic act on
// (spec §4.6, §7). The concrete broker library's numeric codes are mapped
// onto this small enum at the Gateway boundary.
type RetCode int

const (
	RetOK RetCode = iota
	RetInvalidPrice
	RetInvalidStops
	RetRequote
	RetOffQuotes
	RetGenericFailure
)

func (r RetCode) Retryable() bool {
	return r != RetOK
}
