package donor

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"fx-copier/pkg/types"
)

// Wire framing for the socket donor protocol (spec §6): a 4-byte
// big-endian unsigned length prefix, then that many bytes of UTF-8 JSON.
// Grounded on original_source/donors/socket_client.py's _recv_exact/
// _listen_loop.
const (
	maxFrameBytes  = 16 << 20
	dialTimeout    = 10 * time.Second
	minReconnWait  = 1 * time.Second
	maxReconnWait  = 30 * time.Second
)

type wireItem struct {
	Ticket       int64    `json:"ticket"`
	Symbol       string   `json:"symbol"`
	Type         int      `json:"type"`
	Volume       float64  `json:"volume"`
	PriceOpen    float64  `json:"price_open"`
	PriceCurrent float64  `json:"price_current"`
	Profit       float64  `json:"profit"`
	Time         int64    `json:"time"`
	Magic        *int64   `json:"magic,omitempty"`
	Comment      *string  `json:"comment,omitempty"`
	SL           *float64 `json:"sl,omitempty"`
	TP           *float64 `json:"tp,omitempty"`
}

type wireAccountInfo struct {
	Login      int64   `json:"login"`
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	FreeMargin float64 `json:"margin_free"`
	Currency   string  `json:"currency"`
	Server     string  `json:"server"`
}

type wireFrame struct {
	Positions   []wireItem      `json:"positions"`
	Orders      []wireItem      `json:"orders"`
	AccountInfo wireAccountInfo `json:"account_info"`
}

// orderKindFromWireType maps the wire protocol's 2..7 pending-order type
// codes onto types.OrderKind (spec §6).
func orderKindFromWireType(t int) (types.OrderKind, bool) {
	switch t {
	case 2:
		return types.BuyLimit, true
	case 3:
		return types.SellLimit, true
	case 4:
		return types.BuyStop, true
	case 5:
		return types.SellStop, true
	case 6:
		return types.BuyStopLimit, true
	case 7:
		return types.SellStopLimit, true
	default:
		return 0, false
	}
}

func positionDirectionFromWireType(t int) types.Direction {
	if t == 1 {
		return types.SELL
	}
	return types.BUY
}

// SocketFeed is the socket donor variant: it opens a TCP connection to an
// external agent acting as the donor terminal and stores the most recent
// snapshot under a mutex, matching spec §4.2's "listener runs concurrently
// with the main loop ... positions()/orders() return that snapshot without
// blocking." label distinguishes the MT4 and MT5 wrappers in log output
// only (spec §9); the wire format and logic are identical for both.
type SocketFeed struct {
	sourceID types.SourceID
	label    string
	addr     string
	logger   *slog.Logger

	mu   sync.RWMutex
	last wireFrame

	connected atomic.Bool
	cancel    context.CancelFunc
	wg        conc.WaitGroup
}

// NewSocketFeed constructs a socket donor source. label is "MT4" or "MT5"
// for log readability only.
func NewSocketFeed(sourceID types.SourceID, label, host string, port int, logger *slog.Logger) *SocketFeed {
	return &SocketFeed{
		sourceID: sourceID,
		label:    label,
		addr:     fmt.Sprintf("%s:%d", host, port),
		logger:   logger.With("component", "donor-socket", "source", sourceID, "variant", label),
	}
}

func (s *SocketFeed) ID() types.SourceID { return s.sourceID }

func (s *SocketFeed) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Go(func() { s.run(ctx) })
	return nil
}

func (s *SocketFeed) Disconnect() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.connected.Store(false)
	return nil
}

func (s *SocketFeed) IsConnected() bool { return s.connected.Load() }

// run is the background reader: dial, read frames until error, reconnect
// with exponential backoff, matching the teacher's WSFeed.Run/connectAndRead
// shape (internal/exchange/ws.go) adapted to raw length-prefixed TCP frames
// instead of a WebSocket handshake.
func (s *SocketFeed) run(ctx context.Context) {
	wait := minReconnWait
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.connectAndRead(ctx); err != nil {
			s.connected.Store(false)
			s.logger.Warn("donor socket disconnected, reconnecting", "error", err, "wait", wait)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait *= 2
		if wait > maxReconnWait {
			wait = maxReconnWait
		}
	}
}

func (s *SocketFeed) connectAndRead(ctx context.Context) error {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.addr, err)
	}
	defer conn.Close()

	s.connected.Store(true)
	s.logger.Info("donor socket connected", "addr", s.addr)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return fmt.Errorf("read frame length: %w", err)
		}
		n := binary.BigEndian.Uint32(lenBuf)
		if n > maxFrameBytes {
			return fmt.Errorf("frame too large: %d bytes", n)
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return fmt.Errorf("read frame body: %w", err)
		}

		var frame wireFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			s.logger.Warn("malformed donor frame, skipping", "error", err)
			continue
		}

		s.mu.Lock()
		s.last = frame
		s.mu.Unlock()
	}
}

func (s *SocketFeed) Positions() ([]types.DonorPosition, error) {
	s.mu.RLock()
	items := append([]wireItem(nil), s.last.Positions...)
	s.mu.RUnlock()

	out := make([]types.DonorPosition, 0, len(items))
	for _, it := range items {
		pos := types.DonorPosition{
			Ticket:       it.Ticket,
			Symbol:       it.Symbol,
			Direction:    positionDirectionFromWireType(it.Type),
			Volume:       it.Volume,
			PriceOpen:    it.PriceOpen,
			PriceCurrent: it.PriceCurrent,
			Profit:       it.Profit,
			TimeOpened:   it.Time,
			SourceID:     s.sourceID,
			MagicTag:     it.Magic,
			SL:           it.SL,
			TP:           it.TP,
		}
		if it.Comment != nil {
			pos.Comment = *it.Comment
		}
		out = append(out, pos)
	}
	return out, nil
}

func (s *SocketFeed) Orders() ([]types.DonorPendingOrder, error) {
	s.mu.RLock()
	items := append([]wireItem(nil), s.last.Orders...)
	s.mu.RUnlock()

	out := make([]types.DonorPendingOrder, 0, len(items))
	for _, it := range items {
		kind, ok := orderKindFromWireType(it.Type)
		if !ok {
			s.logger.Warn("unrecognized pending order type on wire", "type", it.Type, "ticket", it.Ticket)
			continue
		}
		out = append(out, types.DonorPendingOrder{
			Ticket:    it.Ticket,
			Symbol:    it.Symbol,
			Kind:      kind,
			Volume:    it.Volume,
			Price:     it.PriceOpen,
			TimeSetup: it.Time,
			SourceID:  s.sourceID,
			SL:        it.SL,
			TP:        it.TP,
		})
	}
	return out, nil
}

func (s *SocketFeed) AccountInfo() (types.AccountInfo, error) {
	s.mu.RLock()
	info := s.last.AccountInfo
	s.mu.RUnlock()
	return types.AccountInfo{
		Login:      info.Login,
		Balance:    info.Balance,
		Equity:     info.Equity,
		FreeMargin: info.FreeMargin,
		Currency:   info.Currency,
		Server:     info.Server,
	}, nil
}
