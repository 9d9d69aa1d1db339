package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/execore/internal/config"
	"github.com/web3guy0/execore/pkg/types"
)

const fillsWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/user"

const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// wsEvent is the common envelope the fills channel pushes; fill and
// order events share a discriminator field.
type wsEvent struct {
	EventType string `json:"event_type"`
	OrderID   string `json:"id"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Side      string `json:"side"`
	Status    string `json:"status"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	TxHash    string `json:"transaction_hash"`
	Timestamp string `json:"timestamp"`
}

// FillsStream is the V1-only WS connection feeding FillTracker and
// OrderTracker: it subscribes to the fill and order channels and
// dispatches each push to the matching tracker. A disconnect flushes
// no tracked state; it just reconnects and resubscribes.
type FillsStream struct {
	auth   config.VenueAuth
	fills  *FillTracker
	orders *OrderTracker

	mu             sync.Mutex
	conn           *websocket.Conn
	connected      bool
	stopCh         chan struct{}
	reconnectDelay time.Duration
}

func NewFillsStream(auth config.VenueAuth, fills *FillTracker, orders *OrderTracker) *FillsStream {
	return &FillsStream{auth: auth, fills: fills, orders: orders, stopCh: make(chan struct{})}
}

// Connect dials the fills WS and subscribes to the user channel. It
// returns once the connection and subscription succeed; the read loop
// and reconnect handling run in the background.
func (s *FillsStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(fillsWSURL, nil)
	if err != nil {
		return fmt.Errorf("fills websocket dial: %w", err)
	}

	sub := map[string]any{
		"type":    "user",
		"auth":    map[string]string{"apiKey": s.auth.APIKey},
		"markets": []string{},
	}
	payload, _ := json.Marshal(sub)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		conn.Close()
		return fmt.Errorf("fills websocket subscribe: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.reconnectDelay = 0
	s.mu.Unlock()

	go s.readLoop(ctx)

	log.Info().Msg("📡 connected to fills websocket")
	return nil
}

func (s *FillsStream) readLoop(ctx context.Context) {
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("fills websocket read error, reconnecting")
			s.handleDisconnect(ctx)
			return
		}
		s.dispatch(msg)
	}
}

func (s *FillsStream) dispatch(data []byte) {
	var ev wsEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}

	switch ev.EventType {
	case "fill":
		price, _ := decimal.NewFromString(ev.Price)
		size, _ := decimal.NewFromString(ev.Size)
		s.fills.OnFill(types.Fill{
			OrderID:         ev.OrderID,
			Venue:           types.VenuePolymarket,
			Market:          ev.Market,
			Instrument:      ev.AssetID,
			Side:            types.Side(ev.Side),
			Price:           price,
			Size:            size,
			Status:          types.FillStatus(ev.Status),
			TransactionHash: ev.TxHash,
		})
	case "order":
		s.orders.OnOrder(OrderEvent{
			OrderID:    ev.OrderID,
			Status:     mapPushStatus(ev.Status),
			FilledSize: ev.Size,
		})
	}
}

func mapPushStatus(raw string) types.OrderStatus {
	switch raw {
	case "LIVE":
		return types.StatusOpen
	case "MATCHED", "FILLED":
		return types.StatusFilled
	case "CANCELLED":
		return types.StatusCancelled
	default:
		return types.StatusPending
	}
}

// handleDisconnect retries Connect with an exponential back-off, capped
// at reconnectMaxDelay, doubling on each failed attempt until one
// succeeds or ctx is cancelled.
func (s *FillsStream) handleDisconnect(ctx context.Context) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	for {
		s.mu.Lock()
		delay := s.reconnectDelay
		if delay == 0 {
			delay = reconnectBaseDelay
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-time.After(delay):
		}

		if err := s.Connect(ctx); err != nil {
			next := delay * 2
			if next > reconnectMaxDelay {
				next = reconnectMaxDelay
			}
			s.mu.Lock()
			s.reconnectDelay = next
			s.mu.Unlock()
			log.Error().Err(err).Dur("next_retry", next).Msg("fills websocket reconnect failed, backing off")
			continue
		}
		return
	}
}

// Close stops the read loop and closes the connection.
func (s *FillsStream) Close() {
	close(s.stopCh)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.connected = false
}

// IsConnected reports whether the stream currently holds a live
// connection.
func (s *FillsStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
