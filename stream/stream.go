// stream/stream.go
package stream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"mmfr_bot/logs"
)

// Event is the tagged variant delivered by the market stream. Consumers
// type-switch on the concrete type; loosely-typed fields never leave this
// package.
type Event interface {
	isEvent()
}

// TradeEvent is one executed trade from the aggTrade stream.
type TradeEvent struct {
	Price        float64
	Qty          float64
	BuyerIsMaker bool // true means the aggressor sold
	EventTime    time.Time
}

func (TradeEvent) isEvent() {}

// MarkPriceEvent carries the current funding rate.
type MarkPriceEvent struct {
	FundingRate float64
}

func (MarkPriceEvent) isEvent() {}

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// Stream is a single websocket subscription to the symbol's aggTrade and
// markPrice channels. It does not reconnect itself: on any read error it
// reports once on Errors() and stops, and the orchestrator reinitializes
// after a fixed delay. State is rebuilt from scratch, not resumed.
type Stream struct {
	symbol string
	conn   *websocket.Conn
	events chan Event
	errs   chan error
	done   chan struct{}
}

// Dial connects, subscribes, and starts the read loop.
func Dial(wsURL, symbol string) (*Stream, error) {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	s := &Stream{
		symbol: symbol,
		conn:   conn,
		events: make(chan Event, 1024),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	lower := strings.ToLower(symbol)
	sub := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": []string{lower + "@aggTrade", lower + "@markPrice"},
		"id":     1,
	}
	payload, _ := json.Marshal(sub)
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		conn.Close()
		return nil, fmt.Errorf("websocket subscribe failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go s.readLoop()
	logs.Infof("[Stream] Subscribed to %s aggTrade + markPrice.", symbol)
	return s, nil
}

// Events delivers parsed market events.
func (s *Stream) Events() <-chan Event { return s.events }

// Errors delivers at most one terminal stream error.
func (s *Stream) Errors() <-chan error { return s.errs }

// Close terminates the connection and the read loop.
func (s *Stream) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.conn.Close()
}

func (s *Stream) readLoop() {
	defer close(s.events)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.errs <- fmt.Errorf("stream read failed: %w", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(readTimeout))

		ev := parse(raw)
		if ev == nil {
			continue // subscription ack or unknown event type
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

// parse routes a raw message on its event-type field into the tagged
// variant. Anything unrecognized is dropped here at the boundary.
func parse(raw []byte) Event {
	switch gjson.GetBytes(raw, "e").String() {
	case "aggTrade":
		return TradeEvent{
			Price:        gjson.GetBytes(raw, "p").Float(),
			Qty:          gjson.GetBytes(raw, "q").Float(),
			BuyerIsMaker: gjson.GetBytes(raw, "m").Bool(),
			EventTime:    time.UnixMilli(gjson.GetBytes(raw, "T").Int()),
		}
	case "markPrice":
		return MarkPriceEvent{
			FundingRate: gjson.GetBytes(raw, "r").Float(),
		}
	default:
		return nil
	}
}
