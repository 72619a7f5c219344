package bitmex

import (
	"context"
	"log/slog"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/bhojpur/trades/internal/domain"
)

// trade stream message wrapper.
type wsMessage struct {
	Table  string        `json:"table"`
	Action string        `json:"action"`
	Data   []tickPayload `json:"data"`
}

// TradeStream implements infra.WebSocketHandler for the realtime trade
// channel, appending every print to the client's tick buffer.
type TradeStream struct {
	wsURL   string
	symbols []string
	buffer  *TickBuffer
}

// NewTradeStream creates the websocket handler feeding the client's tick
// buffer for its symbols.
func NewTradeStream(wsURL string, c *Client) *TradeStream {
	return &TradeStream{
		wsURL:   wsURL,
		symbols: c.symbols,
		buffer:  c.ticks,
	}
}

func (s *TradeStream) ID() string { return "BITMEX-TRADE" }

// GetURL subscribes at connect time via query args, one trade topic per
// symbol.
func (s *TradeStream) GetURL() string {
	topics := make([]string, 0, len(s.symbols))
	for _, symbol := range s.symbols {
		topics = append(topics, "trade:"+symbol)
	}
	return s.wsURL + "?subscribe=" + strings.Join(topics, ",")
}

func (s *TradeStream) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	return nil
}

func (s *TradeStream) OnMessage(ctx context.Context, msg []byte) {
	var m wsMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		slog.Warn("BitMEX WS decode error", slog.Any("error", err))
		return
	}
	if m.Table != "trade" || len(m.Data) == 0 {
		return
	}

	ticks := make([]domain.Tick, 0, len(m.Data))
	for _, p := range m.Data {
		tick, err := p.toTick()
		if err != nil {
			slog.Warn("BitMEX WS bad tick", slog.Any("error", err))
			continue
		}
		ticks = append(ticks, tick)
	}
	s.buffer.Append(ticks...)
}

func (s *TradeStream) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return conn.WriteMessage(websocket.TextMessage, []byte("ping"))
}
