// Package kafka publishes maker fills to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"kestrel/domain/ledger"
	"kestrel/domain/orderbook"
)

// FillEvent is the message body. Key is unique per event so consumers can
// drop redeliveries.
type FillEvent struct {
	Key      string    `json:"key"`
	TradeID  int64     `json:"trade_id"`
	MatchID  int64     `json:"match_id"`
	OrderID  int64     `json:"order_id"`
	Trader   string    `json:"trader"`
	Market   string    `json:"market"`
	Contr    string    `json:"contr"`
	SettlDay int32     `json:"settl_day"`
	Ref      string    `json:"ref,omitempty"`
	Side     string    `json:"side"`
	Ticks    int64     `json:"ticks"`
	Lots     int64     `json:"lots"`
	Resd     int64     `json:"resd"`
	Exec     int64     `json:"exec"`
	Status   string    `json:"status"`
	Cpty     string    `json:"cpty"`
	NetLots  int64     `json:"net_lots"`
	Created  time.Time `json:"created"`
}

// messageWriter is satisfied by *kafka.Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Notifier hands fills to an asynchronous writer. It never blocks the
// engine; delivery errors are logged.
type Notifier struct {
	w   messageWriter
	log *zap.Logger
}

func NewNotifier(brokers []string, topic string, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		BatchTimeout: 10 * time.Millisecond,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Error("fill delivery failed", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
	}
	return newNotifier(w, log)
}

func newNotifier(w messageWriter, log *zap.Logger) *Notifier {
	return &Notifier{w: w, log: log.Named("fills")}
}

func (n *Notifier) MakerFill(o orderbook.Order, t ledger.Trade, p ledger.Position) {
	ev := FillEvent{
		Key:      uuid.NewString(),
		TradeID:  t.ID,
		MatchID:  t.MatchID,
		OrderID:  o.ID,
		Trader:   o.Trader,
		Market:   o.Market,
		Contr:    o.Contr,
		SettlDay: o.SettlDay,
		Ref:      o.Ref,
		Side:     o.Side.String(),
		Ticks:    t.LastTicks,
		Lots:     t.LastLots,
		Resd:     o.Resd,
		Exec:     o.Exec,
		Status:   o.Status.String(),
		Cpty:     t.Cpty,
		NetLots:  p.Net(),
		Created:  t.Created,
	}
	body, err := json.Marshal(ev)
	if err != nil {
		n.log.Error("encode fill", zap.Int64("trade_id", t.ID), zap.Error(err))
		return
	}
	msg := kafka.Message{Key: []byte(o.Trader), Value: body}
	if err := n.w.WriteMessages(context.Background(), msg); err != nil {
		n.log.Warn("enqueue fill", zap.Int64("trade_id", t.ID), zap.Error(err))
	}
}

func (n *Notifier) Close() error {
	return n.w.Close()
}
