// Package broadcaster drains the trade outbox to Kafka.
package broadcaster

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"kestrel/domain/ledger"
	"kestrel/infra/journal"
)

const defaultMaxRetries = 5

// Outbox is the delivery queue the broadcaster drains. Delivered entries
// are deleted, so the queue only holds trades still owed to Kafka.
type Outbox interface {
	Scan(fn func(tradeID int64, rec journal.ExitRecord) error) error
	UpdateState(tradeID int64, state journal.ExitState, retries uint32, now time.Time) error
	Delete(tradeID int64) error
	Trade(tradeID int64) (ledger.Trade, error)
}

// Event is the published form of a trade.
type Event struct {
	V        int       `json:"v"`
	ID       int64     `json:"id"`
	MatchID  int64     `json:"match_id"`
	OrderID  int64     `json:"order_id"`
	Trader   string    `json:"trader"`
	Market   string    `json:"market"`
	Contr    string    `json:"contr"`
	SettlDay int32     `json:"settl_day"`
	Side     string    `json:"side"`
	Role     string    `json:"role"`
	Cpty     string    `json:"cpty"`
	Ticks    int64     `json:"ticks"`
	Lots     int64     `json:"lots"`
	Created  time.Time `json:"created"`
}

func newEvent(t ledger.Trade) Event {
	return Event{
		V:        1,
		ID:       t.ID,
		MatchID:  t.MatchID,
		OrderID:  t.OrderID,
		Trader:   t.Trader,
		Market:   t.Market,
		Contr:    t.Contr,
		SettlDay: t.SettlDay,
		Side:     t.Side.String(),
		Role:     t.Role.String(),
		Cpty:     t.Cpty,
		Ticks:    t.LastTicks,
		Lots:     t.LastLots,
		Created:  t.Created,
	}
}

type Broadcaster struct {
	outbox     Outbox
	producer   sarama.SyncProducer
	topic      string
	interval   time.Duration
	maxRetries uint32
	now        func() time.Time
	log        *zap.Logger
}

type Option func(*Broadcaster)

func WithMaxRetries(n uint32) Option { return func(b *Broadcaster) { b.maxRetries = n } }
func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) { b.now = now }
}

// NewProducer dials brokers with settings suited to the outbox: every
// send waits for all replicas.
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	return sarama.NewSyncProducer(brokers, cfg)
}

func New(outbox Outbox, producer sarama.SyncProducer, topic string, interval time.Duration, log *zap.Logger, opts ...Option) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	b := &Broadcaster{
		outbox:     outbox,
		producer:   producer,
		topic:      topic,
		interval:   interval,
		maxRetries: defaultMaxRetries,
		now:        time.Now,
		log:        log.Named("broadcaster"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run drains the outbox every interval until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.log.Info("started", zap.String("topic", b.topic), zap.Duration("interval", b.interval))
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("stopped")
			return nil
		case <-ticker.C:
			if _, err := b.DrainOnce(); err != nil {
				b.log.Error("drain", zap.Error(err))
			}
		}
	}
}

type pending struct {
	id      int64
	retries uint32
	stale   bool
}

// DrainOnce publishes every undelivered trade and reports how many were
// delivered. Entries left SENT by an earlier run are sent again; FAILED
// entries are retried until they reach the retry limit.
func (b *Broadcaster) DrainOnce() (int, error) {
	var work []pending
	err := b.outbox.Scan(func(id int64, rec journal.ExitRecord) error {
		switch {
		case rec.State == journal.StateAcked:
			work = append(work, pending{id: id, stale: true})
		case rec.State == journal.StateFailed && rec.Retries >= b.maxRetries:
		default:
			work = append(work, pending{id: id, retries: rec.Retries})
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan outbox: %w", err)
	}

	delivered := 0
	for _, p := range work {
		if p.stale {
			if err := b.outbox.Delete(p.id); err != nil {
				return delivered, err
			}
			continue
		}
		ok, err := b.publish(p)
		if err != nil {
			return delivered, err
		}
		if ok {
			delivered++
		}
	}
	return delivered, nil
}

// publish returns an error only when the outbox itself cannot be updated.
func (b *Broadcaster) publish(p pending) (bool, error) {
	if err := b.outbox.UpdateState(p.id, journal.StateSent, p.retries, b.now()); err != nil {
		return false, err
	}

	t, err := b.outbox.Trade(p.id)
	if err != nil {
		return false, fmt.Errorf("trade %d: %w", p.id, err)
	}
	body, err := json.Marshal(newEvent(t))
	if err != nil {
		return false, err
	}

	msg := &sarama.ProducerMessage{
		Topic: b.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(t.ID, 10)),
		Value: sarama.ByteEncoder(body),
	}
	partition, offset, err := b.producer.SendMessage(msg)
	if err != nil {
		b.log.Warn("publish failed", zap.Int64("trade_id", p.id), zap.Uint32("retries", p.retries+1), zap.Error(err))
		return false, b.outbox.UpdateState(p.id, journal.StateFailed, p.retries+1, b.now())
	}
	b.log.Debug("published",
		zap.Int64("trade_id", p.id),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return true, b.outbox.Delete(p.id)
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
