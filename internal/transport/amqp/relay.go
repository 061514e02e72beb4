// Package amqp relays presence notices between instances over a RabbitMQ
// topic exchange.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"remindd/internal/model"
	logx "remindd/pkg/logx"
)

const keyPrefix = "presence.notice"

type Config struct {
	URL      string
	Exchange string
	// Queue is the consumer queue. Empty means an exclusive server-named
	// queue that disappears with the connection.
	Queue        string
	DialAttempts int
	DialDelay    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Exchange == "" {
		c.Exchange = "remindd.presence"
	}
	if c.DialAttempts <= 0 {
		c.DialAttempts = 5
	}
	if c.DialDelay <= 0 {
		c.DialDelay = time.Second
	}
	return c
}

// ErrPoison marks a delivery that can never be handled.
var ErrPoison = errors.New("poison message")

// RoutingKey is presence.notice.<category>.
func RoutingKey(n model.Notice) string {
	c := string(n.Category)
	if c == "" {
		c = "unknown"
	}
	return keyPrefix + "." + c
}

// Relay publishes notices and consumes those of other instances. Its own
// messages are recognized by AppId and skipped.
type Relay struct {
	cfg      Config
	instance string
	log      logx.Logger

	mu   sync.Mutex
	conn *amqp091.Connection
	pub  *amqp091.Channel
}

// Dial connects with exponential backoff and declares the exchange.
func Dial(ctx context.Context, cfg Config, log logx.Logger) (*Relay, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("amqp url required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Relay{cfg: cfg, instance: uuid.NewString(), log: log.With(logx.String("comp", "amqp"))}

	conn, err := r.dial(ctx)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	r.conn, r.pub = conn, ch
	return r, nil
}

func (r *Relay) dial(ctx context.Context) (*amqp091.Connection, error) {
	var lastErr error
	delay := r.cfg.DialDelay
	for i := 1; i <= r.cfg.DialAttempts; i++ {
		conn, err := amqp091.Dial(r.cfg.URL)
		if err == nil {
			if i > 1 {
				r.log.Info("amqp connected", logx.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err
		r.log.Warn("amqp dial failed", logx.Int("attempt", i), logx.Duration("sleep", delay), logx.Err(err))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		delay *= 2
		if delay > time.Minute {
			delay = time.Minute
		}
	}
	return nil, fmt.Errorf("amqp: no connection after %d attempts: %w", r.cfg.DialAttempts, lastErr)
}

// Instance is this relay's id, sent as AppId on every publish.
func (r *Relay) Instance() string { return r.instance }

func (r *Relay) Publish(ctx context.Context, n model.Notice) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pub == nil {
		return errors.New("amqp relay closed")
	}
	return r.pub.PublishWithContext(ctx, r.cfg.Exchange, RoutingKey(n), false, false, amqp091.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		AppId:       r.instance,
		Timestamp:   time.Now(),
		Body:        body,
	})
}

// Consume delivers notices from other instances to handle until ctx ends
// or the connection drops. Handler errors requeue the delivery once;
// undecodable bodies are dropped.
func (r *Relay) Consume(ctx context.Context, handle func(context.Context, model.Notice) error) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return errors.New("amqp relay closed")
	}
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(16, 0, false); err != nil {
		return err
	}
	durable, exclusive := r.cfg.Queue != "", r.cfg.Queue == ""
	q, err := ch.QueueDeclare(r.cfg.Queue, durable, !durable, exclusive, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, keyPrefix+".#", r.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", false, exclusive, false, false, nil)
	if err != nil {
		return err
	}
	closed := ch.NotifyClose(make(chan *amqp091.Error, 1))
	r.log.Info("amqp consumer started", logx.String("queue", q.Name))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-closed:
			if e == nil {
				return errors.New("amqp channel closed")
			}
			return e
		case d, ok := <-msgs:
			if !ok {
				return errors.New("amqp deliveries closed")
			}
			r.handle(ctx, d, handle)
		}
	}
}

func (r *Relay) handle(ctx context.Context, d amqp091.Delivery, handle func(context.Context, model.Notice) error) {
	if d.AppId == r.instance {
		_ = d.Ack(false)
		return
	}
	n, err := decode(d.Body)
	if err == nil {
		hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = handle(hctx, n)
		cancel()
	}
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, ErrPoison):
		r.log.Warn("dropping bad notice", logx.String("key", d.RoutingKey), logx.Err(err))
		_ = d.Nack(false, false)
	default:
		r.log.Error("notice handler failed", logx.String("key", d.RoutingKey), logx.Err(err))
		_ = d.Nack(false, !d.Redelivered)
	}
}

func decode(body []byte) (model.Notice, error) {
	var n model.Notice
	if err := json.Unmarshal(body, &n); err != nil {
		return n, fmt.Errorf("%w: %v", ErrPoison, err)
	}
	if n.Recipient == "" {
		return n, fmt.Errorf("%w: missing recipient", ErrPoison)
	}
	return n, nil
}

func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	if r.pub != nil {
		_ = r.pub.Close()
	}
	err := r.conn.Close()
	r.conn, r.pub = nil, nil
	return err
}
