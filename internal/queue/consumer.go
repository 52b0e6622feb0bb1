package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/butaca/booking/internal/notify"
	"github.com/butaca/booking/internal/store"
)

// Consumer drains the ticket.confirmed and order.created queues and
// triggers customer notifications.  The store reader resolves the
// buyer's email; the mailer may be nil, in which case events are only
// logged.
type Consumer struct {
	url    string
	reader store.Reader
	mailer *notify.Mailer
	log    zerolog.Logger
}

// NewConsumer wires a consumer to the broker and its downstream
// dependencies.
func NewConsumer(url string, reader store.Reader, mailer *notify.Mailer, log zerolog.Logger) *Consumer {
	return &Consumer{url: url, reader: reader, mailer: mailer, log: log}
}

// Run connects to RabbitMQ, declares both durable queues and consumes
// until ctx is cancelled.  It keeps a reconnect loop with exponential
// backoff; processing errors reject the offending message without
// requeueing to avoid tight redelivery loops.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("consumer: broker dial failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := c.consumeLoop(ctx, conn); err != nil {
			c.log.Warn().Err(err).Msg("consumer: loop ended, reconnecting")
			_ = conn.Close()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn().Err(err).Msg("consumer: set QoS failed")
	}

	for _, q := range []string{TicketConfirmedQueue, OrderCreatedQueue} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", q, err)
		}
	}

	tickets, err := ch.Consume(TicketConfirmedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", TicketConfirmedQueue, err)
	}
	orders, err := ch.Consume(OrderCreatedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", OrderCreatedQueue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-tickets:
			if !ok {
				return errors.New("ticket deliveries channel closed")
			}
			c.settle(d, c.handleTicket(ctx, d.Body))
		case d, ok := <-orders:
			if !ok {
				return errors.New("order deliveries channel closed")
			}
			c.settle(d, c.handleOrder(ctx, d.Body))
		}
	}
}

func (c *Consumer) settle(d amqp.Delivery, err error) {
	if err != nil {
		c.log.Error().Err(err).Msg("consumer: handle message failed")
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func (c *Consumer) handleTicket(ctx context.Context, body []byte) error {
	var ev TicketConfirmedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal ticket event: %w", err)
	}
	c.log.Info().
		Str("ticket_id", ev.TicketID).
		Str("showtime_id", ev.ShowtimeID).
		Strs("seats", ev.Seats).
		Int64("total_cents", ev.TotalCents).
		Msg("ticket confirmed")

	email, err := c.buyerEmail(ctx, ev.UserID)
	if err != nil || email == "" {
		return err
	}
	t, err := c.reader.GetTicket(ctx, ev.TicketID)
	if err != nil {
		return fmt.Errorf("load ticket %s: %w", ev.TicketID, err)
	}
	return c.mailer.SendTicketConfirmation(email, t)
}

func (c *Consumer) handleOrder(ctx context.Context, body []byte) error {
	var ev OrderCreatedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal order event: %w", err)
	}
	c.log.Info().
		Str("order_id", ev.OrderID).
		Str("redeem_code", ev.RedeemCode).
		Int64("total_cents", ev.TotalCents).
		Msg("candy order created")

	email, err := c.buyerEmail(ctx, ev.UserID)
	if err != nil || email == "" {
		return err
	}
	o, err := c.reader.GetOrder(ctx, ev.OrderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", ev.OrderID, err)
	}
	return c.mailer.SendOrderConfirmation(email, o)
}

// buyerEmail resolves the purchasing user's address.  A missing user
// is not an error: guests and deleted accounts simply get no mail.
func (c *Consumer) buyerEmail(ctx context.Context, userID string) (string, error) {
	u, err := c.reader.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return u.Email, nil
}
