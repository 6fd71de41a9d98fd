package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"spendtrack/internal/repository"
)

// AMQP is a change feed backed by a direct exchange; the owner's user id
// is the routing key, so each subscriber only sees its own partition's
// changes.
type AMQP struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

func NewAMQP(url, exchange string) (*AMQP, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	f := &AMQP{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
	}

	if err := f.channel.ExchangeDeclare(
		exchange, // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		f.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return f, nil
}

func (f *AMQP) Publish(ctx context.Context, change repository.Change) error {
	body, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = f.channel.PublishWithContext(
		ctx,
		f.exchange,    // exchange
		change.UserID, // routing key
		false,         // mandatory
		false,         // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish change: %w", err)
	}

	slog.DebugContext(ctx, "Published change event",
		"user_id", change.UserID,
		"op", change.Op,
		"expense_id", change.ExpenseID)

	return nil
}

// Subscribe consumes change events for one owner on a private queue. The
// returned func tears the consumer down.
func (f *AMQP) Subscribe(ctx context.Context, userID string, onChange func(repository.Change)) (func(), error) {
	channel, err := f.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	queue, err := channel.QueueDeclare(
		"",    // name: broker-assigned
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := channel.QueueBind(queue.Name, userID, f.exchange, false, nil); err != nil {
		channel.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	msgs, err := channel.Consume(
		queue.Name, // queue
		"",         // consumer
		true,       // auto-ack
		true,       // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("start consuming: %w", err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case delivery, ok := <-msgs:
				if !ok {
					return
				}
				var change repository.Change
				if err := json.Unmarshal(delivery.Body, &change); err != nil {
					slog.ErrorContext(ctx, "Failed to unmarshal change event", "error", err)
					continue
				}
				onChange(change)
			}
		}
	}()

	return func() {
		close(done)
		channel.Close()
	}, nil
}

func (f *AMQP) Close() error {
	if f.channel != nil {
		f.channel.Close()
	}
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}
