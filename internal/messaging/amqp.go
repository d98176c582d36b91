// README: RabbitMQ backend with publisher confirms.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeName = "tabla.events"

// amqpConn publishes to one topic exchange with publisher confirms.
type amqpConn struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string

	acks <-chan amqp.Confirmation
	mu   sync.Mutex
}

func dialAMQP(url, exchange string) (*amqpConn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return &amqpConn{conn: conn, ch: ch, exchange: exchange, acks: acks}, nil
}

func (a *amqpConn) ping() error {
	if a.conn == nil || a.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

// publish waits for the broker's ack or nack. Calls are serialised so that
// confirms line up with publishes.
func (a *amqpConn) publish(ctx context.Context, routingKey string, body []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ch.PublishWithContext(ctx, a.exchange, routingKey, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now(),
		Body:         body,
	}); err != nil {
		return err
	}
	select {
	case conf := <-a.acks:
		if conf.Ack {
			return nil
		}
		return errors.New("publish NACK from broker")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// consume binds a private queue to routingKey on a separate channel.
func (a *amqpConn) consume(ctx context.Context, routingKey string, handler Handler) error {
	ch, err := a.conn.Channel()
	if err != nil {
		return err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return err
	}
	if err := ch.QueueBind(q.Name, routingKey, a.exchange, false, nil); err != nil {
		_ = ch.Close()
		return err
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return err
	}
	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					log.Printf("messaging: amqp deliveries for %s closed", routingKey)
					return
				}
				handler(d.Body)
			}
		}
	}()
	return nil
}

func (a *amqpConn) close() {
	if a.ch != nil {
		_ = a.ch.Close()
	}
	if a.conn != nil {
		_ = a.conn.Close()
	}
}
