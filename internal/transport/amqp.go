package transport

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQP consumes the user's private message queue and the broadcast
// presence exchange, the same queue/topic pair the platform gateway
// publishes to. Used where the websocket endpoint is not reachable.
type AMQP struct {
	url              string
	userID           string
	presenceExchange string

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// NewAMQP builds an AMQP transport for one user.
func NewAMQP(url, userID, presenceExchange string) *AMQP {
	return &AMQP{url: url, userID: userID, presenceExchange: presenceExchange}
}

// Connect dials the broker, binds the private queue and the presence
// fanout, and starts consuming both.
func (a *AMQP) Connect(ctx context.Context, token string, h Handler) error {
	conn, err := amqp.DialConfig(a.url, amqp.Config{
		Properties: amqp.Table{"bearer_token": token},
	})
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	queueName := "chat.user." + a.userID
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare user queue: %w", err)
	}

	presenceQueue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare presence queue: %w", err)
	}
	if err := ch.QueueBind(presenceQueue.Name, "", a.presenceExchange, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("bind presence queue: %w", err)
	}

	messages, err := ch.Consume(queueName, "", true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("consume user queue: %w", err)
	}
	presence, err := ch.Consume(presenceQueue.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("consume presence queue: %w", err)
	}

	a.mu.Lock()
	a.closed = false
	a.conn = conn
	a.ch = ch
	a.mu.Unlock()

	closeErrs := conn.NotifyClose(make(chan *amqp.Error, 1))

	go a.consume(messages, h)
	go a.consume(presence, h)
	go func() {
		err, ok := <-closeErrs
		if !ok {
			return
		}
		a.mu.Lock()
		deliberate := a.closed
		a.conn = nil
		a.ch = nil
		a.mu.Unlock()

		if !deliberate && err != nil && h.OnClosed != nil {
			h.OnClosed(err)
		}
	}()
	return nil
}

func (a *AMQP) consume(deliveries <-chan amqp.Delivery, h Handler) {
	for d := range deliveries {
		if h.OnFrame != nil {
			h.OnFrame(d.Body)
		}
	}
}

// Close releases the channel and connection. Consumers drain and exit.
func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	if a.ch != nil {
		_ = a.ch.Close()
		a.ch = nil
	}
	if a.conn != nil {
		err := a.conn.Close()
		a.conn = nil
		return err
	}
	return nil
}
