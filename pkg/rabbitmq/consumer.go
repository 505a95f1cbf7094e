package rabbitmq

import (
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// HandlerFunc processes one delivery body. It returns true to acknowledge
// the delivery and false to re-queue it.
type HandlerFunc func([]byte) bool

// Consumer binds routing keys on a topic exchange to handlers over a
// single durable queue.
type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewConsumer connects to RabbitMQ and opens a channel.
func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch}, nil
}

// ConsumeWithBindings declares the exchange and queue, binds each routing
// key to its handler, and starts delivering messages in the background.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]HandlerFunc) error {
	if len(bindings) == 0 {
		return fmt.Errorf("no bindings provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	queue, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}

	handlers := make(map[string]HandlerFunc, len(bindings))
	for routingKey, handler := range bindings {
		if handler == nil {
			continue
		}
		if err := c.ch.QueueBind(queue.Name, routingKey, exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", routingKey, queue.Name, err)
		}
		handlers[routingKey] = handler
	}

	deliveries, err := c.ch.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue.Name, err)
	}

	go c.dispatchDeliveries(deliveries, handlers)
	return nil
}

func (c *Consumer) dispatchDeliveries(deliveries <-chan amqp.Delivery, handlers map[string]HandlerFunc) {
	for d := range deliveries {
		handler, ok := handlers[d.RoutingKey]
		if !ok {
			log.Printf("rabbitmq: no handler for routing key %s; dropping delivery", d.RoutingKey)
			d.Ack(false)
			continue
		}
		if handler(d.Body) {
			d.Ack(false)
		} else {
			log.Printf("rabbitmq: handler for routing key %s failed; re-queuing", d.RoutingKey)
			d.Nack(false, true)
		}
	}
}

// Close releases the channel and connection.
func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
