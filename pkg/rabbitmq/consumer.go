/**
 * @description
 * This file provides a RabbitMQ consumer used by the conversation-service to
 * receive asynchronous settlement events from the payment gateway's webhook
 * relay. Handlers are bound per routing key; a handler returning false nacks
 * the delivery without requeue so a poison message cannot wedge the queue.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"log"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// EventConsumer holds the RabbitMQ connection and channel for consuming messages.
type EventConsumer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// NewEventConsumer creates and returns a new EventConsumer.
func NewEventConsumer(amqpURL string) (*EventConsumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventConsumer{conn: conn, channel: ch}, nil
}

// ConsumeWithBindings declares a durable queue, binds it to the exchange for
// each routing key, and dispatches deliveries to the matching handler.
// It blocks until the delivery channel closes.
func (c *EventConsumer) ConsumeWithBindings(exchange, queueName string, handlers map[string]func(body []byte) bool) error {
	if err := c.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	q, err := c.channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return err
	}

	for routingKey := range handlers {
		if err := c.channel.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	deliveries, err := c.channel.Consume(
		q.Name,
		"",    // consumer tag
		false, // autoAck; we ack manually after handling
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return err
	}

	log.Printf("level=info component=rabbitmq_consumer msg=\"consuming\" queue=%s exchange=%s bindings=%d", q.Name, exchange, len(handlers))

	for d := range deliveries {
		handler, ok := handlers[d.RoutingKey]
		if !ok {
			log.Printf("level=warn component=rabbitmq_consumer msg=\"no handler for routing key\" routing_key=%s", d.RoutingKey)
			d.Nack(false, false)
			continue
		}
		if handler(d.Body) {
			d.Ack(false)
		} else {
			d.Nack(false, false)
		}
	}

	return nil
}

// Close shuts down the channel and connection.
func (c *EventConsumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
