package config

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// Publisher represents a RabbitMQ publisher. A channel is not safe for
// concurrent use, so publishes are serialized.
type Publisher struct {
	mu       sync.Mutex
	channel  *amqp.Channel
	declared map[string]bool
}

// NewPublisher opens a channel on conn.
func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("RabbitMQ connection not initialized")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return &Publisher{
		channel:  ch,
		declared: make(map[string]bool),
	}, nil
}

// Publish publishes message as persistent JSON to queueName. messageID lets
// consumers deduplicate redeliveries.
func (p *Publisher) Publish(ctx context.Context, queueName, messageID string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared[queueName] {
		if _, err := declareQueue(p.channel, queueName); err != nil {
			return fmt.Errorf("failed to declare queue: %w", err)
		}
		p.declared[queueName] = true
	}

	err = p.channel.PublishWithContext(ctx,
		"",        // exchange
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    messageID,
			Body:         body,
			DeliveryMode: amqp.Persistent, // Make message persistent
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	log.WithFields(log.Fields{"queue": queueName, "message_id": messageID}).Debug("Published message")
	return nil
}

// Broadcast publishes message as transient JSON to a fanout exchange.
func (p *Publisher) Broadcast(ctx context.Context, exchange, messageID string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := "exchange:" + exchange
	if !p.declared[key] {
		if err := declareFanout(p.channel, exchange); err != nil {
			return fmt.Errorf("failed to declare exchange: %w", err)
		}
		p.declared[key] = true
	}

	err = p.channel.PublishWithContext(ctx,
		exchange,
		"",    // routing key, ignored by fanout
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   messageID,
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to broadcast message: %w", err)
	}

	log.WithFields(log.Fields{"exchange": exchange, "message_id": messageID}).Debug("Broadcast message")
	return nil
}

// Close closes the publisher
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
