package rabbitmq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"
)

// Routing keys for report lifecycle events.
const (
	RoutingKeyReportPublished = "report.published"
	RoutingKeyReportDeleted   = "report.deleted"
)

// ReportEvent is the message body published on report lifecycle changes.
type ReportEvent struct {
	ReportID     string  `json:"report_id"`
	OwnerID      string  `json:"owner_id"`
	Category     string  `json:"category"`
	Title        string  `json:"title"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	LocationHash string  `json:"location_hash"`
	Timestamp    int64   `json:"timestamp"`
}

// Publisher represents a RabbitMQ publisher instance
type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewPublisher connects to RabbitMQ and declares the report events exchange.
func NewPublisher(amqpURL, exchangeName string) (*Publisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:     conn,
		channel:  channel,
		exchange: exchangeName,
	}, nil
}

// Publish sends a JSON message to the exchange with the given routing key.
func (p *Publisher) Publish(routingKey string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message to JSON: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}

	err = p.channel.Publish(
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		publishing, // message
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	return nil
}

// IsConnected checks if the publisher is still connected
func (p *Publisher) IsConnected() bool {
	return p.conn != nil && !p.conn.IsClosed()
}

// Close closes the publisher connection and channel
func (p *Publisher) Close() error {
	var err error
	if p.channel != nil {
		if channelErr := p.channel.Close(); channelErr != nil {
			err = channelErr
		}
		p.channel = nil
	}
	if p.conn != nil {
		if connErr := p.conn.Close(); connErr != nil && err == nil {
			err = connErr
		}
		p.conn = nil
	}
	return err
}
