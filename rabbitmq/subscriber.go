package rabbitmq

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/streadway/amqp"
)

// Message represents a received RabbitMQ message
type Message struct {
	Body       []byte
	RoutingKey string
	Timestamp  time.Time
}

// UnmarshalTo unmarshals the message body into the provided interface
func (m *Message) UnmarshalTo(v interface{}) error {
	return json.Unmarshal(m.Body, v)
}

// CallbackFunc represents a callback function for processing messages
type CallbackFunc func(msg *Message) error

// Subscriber consumes report events from a durable queue. A failed callback
// nacks the delivery with requeue, so the broker redelivers it later.
type Subscriber struct {
	amqpURL  string
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	queue    string

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewSubscriber connects to RabbitMQ and declares the exchange and queue.
func NewSubscriber(amqpURL, exchangeName, queueName string) (*Subscriber, error) {
	s := &Subscriber{
		amqpURL:  amqpURL,
		exchange: exchangeName,
		queue:    queueName,
		done:     make(chan struct{}),
	}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Subscriber) connect() error {
	conn, err := amqp.Dial(s.amqpURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		s.exchange, // name
		"direct",   // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = channel.QueueDeclare(
		s.queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	s.conn = conn
	s.channel = channel
	return nil
}

// Start begins consuming messages with the given per-routing-key callbacks.
// It reconnects with backoff when the broker connection drops.
func (s *Subscriber) Start(routingKeyCallbacks map[string]CallbackFunc) error {
	var startErr error
	s.startOnce.Do(func() {
		msgs, err := s.consume(routingKeyCallbacks)
		if err != nil {
			startErr = err
			return
		}

		go func() {
			backoff := 1 * time.Second
			for {
				if msgs != nil {
					for delivery := range msgs {
						s.dispatch(delivery, routingKeyCallbacks)
					}
				}

				select {
				case <-s.done:
					return
				default:
				}

				// Consumer channel closed: broker restart or network drop.
				log.WithField("queue", s.queue).Warn("Consumer channel closed, reconnecting")
				s.closeConn()
				time.Sleep(backoff)
				if backoff < 30*time.Second {
					backoff *= 2
				}

				if err := s.connect(); err != nil {
					log.Warnf("Failed to reconnect to RabbitMQ: %v", err)
					msgs = nil
					continue
				}
				next, err := s.consume(routingKeyCallbacks)
				if err != nil {
					log.Warnf("Failed to resume consuming: %v", err)
					msgs = nil
					continue
				}
				msgs = next
				backoff = 1 * time.Second
			}
		}()
	})
	return startErr
}

func (s *Subscriber) consume(routingKeyCallbacks map[string]CallbackFunc) (<-chan amqp.Delivery, error) {
	for routingKey := range routingKeyCallbacks {
		if err := s.channel.QueueBind(s.queue, routingKey, s.exchange, false, nil); err != nil {
			return nil, fmt.Errorf(
				"failed to bind queue %s to exchange %s with routing key %s: %w",
				s.queue, s.exchange, routingKey, err,
			)
		}
	}

	msgs, err := s.channel.Consume(
		s.queue,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}
	return msgs, nil
}

func (s *Subscriber) dispatch(delivery amqp.Delivery, callbacks map[string]CallbackFunc) {
	callback, exists := callbacks[delivery.RoutingKey]
	if !exists {
		// No handler for this key, drop it.
		if err := delivery.Nack(false, false); err != nil {
			log.Warnf("Failed to nack message: %v", err)
		}
		return
	}

	msg := &Message{
		Body:       delivery.Body,
		RoutingKey: delivery.RoutingKey,
		Timestamp:  delivery.Timestamp,
	}

	if err := callback(msg); err != nil {
		log.WithField("routing_key", delivery.RoutingKey).Warnf("Callback failed: %v", err)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			log.Warnf("Failed to nack message: %v", nackErr)
		}
		return
	}

	if err := delivery.Ack(false); err != nil {
		log.Warnf("Failed to ack message: %v", err)
	}
}

func (s *Subscriber) closeConn() {
	if s.channel != nil {
		_ = s.channel.Close()
		s.channel = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Close closes the subscriber connection and channel
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.closeConn()
	return nil
}
