package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/inletmsg/inlet/internal/domain"
	"github.com/inletmsg/inlet/internal/logging"
)

// AMQPPublisher publishes envelopes to a RabbitMQ topic exchange. A fresh
// channel is opened per publish; the connection is shared.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *logging.Logger
}

// NewAMQPPublisher dials the broker, declares the durable topic exchange
// and enables publisher confirms.
func NewAMQPPublisher(url, exchange string, log *logging.Logger) (*AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, err
	}

	return &AMQPPublisher{
		conn:     conn,
		exchange: exchange,
		log:      log.Sub("events"),
	}, nil
}

// Publish marshals the envelope and publishes it persistently.
func (p *AMQPPublisher) Publish(ctx context.Context, key string, envelope domain.Envelope) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	msgID := envelope.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	cid := envelope.CorrelationID
	if cid == "" {
		cid = uuid.NewString()
	}

	err = ch.PublishWithContext(
		ctx, p.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     msgID,
			CorrelationId: cid,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err == nil {
		p.log.Info().Str("key", key).Str("exchange", p.exchange).Msg("published")
	}
	return err
}

// Close closes the underlying connection.
func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}
