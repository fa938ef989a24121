package broker

import (
	"encoding/json"

	"github.com/makerhaus/memberd/spec"
	"github.com/makerhaus/memberd/spec/broker"

	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
)

var _ broker.Producer = &AMQPBroker{}

const (
	memberEventsExchange string = "member_events"

	memberJoinedRoutingKey string = "member.joined"
)

// AMQPBroker publishes membership events via RabbitMQ for the notification
// workers to consume
type AMQPBroker struct {
	connection *amqp.Connection
	channel    *amqp.Channel
}

// NewAMQPBroker returns a message broker over RabbitMQ
func NewAMQPBroker(amqpURI string) (*AMQPBroker, error) {
	amqpConn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	amqpChan, err := amqpConn.Channel()
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot create broker channel")
	}
	b := &AMQPBroker{
		connection: amqpConn,
		channel:    amqpChan,
	}
	if err := b.setupMemberEventsExchange(); err != nil {
		return nil, extErrors.Wrap(err, "Cannot declare exchange for member events")
	}

	return b, nil
}

func (a *AMQPBroker) setupMemberEventsExchange() error {
	return a.channel.ExchangeDeclare(
		memberEventsExchange, // name
		"topic",              // type
		true,                 // durable
		false,                // auto-deleted
		false,                // internal
		false,                // no-wait
		nil,                  // arguments
	)
}

// Close will close the channel and connection to release resources
func (a *AMQPBroker) Close() {
	a.channel.Close()
	a.connection.Close()
}

func (a *AMQPBroker) publishViaRoutingKey(exchange, routingKey string, body []byte) error {
	return a.channel.Publish(
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

// PublishMemberJoined announces a finalized, paid membership
func (a *AMQPBroker) PublishMemberJoined(e *spec.MemberJoinedEvent) error {
	jsonBytes, err := json.Marshal(e)
	if err != nil {
		return extErrors.Wrap(err, "Cannot encode event into bytes")
	}
	if err := a.publishViaRoutingKey(memberEventsExchange, memberJoinedRoutingKey, jsonBytes); err != nil {
		return extErrors.Wrap(err, "Cannot publish member joined event")
	}
	return nil
}
