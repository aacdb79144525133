package observability

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// wsTopicPrefix scopes every websocket lifecycle routing key, so
// consumers can bind "messenger.ws.#" for the whole stream.
const wsTopicPrefix = "messenger.ws."

// Publisher sends one JSON message to the broker under a routing key.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, message any, headers map[string]string) error
}

// AMQPPublisher writes persistent JSON messages to a durable topic
// exchange over a single channel.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPPublisher dials the broker and declares the topic exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) PublishJSON(ctx context.Context, routingKey string, message any, headers map[string]string) error {
	body, err := json.Marshal(message)
	if err != nil {
		return err
	}

	table := make(amqp.Table, len(headers))
	for key, value := range headers {
		table[key] = value
	}

	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      table,
	})
}

func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

var defaultPublisher Publisher

// SetPublisher installs the process-wide publisher. Leaving it unset
// keeps the websocket path fully functional without a broker.
func SetPublisher(publisher Publisher) {
	defaultPublisher = publisher
}

// WSLifecycle is the broker envelope for one websocket session
// transition. Name is ws_connect or ws_disconnect; the timestamp is
// stamped at publish time.
type WSLifecycle struct {
	Name      string    `json:"event"`
	SessionID string    `json:"session_id"`
	UserID    int       `json:"user_id"`
	IP        string    `json:"ip,omitempty"`
	At        time.Time `json:"at"`
}

// WSRoutingKey returns the topic key a lifecycle event publishes under.
func WSRoutingKey(name string) string {
	return wsTopicPrefix + name
}

// PublishWSLifecycle publishes the transition through the installed
// publisher, carrying request and trace ids as correlation headers.
// A failed publish is counted and reported but never retried here.
func PublishWSLifecycle(ctx context.Context, event WSLifecycle, requestID, traceID string) error {
	if defaultPublisher == nil {
		return nil
	}

	headers := make(map[string]string, 2)
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	event.At = time.Now().UTC()

	err := defaultPublisher.PublishJSON(ctx, WSRoutingKey(event.Name), event, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
