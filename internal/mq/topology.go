package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeCompilations Exchange = "composer.compilations"
	ExchangeDLQ          Exchange = "composer.dlq"
)

// Queues — имена очередей.
const (
	QueueCompilationsRequested Queue = "compilations.requested"
	QueueCompilationsCompleted Queue = "compilations.completed"
	QueueDLQCompilations       Queue = "dlq.compilations"
)

// Routing keys.
const (
	RoutingKeyRequested       RoutingKey = "requested"
	RoutingKeyCompleted       RoutingKey = "completed"
	RoutingKeyDLQCompilations RoutingKey = "compilations"
)

type exchangeDecl struct {
	name Exchange
	kind string
}

type queueDecl struct {
	name Queue
	args amqp.Table
}

type bindingDecl struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

// Topology — exchanges, queues и bindings сервиса.
type Topology struct {
	Exchanges []exchangeDecl
	Queues    []queueDecl
	Bindings  []bindingDecl
}

// DefaultTopology возвращает топологию composer.
//
//	composer.compilations (direct)
//	├── compilations.requested [routing: requested]
//	│       Consumer: Worker
//	│       DLQ: dlq.compilations
//	└── compilations.completed [routing: completed]
//	        Consumer: deployment pipeline
//
//	composer.dlq (direct)
//	└── dlq.compilations [routing: compilations]
func DefaultTopology() Topology {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQCompilations),
	}

	return Topology{
		Exchanges: []exchangeDecl{
			{ExchangeCompilations, "direct"},
			{ExchangeDLQ, "direct"},
		},
		Queues: []queueDecl{
			{QueueCompilationsRequested, dlqArgs},
			{QueueCompilationsCompleted, nil},
			{QueueDLQCompilations, nil},
		},
		Bindings: []bindingDecl{
			{QueueCompilationsRequested, RoutingKeyRequested, ExchangeCompilations},
			{QueueCompilationsCompleted, RoutingKeyCompleted, ExchangeCompilations},
			{QueueDLQCompilations, RoutingKeyDLQCompilations, ExchangeDLQ},
		},
	}
}

// SetupTopology объявляет exchanges, queues и bindings.
func SetupTopology(ctx context.Context, conn *Connection) error {
	t := DefaultTopology()
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range t.Exchanges {
			err := ch.ExchangeDeclare(
				string(ex.name), // name
				ex.kind,         // type
				true,            // durable
				false,           // auto-deleted
				false,           // internal
				false,           // no-wait
				nil,             // arguments
			)
			if err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		for _, q := range t.Queues {
			_, err := ch.QueueDeclare(
				string(q.name), // name
				true,           // durable
				false,          // delete when unused
				false,          // exclusive
				false,          // no-wait
				q.args,         // arguments
			)
			if err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		for _, b := range t.Bindings {
			err := ch.QueueBind(
				string(b.queue),      // queue name
				string(b.routingKey), // routing key
				string(b.exchange),   // exchange
				false,                // no-wait
				nil,                  // arguments
			)
			if err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}
