package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeCompilationRequested MessageType = "compilation.requested"
	MessageTypeCompilationCompleted MessageType = "compilation.completed"
)

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage создаёт сообщение с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// CompilationRequestedPayload — payload сообщения о новой компиляции.
type CompilationRequestedPayload struct {
	CompilationID uuid.UUID `json:"compilation_id"`
}

// CompilationCompletedPayload — payload сообщения о завершённой компиляции.
type CompilationCompletedPayload struct {
	CompilationID   uuid.UUID `json:"compilation_id"`
	Status          string    `json:"status"` // SUCCEEDED или FAILED
	Strategy        string    `json:"strategy,omitempty"`
	CandidateSource string    `json:"candidate_source,omitempty"`
	FSM             any       `json:"fsm,omitempty"`
	Diagnostic      string    `json:"diagnostic,omitempty"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishCompilationRequested публикует событие о новой компиляции.
// Потребитель: Worker.
func (p *Publisher) PublishCompilationRequested(ctx context.Context, id uuid.UUID) error {
	msg := NewMessage(MessageTypeCompilationRequested, CompilationRequestedPayload{CompilationID: id})
	return p.Publish(ctx, ExchangeCompilations, RoutingKeyRequested, msg)
}

// PublishCompilationCompleted публикует событие о завершённой компиляции.
// Потребитель: deployment pipeline.
func (p *Publisher) PublishCompilationCompleted(ctx context.Context, payload CompilationCompletedPayload) error {
	msg := NewMessage(MessageTypeCompilationCompleted, payload)
	return p.Publish(ctx, ExchangeCompilations, RoutingKeyCompleted, msg)
}
